package service

import (
	"context"
	"testing"

	"pointsystem/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceGetOrCreate(t *testing.T) {
	db := newTestDB(t)
	svc := NewBalanceService(db)
	ctx := context.Background()

	_, err := svc.Get(ctx, 3001)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	// 开户幂等
	first, err := svc.GetOrCreate(ctx, 3001)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, 3001)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(0), first.AvailablePoints)
	assert.Equal(t, int64(0), first.AvailableCoins)
}
