package service

import (
	"errors"
)

var (
	ErrInvalidAmount     = errors.New("金额必须大于0")
	ErrInvalidTTL        = errors.New("积分有效期必须大于0")
	ErrInvalidTradeType  = errors.New("未知的交易原因类型")
	ErrInsufficientPoint = errors.New("积分余额不足")
	ErrInsufficientCoin  = errors.New("硬币余额不足")
)
