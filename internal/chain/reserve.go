package chain

import (
	"context"

	"github.com/crowdfundme/crowdfund-server/internal/logger"
)

const (
	// DefaultFeeMultiplier 预留为当前手续费的倍数
	DefaultFeeMultiplier uint64 = 5
	// DefaultFallbackReserve 估算失败时使用的固定预留
	DefaultFallbackReserve uint64 = 50_000
)

// ReserveEstimator 根据当前网络手续费计算转账后需要保留的余额
type ReserveEstimator struct {
	ledger     Ledger
	multiplier uint64
	fallback   uint64
}

// NewReserveEstimator 创建预留估算器
func NewReserveEstimator(ledger Ledger, multiplier, fallback uint64) *ReserveEstimator {
	if multiplier == 0 {
		multiplier = DefaultFeeMultiplier
	}
	if fallback == 0 {
		fallback = DefaultFallbackReserve
	}
	return &ReserveEstimator{ledger: ledger, multiplier: multiplier, fallback: fallback}
}

// Reserve 返回预留金额（lamports），不会返回错误
func (r *ReserveEstimator) Reserve(ctx context.Context) uint64 {
	fee, err := r.ledger.LatestFee(ctx)
	if err != nil || fee == 0 {
		logger.Warn("Fee estimation failed, using fallback reserve %d: %v", r.fallback, err)
		return r.fallback
	}
	return fee * r.multiplier
}

// Fallback 固定预留值
func (r *ReserveEstimator) Fallback() uint64 {
	return r.fallback
}
