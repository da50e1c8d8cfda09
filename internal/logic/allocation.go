package logic

import (
	"math/big"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/shopspring/decimal"
)

// Allocation 活动达标后的资金分配，单位为 lamports
type Allocation struct {
	RetainedFee     uint64 // 平台保留的创建费
	TotalToTransfer uint64 // 转入发币钱包的金额
}

// Allocate 计算达标后的分配
// retained = initialFee × ratio，totalToTransfer = raised − safetyBuffer + (initialFee − retained)
func Allocate(raised, initialFee uint64, retainRatio decimal.Decimal, safetyBuffer uint64) (Allocation, error) {
	if retainRatio.IsNegative() || retainRatio.GreaterThan(decimal.NewFromInt(1)) {
		return Allocation{}, apperr.Validation("创建费保留比例必须在0到1之间")
	}
	if raised <= safetyBuffer {
		return Allocation{}, apperr.InsufficientFunds("募集金额 %d 不足以覆盖安全余量 %d", raised, safetyBuffer)
	}

	retained := decimal.NewFromBigInt(new(big.Int).SetUint64(initialFee), 0).Mul(retainRatio).Floor().BigInt().Uint64()
	return Allocation{
		RetainedFee:     retained,
		TotalToTransfer: raised - safetyBuffer + (initialFee - retained),
	}, nil
}
