// Package verifier 确认一笔链上交易确实包含指定的转账
package verifier

import (
	"context"
	"fmt"

	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/gagliardetto/solana-go"
)

// Outcome 验证结果。Verified=false 且 error 为 nil 表示交易已索引但不满足条件
type Outcome struct {
	Verified bool
	Reason   string
	Slot     uint64
}

const (
	ReasonTxFailed   = "交易执行失败"
	ReasonNoTransfer = "未找到匹配的转账"
)

// Verifier 支付验证器
type Verifier struct {
	ledger chain.Ledger
	poll   retry.Config
}

// New 创建验证器，poll 决定等待交易被索引的次数和间隔
func New(ledger chain.Ledger, poll retry.Config) *Verifier {
	return &Verifier{ledger: ledger, poll: poll}
}

// Verify 轮询交易直到被索引，然后检查是否存在 sender -> receiver 且金额不少于 minLamports 的转账
func (v *Verifier) Verify(ctx context.Context, sig solana.Signature, sender, receiver solana.PublicKey, minLamports uint64) (Outcome, error) {
	tx, err := retry.Poll(ctx, v.poll, "verifyPayment", func(ctx context.Context) (*chain.TxEffects, error) {
		return v.ledger.GetTransaction(ctx, sig)
	}, func(tx *chain.TxEffects) bool {
		return tx != nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to verify transaction %s: %w", sig, err)
	}

	out := Match(tx, sender, receiver, minLamports)
	if out.Verified {
		logger.Info("Payment verified: %s %s -> %s (min %d lamports)", sig, sender, receiver, minLamports)
	} else {
		logger.Warn("Payment rejected: %s %s -> %s: %s", sig, sender, receiver, out.Reason)
	}
	return out, nil
}

// Match 在交易效果中查找匹配的转账，其他指令忽略
func Match(tx *chain.TxEffects, sender, receiver solana.PublicKey, minLamports uint64) Outcome {
	if tx.Failed {
		return Outcome{Reason: ReasonTxFailed, Slot: tx.Slot}
	}
	for _, t := range tx.Transfers {
		if t.From.Equals(sender) && t.To.Equals(receiver) && t.Lamports >= minLamports {
			return Outcome{Verified: true, Slot: tx.Slot}
		}
	}
	return Outcome{Reason: ReasonNoTransfer, Slot: tx.Slot}
}
