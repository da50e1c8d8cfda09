package launch

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/issuance"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/crowdfundme/crowdfund-server/internal/repository"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// acquireWallet 复用已保存的发币钱包，否则申请新钱包并立即保存
func (o *Orchestrator) acquireWallet(ctx context.Context, c *model.CampaignModel) error {
	if c.IssuanceWalletPublicKey != "" && c.IssuanceWalletPrivateKey != "" {
		return nil
	}

	w, err := o.issuer.CreateWallet(ctx)
	if err != nil {
		return err
	}
	if _, err := chain.ParsePrivateKey(w.PrivateKey); err != nil {
		return apperr.External(err, "发币服务返回的私钥无效")
	}
	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{
		"issuance_wallet_public_key":  w.PublicKey,
		"issuance_wallet_private_key": w.PrivateKey,
		"issuance_api_key":            w.APIKey,
	}); err != nil {
		return fmt.Errorf("failed to persist issuance wallet: %w", err)
	}

	c.IssuanceWalletPublicKey = w.PublicKey
	c.IssuanceWalletPrivateKey = w.PrivateKey
	c.IssuanceAPIKey = w.APIKey
	logger.Info("Campaign %s issuance wallet: %s", c.Id, w.PublicKey)
	return nil
}

// prepareMetadata 上传图片和元数据
func (o *Orchestrator) prepareMetadata(ctx context.Context, c *model.CampaignModel) error {
	if c.MetadataURI != "" {
		return nil
	}
	if c.ImageURL == "" {
		return apperr.Validation("活动缺少代币图片")
	}

	image, filename, err := o.issuer.FetchImage(ctx, c.ImageURL)
	if err != nil {
		return err
	}
	uri, err := o.issuer.UploadMetadata(ctx, issuance.Metadata{
		Name:        c.Name,
		Symbol:      c.Symbol,
		Description: c.Description,
		Twitter:     c.Twitter,
		Telegram:    c.Telegram,
		Website:     c.Website,
	}, image, filename)
	if err != nil {
		return err
	}

	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{"metadata_uri": uri}); err != nil {
		return fmt.Errorf("failed to persist metadata uri: %w", err)
	}
	c.MetadataURI = uri
	return nil
}

// fundIssuanceWallet 把分配额度从运营钱包转入发币钱包
// issuance_transfer_completed 为 true 或余额已足够时不转账
func (o *Orchestrator) fundIssuanceWallet(ctx context.Context, c *model.CampaignModel) error {
	if c.IssuanceTransferCompleted {
		logger.Debug("Campaign %s issuance wallet already funded", c.Id)
		return nil
	}

	issuanceWallet, err := chain.ParsePublicKey(c.IssuanceWalletPublicKey)
	if err != nil {
		return apperr.Validation("发币钱包地址无效")
	}
	required := c.TotalLamportsToTransfer
	if required == 0 {
		return apperr.Validation("活动没有可转入发币钱包的金额")
	}

	balance, err := o.ledger.GetBalance(ctx, issuanceWallet)
	if err != nil {
		return err
	}
	// 余额可能因为零头略高于目标，差额在容差内视为已完成
	if balance+o.settings.FundingTolerance >= required {
		logger.Info("Campaign %s issuance wallet balance %d covers %d, skipping transfer", c.Id, balance, required)
		return o.markFunded(ctx, c)
	}
	shortfall := required - balance

	operating, err := chain.ParsePrivateKey(c.WalletPrivateKey)
	if err != nil {
		return apperr.Validation("运营钱包私钥无效")
	}
	opBalance, err := o.ledger.GetBalance(ctx, operating.PublicKey())
	if err != nil {
		return err
	}
	reserve := o.reserve.Reserve(ctx)
	if opBalance <= reserve {
		return apperr.InsufficientFunds("运营钱包余额 %d 不足以支付手续费预留 %d", opBalance, reserve)
	}
	send := min(shortfall, opBalance-reserve)
	if send < shortfall {
		logger.Warn("Campaign %s operating wallet short: sending %d of %d", c.Id, send, shortfall)
	}

	// 提交之后的错误无法判断转账是否已上链，本次尝试结束，下次按余额重新计算差额
	sig, err := o.ledger.Transfer(ctx, operating, issuanceWallet, send)
	if err != nil {
		return retry.Permanent(fmt.Errorf("funding transfer of %d lamports unconfirmed: %w", send, err))
	}
	logger.Info("Campaign %s funded issuance wallet with %d lamports (sig: %s)", c.Id, send, sig)

	target := balance + send
	if _, err := retry.Poll(ctx, o.settings.BalancePoll, "awaitIssuanceBalance", func(ctx context.Context) (uint64, error) {
		return o.ledger.GetBalance(ctx, issuanceWallet)
	}, func(b uint64) bool {
		return b >= target
	}); err != nil {
		return retry.Permanent(fmt.Errorf("issuance wallet balance did not reach %d: %w", target, err))
	}

	return o.markFunded(ctx, c)
}

func (o *Orchestrator) markFunded(ctx context.Context, c *model.CampaignModel) error {
	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{"issuance_transfer_completed": true}); err != nil {
		return fmt.Errorf("failed to persist funding flag: %w", err)
	}
	c.IssuanceTransferCompleted = true
	return nil
}

// issueToken 调用发币服务并等待链上出现供应量
// 已保存的 mint 有供应量时说明上次已发币成功，已保存发币签名时只等待确认
func (o *Orchestrator) issueToken(ctx context.Context, c *model.CampaignModel) error {
	if c.MintPublicKey != "" {
		mint, err := chain.ParsePublicKey(c.MintPublicKey)
		if err != nil {
			return apperr.Validation("代币地址无效")
		}
		if supply, err := o.ledger.TokenSupply(ctx, mint); err == nil && supply > 0 {
			logger.Info("Campaign %s mint %s already has supply %d", c.Id, mint, supply)
			return nil
		}
	}
	if c.IssuanceSignature != "" {
		return o.awaitIssued(ctx, c)
	}

	var mintKey solana.PrivateKey
	if c.MintPrivateKey != "" {
		k, err := chain.ParsePrivateKey(c.MintPrivateKey)
		if err != nil {
			return apperr.Validation("代币私钥无效")
		}
		mintKey = k
	} else {
		mintKey = chain.NewKeypair()
		if err := o.campaigns.Update(ctx, c.Id, repository.Fields{
			"mint_public_key":  mintKey.PublicKey().String(),
			"mint_private_key": mintKey.String(),
		}); err != nil {
			return fmt.Errorf("failed to persist mint: %w", err)
		}
		c.MintPublicKey = mintKey.PublicKey().String()
		c.MintPrivateKey = mintKey.String()
	}

	issuanceWallet, err := chain.ParsePublicKey(c.IssuanceWalletPublicKey)
	if err != nil {
		return apperr.Validation("发币钱包地址无效")
	}
	balance, err := o.ledger.GetBalance(ctx, issuanceWallet)
	if err != nil {
		return err
	}
	keep := o.reserve.Reserve(ctx) + o.settings.PriorityFee
	if balance <= keep {
		return apperr.InsufficientFunds("发币钱包余额 %d 不足以支付发币费用 %d", balance, keep)
	}
	buy := balance - keep

	sig, err := o.issuer.CreateToken(ctx, c.IssuanceAPIKey, issuance.CreateTokenRequest{
		Name:        c.Name,
		Symbol:      c.Symbol,
		URI:         c.MetadataURI,
		Mint:        mintKey,
		AmountSOL:   chain.LamportsToSol(buy),
		Slippage:    o.settings.Slippage,
		PriorityFee: chain.LamportsToSol(o.settings.PriorityFee),
	})
	if err != nil {
		return err
	}
	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{"issuance_signature": sig}); err != nil {
		return retry.Permanent(fmt.Errorf("failed to persist issuance signature %s: %w", sig, err))
	}
	c.IssuanceSignature = sig
	return o.awaitIssued(ctx, c)
}

// awaitIssued 等待已提交的发币交易确认并出现供应量
// 交易执行失败时清除签名，允许用同一个 mint 重新发币
func (o *Orchestrator) awaitIssued(ctx context.Context, c *model.CampaignModel) error {
	mint, err := chain.ParsePublicKey(c.MintPublicKey)
	if err != nil {
		return apperr.Validation("代币地址无效")
	}
	sig, err := chain.ParseSignature(c.IssuanceSignature)
	if err != nil {
		return apperr.Validation("发币交易签名无效")
	}

	if err := o.ledger.AwaitConfirmation(ctx, sig); err != nil {
		if !errors.Is(err, chain.ErrTxFailed) {
			return fmt.Errorf("issuance %s not confirmed: %w", sig, err)
		}
		if err := o.campaigns.Update(ctx, c.Id, repository.Fields{"issuance_signature": ""}); err != nil {
			return fmt.Errorf("failed to clear issuance signature: %w", err)
		}
		c.IssuanceSignature = ""
		return fmt.Errorf("issuance %s failed on chain: %w", sig, err)
	}

	supply, err := retry.Poll(ctx, o.settings.SupplyPoll, "awaitTokenSupply", func(ctx context.Context) (uint64, error) {
		return o.ledger.TokenSupply(ctx, mint)
	}, func(s uint64) bool {
		return s > 0
	})
	if err != nil {
		return retry.Permanent(fmt.Errorf("token %s supply not observed: %w", mint, err))
	}
	logger.Info("Campaign %s token %s issued, supply %d (sig: %s)", c.Id, mint, supply, sig)
	return nil
}

// shareOf 按百分比计算分发数量，向下取整
func shareOf(supply uint64, percent decimal.Decimal) uint64 {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(supply), 0).Mul(percent).Div(decimal.NewFromInt(100)).Floor()
	return d.BigInt().Uint64()
}

// distribute 把供应量的指定比例转给活动创建者
// 首次进入时保存收款方基线余额和分发数量，重入时只补发基线以来尚未到账的部分
func (o *Orchestrator) distribute(ctx context.Context, c *model.CampaignModel) error {
	if c.DistributionCompleted {
		return nil
	}

	mint, err := chain.ParsePublicKey(c.MintPublicKey)
	if err != nil {
		return apperr.Validation("代币地址无效")
	}
	holder, err := chain.ParsePrivateKey(c.IssuanceWalletPrivateKey)
	if err != nil {
		return apperr.Validation("发币钱包私钥无效")
	}
	recipient, err := chain.ParsePublicKey(c.CreatorAddress)
	if err != nil {
		return apperr.Validation("创建者地址无效")
	}

	if c.DistributionSignature != "" {
		sig, err := chain.ParseSignature(c.DistributionSignature)
		if err != nil {
			return apperr.Validation("分发交易签名无效")
		}
		if err := o.ledger.AwaitConfirmation(ctx, sig); err == nil {
			return o.markDistributed(ctx, c, recipient, mint)
		}
	}

	if c.DistributionBaseline == nil {
		if err := o.planDistribution(ctx, c, holder.PublicKey(), recipient, mint); err != nil {
			return err
		}
	}

	target := *c.DistributionBaseline + c.DistributedAmount
	current, _, err := o.ledger.TokenBalance(ctx, recipient, mint)
	if err != nil {
		return err
	}
	if current >= target {
		return o.markDistributed(ctx, c, recipient, mint)
	}
	owed := target - current

	if _, err := o.ledger.EnsureTokenAccount(ctx, holder, recipient, mint); err != nil {
		return err
	}
	sig, err := o.ledger.TransferToken(ctx, holder, mint, recipient, owed)
	if err != nil {
		return retry.Permanent(fmt.Errorf("token transfer of %d unconfirmed: %w", owed, err))
	}
	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{"distribution_signature": sig.String()}); err != nil {
		return retry.Permanent(fmt.Errorf("failed to persist distribution signature %s: %w", sig, err))
	}
	c.DistributionSignature = sig.String()

	if _, err := retry.Poll(ctx, o.settings.BalancePoll, "awaitRecipientTokens", func(ctx context.Context) (uint64, error) {
		v, _, err := o.ledger.TokenBalance(ctx, recipient, mint)
		return v, err
	}, func(v uint64) bool {
		return v >= target
	}); err != nil {
		return retry.Permanent(fmt.Errorf("recipient token balance did not reach %d: %w", target, err))
	}
	return o.markDistributed(ctx, c, recipient, mint)
}

// planDistribution 计算分发数量并和收款方当前余额一起保存
func (o *Orchestrator) planDistribution(ctx context.Context, c *model.CampaignModel, holder, recipient, mint solana.PublicKey) error {
	supply, err := o.ledger.TokenSupply(ctx, mint)
	if err != nil {
		return err
	}
	holding, ok, err := o.ledger.TokenBalance(ctx, holder, mint)
	if err != nil {
		return err
	}
	if !ok || holding == 0 {
		return fmt.Errorf("issuance wallet holds no %s yet", mint)
	}
	amount := min(shareOf(supply, o.settings.DistributionPercent), holding)
	if amount == 0 {
		return apperr.Validation("可分发的代币数量为0")
	}
	before, _, err := o.ledger.TokenBalance(ctx, recipient, mint)
	if err != nil {
		return err
	}

	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{
		"distribution_baseline": before,
		"distributed_amount":    amount,
	}); err != nil {
		return fmt.Errorf("failed to persist distribution plan: %w", err)
	}
	c.DistributionBaseline = &before
	c.DistributedAmount = amount
	return nil
}

func (o *Orchestrator) markDistributed(ctx context.Context, c *model.CampaignModel, recipient, mint solana.PublicKey) error {
	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{"distribution_completed": true}); err != nil {
		return fmt.Errorf("failed to persist distribution: %w", err)
	}
	c.DistributionCompleted = true
	logger.Info("Campaign %s distributed %d of %s to %s (sig: %s)", c.Id, c.DistributedAmount, mint, recipient, c.DistributionSignature)
	return nil
}

// sweep 把发币钱包的剩余 SOL 转回金库
func (o *Orchestrator) sweep(ctx context.Context, c *model.CampaignModel) error {
	holder, err := chain.ParsePrivateKey(c.IssuanceWalletPrivateKey)
	if err != nil {
		return apperr.Validation("发币钱包私钥无效")
	}
	balance, err := o.ledger.GetBalance(ctx, holder.PublicKey())
	if err != nil {
		return err
	}
	if balance <= o.settings.DustThreshold {
		return nil
	}
	reserve := o.reserve.Reserve(ctx)
	if balance <= reserve {
		return nil
	}

	sig, err := o.ledger.Transfer(ctx, holder, o.treasury, balance-reserve)
	if err != nil {
		return err
	}
	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{"sweep_signature": sig.String()}); err != nil {
		return fmt.Errorf("failed to persist sweep: %w", err)
	}
	c.SweepSignature = sig.String()
	logger.Info("Campaign %s swept %d lamports to treasury (sig: %s)", c.Id, balance-reserve, sig)
	return nil
}
