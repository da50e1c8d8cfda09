package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/config"
	"github.com/crowdfundme/crowdfund-server/internal/launch"
	"github.com/crowdfundme/crowdfund-server/internal/lock"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/metrics"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/crowdfundme/crowdfund-server/internal/queue"
	"github.com/crowdfundme/crowdfund-server/internal/repository"
	"github.com/crowdfundme/crowdfund-server/internal/verifier"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Settings 众筹参数，金额单位为 lamports
type Settings struct {
	CreationFee     uint64
	MinTarget       uint64
	MaxTarget       uint64
	MinContribution uint64
	MaxContribution uint64
	FeeRetainRatio  decimal.Decimal
	SafetyBuffer    uint64
	Admins          map[string]struct{}
}

type solAmount struct {
	key string
	sol float64
	dst *uint64
}

// SettingsFromConfig 从配置构造参数
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	var s Settings
	amounts := []solAmount{
		{"campaign.creation_fee", cfg.Campaign.CreationFee, &s.CreationFee},
		{"campaign.min_target", cfg.Campaign.MinTarget, &s.MinTarget},
		{"campaign.max_target", cfg.Campaign.MaxTarget, &s.MaxTarget},
		{"campaign.min_contribution", cfg.Campaign.MinContribution, &s.MinContribution},
		{"campaign.max_contribution", cfg.Campaign.MaxContribution, &s.MaxContribution},
		{"launch.safety_buffer", cfg.Launch.SafetyBuffer, &s.SafetyBuffer},
	}
	for _, a := range amounts {
		v, err := chain.SolToLamports(a.sol)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", a.key, err)
		}
		*a.dst = v
	}
	if s.MinTarget > s.MaxTarget {
		return Settings{}, fmt.Errorf("campaign.min_target is greater than campaign.max_target")
	}
	if s.MinContribution > s.MaxContribution {
		return Settings{}, fmt.Errorf("campaign.min_contribution is greater than campaign.max_contribution")
	}

	s.FeeRetainRatio = decimal.NewFromFloat(cfg.Launch.FeeRetainRatio)
	s.Admins = make(map[string]struct{}, len(cfg.Admin.Addresses))
	for _, addr := range cfg.Admin.Addresses {
		if addr = strings.TrimSpace(addr); addr != "" {
			s.Admins[addr] = struct{}{}
		}
	}
	return s, nil
}

// PaymentVerifier 链上支付验证
type PaymentVerifier interface {
	Verify(ctx context.Context, sig solana.Signature, sender, receiver solana.PublicKey, minLamports uint64) (verifier.Outcome, error)
}

// Launcher 发币流程入口
type Launcher interface {
	Dispatch(campaignID string) bool
	TransferAsset(ctx context.Context, campaignID string) (*launch.TransferResult, error)
}

// Deps CampaignLogic 依赖的服务
type Deps struct {
	Store    *repository.Store
	Ledger   chain.Ledger
	Verifier PaymentVerifier
	Queue    *queue.Queue
	Locker   lock.Locker
	Reserve  *chain.ReserveEstimator
	Launcher Launcher
	Treasury solana.PrivateKey
}

// CampaignLogic 活动业务逻辑
type CampaignLogic struct {
	campaigns    repository.CampaignRepository
	contributors repository.ContributorRepository
	ledger       chain.Ledger
	verifier     PaymentVerifier
	queue        *queue.Queue
	locker       lock.Locker
	reserve      *chain.ReserveEstimator
	launcher     Launcher
	treasury     solana.PrivateKey
	settings     Settings
}

// NewCampaignLogic 创建活动业务逻辑
func NewCampaignLogic(deps Deps, settings Settings) *CampaignLogic {
	return &CampaignLogic{
		campaigns:    deps.Store.Campaigns,
		contributors: deps.Store.Contributors,
		ledger:       deps.Ledger,
		verifier:     deps.Verifier,
		queue:        deps.Queue,
		locker:       deps.Locker,
		reserve:      deps.Reserve,
		launcher:     deps.Launcher,
		treasury:     deps.Treasury,
		settings:     settings,
	}
}

// CreateCampaignInput 创建活动的请求
type CreateCampaignInput struct {
	CreatorAddress string
	Name           string
	Symbol         string
	Description    string
	ImageURL       string
	Twitter        string
	Telegram       string
	Website        string
	TargetSOL      float64
	FeeSignature   string
}

// ContributeInput 贡献请求
type ContributeInput struct {
	AmountSOL   float64
	Contributor string
	Signature   string
}

func campaignLockKey(id string) string {
	return "campaign:" + id
}

// CreateCampaign 验证创建费后创建活动，并从金库向运营钱包注入同等金额
func (l *CampaignLogic) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.CampaignModel, error) {
	target, err := chain.SolToLamports(in.TargetSOL)
	if err != nil {
		return nil, apperr.Validation("目标金额无效")
	}
	if target < l.settings.MinTarget || target > l.settings.MaxTarget {
		return nil, apperr.Validation("目标金额必须在 %v 到 %v SOL 之间",
			chain.LamportsToSol(l.settings.MinTarget), chain.LamportsToSol(l.settings.MaxTarget))
	}
	feeSig, err := chain.ParseSignature(in.FeeSignature)
	if err != nil {
		return nil, apperr.Validation("创建费交易签名无效")
	}

	wallet := solana.NewWallet()
	c, err := model.NewCampaign(model.CampaignParams{
		CreatorAddress: in.CreatorAddress,
		Name:           in.Name,
		Symbol:         in.Symbol,
		Description:    in.Description,
		ImageURL:       in.ImageURL,
		Twitter:        in.Twitter,
		Telegram:       in.Telegram,
		Website:        in.Website,
		TargetLamports: target,
		FeeSignature:   feeSig.String(),
		FeeLamports:    l.settings.CreationFee,
		WalletPublic:   wallet.PublicKey().String(),
		WalletPrivate:  wallet.PrivateKey.String(),
	})
	if err != nil {
		return nil, err
	}
	creator := solana.MustPublicKeyFromBase58(c.CreatorAddress)

	// 同一笔创建费只能使用一次
	unlock, err := l.locker.Lock(ctx, "fee:"+c.FeeTxSignature)
	if err != nil {
		return nil, err
	}
	defer unlock()

	used, err := l.campaigns.FeeSignatureUsed(ctx, c.FeeTxSignature)
	if err != nil {
		return nil, fmt.Errorf("failed to check fee signature: %w", err)
	}
	if used {
		return nil, apperr.Conflict("该创建费交易已被使用")
	}

	if err := l.verifyPayment(ctx, feeSig, creator, l.treasury.PublicKey(), l.settings.CreationFee); err != nil {
		return nil, err
	}

	if _, err := l.ledger.Transfer(ctx, l.treasury, wallet.PublicKey(), l.settings.CreationFee); err != nil {
		l.refundFee(creator)
		return nil, apperr.Transient(err, "运营钱包初始化失败")
	}
	if err := l.campaigns.Create(ctx, c); err != nil {
		l.refundFee(creator)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("该创建费交易已被使用")
		}
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	logger.Info("Campaign %s created by %s: %s (%s), target %d lamports, wallet %s",
		c.Id, c.CreatorAddress, c.Name, c.Symbol, c.TargetLamports, c.WalletPublicKey)
	return c, nil
}

// refundFee 创建失败时退还创建费，失败只记录日志
func (l *CampaignLogic) refundFee(creator solana.PublicKey) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sig, err := l.ledger.Transfer(ctx, l.treasury, creator, l.settings.CreationFee)
	if err != nil {
		logger.Error("Failed to refund creation fee %d to %s: %v", l.settings.CreationFee, creator, err)
		return
	}
	logger.Info("Refunded creation fee %d to %s (sig: %s)", l.settings.CreationFee, creator, sig)
}

// verifyPayment 把验证结果转换为业务错误
func (l *CampaignLogic) verifyPayment(ctx context.Context, sig solana.Signature, sender, receiver solana.PublicKey, amount uint64) error {
	out, err := l.verifier.Verify(ctx, sig, sender, receiver, amount)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return apperr.Transient(err, "暂时无法确认链上交易，请稍后重试")
	}
	if !out.Verified {
		return apperr.Verification("支付验证失败: %s", out.Reason)
	}
	return nil
}

// GetCampaign 获取活动
func (l *CampaignLogic) GetCampaign(ctx context.Context, id string) (*model.CampaignModel, error) {
	c, err := l.campaigns.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("活动不存在")
		}
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return c, nil
}

// RegisterContributor 登记贡献者，重复登记返回已有记录和已确认的贡献
func (l *CampaignLogic) RegisterContributor(ctx context.Context, address string) (*model.ContributorModel, []model.ContributionModel, error) {
	pk, err := chain.ParsePublicKey(address)
	if err != nil {
		return nil, nil, apperr.Validation("钱包地址无效")
	}
	contributor, err := l.contributors.Register(ctx, pk.String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register contributor: %w", err)
	}
	contributions, err := l.contributors.ListContributions(ctx, contributor.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	return contributor, contributions, nil
}

// Contribute 验证并记录一笔贡献，达标时完成活动并交给发币流程
func (l *CampaignLogic) Contribute(ctx context.Context, campaignID string, in ContributeInput) (*model.CampaignModel, error) {
	c, err := l.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	// 已完成的活动不论金额都拒绝
	if c.IsCompleted() {
		metrics.Contributions.WithLabelValues("rejected").Inc()
		return nil, apperr.CampaignCompleted("活动已完成，不再接受贡献")
	}

	amount, err := chain.SolToLamports(in.AmountSOL)
	if err != nil || amount < l.settings.MinContribution || amount > l.settings.MaxContribution {
		return nil, apperr.Validation("贡献金额必须在 %v 到 %v SOL 之间",
			chain.LamportsToSol(l.settings.MinContribution), chain.LamportsToSol(l.settings.MaxContribution))
	}
	contributor, err := chain.ParsePublicKey(in.Contributor)
	if err != nil {
		return nil, apperr.Validation("贡献者地址无效")
	}
	sig, err := chain.ParseSignature(in.Signature)
	if err != nil {
		return nil, apperr.Validation("交易签名无效")
	}

	res, err := queue.Run(ctx, l.queue, func(ctx context.Context) (*model.CampaignModel, error) {
		return l.admit(ctx, campaignID, contributor, sig, amount)
	})
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return nil, apperr.Transient(err, "服务正在关闭，请稍后重试")
		}
		return nil, err
	}
	return res, nil
}

// admit 在准入队列和活动锁内处理一笔贡献
func (l *CampaignLogic) admit(ctx context.Context, campaignID string, contributor solana.PublicKey, sig solana.Signature, amount uint64) (*model.CampaignModel, error) {
	unlock, err := l.locker.Lock(ctx, campaignLockKey(campaignID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := l.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.IsCompleted() {
		metrics.Contributions.WithLabelValues("rejected").Inc()
		return nil, apperr.CampaignCompleted("活动已完成，不再接受贡献")
	}

	used, err := l.contributors.SignatureUsed(ctx, sig.String())
	if err != nil {
		return nil, fmt.Errorf("failed to check contribution signature: %w", err)
	}
	if used || sig.String() == c.FeeTxSignature {
		return nil, apperr.Conflict("该交易已被记录")
	}

	operating, err := chain.ParsePublicKey(c.WalletPublicKey)
	if err != nil {
		return nil, fmt.Errorf("campaign %s has invalid operating wallet: %w", c.Id, err)
	}
	if err := l.verifyPayment(ctx, sig, contributor, operating, amount); err != nil {
		metrics.Contributions.WithLabelValues("unverified").Inc()
		return nil, err
	}

	// 以链上余额为准重新计算募集总额
	balance, err := l.ledger.GetBalance(ctx, operating)
	if err != nil {
		return nil, apperr.Transient(err, "暂时无法读取运营钱包余额")
	}
	var raised uint64
	if balance > c.InitialFeePaidLamports {
		raised = balance - c.InitialFeePaidLamports
	}

	if err := l.contributors.AddContribution(ctx, &model.ContributionModel{
		CampaignId:         c.Id,
		ContributorAddress: contributor.String(),
		AmountLamports:     amount,
		Signature:          sig.String(),
	}); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("该交易已被记录")
		}
		return nil, fmt.Errorf("failed to record contribution: %w", err)
	}
	if err := l.campaigns.Update(ctx, c.Id, repository.Fields{"current_donated_lamports": raised}); err != nil {
		return nil, fmt.Errorf("failed to update raised amount: %w", err)
	}
	c.CurrentDonatedLamports = raised
	logger.Info("Contribution %s accepted for campaign %s: %d lamports from %s, raised %d/%d",
		sig, c.Id, amount, contributor, raised, c.TargetLamports)

	if raised < c.TargetLamports {
		metrics.Contributions.WithLabelValues("accepted").Inc()
		return c, nil
	}
	return l.complete(ctx, c, balance, raised)
}

// complete 达标后计算分配并把活动置为完成，只有成功完成的调用会启动发币
func (l *CampaignLogic) complete(ctx context.Context, c *model.CampaignModel, balance, raised uint64) (*model.CampaignModel, error) {
	expected := c.InitialFeePaidLamports + c.TargetLamports
	if balance < expected {
		return nil, apperr.InsufficientFunds("运营钱包余额 %d 低于达标后的预期余额 %d", balance, expected)
	}
	alloc, err := Allocate(raised, c.InitialFeePaidLamports, l.settings.FeeRetainRatio, l.settings.SafetyBuffer)
	if err != nil {
		return nil, err
	}
	if reserve := l.reserve.Reserve(ctx); balance < alloc.TotalToTransfer+reserve {
		return nil, apperr.InsufficientFunds("运营钱包余额 %d 不足以转出 %d 并保留手续费 %d", balance, alloc.TotalToTransfer, reserve)
	}

	now := time.Now()
	won, err := l.campaigns.MarkCompleted(ctx, c.Id, repository.Fields{
		"completed_at":               &now,
		"current_donated_lamports":   raised,
		"total_lamports_to_transfer": alloc.TotalToTransfer,
		"retained_fee_lamports":      alloc.RetainedFee,
		"launch_status":              model.LaunchStatusPending,
		"launch_started_at":          &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete campaign: %w", err)
	}
	if !won {
		logger.Info("Campaign %s was completed by another contribution", c.Id)
		return l.GetCampaign(ctx, c.Id)
	}

	metrics.Contributions.WithLabelValues("completed").Inc()
	logger.Info("Campaign %s reached target: raised %d, transfer %d, retained fee %d",
		c.Id, raised, alloc.TotalToTransfer, alloc.RetainedFee)
	l.launcher.Dispatch(c.Id)

	return l.GetCampaign(ctx, c.Id)
}

// RecheckCompletion 重新检查已达标但未完成的活动，余额到位后完成活动并启动发币
func (l *CampaignLogic) RecheckCompletion(ctx context.Context, campaignID string) (*model.CampaignModel, error) {
	res, err := queue.Run(ctx, l.queue, func(ctx context.Context) (*model.CampaignModel, error) {
		unlock, err := l.locker.Lock(ctx, campaignLockKey(campaignID))
		if err != nil {
			return nil, err
		}
		defer unlock()

		c, err := l.GetCampaign(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if c.IsCompleted() {
			return c, nil
		}
		operating, err := chain.ParsePublicKey(c.WalletPublicKey)
		if err != nil {
			return nil, fmt.Errorf("campaign %s has invalid operating wallet: %w", c.Id, err)
		}
		balance, err := l.ledger.GetBalance(ctx, operating)
		if err != nil {
			return nil, apperr.Transient(err, "暂时无法读取运营钱包余额")
		}
		var raised uint64
		if balance > c.InitialFeePaidLamports {
			raised = balance - c.InitialFeePaidLamports
		}
		if raised < c.TargetLamports {
			return c, nil
		}
		return l.complete(ctx, c, balance, raised)
	})
	if errors.Is(err, queue.ErrClosed) {
		return nil, apperr.Transient(err, "服务正在关闭，请稍后重试")
	}
	return res, err
}

// authorize 只有创建者和管理员可以操作发币
func (l *CampaignLogic) authorize(c *model.CampaignModel, caller string) error {
	if caller == "" {
		return apperr.Unauthorized("缺少调用方钱包地址")
	}
	if caller == c.CreatorAddress {
		return nil
	}
	if _, ok := l.settings.Admins[caller]; ok {
		return nil
	}
	return apperr.Unauthorized("无权操作该活动")
}

// RequestLaunch 手动触发发币，失败的活动重新进入 pending
func (l *CampaignLogic) RequestLaunch(ctx context.Context, campaignID, caller string) (*model.CampaignModel, error) {
	c, err := l.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(c, caller); err != nil {
		return nil, err
	}
	if !c.IsCompleted() {
		return nil, apperr.Validation("活动尚未达标")
	}
	if c.IsLaunched() {
		return nil, apperr.Conflict("代币已发行")
	}

	if c.LaunchStatus != model.LaunchStatusPending {
		ok, err := l.campaigns.EnterPending(ctx, c.Id, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to enter launch: %w", err)
		}
		if !ok {
			return nil, apperr.Conflict("活动当前状态不能发币")
		}
	}
	if !l.launcher.Dispatch(c.Id) {
		logger.Info("Launch for campaign %s requested by %s while already running", c.Id, caller)
	}
	return l.GetCampaign(ctx, c.Id)
}

// TransferIssuedAsset 对已发币的活动执行分发和余额回收
func (l *CampaignLogic) TransferIssuedAsset(ctx context.Context, campaignID, caller string) (*launch.TransferResult, error) {
	c, err := l.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(c, caller); err != nil {
		return nil, err
	}
	if !c.IsLaunched() {
		return nil, apperr.Validation("代币尚未发行")
	}
	return l.launcher.TransferAsset(ctx, c.Id)
}
