// Package launch 驱动达标活动的发币流程
package launch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/config"
	"github.com/crowdfundme/crowdfund-server/internal/issuance"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/metrics"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/crowdfundme/crowdfund-server/internal/repository"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Settings 发币流程参数，金额单位为 lamports
type Settings struct {
	FundingTolerance    uint64
	DustThreshold       uint64
	DistributionPercent decimal.Decimal
	Slippage            float64
	PriorityFee         uint64
	ExplorerURL         string
	RunTimeout          time.Duration

	StepRetry   retry.Config // 单个步骤失败后的重试
	BalancePoll retry.Config // 转账后等待余额变化
	SupplyPoll  retry.Config // 发币后等待供应量出现
}

// SettingsFromConfig 从配置构造参数
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	tolerance, err := chain.SolToLamports(cfg.Launch.FundingTolerance)
	if err != nil {
		return Settings{}, fmt.Errorf("launch.funding_tolerance: %w", err)
	}
	dust, err := chain.SolToLamports(cfg.Launch.DustThreshold)
	if err != nil {
		return Settings{}, fmt.Errorf("launch.dust_threshold: %w", err)
	}
	priorityFee, err := chain.SolToLamports(cfg.Issuance.PriorityFee)
	if err != nil {
		return Settings{}, fmt.Errorf("issuance.priority_fee: %w", err)
	}
	percent := decimal.NewFromFloat(cfg.Launch.DistributionPercent)
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return Settings{}, fmt.Errorf("launch.distribution_percent must be within [0, 100]")
	}

	interval := config.Millis(cfg.Launch.SupplyPollInterval)
	return Settings{
		FundingTolerance:    tolerance,
		DustThreshold:       dust,
		DistributionPercent: percent,
		Slippage:            cfg.Issuance.Slippage,
		PriorityFee:         priorityFee,
		ExplorerURL:         cfg.Solana.ExplorerURL,
		RunTimeout:          config.Seconds(cfg.Launch.RunTimeout),
		StepRetry:           retry.Config{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 15 * time.Second, Multiplier: 2},
		BalancePoll:         retry.Config{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: 8 * time.Second, Multiplier: 1.5},
		SupplyPoll:          retry.Fixed(cfg.Launch.SupplyPollAttempts, interval),
	}, nil
}

// TransferResult 代币分发和余额回收的结果
type TransferResult struct {
	Recipient             string `json:"recipient"`
	DistributedAmount     uint64 `json:"distributed_amount"`
	DistributionSignature string `json:"distribution_signature"`
	SweepSignature        string `json:"sweep_signature,omitempty"`
}

// Orchestrator 发币流程编排器
type Orchestrator struct {
	campaigns repository.CampaignRepository
	ledger    chain.Ledger
	issuer    issuance.Service
	reserve   *chain.ReserveEstimator
	treasury  solana.PublicKey
	settings  Settings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New 创建编排器，Stop 之前后台流程都挂在内部的根 context 上
func New(
	campaigns repository.CampaignRepository,
	ledger chain.Ledger,
	issuer issuance.Service,
	reserve *chain.ReserveEstimator,
	treasury solana.PublicKey,
	settings Settings,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		campaigns: campaigns,
		ledger:    ledger,
		issuer:    issuer,
		reserve:   reserve,
		treasury:  treasury,
		settings:  settings,
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[string]struct{}),
	}
}

func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[id]; ok {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, id)
}

// InFlight 活动是否有正在执行的流程
func (o *Orchestrator) InFlight(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[id]
	return ok
}

// Dispatch 在后台启动发币流程，已在执行时返回 false
func (o *Orchestrator) Dispatch(campaignID string) bool {
	if o.ctx.Err() != nil {
		logger.Warn("Orchestrator stopped, launch for campaign %s not dispatched", campaignID)
		return false
	}
	if !o.claim(campaignID) {
		logger.Info("Launch for campaign %s already in flight", campaignID)
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(campaignID)
		defer func() {
			if p := recover(); p != nil {
				logger.Error("Launch for campaign %s panicked: %v", campaignID, p)
				o.fail(campaignID, fmt.Errorf("panic: %v", p))
			}
		}()

		ctx := o.ctx
		if o.settings.RunTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(o.ctx, o.settings.RunTimeout)
			defer cancel()
		}
		if err := o.Run(ctx, campaignID); err != nil {
			logger.Error("Launch for campaign %s failed: %v", campaignID, err)
		}
	}()
	return true
}

// Run 执行一次发币尝试，失败时写入 launch_error 并置为 failed
func (o *Orchestrator) Run(ctx context.Context, campaignID string) error {
	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign %s: %w", campaignID, err)
	}
	if c.IsLaunched() {
		logger.Info("Campaign %s already launched as %s", c.Id, c.TokenAddress)
		return nil
	}
	if c.LaunchStatus != model.LaunchStatusPending {
		return fmt.Errorf("campaign %s launch status is %q, expected pending", c.Id, c.LaunchStatus)
	}

	now := time.Now()
	if err := o.campaigns.BeginAttempt(ctx, c.Id, now); err != nil {
		return fmt.Errorf("failed to record launch attempt: %w", err)
	}
	logger.Info("Launch attempt %d started for campaign %s (%s)", c.LaunchAttempts+1, c.Id, c.Symbol)

	if err := o.execute(ctx, c); err != nil {
		// 进程退出导致的取消保持 pending，重启后由巡检任务继续
		if o.ctx.Err() != nil && errors.Is(err, context.Canceled) {
			logger.Warn("Launch for campaign %s interrupted by shutdown", c.Id)
			return err
		}
		o.fail(c.Id, err)
		return err
	}

	if err := o.campaigns.Update(ctx, c.Id, repository.Fields{
		"token_address": c.MintPublicKey,
		"explorer_url":  o.settings.ExplorerURL + c.MintPublicKey,
		"launch_status": model.LaunchStatusCompleted,
		"launch_error":  nil,
	}); err != nil {
		o.fail(c.Id, err)
		return fmt.Errorf("failed to persist launch result: %w", err)
	}
	metrics.Launches.WithLabelValues("completed").Inc()
	logger.Info("Campaign %s launched: token %s (%s)", c.Id, c.MintPublicKey, time.Since(now))
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, c *model.CampaignModel) error {
	steps := []struct {
		name string
		fn   func(ctx context.Context, c *model.CampaignModel) error
	}{
		{"wallet", o.acquireWallet},
		{"metadata", o.prepareMetadata},
		{"funding", o.fundIssuanceWallet},
		{"issue", o.issueToken},
		{"distribute", o.distribute},
		{"sweep", o.sweep},
	}
	for _, s := range steps {
		if err := o.runStep(ctx, s.name, c, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// runStep 执行单个步骤，基础设施类错误按 StepRetry 重试
func (o *Orchestrator) runStep(ctx context.Context, name string, c *model.CampaignModel, fn func(ctx context.Context, c *model.CampaignModel) error) error {
	err := retry.Do(ctx, o.settings.StepRetry, "launch."+name, func(ctx context.Context) error {
		err := fn(ctx, c)
		if err == nil {
			return nil
		}
		switch apperr.KindOf(err) {
		case apperr.KindValidation, apperr.KindInsufficientFunds, apperr.KindExternal:
			return retry.Permanent(err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.LaunchStepFailures.WithLabelValues(name).Inc()
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// fail 记录失败，使用独立的 context 以便在运行 context 结束后仍能写入
func (o *Orchestrator) fail(campaignID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := cause.Error()
	if err := o.campaigns.Update(ctx, campaignID, repository.Fields{
		"launch_status": model.LaunchStatusFailed,
		"launch_error":  msg,
	}); err != nil {
		logger.Error("Failed to persist launch failure for campaign %s: %v", campaignID, err)
	}
	metrics.Launches.WithLabelValues("failed").Inc()
}

// TransferAsset 对已发币的活动执行分发和余额回收
func (o *Orchestrator) TransferAsset(ctx context.Context, campaignID string) (*TransferResult, error) {
	if !o.claim(campaignID) {
		return nil, apperr.Conflict("该活动有正在执行的发币流程")
	}
	defer o.release(campaignID)

	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.IsLaunched() {
		return nil, apperr.Validation("代币尚未发行")
	}
	if err := o.runStep(ctx, "distribute", c, o.distribute); err != nil {
		return nil, err
	}
	if err := o.runStep(ctx, "sweep", c, o.sweep); err != nil {
		return nil, err
	}
	return &TransferResult{
		Recipient:             c.CreatorAddress,
		DistributedAmount:     c.DistributedAmount,
		DistributionSignature: c.DistributionSignature,
		SweepSignature:        c.SweepSignature,
	}, nil
}

// Stop 取消所有后台流程并等待其退出
func (o *Orchestrator) Stop(timeout time.Duration) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Launch orchestrator stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("launch orchestrator: timed out after %s waiting for runs", timeout)
	}
}
