package launch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/apperr"
	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/chain/chaintest"
	"github.com/crowdfundme/crowdfund-server/internal/issuance"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/crowdfundme/crowdfund-server/internal/repository"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sol          = chain.LamportsPerSol
	testSupply   = uint64(1_000_000_000_000)
	toTransfer   = 10*sol + 690_000_000 // (11 - 1) - 0.01 + 0.7
	operatingSOL = 11 * sol
)

type fakeIssuer struct {
	ledger *chaintest.Ledger

	mu          sync.Mutex
	wallets     map[string]solana.PublicKey
	walletCalls int
	createCalls int

	walletErr  error
	createErr  error
	walletGate chan struct{}
	// failNextCreate 下一次发币交易上链但执行失败
	failNextCreate bool
}

func newFakeIssuer(ledger *chaintest.Ledger) *fakeIssuer {
	return &fakeIssuer{ledger: ledger, wallets: map[string]solana.PublicKey{}}
}

func (f *fakeIssuer) CreateWallet(ctx context.Context) (*issuance.Wallet, error) {
	if f.walletGate != nil {
		select {
		case <-f.walletGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.walletCalls++
	if f.walletErr != nil {
		return nil, f.walletErr
	}
	w := solana.NewWallet()
	key := uuid.NewString()
	f.wallets[key] = w.PublicKey()
	return &issuance.Wallet{APIKey: key, PublicKey: w.PublicKey().String(), PrivateKey: w.PrivateKey.String()}, nil
}

func (f *fakeIssuer) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	return []byte("png"), "image.png", nil
}

func (f *fakeIssuer) UploadMetadata(ctx context.Context, meta issuance.Metadata, image []byte, filename string) (string, error) {
	return "ipfs://" + meta.Symbol, nil
}

func (f *fakeIssuer) CreateToken(ctx context.Context, apiKey string, req issuance.CreateTokenRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	owner, ok := f.wallets[apiKey]
	if !ok {
		return "", apperr.External(nil, "unknown api key")
	}
	sig := chaintest.RandomSignature()
	if f.failNextCreate {
		f.failNextCreate = false
		f.ledger.AddTransaction(sig, true)
		return sig.String(), nil
	}
	f.ledger.Mint(req.Mint.PublicKey(), owner, testSupply)
	f.ledger.AddTransaction(sig, false)
	return sig.String(), nil
}

func (f *fakeIssuer) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.walletCalls, f.createCalls
}

type fixture struct {
	store    *repository.Store
	ledger   *chaintest.Ledger
	issuer   *fakeIssuer
	treasury solana.PublicKey
	orch     *Orchestrator
}

func testSettings() Settings {
	return Settings{
		FundingTolerance:    1_000_000,
		DustThreshold:       1_000_000,
		DistributionPercent: decimal.NewFromInt(20),
		Slippage:            10,
		PriorityFee:         500_000,
		ExplorerURL:         "https://solscan.io/token/",
		RunTimeout:          5 * time.Second,
		StepRetry:           retry.Fixed(2, time.Millisecond),
		BalancePoll:         retry.Fixed(3, time.Millisecond),
		SupplyPoll:          retry.Fixed(3, time.Millisecond),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := chaintest.New()
	f := &fixture{
		store:    repository.NewMemory(),
		ledger:   ledger,
		issuer:   newFakeIssuer(ledger),
		treasury: solana.NewWallet().PublicKey(),
	}
	f.orch = New(f.store.Campaigns, ledger, f.issuer, chain.NewReserveEstimator(ledger, 5, 50_000), f.treasury, testSettings())
	t.Cleanup(func() { _ = f.orch.Stop(time.Second) })
	return f
}

// completedCampaign 已达标、等待发币的活动，运营钱包持有 11 SOL
func (f *fixture) completedCampaign(t *testing.T) *model.CampaignModel {
	t.Helper()
	wallet := solana.NewWallet()
	now := time.Now()
	c := &model.CampaignModel{
		Id:                      uuid.NewString(),
		CreatorAddress:          solana.NewWallet().PublicKey().String(),
		Name:                    "Moon",
		Symbol:                  "MOON",
		ImageURL:                "https://example.com/moon.png",
		TargetLamports:          10 * sol,
		CurrentDonatedLamports:  10 * sol,
		InitialFeePaidLamports:  sol,
		FeeTxSignature:          uuid.NewString(),
		Status:                  model.CampaignStatusCompleted,
		CompletedAt:             &now,
		LaunchStatus:            model.LaunchStatusPending,
		WalletPublicKey:         wallet.PublicKey().String(),
		WalletPrivateKey:        wallet.PrivateKey.String(),
		TotalLamportsToTransfer: toTransfer,
		RetainedFeeLamports:     300_000_000,
	}
	require.NoError(t, f.store.Campaigns.Create(context.Background(), c))
	f.ledger.SetBalance(wallet.PublicKey(), operatingSOL)
	return c
}

// useLedger 换用包装过的账本重新创建编排器
func (f *fixture) useLedger(t *testing.T, ledger chain.Ledger) {
	t.Helper()
	f.orch = New(f.store.Campaigns, ledger, f.issuer, chain.NewReserveEstimator(ledger, 5, 50_000), f.treasury, testSettings())
	t.Cleanup(func() { _ = f.orch.Stop(time.Second) })
}

// presetIssuanceWallet 预先保存发币钱包，返回其地址
func (f *fixture) presetIssuanceWallet(t *testing.T, c *model.CampaignModel) solana.PublicKey {
	t.Helper()
	w := solana.NewWallet()
	key := uuid.NewString()
	f.issuer.mu.Lock()
	f.issuer.wallets[key] = w.PublicKey()
	f.issuer.mu.Unlock()
	require.NoError(t, f.store.Campaigns.Update(context.Background(), c.Id, repository.Fields{
		"issuance_wallet_public_key":  w.PublicKey().String(),
		"issuance_wallet_private_key": w.PrivateKey.String(),
		"issuance_api_key":            key,
	}))
	return w.PublicKey()
}

// relaunch 把失败的活动重新置为 pending 并再执行一次
func (f *fixture) relaunch(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	ok, err := f.store.Campaigns.EnterPending(ctx, id, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.orch.Run(ctx, id))
}

func (f *fixture) get(t *testing.T, id string) *model.CampaignModel {
	t.Helper()
	c, err := f.store.Campaigns.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)

	require.NoError(t, f.orch.Run(context.Background(), c.Id))

	got := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusCompleted, got.LaunchStatus)
	assert.Nil(t, got.LaunchError)
	assert.NotEmpty(t, got.TokenAddress)
	assert.Equal(t, got.MintPublicKey, got.TokenAddress)
	assert.Equal(t, "https://solscan.io/token/"+got.TokenAddress, got.ExplorerURL)
	assert.Equal(t, "ipfs://MOON", got.MetadataURI)
	assert.True(t, got.IssuanceTransferCompleted)
	assert.True(t, got.DistributionCompleted)
	assert.Equal(t, testSupply/5, got.DistributedAmount)
	assert.NotEmpty(t, got.SweepSignature)
	assert.Equal(t, 1, got.LaunchAttempts)

	issuanceWallet := solana.MustPublicKeyFromBase58(got.IssuanceWalletPublicKey)
	funding := f.ledger.TransfersTo(issuanceWallet)
	require.Len(t, funding, 1)
	assert.Equal(t, toTransfer, funding[0].Lamports)

	creator := solana.MustPublicKeyFromBase58(got.CreatorAddress)
	mint := solana.MustPublicKeyFromBase58(got.TokenAddress)
	assert.Equal(t, testSupply/5, f.ledger.TokenOf(creator, mint))
	assert.Greater(t, f.ledger.Balance(f.treasury), uint64(0))
}

func TestRun_FailureRecordsError(t *testing.T) {
	f := newFixture(t)
	f.issuer.walletErr = apperr.External(errors.New("503"), "发币服务请求失败")
	c := f.completedCampaign(t)

	err := f.orch.Run(context.Background(), c.Id)
	require.Error(t, err)

	got := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusFailed, got.LaunchStatus)
	require.NotNil(t, got.LaunchError)
	assert.Contains(t, *got.LaunchError, "wallet")
	assert.Empty(t, got.TokenAddress)
	// External 错误不在步骤内重试
	walletCalls, _ := f.issuer.calls()
	assert.Equal(t, 1, walletCalls)
}

func TestRun_RetryResumesCompletedSteps(t *testing.T) {
	f := newFixture(t)
	f.issuer.createErr = apperr.External(nil, "发币失败")
	c := f.completedCampaign(t)
	ctx := context.Background()

	require.Error(t, f.orch.Run(ctx, c.Id))
	failed := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusFailed, failed.LaunchStatus)
	assert.True(t, failed.IssuanceTransferCompleted)
	assert.NotEmpty(t, failed.IssuanceWalletPublicKey)
	assert.NotEmpty(t, failed.MintPublicKey)
	assert.Empty(t, failed.TokenAddress)

	f.issuer.mu.Lock()
	f.issuer.createErr = nil
	f.issuer.mu.Unlock()

	ok, err := f.store.Campaigns.EnterPending(ctx, c.Id, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.orch.Run(ctx, c.Id))

	got := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusCompleted, got.LaunchStatus)
	assert.Nil(t, got.LaunchError)
	assert.Equal(t, failed.IssuanceWalletPublicKey, got.IssuanceWalletPublicKey)
	assert.Equal(t, failed.MintPublicKey, got.TokenAddress)
	assert.Equal(t, 2, got.LaunchAttempts)

	walletCalls, _ := f.issuer.calls()
	assert.Equal(t, 1, walletCalls)
	issuanceWallet := solana.MustPublicKeyFromBase58(got.IssuanceWalletPublicKey)
	assert.Len(t, f.ledger.TransfersTo(issuanceWallet), 1)
}

func TestRun_ExistingSupplySkipsCreate(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	ctx := context.Background()

	w := solana.NewWallet()
	mint := solana.NewWallet()
	require.NoError(t, f.store.Campaigns.Update(ctx, c.Id, repository.Fields{
		"issuance_wallet_public_key":  w.PublicKey().String(),
		"issuance_wallet_private_key": w.PrivateKey.String(),
		"issuance_api_key":            "key",
		"mint_public_key":             mint.PublicKey().String(),
		"mint_private_key":            mint.PrivateKey.String(),
	}))
	f.ledger.Mint(mint.PublicKey(), w.PublicKey(), testSupply)

	require.NoError(t, f.orch.Run(ctx, c.Id))

	_, createCalls := f.issuer.calls()
	assert.Equal(t, 0, createCalls)
	assert.Equal(t, mint.PublicKey().String(), f.get(t, c.Id).TokenAddress)
}

func TestRun_AlreadyLaunchedIsNoop(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	ctx := context.Background()
	require.NoError(t, f.store.Campaigns.Update(ctx, c.Id, repository.Fields{"token_address": "x"}))

	require.NoError(t, f.orch.Run(ctx, c.Id))
	assert.Empty(t, f.ledger.Transfers())
	assert.Equal(t, 0, f.get(t, c.Id).LaunchAttempts)
}

func TestFundIssuanceWallet_FlagSetPerformsNoTransfer(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	c.IssuanceWalletPublicKey = solana.NewWallet().PublicKey().String()
	c.IssuanceTransferCompleted = true

	for i := 0; i < 2; i++ {
		require.NoError(t, f.orch.fundIssuanceWallet(context.Background(), c))
	}
	assert.Empty(t, f.ledger.Transfers())
	assert.Equal(t, 0, f.ledger.Calls("GetBalance"))
}

func TestFundIssuanceWallet_CrashBeforeFlag(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	ctx := context.Background()

	w := solana.NewWallet()
	c.IssuanceWalletPublicKey = w.PublicKey().String()
	c.IssuanceWalletPrivateKey = w.PrivateKey.String()
	require.NoError(t, f.store.Campaigns.Update(ctx, c.Id, repository.Fields{
		"issuance_wallet_public_key":  c.IssuanceWalletPublicKey,
		"issuance_wallet_private_key": c.IssuanceWalletPrivateKey,
	}))
	// 上次运行已经部分转入
	f.ledger.SetBalance(w.PublicKey(), 3*sol)

	require.NoError(t, f.orch.fundIssuanceWallet(ctx, c))
	transfers := f.ledger.TransfersTo(w.PublicKey())
	require.Len(t, transfers, 1)
	assert.Equal(t, toTransfer-3*sol, transfers[0].Lamports)
	assert.Equal(t, toTransfer, f.ledger.Balance(w.PublicKey()))

	// 模拟标志写入前崩溃
	require.NoError(t, f.store.Campaigns.Update(ctx, c.Id, repository.Fields{"issuance_transfer_completed": false}))
	c = f.get(t, c.Id)
	require.False(t, c.IssuanceTransferCompleted)

	require.NoError(t, f.orch.fundIssuanceWallet(ctx, c))
	assert.Len(t, f.ledger.TransfersTo(w.PublicKey()), 1)
	assert.True(t, f.get(t, c.Id).IssuanceTransferCompleted)
}

func TestFundIssuanceWallet_BalanceAboveRequired(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	w := solana.NewWallet()
	c.IssuanceWalletPublicKey = w.PublicKey().String()
	f.ledger.SetBalance(w.PublicKey(), toTransfer+123)

	require.NoError(t, f.orch.fundIssuanceWallet(context.Background(), c))
	assert.Empty(t, f.ledger.Transfers())
	assert.True(t, c.IssuanceTransferCompleted)
}

func TestFundIssuanceWallet_InsufficientOperatingBalance(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	c.IssuanceWalletPublicKey = solana.NewWallet().PublicKey().String()
	f.ledger.SetBalance(solana.MustPublicKeyFromBase58(c.WalletPublicKey), 10_000)

	err := f.orch.fundIssuanceWallet(context.Background(), c)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientFunds))
	assert.False(t, c.IssuanceTransferCompleted)
}

func TestDispatch_SkipsInFlight(t *testing.T) {
	f := newFixture(t)
	f.issuer.walletGate = make(chan struct{})
	c := f.completedCampaign(t)

	assert.True(t, f.orch.Dispatch(c.Id))
	assert.False(t, f.orch.Dispatch(c.Id))
	assert.True(t, f.orch.InFlight(c.Id))

	close(f.issuer.walletGate)
	require.Eventually(t, func() bool {
		return !f.orch.InFlight(c.Id)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, model.LaunchStatusCompleted, f.get(t, c.Id).LaunchStatus)
}

func TestStop_LeavesInterruptedRunPending(t *testing.T) {
	f := newFixture(t)
	f.issuer.walletGate = make(chan struct{})
	c := f.completedCampaign(t)

	require.True(t, f.orch.Dispatch(c.Id))
	require.NoError(t, f.orch.Stop(time.Second))

	assert.Equal(t, model.LaunchStatusPending, f.get(t, c.Id).LaunchStatus)
	assert.False(t, f.orch.Dispatch(c.Id))
}

func TestTransferAsset(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	ctx := context.Background()

	_, err := f.orch.TransferAsset(ctx, c.Id)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	require.NoError(t, f.orch.Run(ctx, c.Id))
	res, err := f.orch.TransferAsset(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, c.CreatorAddress, res.Recipient)
	assert.Equal(t, testSupply/5, res.DistributedAmount)

	// 已分发，不会再次转账
	assert.Len(t, f.ledger.TokenTransfers(), 1)
}

func TestShareOf(t *testing.T) {
	assert.Equal(t, uint64(200), shareOf(1000, decimal.NewFromInt(20)))
	assert.Equal(t, uint64(3), shareOf(10, decimal.NewFromFloat(33.3)))
	assert.Equal(t, uint64(0), shareOf(0, decimal.NewFromInt(20)))
}

var errUnconfirmed = errors.New("transaction not confirmed")

// lossyLedger 交易已经生效，但调用方收到错误
type lossyLedger struct {
	*chaintest.Ledger

	mu                 sync.Mutex
	lostTransfers      map[solana.PublicKey]int
	lostTokenTransfers int
	hiddenSupplyReads  int
}

func newLossyLedger(l *chaintest.Ledger) *lossyLedger {
	return &lossyLedger{Ledger: l, lostTransfers: map[solana.PublicKey]int{}}
}

func (l *lossyLedger) Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	sig, err := l.Ledger.Transfer(ctx, from, to, lamports)
	if err != nil {
		return sig, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lostTransfers[to] > 0 {
		l.lostTransfers[to]--
		return solana.Signature{}, errUnconfirmed
	}
	return sig, nil
}

func (l *lossyLedger) TransferToken(ctx context.Context, owner solana.PrivateKey, mint, recipient solana.PublicKey, amount uint64) (solana.Signature, error) {
	sig, err := l.Ledger.TransferToken(ctx, owner, mint, recipient, amount)
	if err != nil {
		return sig, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lostTokenTransfers > 0 {
		l.lostTokenTransfers--
		return solana.Signature{}, errUnconfirmed
	}
	return sig, nil
}

func (l *lossyLedger) TokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	hidden := l.hiddenSupplyReads > 0
	if hidden {
		l.hiddenSupplyReads--
	}
	l.mu.Unlock()
	if hidden {
		return 0, nil
	}
	return l.Ledger.TokenSupply(ctx, mint)
}

func TestRun_FundingLandedButUnconfirmed(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	wallet := f.presetIssuanceWallet(t, c)
	ledger := newLossyLedger(f.ledger)
	ledger.lostTransfers[wallet] = 1
	f.useLedger(t, ledger)

	err := f.orch.Run(context.Background(), c.Id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "funding")

	failed := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusFailed, failed.LaunchStatus)
	assert.False(t, failed.IssuanceTransferCompleted)
	require.Len(t, f.ledger.TransfersTo(wallet), 1)

	f.relaunch(t, c.Id)

	got := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusCompleted, got.LaunchStatus)
	assert.True(t, got.IssuanceTransferCompleted)
	// 已到账的转账不再重复
	transfers := f.ledger.TransfersTo(wallet)
	require.Len(t, transfers, 1)
	assert.Equal(t, toTransfer, transfers[0].Lamports)
}

func TestRun_IssuanceSupplyDelayedDoesNotReissue(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	ledger := newLossyLedger(f.ledger)
	ledger.hiddenSupplyReads = 4
	f.useLedger(t, ledger)

	err := f.orch.Run(context.Background(), c.Id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue")

	failed := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusFailed, failed.LaunchStatus)
	assert.NotEmpty(t, failed.IssuanceSignature)
	assert.Empty(t, failed.TokenAddress)
	_, createCalls := f.issuer.calls()
	assert.Equal(t, 1, createCalls)

	f.relaunch(t, c.Id)

	got := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusCompleted, got.LaunchStatus)
	assert.Equal(t, failed.MintPublicKey, got.TokenAddress)
	assert.Equal(t, failed.IssuanceSignature, got.IssuanceSignature)
	_, createCalls = f.issuer.calls()
	assert.Equal(t, 1, createCalls)
}

func TestRun_FailedIssuanceIsRecreated(t *testing.T) {
	f := newFixture(t)
	f.issuer.failNextCreate = true
	c := f.completedCampaign(t)

	require.NoError(t, f.orch.Run(context.Background(), c.Id))

	got := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusCompleted, got.LaunchStatus)
	_, createCalls := f.issuer.calls()
	assert.Equal(t, 2, createCalls)
	mint := solana.MustPublicKeyFromBase58(got.TokenAddress)
	assert.Equal(t, testSupply/5, f.ledger.TokenOf(solana.MustPublicKeyFromBase58(got.CreatorAddress), mint))
}

func TestRun_DistributionLandedButUnconfirmed(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	ledger := newLossyLedger(f.ledger)
	ledger.lostTokenTransfers = 1
	f.useLedger(t, ledger)

	err := f.orch.Run(context.Background(), c.Id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distribute")

	failed := f.get(t, c.Id)
	assert.False(t, failed.DistributionCompleted)
	require.NotNil(t, failed.DistributionBaseline)
	assert.Equal(t, uint64(0), *failed.DistributionBaseline)
	require.Len(t, f.ledger.TokenTransfers(), 1)

	f.relaunch(t, c.Id)

	got := f.get(t, c.Id)
	assert.Equal(t, model.LaunchStatusCompleted, got.LaunchStatus)
	assert.True(t, got.DistributionCompleted)
	assert.Equal(t, testSupply/5, got.DistributedAmount)

	creator := solana.MustPublicKeyFromBase58(got.CreatorAddress)
	mint := solana.MustPublicKeyFromBase58(got.TokenAddress)
	assert.Len(t, f.ledger.TokenTransfers(), 1)
	assert.Equal(t, testSupply/5, f.ledger.TokenOf(creator, mint))
}

func TestDistribute_TopsUpPartialDelivery(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	ctx := context.Background()

	holder := solana.NewWallet()
	mint := solana.NewWallet().PublicKey()
	creator := solana.MustPublicKeyFromBase58(c.CreatorAddress)
	f.ledger.Mint(mint, holder.PublicKey(), testSupply)

	baseline := uint64(5)
	c.IssuanceWalletPrivateKey = holder.PrivateKey.String()
	c.MintPublicKey = mint.String()
	c.DistributionBaseline = &baseline
	c.DistributedAmount = 1000
	// 上次已到账 300
	f.ledger.Mint(mint, creator, baseline+300)

	require.NoError(t, f.orch.distribute(ctx, c))
	transfers := f.ledger.TokenTransfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(700), transfers[0].Amount)
	assert.Equal(t, baseline+1000, f.ledger.TokenOf(creator, mint))
	assert.True(t, c.DistributionCompleted)
}

func TestRun_SweepLandedButUnconfirmed(t *testing.T) {
	f := newFixture(t)
	c := f.completedCampaign(t)
	ledger := newLossyLedger(f.ledger)
	ledger.lostTransfers[f.treasury] = 1
	f.useLedger(t, ledger)

	require.NoError(t, f.orch.Run(context.Background(), c.Id))

	assert.Equal(t, model.LaunchStatusCompleted, f.get(t, c.Id).LaunchStatus)
	// 重试时余额已低于零头阈值，不会再次回收
	assert.Len(t, f.ledger.TransfersTo(f.treasury), 1)
}
