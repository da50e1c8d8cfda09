package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/crowdfundme/crowdfund-server/internal/config"
	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client 基于 Solana JSON-RPC 的 Ledger 实现
type Client struct {
	mu      sync.RWMutex
	rpc     *rpc.Client
	gate    *gate
	config  config.SolanaConfig
	commit  rpc.CommitmentType
	confirm retry.Config
}

var _ Ledger = (*Client)(nil)

// NewClient 创建链客户端并测试连接
func NewClient(cfg config.SolanaConfig) (*Client, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	c := &Client{
		config:  cfg,
		commit:  parseCommitment(cfg.Commitment),
		gate:    newGate(cfg.RequestsPerSecond, cfg.Burst, cfg.MaxConcurrent, retry.DefaultConfig()),
		confirm: retry.Fixed(cfg.ConfirmAttempts, config.Millis(cfg.ConfirmInterval)),
	}

	if err := c.initClient(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}
	return c, nil
}

// initClient 初始化RPC客户端
func (c *Client) initClient(cfg config.SolanaConfig) error {
	logger.Info("Creating solana client connection (RPC: %s, commitment: %s)", cfg.RpcUrl, c.commit)

	client := rpc.New(cfg.RpcUrl)
	if err := c.testClientConnection(client); err != nil {
		client.Close()
		return fmt.Errorf("client connection test failed: %w", err)
	}

	c.rpc = client
	logger.Info("Successfully created solana client")
	return nil
}

// testClientConnection 测试客户端连接
func (c *Client) testClientConnection(client *rpc.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.Seconds(10))
	defer cancel()
	if _, err := client.GetSlot(ctx, c.commit); err != nil {
		return fmt.Errorf("failed to get slot: %w", err)
	}
	return nil
}

func parseCommitment(s string) rpc.CommitmentType {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// GetBalance 查询账户余额（lamports）
func (c *Client) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.gate.do(ctx, "getBalance", func(ctx context.Context) error {
		res, err := c.rpc.GetBalance(ctx, owner, c.commit)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", owner, err)
	}
	return balance, nil
}

// GetTransaction 查询并解析交易
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*TxEffects, error) {
	version := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commit,
		MaxSupportedTransactionVersion: &version,
	}

	var res *rpc.GetTransactionResult
	err := c.gate.do(ctx, "getTransaction", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetTransaction(ctx, sig, opts)
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && res == nil) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	if res.Transaction == nil {
		return nil, ErrTxNotFound
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", sig, err)
	}

	return &TxEffects{
		Signature: sig,
		Slot:      res.Slot,
		Failed:    res.Meta != nil && res.Meta.Err != nil,
		Transfers: extractTransfers(tx),
	}, nil
}

// Transfer 转账并等待确认
func (c *Client) Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if lamports == 0 {
		return solana.Signature{}, fmt.Errorf("%w: zero transfer", ErrInvalidAmount)
	}
	ix := system.NewTransferInstruction(lamports, from.PublicKey(), to).Build()
	sig, err := c.submit(ctx, "transfer", from, ix)
	if err != nil {
		return sig, fmt.Errorf("failed to transfer %d lamports to %s: %w", lamports, to, err)
	}
	logger.Info("Transferred %d lamports %s -> %s (sig: %s)", lamports, from.PublicKey(), to, sig)
	return sig, nil
}

// submit 构建、签名并发送交易，然后等待确认
// 重试只重发已签名的同一笔交易，签名不变，不会重复扣款
func (c *Client) submit(ctx context.Context, method string, payer solana.PrivateKey, ixs ...solana.Instruction) (solana.Signature, error) {
	var blockhash solana.Hash
	err := c.gate.do(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		res, err := c.rpc.GetLatestBlockhash(ctx, c.commit)
		if err != nil {
			return err
		}
		blockhash = res.Value.Blockhash
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	var sig solana.Signature
	err = c.gate.do(ctx, method, func(ctx context.Context) error {
		var err error
		sig, err = c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: c.commit,
		})
		return err
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	if err := c.AwaitConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// AwaitConfirmation 轮询签名状态直到确认或失败
func (c *Client) AwaitConfirmation(ctx context.Context, sig solana.Signature) error {
	_, err := retry.Poll(ctx, c.confirm, "awaitConfirmation", func(ctx context.Context) (*rpc.SignatureStatusesResult, error) {
		var status *rpc.SignatureStatusesResult
		err := c.gate.do(ctx, "getSignatureStatuses", func(ctx context.Context) error {
			res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				return err
			}
			if len(res.Value) > 0 {
				status = res.Value[0]
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if status != nil && status.Err != nil {
			return status, retry.Permanent(fmt.Errorf("%w: %s: %v", ErrTxFailed, sig, status.Err))
		}
		return status, nil
	}, func(status *rpc.SignatureStatusesResult) bool {
		if status == nil {
			return false
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return true
		}
		return false
	})
	if err != nil {
		return fmt.Errorf("transaction %s not confirmed: %w", sig, err)
	}
	return nil
}

// LatestFee 用一条代表性的转账消息估算当前手续费
func (c *Client) LatestFee(ctx context.Context) (uint64, error) {
	var fee uint64
	err := c.gate.do(ctx, "getFeeForMessage", func(ctx context.Context) error {
		res, err := c.rpc.GetLatestBlockhash(ctx, c.commit)
		if err != nil {
			return err
		}

		// 空指令的交易无法构建，用一笔0金额的自转账代表普通消息
		payer := solana.SystemProgramID
		ix := system.NewTransferInstruction(0, payer, payer).Build()
		tx, err := solana.NewTransaction([]solana.Instruction{ix}, res.Value.Blockhash, solana.TransactionPayer(payer))
		if err != nil {
			return retry.Permanent(err)
		}
		msg, err := tx.Message.MarshalBinary()
		if err != nil {
			return retry.Permanent(err)
		}

		feeRes, err := c.rpc.GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(msg), c.commit)
		if err != nil {
			return err
		}
		if feeRes.Value == nil {
			return retry.Permanent(errors.New("fee unavailable for message"))
		}
		fee = *feeRes.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate fee: %w", err)
	}
	return fee, nil
}

// TokenSupply 查询代币总供应量（最小单位）
func (c *Client) TokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	var amount string
	err := c.gate.do(ctx, "getTokenSupply", func(ctx context.Context) error {
		res, err := c.rpc.GetTokenSupply(ctx, mint, c.commit)
		if err != nil {
			return err
		}
		if res.Value == nil {
			return rpc.ErrNotFound
		}
		amount = res.Value.Amount
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get token supply of %s: %w", mint, err)
	}
	return parseTokenAmount(amount)
}

// TokenBalance 查询 owner 在 mint 上的关联账户余额，账户不存在时返回 false
func (c *Client) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, bool, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, false, fmt.Errorf("failed to derive token account: %w", err)
	}

	exists, err := c.accountExists(ctx, ata)
	if err != nil || !exists {
		return 0, false, err
	}

	var amount string
	err = c.gate.do(ctx, "getTokenAccountBalance", func(ctx context.Context) error {
		res, err := c.rpc.GetTokenAccountBalance(ctx, ata, c.commit)
		if err != nil {
			return err
		}
		if res.Value == nil {
			return rpc.ErrNotFound
		}
		amount = res.Value.Amount
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get token balance of %s: %w", ata, err)
	}
	v, err := parseTokenAmount(amount)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// EnsureTokenAccount 确保 owner 的关联代币账户存在，由 payer 支付创建费用
func (c *Client) EnsureTokenAccount(ctx context.Context, payer solana.PrivateKey, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive token account: %w", err)
	}

	exists, err := c.accountExists(ctx, ata)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if exists {
		return ata, nil
	}

	ix := associatedtokenaccount.NewCreateInstruction(payer.PublicKey(), owner, mint).Build()
	sig, err := c.submit(ctx, "createTokenAccount", payer, ix)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create token account for %s: %w", owner, err)
	}
	logger.Info("Created token account %s for %s (sig: %s)", ata, owner, sig)
	return ata, nil
}

// TransferToken 从 owner 的关联账户转出代币，必要时为接收方创建账户
func (c *Client) TransferToken(ctx context.Context, owner solana.PrivateKey, mint, recipient solana.PublicKey, amount uint64) (solana.Signature, error) {
	if amount == 0 {
		return solana.Signature{}, fmt.Errorf("%w: zero token transfer", ErrInvalidAmount)
	}

	src, _, err := solana.FindAssociatedTokenAddress(owner.PublicKey(), mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive source token account: %w", err)
	}
	dst, err := c.EnsureTokenAccount(ctx, owner, recipient, mint)
	if err != nil {
		return solana.Signature{}, err
	}

	ix := token.NewTransferInstruction(amount, src, dst, owner.PublicKey(), []solana.PublicKey{}).Build()
	sig, err := c.submit(ctx, "transferToken", owner, ix)
	if err != nil {
		return sig, fmt.Errorf("failed to transfer %d tokens to %s: %w", amount, recipient, err)
	}
	logger.Info("Transferred %d tokens of %s to %s (sig: %s)", amount, mint, recipient, sig)
	return sig, nil
}

func (c *Client) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	err := c.gate.do(ctx, "getAccountInfo", func(ctx context.Context) error {
		_, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{Commitment: c.commit})
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get account %s: %w", account, err)
	}
	return true, nil
}

func parseTokenAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", s, err)
	}
	return v, nil
}

// GetHealthStatus 获取健康状态
func (c *Client) GetHealthStatus(ctx context.Context) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	health := map[string]interface{}{
		"rpc_url":       c.config.RpcUrl,
		"commitment":    string(c.commit),
		"client_status": "connected",
	}

	if c.rpc == nil {
		health["client_status"] = "not_initialized"
		return health
	}
	slot, err := c.rpc.GetSlot(ctx, c.commit)
	if err != nil {
		health["client_status"] = "disconnected"
		return health
	}
	health["slot"] = slot
	return health
}

// Close 关闭客户端
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpc != nil {
		if err := c.rpc.Close(); err != nil {
			return err
		}
	}
	logger.Info("Solana client closed")
	return nil
}
