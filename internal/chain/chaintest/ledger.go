// Package chaintest 提供内存版 Ledger，供各业务包测试使用
package chaintest

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/gagliardetto/solana-go"
)

type tokenKey struct {
	owner solana.PublicKey
	mint  solana.PublicKey
}

// TokenTransfer 记录的代币转账
type TokenTransfer struct {
	From      solana.PublicKey
	Recipient solana.PublicKey
	Mint      solana.PublicKey
	Amount    uint64
}

// Ledger 内存账本，所有转账即时确认
type Ledger struct {
	mu sync.Mutex

	balances map[solana.PublicKey]uint64
	txs      map[solana.Signature]*chain.TxEffects
	supply   map[solana.PublicKey]uint64
	tokens   map[tokenKey]uint64
	accounts map[tokenKey]bool

	Fee    uint64
	FeeErr error

	// TransferHook 在每笔SOL转账记账前调用，返回错误则转账失败
	TransferHook func(from, to solana.PublicKey, lamports uint64) error
	// TokenTransferHook 同上，作用于代币转账
	TokenTransferHook func(from, to solana.PublicKey, amount uint64) error
	// GetTransactionErr 非空时 GetTransaction 直接返回该错误
	GetTransactionErr error

	transfers      []chain.Transfer
	tokenTransfers []TokenTransfer
	calls          map[string]int
}

var _ chain.Ledger = (*Ledger)(nil)

// New 创建内存账本
func New() *Ledger {
	return &Ledger{
		balances: make(map[solana.PublicKey]uint64),
		txs:      make(map[solana.Signature]*chain.TxEffects),
		supply:   make(map[solana.PublicKey]uint64),
		tokens:   make(map[tokenKey]uint64),
		accounts: make(map[tokenKey]bool),
		calls:    make(map[string]int),
		Fee:      5000,
	}
}

// RandomSignature 随机签名
func RandomSignature() solana.Signature {
	var sig solana.Signature
	_, _ = rand.Read(sig[:])
	return sig
}

// SetBalance 设置余额
func (l *Ledger) SetBalance(owner solana.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = lamports
}

// Balance 读取余额
func (l *Ledger) Balance(owner solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[owner]
}

// AddTransaction 登记一笔已上链的交易
func (l *Ledger) AddTransaction(sig solana.Signature, failed bool, transfers ...chain.Transfer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[sig] = &chain.TxEffects{Signature: sig, Failed: failed, Transfers: transfers}
}

// Mint 给 owner 铸造代币
func (l *Ledger) Mint(mint, owner solana.PublicKey, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supply[mint] += amount
	k := tokenKey{owner: owner, mint: mint}
	l.tokens[k] += amount
	l.accounts[k] = true
}

// TokenOf 读取代币余额
func (l *Ledger) TokenOf(owner, mint solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens[tokenKey{owner: owner, mint: mint}]
}

// Transfers 已执行的SOL转账
func (l *Ledger) Transfers() []chain.Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chain.Transfer(nil), l.transfers...)
}

// TransfersTo 转给 to 的SOL转账
func (l *Ledger) TransfersTo(to solana.PublicKey) []chain.Transfer {
	var out []chain.Transfer
	for _, t := range l.Transfers() {
		if t.To.Equals(to) {
			out = append(out, t)
		}
	}
	return out
}

// TokenTransfers 已执行的代币转账
func (l *Ledger) TokenTransfers() []TokenTransfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TokenTransfer(nil), l.tokenTransfers...)
}

// Calls 方法调用次数
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

func (l *Ledger) record(method string) {
	l.calls[method]++
}

func (l *Ledger) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("GetBalance")
	return l.balances[owner], nil
}

func (l *Ledger) GetTransaction(ctx context.Context, sig solana.Signature) (*chain.TxEffects, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("GetTransaction")
	if l.GetTransactionErr != nil {
		return nil, l.GetTransactionErr
	}
	tx, ok := l.txs[sig]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	cp := *tx
	cp.Transfers = append([]chain.Transfer(nil), tx.Transfers...)
	return &cp, nil
}

func (l *Ledger) Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if l.TransferHook != nil {
		if err := l.TransferHook(from.PublicKey(), to, lamports); err != nil {
			return solana.Signature{}, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("Transfer")
	if lamports == 0 {
		return solana.Signature{}, fmt.Errorf("%w: zero transfer", chain.ErrInvalidAmount)
	}
	src := from.PublicKey()
	if l.balances[src] < lamports+l.Fee {
		return solana.Signature{}, fmt.Errorf("insufficient funds: %s has %d, needs %d", src, l.balances[src], lamports+l.Fee)
	}
	l.balances[src] -= lamports + l.Fee
	l.balances[to] += lamports

	t := chain.Transfer{From: src, To: to, Lamports: lamports}
	l.transfers = append(l.transfers, t)
	sig := RandomSignature()
	l.txs[sig] = &chain.TxEffects{Signature: sig, Transfers: []chain.Transfer{t}}
	return sig, nil
}

func (l *Ledger) AwaitConfirmation(ctx context.Context, sig solana.Signature) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("AwaitConfirmation")
	tx, ok := l.txs[sig]
	if !ok {
		return chain.ErrTxNotFound
	}
	if tx.Failed {
		return chain.ErrTxFailed
	}
	return nil
}

func (l *Ledger) LatestFee(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("LatestFee")
	if l.FeeErr != nil {
		return 0, l.FeeErr
	}
	return l.Fee, nil
}

func (l *Ledger) TokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("TokenSupply")
	return l.supply[mint], nil
}

func (l *Ledger) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("TokenBalance")
	k := tokenKey{owner: owner, mint: mint}
	if !l.accounts[k] {
		return 0, false, nil
	}
	return l.tokens[k], true, nil
}

func (l *Ledger) EnsureTokenAccount(ctx context.Context, payer solana.PrivateKey, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("EnsureTokenAccount")
	l.accounts[tokenKey{owner: owner, mint: mint}] = true
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	return ata, err
}

func (l *Ledger) TransferToken(ctx context.Context, owner solana.PrivateKey, mint, recipient solana.PublicKey, amount uint64) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if l.TokenTransferHook != nil {
		if err := l.TokenTransferHook(owner.PublicKey(), recipient, amount); err != nil {
			return solana.Signature{}, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("TransferToken")
	src := tokenKey{owner: owner.PublicKey(), mint: mint}
	if l.tokens[src] < amount {
		return solana.Signature{}, fmt.Errorf("insufficient token balance: %d < %d", l.tokens[src], amount)
	}
	dst := tokenKey{owner: recipient, mint: mint}
	l.tokens[src] -= amount
	l.tokens[dst] += amount
	l.accounts[dst] = true
	l.tokenTransfers = append(l.tokenTransfers, TokenTransfer{From: owner.PublicKey(), Recipient: recipient, Mint: mint, Amount: amount})
	sig := RandomSignature()
	l.txs[sig] = &chain.TxEffects{Signature: sig}
	return sig, nil
}
