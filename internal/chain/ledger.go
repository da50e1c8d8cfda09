package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// LamportsPerSol 1 SOL = 1e9 lamports
const LamportsPerSol uint64 = 1_000_000_000

var (
	// ErrTxNotFound 交易尚未被索引
	ErrTxNotFound = errors.New("transaction not found")
	// ErrTxFailed 交易已上链但执行失败
	ErrTxFailed = errors.New("transaction failed on chain")
	// ErrInvalidAmount 金额非法
	ErrInvalidAmount = errors.New("invalid amount")
)

// Transfer 系统程序的普通转账指令
type Transfer struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
}

// TxEffects 交易解析结果
type TxEffects struct {
	Signature solana.Signature
	Slot      uint64
	Failed    bool
	Transfers []Transfer
}

// Ledger 链上读写操作
type Ledger interface {
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*TxEffects, error)
	Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error)
	AwaitConfirmation(ctx context.Context, sig solana.Signature) error
	LatestFee(ctx context.Context) (uint64, error)

	TokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, bool, error)
	EnsureTokenAccount(ctx context.Context, payer solana.PrivateKey, owner, mint solana.PublicKey) (solana.PublicKey, error)
	TransferToken(ctx context.Context, owner solana.PrivateKey, mint, recipient solana.PublicKey, amount uint64) (solana.Signature, error)
}

// SolToLamports 用十进制运算换算，避免浮点截断
func SolToLamports(sol float64) (uint64, error) {
	if math.IsNaN(sol) || math.IsInf(sol, 0) {
		return 0, fmt.Errorf("%w: %v SOL", ErrInvalidAmount, sol)
	}
	d := decimal.NewFromFloat(sol)
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s SOL", ErrInvalidAmount, d.String())
	}
	lamports := d.Shift(9).Floor()
	if lamports.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: %s SOL", ErrInvalidAmount, d.String())
	}
	return uint64(lamports.IntPart()), nil
}

// MustSolToLamports 用于配置常量
func MustSolToLamports(sol float64) uint64 {
	v, err := SolToLamports(sol)
	if err != nil {
		panic(err)
	}
	return v
}

// LamportsToSol 仅用于展示
func LamportsToSol(lamports uint64) float64 {
	f, _ := decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9).Float64()
	return f
}

// NewKeypair 生成一次性钱包
func NewKeypair() solana.PrivateKey {
	return solana.NewWallet().PrivateKey
}

// ParsePublicKey 解析 base58 地址
func ParsePublicKey(s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid public key %q: %w", s, err)
	}
	return pk, nil
}

// ParsePrivateKey 解析 base58 私钥
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	pk, err := solana.PrivateKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return pk, nil
}

// ParseSignature 解析交易签名
func ParseSignature(s string) (solana.Signature, error) {
	sig, err := solana.SignatureFromBase58(s)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid signature %q: %w", s, err)
	}
	return sig, nil
}

// ErrBadSignature 消息签名与地址不匹配
var ErrBadSignature = errors.New("message signature does not match wallet")

// VerifyMessage 校验钱包对消息的 ed25519 签名
func VerifyMessage(address, signature string, message []byte) error {
	pk, err := ParsePublicKey(address)
	if err != nil {
		return err
	}
	sig, err := ParseSignature(signature)
	if err != nil {
		return err
	}
	if !sig.Verify(pk, message) {
		return ErrBadSignature
	}
	return nil
}
