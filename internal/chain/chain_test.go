package chain

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolToLamports(t *testing.T) {
	tests := []struct {
		name    string
		sol     float64
		want    uint64
		wantErr bool
	}{
		{name: "whole", sol: 5, want: 5_000_000_000},
		{name: "fraction", sol: 0.1, want: 100_000_000},
		{name: "tiny", sol: 0.000000001, want: 1},
		{name: "truncates sub-lamport", sol: 0.0000000019, want: 1},
		{name: "zero", sol: 0, want: 0},
		{name: "negative", sol: -1, wantErr: true},
		{name: "nan", sol: math.NaN(), wantErr: true},
		{name: "inf", sol: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SolToLamports(tt.sol)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLamportsToSol(t *testing.T) {
	assert.Equal(t, 1.5, LamportsToSol(1_500_000_000))
	assert.Equal(t, 0.0, LamportsToSol(0))
}

func TestExtractTransfers(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	ixs := []solana.Instruction{
		system.NewTransferInstruction(12345, from, to).Build(),
		token.NewTransferInstruction(99, mint, to, from, []solana.PublicKey{}).Build(),
	}
	tx, err := solana.NewTransaction(ixs, solana.Hash{}, solana.TransactionPayer(from))
	require.NoError(t, err)

	transfers := extractTransfers(tx)
	require.Len(t, transfers, 1)
	assert.Equal(t, from, transfers[0].From)
	assert.Equal(t, to, transfers[0].To)
	assert.Equal(t, uint64(12345), transfers[0].Lamports)
}

func TestExtractTransfers_Multiple(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction([]solana.Instruction{
		system.NewTransferInstruction(1, from, a).Build(),
		system.NewTransferInstruction(2, from, b).Build(),
	}, solana.Hash{}, solana.TransactionPayer(from))
	require.NoError(t, err)

	transfers := extractTransfers(tx)
	require.Len(t, transfers, 2)
	assert.Equal(t, a, transfers[0].To)
	assert.Equal(t, uint64(2), transfers[1].Lamports)
}

func TestExtractTransfers_IgnoresOtherSystemInstructions(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	fresh := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction([]solana.Instruction{
		system.NewCreateAccountInstruction(2_039_280, 165, solana.TokenProgramID, from, fresh).Build(),
		system.NewTransferInstruction(7, from, to).Build(),
	}, solana.Hash{}, solana.TransactionPayer(from))
	require.NoError(t, err)

	transfers := extractTransfers(tx)
	require.Len(t, transfers, 1)
	assert.Equal(t, to, transfers[0].To)
	assert.Equal(t, uint64(7), transfers[0].Lamports)
}

func TestVerifyMessage(t *testing.T) {
	w := solana.NewWallet()
	msg := []byte("launch:c1")
	sig, err := w.PrivateKey.Sign(msg)
	require.NoError(t, err)

	assert.NoError(t, VerifyMessage(w.PublicKey().String(), sig.String(), msg))
	assert.ErrorIs(t, VerifyMessage(w.PublicKey().String(), sig.String(), []byte("launch:c2")), ErrBadSignature)
	assert.ErrorIs(t, VerifyMessage(solana.NewWallet().PublicKey().String(), sig.String(), msg), ErrBadSignature)
	assert.Error(t, VerifyMessage(w.PublicKey().String(), "not-a-signature", msg))
}

func TestExtractTransfers_Nil(t *testing.T) {
	assert.Nil(t, extractTransfers(nil))
}

type feeLedger struct {
	Ledger
	fee uint64
	err error
}

func (f *feeLedger) LatestFee(ctx context.Context) (uint64, error) {
	return f.fee, f.err
}

func TestReserveEstimator(t *testing.T) {
	ctx := context.Background()

	r := NewReserveEstimator(&feeLedger{fee: 5000}, 0, 0)
	assert.Equal(t, uint64(25_000), r.Reserve(ctx))

	r = NewReserveEstimator(&feeLedger{err: errors.New("rpc down")}, 0, 0)
	assert.Equal(t, DefaultFallbackReserve, r.Reserve(ctx))

	r = NewReserveEstimator(&feeLedger{fee: 0}, 3, 7000)
	assert.Equal(t, uint64(7000), r.Reserve(ctx))
	assert.Equal(t, uint64(7000), r.Fallback())
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, isTransientError(errors.New("429 Too Many Requests")))
	assert.True(t, isTransientError(errors.New("connection reset by peer")))
	assert.False(t, isTransientError(context.Canceled))
	assert.False(t, isTransientError(ErrTxNotFound))
	assert.False(t, isTransientError(nil))
}
