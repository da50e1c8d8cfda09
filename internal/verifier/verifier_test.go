package verifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/chain"
	"github.com/crowdfundme/crowdfund-server/internal/chain/chaintest"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPoll = retry.Fixed(5, time.Millisecond)

func TestVerify_MatchingTransfer(t *testing.T) {
	ledger := chaintest.New()
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	sig := chaintest.RandomSignature()
	ledger.AddTransaction(sig, false, chain.Transfer{From: from, To: to, Lamports: 2_000})

	out, err := New(ledger, fastPoll).Verify(context.Background(), sig, from, to, 2_000)
	require.NoError(t, err)
	assert.True(t, out.Verified)
}

func TestVerify_DefiniteNo(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()

	tests := []struct {
		name      string
		failed    bool
		transfers []chain.Transfer
		reason    string
	}{
		{
			name:      "amount too small",
			transfers: []chain.Transfer{{From: from, To: to, Lamports: 1_999}},
			reason:    ReasonNoTransfer,
		},
		{
			name:      "wrong receiver",
			transfers: []chain.Transfer{{From: from, To: other, Lamports: 5_000}},
			reason:    ReasonNoTransfer,
		},
		{
			name:      "wrong sender",
			transfers: []chain.Transfer{{From: other, To: to, Lamports: 5_000}},
			reason:    ReasonNoTransfer,
		},
		{
			name:      "no transfers",
			transfers: nil,
			reason:    ReasonNoTransfer,
		},
		{
			name:      "failed transaction",
			failed:    true,
			transfers: []chain.Transfer{{From: from, To: to, Lamports: 5_000}},
			reason:    ReasonTxFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := chaintest.New()
			sig := chaintest.RandomSignature()
			ledger.AddTransaction(sig, tt.failed, tt.transfers...)

			out, err := New(ledger, fastPoll).Verify(context.Background(), sig, from, to, 2_000)
			require.NoError(t, err)
			assert.False(t, out.Verified)
			assert.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestVerify_MatchAmongSeveral(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	tx := &chain.TxEffects{Transfers: []chain.Transfer{
		{From: from, To: solana.NewWallet().PublicKey(), Lamports: 10},
		{From: from, To: to, Lamports: 10_000},
	}}
	assert.True(t, Match(tx, from, to, 10_000).Verified)
}

type lagLedger struct {
	*chaintest.Ledger
	mu      sync.Mutex
	missing int
}

func (l *lagLedger) GetTransaction(ctx context.Context, sig solana.Signature) (*chain.TxEffects, error) {
	l.mu.Lock()
	if l.missing > 0 {
		l.missing--
		l.mu.Unlock()
		return nil, chain.ErrTxNotFound
	}
	l.mu.Unlock()
	return l.Ledger.GetTransaction(ctx, sig)
}

func TestVerify_WaitsForIndexing(t *testing.T) {
	inner := chaintest.New()
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	sig := chaintest.RandomSignature()
	inner.AddTransaction(sig, false, chain.Transfer{From: from, To: to, Lamports: 100})

	ledger := &lagLedger{Ledger: inner, missing: 3}
	out, err := New(ledger, fastPoll).Verify(context.Background(), sig, from, to, 100)
	require.NoError(t, err)
	assert.True(t, out.Verified)
}

func TestVerify_NeverIndexed(t *testing.T) {
	ledger := chaintest.New()
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	_, err := New(ledger, fastPoll).Verify(context.Background(), chaintest.RandomSignature(), from, to, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, retry.ErrExhausted))
	assert.Equal(t, 5, ledger.Calls("GetTransaction"))
}

func TestVerify_InfraErrorExhausts(t *testing.T) {
	ledger := chaintest.New()
	ledger.GetTransactionErr = errors.New("429 Too Many Requests")

	_, err := New(ledger, fastPoll).Verify(context.Background(), chaintest.RandomSignature(),
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 1)
	assert.ErrorIs(t, err, retry.ErrExhausted)
}
