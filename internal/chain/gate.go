package chain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/metrics"
	"github.com/crowdfundme/crowdfund-server/internal/retry"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// gate 限制RPC的速率和并发，节点对请求配额有限制
type gate struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	retry   retry.Config
}

func newGate(rps float64, burst int, maxConcurrent int64, cfg retry.Config) *gate {
	if rps <= 0 {
		rps = 8
	}
	if burst <= 0 {
		burst = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &gate{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		sem:     semaphore.NewWeighted(maxConcurrent),
		retry:   cfg,
	}
}

// do 在限流和并发许可下执行一次RPC，限流、超时等临时错误按退避重试
func (g *gate) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.LedgerRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	err := retry.Do(ctx, g.retry, method, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return retry.Permanent(err)
		}
		defer g.sem.Release(1)

		err := fn(ctx)
		if err == nil {
			metrics.LedgerRequests.WithLabelValues(method, "ok").Inc()
			return nil
		}
		if isTransientError(err) {
			metrics.LedgerRequests.WithLabelValues(method, "retry").Inc()
			return err
		}
		metrics.LedgerRequests.WithLabelValues(method, "error").Inc()
		return retry.Permanent(err)
	})
	return err
}

// isTransientError 判断错误是否值得重试
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, rpc.ErrNotFound) || errors.Is(err, ErrTxNotFound) || errors.Is(err, ErrTxFailed) {
		return false
	}
	if isAPIRateLimitError(err) {
		return true
	}

	// 节点明确返回的JSON-RPC错误（参数错误、账户不存在等）重试没有意义
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == 429 || rpcErr.Code == -32005
	}

	// 其余视为网络层错误
	return true
}

// isAPIRateLimitError 检查是否为API限制错误
func isAPIRateLimitError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "429")
}
