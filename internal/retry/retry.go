// Package retry 提供有上限的指数退避重试，所有链上和发币服务调用都经过这里
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/logger"
)

// ErrExhausted 重试次数耗尽
var ErrExhausted = errors.New("retry attempts exhausted")

// Config 重试配置
type Config struct {
	MaxAttempts  int           // 最大尝试次数（包含第一次）
	InitialDelay time.Duration // 第一次重试前的等待时间
	MaxDelay     time.Duration // 单次等待上限
	Multiplier   float64       // 每次等待时间的倍数，1 表示固定间隔
}

// DefaultConfig 默认重试配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// Fixed 固定间隔轮询配置
func Fixed(attempts int, delay time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 标记错误不可重试，Do 会立即返回原始错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Delay 计算第 attempt 次失败后的等待时间（attempt 从0开始）
func (c Config) Delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

func (c Config) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// Do 执行 fn 直到成功、返回 Permanent 错误或次数耗尽
func Do(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	total := cfg.attempts()

	for attempt := 0; attempt < total; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug("Retry succeeded for %s on attempt %d", op, attempt+1)
			}
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err
		logger.Warn("Attempt %d/%d for %s failed: %v", attempt+1, total, op, err)

		// 最后一次失败后不再等待
		if attempt < total-1 {
			if err := sleep(ctx, cfg.Delay(attempt)); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%s: %w: %v", op, ErrExhausted, lastErr)
}

// Poll 重复调用 fn 直到 done 返回 true；fn 的错误视为可重试
func Poll[T any](ctx context.Context, cfg Config, op string, fn func(ctx context.Context) (T, error), done func(T) bool) (T, error) {
	var (
		last    T
		lastErr error
	)
	total := cfg.attempts()

	for attempt := 0; attempt < total; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		v, err := fn(ctx)
		if err == nil {
			last = v
			lastErr = nil
			if done(v) {
				return v, nil
			}
		} else {
			var perm *permanentError
			if errors.As(err, &perm) {
				return last, perm.err
			}
			lastErr = err
			logger.Debug("Poll %s attempt %d/%d failed: %v", op, attempt+1, total, err)
		}

		if attempt < total-1 {
			if err := sleep(ctx, cfg.Delay(attempt)); err != nil {
				return last, err
			}
		}
	}

	if lastErr != nil {
		return last, fmt.Errorf("%s: %w: %v", op, ErrExhausted, lastErr)
	}
	return last, fmt.Errorf("%s: %w: condition not met after %d attempts", op, ErrExhausted, total)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
