// Package retrier 带抖动的指数退避重试。
package retrier

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy 退避参数
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Retries    int
	Jitter     float64
}

// DefaultPolicy 默认退避参数
func DefaultPolicy() Policy {
	return Policy{
		Initial:    200 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
		Retries:    2,
		Jitter:     0.1,
	}
}

// Retrier 按 Policy 重复执行操作
type Retrier struct {
	p       Policy
	onRetry func(attempt int, err error)
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent 标记不应重试的错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// New 创建重试器，非法参数回落为默认值
func New(p Policy) *Retrier {
	d := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max < p.Initial {
		p.Max = max(d.Max, p.Initial)
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = d.Jitter
	}
	return &Retrier{p: p}
}

// OnRetry 设置每次重试前的回调
func (r *Retrier) OnRetry(fn func(attempt int, err error)) *Retrier {
	r.onRetry = fn
	return r
}

// Do 执行 fn，失败时按退避间隔重试，返回最后一次的错误
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	interval := r.p.Initial
	var err error
	for attempt := 0; attempt <= r.p.Retries; attempt++ {
		if attempt > 0 {
			if r.onRetry != nil {
				r.onRetry(attempt, err)
			}
			wait := time.Duration(float64(interval) * (1 + (rand.Float64()*2-1)*r.p.Jitter))
			t := time.NewTimer(max(wait, 0))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			interval = min(time.Duration(float64(interval)*r.p.Multiplier), r.p.Max)
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// DoWithData 与 Do 相同但返回结果值
func DoWithData[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
