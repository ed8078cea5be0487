package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"bfclprep/pkg/contract"
)

// LimitKey: 限流分组键（client + key 摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int `json:"rpm"`                 // requests per minute
	TPM             int `json:"tpm"`                 // tokens per minute
	MaxTokensPerReq int `json:"max_tokens_per_req"` // 单次请求 token 上限（含输入+预期输出），0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 默认为 1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false，不消耗额度。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
// 每个维度是一只按分钟匀速补充、容量等于每分钟额度的令牌桶，初始为满。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req *xrate.Limiter // nil 表示不限
	tok *xrate.Limiter
}

func newEntry(l Limits) *entry {
	e := &entry{lim: l}
	if l.RPM > 0 {
		e.req = xrate.NewLimiter(perMinute(l.RPM), l.RPM)
	}
	if l.TPM > 0 {
		e.tok = xrate.NewLimiter(perMinute(l.TPM), l.TPM)
	}
	return e
}

func perMinute(n int) xrate.Limit { return xrate.Limit(float64(n) / 60.0) }

func normalize(a Ask) Ask {
	if a.Requests < 1 {
		a.Requests = 1
	}
	if a.Tokens < 0 {
		a.Tokens = 0
	}
	return a
}

// check: 超过单请求上限或桶容量的申请永远无法满足，直接拒绝。
func (e *entry) check(a Ask) error {
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return fmt.Errorf("rate: ask %d tokens > max_tokens_per_req %d: %w", a.Tokens, e.lim.MaxTokensPerReq, contract.ErrBudgetExceeded)
	}
	if e.req != nil && a.Requests > e.req.Burst() {
		return fmt.Errorf("rate: ask %d requests > rpm %d: %w", a.Requests, e.lim.RPM, contract.ErrBudgetExceeded)
	}
	if e.tok != nil && a.Tokens > e.tok.Burst() {
		return fmt.Errorf("rate: ask %d tokens > tpm %d: %w", a.Tokens, e.lim.TPM, contract.ErrBudgetExceeded)
	}
	return nil
}

// reserve: 同时预订两个维度；返回需等待的时长与撤销函数。
func (e *entry) reserve(clk func() time.Time, a Ask) (time.Duration, func()) {
	now := clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	var rs []*xrate.Reservation
	var wait time.Duration
	if e.req != nil {
		r := e.req.ReserveN(now, a.Requests)
		rs = append(rs, r)
		wait = max(wait, r.DelayFrom(now))
	}
	if e.tok != nil && a.Tokens > 0 {
		r := e.tok.ReserveN(now, a.Tokens)
		rs = append(rs, r)
		wait = max(wait, r.DelayFrom(now))
	}
	undo := func() {
		at := clk()
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, r := range rs {
			r.CancelAt(at)
		}
	}
	return wait, undo
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, ok := g.m[a.Key]
	if !ok {
		return nil
	}
	a = normalize(a)
	if err := e.check(a); err != nil {
		return err
	}
	wait, undo := e.reserve(g.clk, a)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		undo()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *gate) Try(a Ask) bool {
	e, ok := g.m[a.Key]
	if !ok {
		return true
	}
	a = normalize(a)
	if e.check(a) != nil {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.req != nil && e.req.TokensAt(now) < float64(a.Requests) {
		return false
	}
	if e.tok != nil && e.tok.TokensAt(now) < float64(a.Tokens) {
		return false
	}
	if e.req != nil {
		e.req.AllowN(now, a.Requests)
	}
	if e.tok != nil && a.Tokens > 0 {
		e.tok.AllowN(now, a.Tokens)
	}
	return true
}

func (g *gate) Snapshot(key LimitKey) (int, int) {
	e, ok := g.m[key]
	if !ok {
		return 0, 0
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	rpm, tpm := 0, 0
	if e.req != nil {
		rpm = int(e.req.TokensAt(now))
	}
	if e.tok != nil {
		tpm = int(e.tok.TokensAt(now))
	}
	return rpm, tpm
}
