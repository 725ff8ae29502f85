// Package ratelimit implements the Rate Limiter (C1): a global token
// bucket plus a lazily-created per-host bucket with adaptive backoff.
// The global gate reuses golang.org/x/time/rate (already a teacher
// dependency); the per-host gate is hand-rolled because its accrual and
// wait-for-tokens polling loop, and the backoff formula layered on top of
// it, are bespoke to this spec and have no off-the-shelf equivalent in the
// example pack.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/HerbHall/discoveryd/pkg/discoerr"
)

// FailureKind is the diagnostic-only taxonomy fed into RecordFailure.
type FailureKind string

const (
	FailureTimeout          FailureKind = "timeout"
	FailureConnectionFailed FailureKind = "connection_failed"
	FailureScanError        FailureKind = "scan_error"
	FailureUnknown          FailureKind = "unknown"
)

const responseTimeWindow = 100

// Config configures the global and per-host buckets and backoff math.
type Config struct {
	GlobalLimit   float64 // tokens/sec, global bucket
	PerHostLimit  float64 // tokens/sec, per-host bucket
	BackoffFactor float64 // multiplier applied to backoff on failure
	MaxBackoff    float64 // seconds, backoff ceiling
}

// tokenBucket is a continuous token-count bucket: it accrues `rate` tokens
// per second up to `capacity`. tryConsume/deficit never let tokens go
// negative or exceed capacity.
type tokenBucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

func newTokenBucket(rate, capacity float64) *tokenBucket {
	return &tokenBucket{rate: rate, capacity: capacity, tokens: capacity, last: time.Now()}
}

func (b *tokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
}

func (b *tokenBucket) tryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

func (b *tokenBucket) deficit(n float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	d := n - b.tokens
	if d < 0 {
		return 0
	}
	return d
}

// waitForTokens polls tryConsume, sleeping min(1s, deficit/rate) between
// attempts, until either n tokens are acquired or timeout elapses.
func (b *tokenBucket) waitForTokens(ctx context.Context, n float64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if b.tryConsume(n) {
			return nil
		}
		if time.Now().After(deadline) {
			return discoerr.ErrRateLimitExceeded
		}
		sleep := time.Second
		if b.rate > 0 {
			if d := time.Duration(b.deficit(n) / b.rate * float64(time.Second)); d < sleep {
				sleep = d
			}
		}
		if sleep <= 0 {
			sleep = time.Millisecond
		}
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		if sleep <= 0 {
			return discoerr.ErrRateLimitExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// HostStats is a point-in-time snapshot of one host's telemetry.
type HostStats struct {
	TotalRequests   int64
	Successes       int64
	SuccessRate     float64
	AvgResponseTime time.Duration
	CurrentBackoff  float64
	FailuresByKind  map[FailureKind]int64
}

type hostState struct {
	mu            sync.Mutex
	bucket        *tokenBucket
	backoff       float64
	totalRequests int64
	successes     int64
	responseTimes []time.Duration
	failureKinds  map[FailureKind]int64
}

func newHostState(cfg Config) *hostState {
	return &hostState{
		bucket:       newTokenBucket(cfg.PerHostLimit, 2*cfg.PerHostLimit),
		failureKinds: make(map[FailureKind]int64),
	}
}

// Limiter implements the per-host + global adaptive rate limiter (C1).
type Limiter struct {
	cfg    Config
	global *rate.Limiter

	mu    sync.Mutex
	hosts map[string]*hostState
}

// New creates a Limiter from cfg. A GlobalLimit of 0 makes the global gate
// reject every acquisition.
func New(cfg Config) *Limiter {
	burst := int(2 * cfg.GlobalLimit)
	if burst < 1 {
		burst = 1
	}
	var l *rate.Limiter
	if cfg.GlobalLimit > 0 {
		l = rate.NewLimiter(rate.Limit(cfg.GlobalLimit), burst)
	} else {
		l = rate.NewLimiter(0, 0)
	}
	return &Limiter{
		cfg:    cfg,
		global: l,
		hosts:  make(map[string]*hostState),
	}
}

func (l *Limiter) hostStateFor(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	hs, ok := l.hosts[host]
	if !ok {
		hs = newHostState(l.cfg)
		l.hosts[host] = hs
	}
	return hs
}

// Acquire gates one operation against host behind the global bucket, then
// the per-host bucket, then sleeps for the host's current backoff delay
// before returning. Returns discoerr.ErrRateLimitExceeded if either gate
// cannot be satisfied within timeout.
func (l *Limiter) Acquire(ctx context.Context, host string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	if l.cfg.GlobalLimit <= 0 {
		return discoerr.ErrRateLimitExceeded
	}
	globalCtx, cancel := context.WithDeadline(ctx, deadline)
	err := l.global.Wait(globalCtx)
	cancel()
	if err != nil {
		return discoerr.ErrRateLimitExceeded
	}

	hs := l.hostStateFor(host)
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	if err := hs.bucket.waitForTokens(ctx, 1, remaining); err != nil {
		return err
	}

	hs.mu.Lock()
	hs.totalRequests++
	backoff := hs.backoff
	hs.mu.Unlock()

	if backoff > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(backoff * float64(time.Second))):
		}
	}
	return nil
}

// RecordSuccess records a successful operation and decays the host's
// backoff by a factor of 0.8.
func (l *Limiter) RecordSuccess(host string, rtt time.Duration) {
	hs := l.hostStateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.successes++
	hs.responseTimes = append(hs.responseTimes, rtt)
	if len(hs.responseTimes) > responseTimeWindow {
		hs.responseTimes = hs.responseTimes[len(hs.responseTimes)-responseTimeWindow:]
	}
	hs.backoff *= 0.8
}

// RecordFailure records a failed operation of the given kind and grows the
// host's backoff: max(0.1, current*backoff_factor), clamped to max_backoff.
func (l *Limiter) RecordFailure(host string, kind FailureKind) {
	hs := l.hostStateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.failureKinds[kind]++
	next := hs.backoff * l.cfg.BackoffFactor
	if next < 0.1 {
		next = 0.1
	}
	if l.cfg.MaxBackoff > 0 && next > l.cfg.MaxBackoff {
		next = l.cfg.MaxBackoff
	}
	hs.backoff = next
}

// HostStats returns a snapshot of host's telemetry.
func (l *Limiter) HostStats(host string) HostStats {
	hs := l.hostStateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()

	var total time.Duration
	for _, d := range hs.responseTimes {
		total += d
	}
	var avg time.Duration
	if len(hs.responseTimes) > 0 {
		avg = total / time.Duration(len(hs.responseTimes))
	}
	var successRate float64
	if hs.totalRequests > 0 {
		successRate = float64(hs.successes) / float64(hs.totalRequests)
	}

	kinds := make(map[FailureKind]int64, len(hs.failureKinds))
	for k, v := range hs.failureKinds {
		kinds[k] = v
	}

	return HostStats{
		TotalRequests:   hs.totalRequests,
		Successes:       hs.successes,
		SuccessRate:     successRate,
		AvgResponseTime: avg,
		CurrentBackoff:  hs.backoff,
		FailuresByKind:  kinds,
	}
}

// GlobalStats aggregates HostStats across every host seen so far.
func (l *Limiter) GlobalStats() HostStats {
	l.mu.Lock()
	hosts := make([]string, 0, len(l.hosts))
	for h := range l.hosts {
		hosts = append(hosts, h)
	}
	l.mu.Unlock()

	var agg HostStats
	agg.FailuresByKind = make(map[FailureKind]int64)
	var totalDur time.Duration
	var sampleCount int
	for _, h := range hosts {
		hs := l.HostStats(h)
		agg.TotalRequests += hs.TotalRequests
		agg.Successes += hs.Successes
		for k, v := range hs.FailuresByKind {
			agg.FailuresByKind[k] += v
		}
		if hs.AvgResponseTime > 0 {
			totalDur += hs.AvgResponseTime
			sampleCount++
		}
	}
	if agg.TotalRequests > 0 {
		agg.SuccessRate = float64(agg.Successes) / float64(agg.TotalRequests)
	}
	if sampleCount > 0 {
		agg.AvgResponseTime = totalDur / time.Duration(sampleCount)
	}
	return agg
}
