package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireEnforcesLimitWithinTimeout(t *testing.T) {
	l := New(Config{GlobalLimit: 20, PerHostLimit: 2, BackoffFactor: 2, MaxBackoff: 5})
	ctx := context.Background()

	var failed bool
	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx, "h", 10*time.Millisecond); err != nil {
			failed = true
			break
		}
	}
	if !failed {
		t.Fatal("expected at least one Acquire to fail under a tight timeout and low per-host limit")
	}
}

func TestRecordFailureIncreasesBackoffStrictly(t *testing.T) {
	l := New(Config{GlobalLimit: 20, PerHostLimit: 2, BackoffFactor: 2, MaxBackoff: 5})

	before := l.HostStats("h").CurrentBackoff
	l.RecordFailure("h", FailureTimeout)
	after := l.HostStats("h").CurrentBackoff

	if after <= before {
		t.Fatalf("expected backoff to strictly increase after RecordFailure, before=%v after=%v", before, after)
	}
}

func TestRecordSuccessDecaysBackoff(t *testing.T) {
	l := New(Config{GlobalLimit: 20, PerHostLimit: 2, BackoffFactor: 2, MaxBackoff: 5})
	l.RecordFailure("h", FailureTimeout)
	before := l.HostStats("h").CurrentBackoff

	l.RecordSuccess("h", 5*time.Millisecond)
	after := l.HostStats("h").CurrentBackoff

	if after >= before {
		t.Fatalf("expected backoff to decay after RecordSuccess, before=%v after=%v", before, after)
	}
}

func TestPerHostLimitZeroAlwaysFails(t *testing.T) {
	l := New(Config{GlobalLimit: 20, PerHostLimit: 0, BackoffFactor: 2, MaxBackoff: 5})
	ctx := context.Background()

	if err := l.Acquire(ctx, "h", 20*time.Millisecond); err == nil {
		t.Fatal("expected Acquire to fail when per_host_limit is 0")
	}
}

func TestTokenBucketNeverNegativeOrOverCapacity(t *testing.T) {
	b := newTokenBucket(10, 20)
	for i := 0; i < 50; i++ {
		b.tryConsume(1)
		if b.tokens < 0 {
			t.Fatalf("tokens went negative: %v", b.tokens)
		}
		if b.tokens > b.capacity {
			t.Fatalf("tokens exceeded capacity: %v > %v", b.tokens, b.capacity)
		}
	}
}
