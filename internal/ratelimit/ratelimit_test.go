package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_UnlimitedByDefault(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Allow("sandbox-a"); err != nil {
			t.Fatalf("Allow in unlimited mode: %v", err)
		}
	}
}

func TestAllow_BurstExhaustion(t *testing.T) {
	l := NewLimiter(Config{QueriesPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("sandbox-a"); err != nil {
			t.Fatalf("Allow call %d: %v", i+1, err)
		}
	}
	if err := l.Allow("sandbox-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestAllow_BucketsAreIndependent(t *testing.T) {
	l := NewLimiter(Config{QueriesPerMinute: 60, BurstSize: 1})

	if err := l.Allow("sandbox-a"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if err := l.Allow("sandbox-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	// A different sandbox has its own untouched bucket.
	if err := l.Allow("sandbox-b"); err != nil {
		t.Fatalf("Allow for fresh sandbox: %v", err)
	}
}

func TestAllow_Refill(t *testing.T) {
	// 6000/min = 100 tokens per second, so a short sleep refills the bucket.
	l := NewLimiter(Config{QueriesPerMinute: 6000, BurstSize: 1})

	if err := l.Allow("sandbox-a"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if err := l.Allow("sandbox-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := l.Allow("sandbox-a"); err != nil {
		t.Fatalf("Allow after refill: %v", err)
	}
}

func TestRelease_ResetsBucket(t *testing.T) {
	l := NewLimiter(Config{QueriesPerMinute: 60, BurstSize: 1})

	if err := l.Allow("sandbox-a"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if err := l.Allow("sandbox-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// Release drops the bucket, so the next Allow starts full again.
	l.Release("sandbox-a")
	if err := l.Allow("sandbox-a"); err != nil {
		t.Fatalf("Allow after release: %v", err)
	}
}

func TestNewLimiter_BurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{QueriesPerMinute: 5})

	for i := 0; i < 5; i++ {
		if err := l.Allow("sandbox-a"); err != nil {
			t.Fatalf("Allow call %d: %v", i+1, err)
		}
	}
	if err := l.Allow("sandbox-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}
