package infra

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ephemeral-gateway/middleware/ratelimit/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFixedWindow_RemainingDecreasesThenDenies(t *testing.T) {
	clk := newFakeClock()
	s := NewFixedWindowStore(domain.WindowRule{Window: time.Minute, MaxRequests: 3}, WithClock(clk.Now))

	for i, want := range []int{2, 1, 0} {
		dec := s.Admit("k")
		if !dec.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
		if dec.Remaining != want {
			t.Fatalf("call %d: expected remaining=%d, got %d", i+1, want, dec.Remaining)
		}
		if dec.Limit != 3 {
			t.Fatalf("expected limit=3, got %d", dec.Limit)
		}
	}

	clk.Advance(10 * time.Second)
	dec := s.Admit("k")
	if dec.Allowed {
		t.Fatalf("expected 4th call to be denied")
	}
	if dec.Remaining != 0 {
		t.Fatalf("expected remaining=0 on denial, got %d", dec.Remaining)
	}
	if dec.RetryAfter != 50*time.Second {
		t.Fatalf("expected RetryAfter=50s, got %s", dec.RetryAfter)
	}
}

func TestFixedWindow_ResetsAfterWindow(t *testing.T) {
	clk := newFakeClock()
	s := NewFixedWindowStore(domain.WindowRule{Window: time.Minute, MaxRequests: 3}, WithClock(clk.Now))

	for i := 0; i < 4; i++ {
		s.Admit("k")
	}

	clk.Advance(61 * time.Second)
	dec := s.Admit("k")
	if !dec.Allowed {
		t.Fatalf("expected allowed in new window")
	}
	if dec.Remaining != 2 {
		t.Fatalf("expected remaining=2 in new window, got %d", dec.Remaining)
	}
}

func TestFixedWindow_BoundaryBelongsToNewWindow(t *testing.T) {
	clk := newFakeClock()
	s := NewFixedWindowStore(domain.WindowRule{Window: time.Minute, MaxRequests: 1}, WithClock(clk.Now))

	first := s.Admit("k")
	if s.Admit("k").Allowed {
		t.Fatalf("expected second call in same window to be denied")
	}

	clk.Advance(time.Minute)
	dec := s.Admit("k")
	if !dec.Allowed {
		t.Fatalf("expected call exactly at resetAt to open a new window")
	}
	if !dec.ResetAt.Equal(first.ResetAt.Add(time.Minute)) {
		t.Fatalf("expected new resetAt %s, got %s", first.ResetAt.Add(time.Minute), dec.ResetAt)
	}
}

func TestFixedWindow_KeysAreIndependent(t *testing.T) {
	s := NewFixedWindowStore(domain.WindowRule{Window: time.Minute, MaxRequests: 2})

	for i := 0; i < 5; i++ {
		s.Admit("A")
	}
	dec := s.Admit("B")
	if !dec.Allowed || dec.Remaining != 1 {
		t.Fatalf("expected B unaffected by A, got %+v", dec)
	}
}

func TestFixedWindow_TenAllowedEleventhDenied(t *testing.T) {
	s := NewFixedWindowStore(domain.WindowRule{Window: time.Minute, MaxRequests: 10})

	for i := 0; i < 10; i++ {
		if !s.Admit("ip:1.2.3.4").Allowed {
			t.Fatalf("expected call %d allowed", i+1)
		}
	}
	dec := s.Admit("ip:1.2.3.4")
	if dec.Allowed {
		t.Fatalf("expected 11th call denied")
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > time.Minute {
		t.Fatalf("expected 0 < RetryAfter <= 60s, got %s", dec.RetryAfter)
	}
}

func TestFixedWindow_ConcurrentAdmitsNeverExceedMax(t *testing.T) {
	s := NewFixedWindowStore(domain.WindowRule{Window: time.Minute, MaxRequests: 50})

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Admit("shared").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 50 {
		t.Fatalf("expected exactly 50 allowed, got %d", got)
	}
}

func TestFixedWindow_CleanupRemovesExpiredWindows(t *testing.T) {
	clk := newFakeClock()
	s := NewFixedWindowStore(domain.WindowRule{Window: time.Minute, MaxRequests: 3}, WithClock(clk.Now), WithCleanupEvery(0))

	s.Admit("old")
	clk.Advance(30 * time.Second)
	s.Admit("recent")
	clk.Advance(30 * time.Second)

	if removed := s.Cleanup(); removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}
	st := s.Stats()
	if st.Tracked != 1 {
		t.Fatalf("expected 1 tracked record, got %d", st.Tracked)
	}
	if st.ApproxBytes != int64(len("recent"))+approxRecordOverhead {
		t.Fatalf("unexpected ApproxBytes %d", st.ApproxBytes)
	}
}

func TestFixedWindow_DefaultsForInvalidRule(t *testing.T) {
	s := NewFixedWindowStore(domain.WindowRule{})
	r := s.Rule()
	if r.Window != time.Minute || r.MaxRequests != 1 {
		t.Fatalf("expected defaults window=1m max=1, got %+v", r)
	}
	if s.CleanupEvery() != time.Minute {
		t.Fatalf("expected default cleanup every 1m, got %s", s.CleanupEvery())
	}
}
