package tokenmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSource struct {
	calls int32
	token string
	err   error
}

func (c *countingSource) CanRefresh() bool { return true }
func (c *countingSource) Refresh(context.Context) (string, time.Time, error) {
	n := atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return "", time.Time{}, c.err
	}
	return c.token + string(rune('0'+n)), time.Now().Add(time.Hour), nil
}

func TestGetValidTokenRefreshesOnFirstCall(t *testing.T) {
	src := &countingSource{token: "tok"}
	m := New("conn-1", src, time.Minute, nil)

	tok, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected a non-empty token on first call")
	}
	if atomic.LoadInt32(&src.calls) != 1 {
		t.Fatalf("expected exactly one refresh on first call, got %d", src.calls)
	}
}

func TestGetValidTokenSkipsRefreshWithinInterval(t *testing.T) {
	src := &countingSource{token: "tok"}
	m := New("conn-1", src, time.Hour, nil)

	first, _ := m.GetValidToken(context.Background())
	second, _ := m.GetValidToken(context.Background())

	if first != second {
		t.Fatalf("expected cached token within refresh interval, got %q then %q", first, second)
	}
	if atomic.LoadInt32(&src.calls) != 1 {
		t.Fatalf("expected a single refresh, got %d", src.calls)
	}
}

func TestConcurrentRefreshesCollapseToOne(t *testing.T) {
	src := &countingSource{token: "tok"}
	m := New("conn-1", src, time.Hour, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.GetValidToken(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&src.calls) != 1 {
		t.Fatalf("expected double-checked locking to collapse concurrent refreshes to 1 call, got %d", src.calls)
	}
}

func TestRefreshOnUnauthorizedBypassesInterval(t *testing.T) {
	src := &countingSource{token: "tok"}
	m := New("conn-1", src, time.Hour, nil)

	m.GetValidToken(context.Background())
	if _, err := m.RefreshOnUnauthorized(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if atomic.LoadInt32(&src.calls) != 2 {
		t.Fatalf("expected forced refresh to bypass the interval, got %d calls", src.calls)
	}
}

func TestRefreshFailureLeavesTokenUnchanged(t *testing.T) {
	src := &countingSource{token: "tok"}
	m := New("conn-1", src, time.Hour, nil)
	m.GetValidToken(context.Background())

	src.err = errors.New("provider unavailable")
	if _, err := m.RefreshOnUnauthorized(context.Background()); err == nil {
		t.Fatalf("expected error from failing source")
	}

	var refreshErr *RefreshError
	if _, err := m.RefreshOnUnauthorized(context.Background()); !errors.As(err, &refreshErr) {
		t.Fatalf("expected a *RefreshError, got %T", err)
	}
}

func TestDirectSourceNeverRefreshes(t *testing.T) {
	m := New("conn-1", &DirectSource{Token: "static-token"}, time.Nanosecond, nil)

	tok, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "static-token" {
		t.Fatalf("expected the injected token unchanged, got %q", tok)
	}
}
