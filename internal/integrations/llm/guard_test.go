package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []error
	calls   int
	text    string
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.replies) && s.replies[idx] != nil {
		return "", s.replies[idx]
	}
	return s.text, nil
}

func TestGuardedRetriesTransientFailures(t *testing.T) {
	inner := &scriptedCompleter{
		replies: []error{errors.New("connection reset"), &StatusError{Provider: "openai", StatusCode: 503}},
		text:    "ok",
	}
	g := NewGuarded(inner, GuardOptions{MaxElapsed: 5 * time.Second, InitialInterval: time.Millisecond, Log: testLog()})

	got, err := g.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, inner.calls)
}

func TestGuardedStopsOnPermanentStatus(t *testing.T) {
	permanent := &StatusError{Provider: "openai", StatusCode: 400, Message: "bad"}
	inner := &scriptedCompleter{replies: []error{permanent, nil}, text: "never"}
	g := NewGuarded(inner, GuardOptions{MaxElapsed: 5 * time.Second, InitialInterval: time.Millisecond, Log: testLog()})

	_, err := g.Complete(context.Background(), "p")
	require.Error(t, err)
	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 1, inner.calls)
}

func TestGuardedWithoutRetryCallsOnce(t *testing.T) {
	inner := &scriptedCompleter{replies: []error{errors.New("boom")}, text: "never"}
	g := NewGuarded(inner, GuardOptions{Log: testLog()})

	_, err := g.Complete(context.Background(), "p")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, inner.calls)
}

func TestGuardedHonoursContextDeadline(t *testing.T) {
	inner := &scriptedCompleter{replies: []error{
		errors.New("e1"), errors.New("e2"), errors.New("e3"), errors.New("e4"),
		errors.New("e5"), errors.New("e6"), errors.New("e7"), errors.New("e8"),
	}}
	g := NewGuarded(inner, GuardOptions{MaxElapsed: time.Minute, InitialInterval: 20 * time.Millisecond, Log: testLog()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := g.Complete(ctx, "p")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type blockingCompleter struct {
	current int32
	max     int32
}

func (b *blockingCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	n := atomic.AddInt32(&b.current, 1)
	for {
		m := atomic.LoadInt32(&b.max)
		if n <= m || atomic.CompareAndSwapInt32(&b.max, m, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(&b.current, -1)
	return "ok", nil
}

func TestGuardedCapsConcurrency(t *testing.T) {
	inner := &blockingCompleter{}
	g := NewGuarded(inner, GuardOptions{MaxConcurrentCalls: 2, Log: testLog()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Complete(context.Background(), "p")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&inner.max), int32(2))
}
