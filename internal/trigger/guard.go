package trigger

import (
	"context"
	"sync"

	"insightpipe/internal/domain"
)

// RunGuard hands out at most one run token per organization.
type RunGuard interface {
	TryAcquire(ctx context.Context, orgID string) (release func(), err error)
}

// Watermarks remembers the highest insight count evaluated per organization
// so a repeated or stale count never fires twice.
type Watermarks interface {
	Advance(ctx context.Context, orgID string, n int64) (bool, error)
}

// MemoryGuard is a RunGuard for a single process.
type MemoryGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{running: make(map[string]bool)}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, orgID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[orgID] {
		return nil, domain.ErrConcurrentRunConflict
	}
	g.running[orgID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, orgID)
			g.mu.Unlock()
		})
	}, nil
}

// Running reports whether a run holds the org's token.
func (g *MemoryGuard) Running(orgID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[orgID]
}

type MemoryWatermarks struct {
	mu    sync.Mutex
	marks map[string]int64
}

func NewMemoryWatermarks() *MemoryWatermarks {
	return &MemoryWatermarks{marks: make(map[string]int64)}
}

func (w *MemoryWatermarks) Advance(_ context.Context, orgID string, n int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= w.marks[orgID] {
		return false, nil
	}
	w.marks[orgID] = n
	return true, nil
}
