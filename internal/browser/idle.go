package browser

import (
	"context"
	"sync"
	"time"
)

// inflight 统计在途请求，用于近似 networkidle2。
type inflight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflight() *inflight { return &inflight{ids: make(map[string]struct{})} }

func (f *inflight) start(id string) {
	f.mu.Lock()
	f.ids[id] = struct{}{}
	f.mu.Unlock()
}

func (f *inflight) finish(id string) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}

func (f *inflight) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

// waitIdle 阻塞到在途请求数 <= max 持续 quiet 时长，或 ctx 结束。
func (f *inflight) waitIdle(ctx context.Context, max int, quiet, poll time.Duration) error {
	t := time.NewTicker(poll)
	defer t.Stop()

	var idleSince time.Time
	for {
		now := time.Now()
		if f.count() <= max {
			if idleSince.IsZero() {
				idleSince = now
			}
			if now.Sub(idleSince) >= quiet {
				return nil
			}
		} else {
			idleSince = time.Time{}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
