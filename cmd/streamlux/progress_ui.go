package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/streamlux/internal/aggregate"
	"github.com/John-Robertt/streamlux/internal/domain"
)

var _ aggregate.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的简洁进度输出。
//
// - 过程信息只写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON
// - 长时间没有来源完成时定期输出一行仍在运行的来源
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total   int
	done    int
	ok      int
	fail    int
	pending map[domain.Source]bool

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(sources []domain.Source, query string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.startedAt = now
	p.total = len(sources)
	p.done, p.ok, p.fail = 0, 0, 0
	p.pending = make(map[domain.Source]bool, len(sources))
	for _, s := range sources {
		p.pending[s] = true
	}

	mode := "listing"
	if query != "" {
		mode = fmt.Sprintf("search %q", truncate(query, 80))
	}
	fmt.Fprintf(p.w, "[%s] StreamLux %s: sources=%d\n", now.Format("15:04:05"), mode, len(sources))
	fmt.Fprintf(p.w, "  %s\n\n", joinSources(sources))

	p.lastPrinted = now
	if p.total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnSourceDone(done, total int, res domain.SourceResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = done
	p.total = total
	delete(p.pending, res.Source)

	switch res.Status {
	case domain.SourceStatusFailed:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s (%s)\n", done, total, res.Source, truncate(res.Error, 160), formatShortDuration(dur))
	case domain.SourceStatusEmpty:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s EMPTY (%s)\n", done, total, res.Source, formatShortDuration(dur))
	default:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK items=%d (%s)\n", done, total, res.Source, res.Count, formatShortDuration(dur))
	}
	p.lastPrinted = time.Now()

	// 最后一个来源完成：停止 ticker，避免结束后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		p.stopTickerLocked()
	}
}

func (p *progressUI) OnFinish(rep domain.AggregateReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tickerStarted {
		p.stopTickerLocked()
	}
	fmt.Fprintf(p.w, "\n汇总: items=%d ok=%d fail=%d elapsed=%s\n",
		rep.Total, p.ok, p.fail, formatElapsed(rep.FinishedAt.Sub(rep.StartedAt)),
	)
	p.lastPrinted = time.Now()
}

func (p *progressUI) stopTickerLocked() {
	close(p.stopCh)
	p.tickerStarted = false
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done < p.total && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d waiting=%s elapsed=%s\n",
						p.done, p.total, p.ok, p.fail, p.pendingLocked(), formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// pendingLocked 列出尚未完成的来源（按名称排序，最多 4 个）。
func (p *progressUI) pendingLocked() string {
	names := make([]domain.Source, 0, len(p.pending))
	for s := range p.pending {
		names = append(names, s)
	}
	slices.Sort(names)
	const maxShown = 4
	if len(names) > maxShown {
		return joinSources(names[:maxShown]) + fmt.Sprintf(",+%d", len(names)-maxShown)
	}
	return joinSources(names)
}

func joinSources(xs []domain.Source) string {
	parts := make([]string, 0, len(xs))
	for _, s := range xs {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ",")
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
