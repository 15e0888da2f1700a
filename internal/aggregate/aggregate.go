// Package aggregate 并发调用全部来源并按注册顺序合并结果。
package aggregate

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/provider"
)

// Config 只包含聚合层关心的参数。
type Config struct {
	// Concurrency<=0 表示每个来源一个 goroutine。
	Concurrency int
}

// Execute 以列表模式运行每个支持 ModeListing 的来源。
//
// 语义：
// - 单个来源失败/超时/panic 只影响它自己（贡献 []），不会取消其它来源
// - 等待全部结束后按注册顺序拼接（与完成顺序无关）
func Execute(ctx context.Context, cfg Config, reg provider.Registry, c *http.Client, obs Observer, log zerolog.Logger) ([]domain.ScrapedItem, domain.AggregateReport) {
	return run(ctx, cfg, reg.WithMode(provider.ModeListing), "", c, obs, log)
}

// Search 把 query 扇出到每个支持 ModeSearch 的来源，合并规则与 Execute 相同。
func Search(ctx context.Context, cfg Config, reg provider.Registry, query string, c *http.Client, obs Observer, log zerolog.Logger) ([]domain.ScrapedItem, domain.AggregateReport) {
	return run(ctx, cfg, reg.WithMode(provider.ModeSearch), strings.TrimSpace(query), c, obs, log)
}

func run(ctx context.Context, cfg Config, providers []provider.Provider, query string, c *http.Client, obs Observer, log zerolog.Logger) ([]domain.ScrapedItem, domain.AggregateReport) {
	if obs == nil {
		obs = nopObserver{}
	}
	rep := domain.AggregateReport{
		StartedAt: time.Now(),
		Sources:   make([]domain.SourceResult, 0, len(providers)),
	}

	names := make([]domain.Source, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	obs.OnStart(names, query)

	workers := cfg.Concurrency
	if workers <= 0 || workers > len(providers) {
		workers = len(providers)
	}

	// 结果按下标落位：合并顺序只由注册顺序决定。
	lists := make([][]domain.ScrapedItem, len(providers))
	var (
		mu   sync.Mutex
		done atomic.Int32
	)

	// 不使用 errgroup.WithContext：一个来源出错不能取消其它来源。
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, p := range providers {
		g.Go(func() error {
			started := time.Now()
			items, at := provider.Collect(ctx, p, query, c, log)
			lists[i] = items

			res := domain.SourceResult{Source: p.Name(), Count: len(items), Order: i}
			if at.Err != nil {
				res.Error = at.Err.Error()
			}
			switch {
			case res.Error != "":
				res.Status = domain.SourceStatusFailed
			case res.Count == 0:
				res.Status = domain.SourceStatusEmpty
			default:
				res.Status = domain.SourceStatusOK
			}

			mu.Lock()
			rep.Sources = append(rep.Sources, res)
			mu.Unlock()

			obs.OnSourceDone(int(done.Add(1)), len(providers), res, time.Since(started))
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, l := range lists {
		n += len(l)
	}
	merged := make([]domain.ScrapedItem, 0, n)
	for _, l := range lists {
		merged = append(merged, l...)
	}

	rep.FinishedAt = time.Now()
	rep.Finalize()
	obs.OnFinish(rep)

	log.Info().
		Int("total", rep.Total).
		Int("sources", len(rep.Sources)).
		Int("failed", rep.Failed()).
		Str("query", query).
		Dur("elapsed", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("聚合完成")
	return merged, rep
}
