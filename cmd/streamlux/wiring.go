package main

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/streamlux/internal/config"
	"github.com/John-Robertt/streamlux/internal/infra/cache"
	"github.com/John-Robertt/streamlux/internal/infra/httpx"
	"github.com/John-Robertt/streamlux/internal/provider"
	"github.com/John-Robertt/streamlux/internal/provider/cards"
	"github.com/John-Robertt/streamlux/internal/provider/consumet"
	"github.com/John-Robertt/streamlux/internal/provider/fzmovies"
	"github.com/John-Robertt/streamlux/internal/provider/goojara"
	"github.com/John-Robertt/streamlux/internal/provider/netnaija"
	"github.com/John-Robertt/streamlux/internal/provider/o2tv"
	"github.com/John-Robertt/streamlux/internal/provider/sflix"
	"github.com/John-Robertt/streamlux/internal/provider/yts"
)

// providers 按合并顺序返回全部来源。
func providers() []provider.Provider {
	ps := []provider.Provider{
		netnaija.Provider{},
		o2tv.Provider{},
		fzmovies.Provider{},
	}
	for _, p := range cards.All() {
		ps = append(ps, p)
	}
	ps = append(ps, goojara.Provider{}, yts.Provider{}, sflix.Provider{})
	for _, p := range consumet.All() {
		ps = append(ps, p)
	}
	return ps
}

// buildRegistry 配置了 CacheDir 时给每个来源套上原始页面归档。
func buildRegistry(eff config.EffectiveConfig) (provider.Registry, error) {
	ps := providers()
	if eff.CacheDir != "" {
		store := cache.New(eff.CacheDir, false)
		for i, p := range ps {
			ps[i] = cache.Record(p, store)
		}
	}
	return provider.NewRegistry(ps...)
}

// newScrapeClient：整体超时 + 代理轮换 + 每 host 限速（YTS API 会连续翻页）。
func newScrapeClient(eff config.EffectiveConfig) (*http.Client, error) {
	return httpx.NewScrapeClient(httpx.Options{
		ProxyURLs:     eff.ProxyURLs,
		Timeout:       eff.ScrapeTimeout,
		RatePerSecond: eff.APIRate,
		Burst:         1,
	})
}

// newLogger：交互终端用彩色 console 输出，否则输出 JSON 行。
func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	out := w
	if f, ok := w.(*os.File); ok && isTTY(f) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
