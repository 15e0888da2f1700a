// Package sniffer 在无头浏览器里打开 embed 页，从网络请求中识别出真正的视频流地址，
// 并可把该流以附件形式转发给客户端。
package sniffer

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/John-Robertt/streamlux/internal/browser"
	"github.com/John-Robertt/streamlux/internal/domain"
)

const (
	DefaultNavTimeout   = 30 * time.Second
	DefaultSniffTimeout = 20 * time.Second
	DefaultCacheTTL     = time.Hour
)

// ErrInvalidURL 表示 embed URL 不是 http/https 绝对地址。
var ErrInvalidURL = errors.New("sniffer: invalid embed url")

// Options 控制超时与缓存。
type Options struct {
	NavTimeout   time.Duration
	SniffTimeout time.Duration
	CacheTTL     time.Duration
	UserAgent    string
	// Client 用于 SniffAndPipe 的回源请求；不应设置整体超时（body 可能很大）。
	Client *http.Client
	// Now 为 nil 时使用 time.Now（测试用）。
	Now func() time.Time
}

// Sniffer 并发安全；同一 embed URL 的并发嗅探会合并为一次导航。
type Sniffer struct {
	browser browser.Browser
	cache   *Cache
	opts    Options
	log     zerolog.Logger

	group singleflight.Group
}

func New(b browser.Browser, opts Options, log zerolog.Logger) *Sniffer {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = DefaultNavTimeout
	}
	if opts.SniffTimeout <= 0 {
		opts.SniffTimeout = DefaultSniffTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Sniffer{
		browser: b,
		cache:   NewCache(opts.CacheTTL, opts.Now),
		opts:    opts,
		log:     log.With().Str("component", "sniffer").Logger(),
	}
}

// Sniff 返回 embedURL 页面里的视频流；未找到（超时/导航失败）时返回 (nil, nil)。
// 只有输入非法或浏览器不可用时返回 error。不重试。
func (s *Sniffer) Sniff(ctx context.Context, embedURL string) (*domain.SniffResult, error) {
	res, _, _, err := s.sniff(ctx, embedURL, true)
	return res, err
}

// sniff 额外返回本次检测的起始时间（缓存命中时为当前时刻）和是否命中缓存，
// 供 SniffAndPipe 计算剩余预算并决定是否重新检测。useCache=false 时跳过缓存读取。
func (s *Sniffer) sniff(ctx context.Context, embedURL string, useCache bool) (*domain.SniffResult, time.Time, bool, error) {
	started := s.opts.Now()
	if err := validateURL(embedURL); err != nil {
		return nil, started, false, err
	}
	if useCache {
		if r, ok := s.cache.Get(embedURL); ok {
			s.log.Debug().Str("embed", embedURL).Msg("命中嗅探缓存")
			return r, started, true, nil
		}
	}

	// 共享的检测不跟随某一个调用方的取消：它自身受 SniffTimeout 约束。
	v, err, shared := s.group.Do(embedURL, func() (any, error) {
		return s.detect(context.WithoutCancel(ctx), embedURL)
	})
	if err != nil {
		return nil, started, false, err
	}
	r, _ := v.(*domain.SniffResult)
	if r == nil {
		return nil, started, false, nil
	}
	if shared {
		s.log.Debug().Str("embed", embedURL).Msg("合并了并发嗅探")
	}
	out := r.Clone()
	return &out, started, false, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// state 是单次嗅探会话的状态。
type state int

const (
	stateNavigating state = iota
	stateAwaitingStream
	stateFound
	stateTimedOut
	stateClosed
)

func (st state) String() string {
	switch st {
	case stateNavigating:
		return "navigating"
	case stateAwaitingStream:
		return "awaiting_stream"
	case stateFound:
		return "found"
	case stateTimedOut:
		return "timed_out"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// detect 驱动一次嗅探会话：一个 goroutine 在页面事件、导航结果与总超时之间 select。
func (s *Sniffer) detect(ctx context.Context, embedURL string) (*domain.SniffResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SniffTimeout)
	defer cancel()

	log := s.log.With().Str("session", uuid.NewString()).Str("embed", embedURL).Logger()
	started := time.Now()

	page, err := s.browser.NewPage(ctx, Filter)
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("打开页面超时")
			return nil, nil
		}
		return nil, err
	}
	st := stateNavigating
	defer func() {
		_ = page.Close()
		log.Debug().Str("state", st.String()).Dur("elapsed", time.Since(started)).Msg("嗅探会话结束")
	}()

	navDone := make(chan error, 1)
	go func() {
		navCtx, navCancel := context.WithTimeout(ctx, s.opts.NavTimeout)
		defer navCancel()
		navDone <- page.Navigate(navCtx, embedURL)
	}()

	var cand *domain.SniffResult
	events := page.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				st = stateClosed
				return nil, nil
			}
			if ev.Request != nil && cand == nil {
				if typ, ok := Candidate(ev.Request.URL, ev.Request.ResourceType); ok {
					cand = &domain.SniffResult{URL: ev.Request.URL, Type: typ, Headers: ev.Request.Headers}
					log.Debug().Str("url", cand.URL).Str("type", string(typ)).Msg("发现候选流")
				}
			}
			if ev.Response != nil && cand != nil && ev.Response.URL == cand.URL {
				st = stateFound
				cand.Timestamp = s.opts.Now()
				s.cache.Put(embedURL, *cand)
				log.Info().Str("url", cand.URL).Str("type", string(cand.Type)).Dur("elapsed", time.Since(started)).Msg("嗅探成功")
				return cand, nil
			}

		case err := <-navDone:
			navDone = nil
			if err != nil {
				if ctx.Err() != nil {
					st = stateTimedOut
					log.Info().Msg("嗅探超时")
				} else {
					log.Info().Err(err).Msg("导航失败")
				}
				return nil, nil
			}
			st = stateAwaitingStream
			if cand == nil {
				clicked, err := page.ClickPlay(ctx)
				log.Debug().Bool("clicked", clicked).Err(err).Msg("尝试点击播放")
			}

		case <-ctx.Done():
			st = stateTimedOut
			log.Info().Msg("嗅探超时")
			return nil, nil
		}
	}
}

// Filter 中止图片、字体与广告请求，其余放行。
func Filter(r browser.Request) browser.Decision {
	switch r.ResourceType {
	case browser.ResourceImage, browser.ResourceFont:
		return browser.Abort
	}
	u := strings.ToLower(r.URL)
	if strings.Contains(u, "doubleclick") || strings.Contains(u, "adsystem") {
		return browser.Abort
	}
	return browser.Continue
}

// Candidate 判断一个请求是否像视频流：URL 含 .m3u8/.mp4，或资源类型为 Media 且不是 google 的。
func Candidate(rawURL, resourceType string) (domain.StreamType, bool) {
	u := strings.ToLower(rawURL)
	isMedia := strings.Contains(u, ".m3u8") || strings.Contains(u, ".mp4") ||
		(resourceType == browser.ResourceMedia && !strings.Contains(u, "google"))
	if !isMedia {
		return "", false
	}
	if strings.Contains(u, ".m3u8") {
		return domain.StreamHLS, true
	}
	return domain.StreamMP4, true
}
