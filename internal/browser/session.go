package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

const (
	idleMaxInflight = 2
	idleQuiet       = 500 * time.Millisecond
	idlePoll        = 100 * time.Millisecond
	eventBuffer     = 512
	defaultLaunch   = 30 * time.Second
)

// Options 描述浏览器进程的启动参数。
type Options struct {
	// ExecPath 为空时由 chromedp 自动查找本机 Chrome/Chromium。
	ExecPath  string
	Headless  bool
	UserAgent string
}

// Session 持有一个懒启动、被所有 Page 共享的浏览器进程。
// 零值不可用，使用 NewSession。
type Session struct {
	opts Options
	log  zerolog.Logger

	// start 拉起浏览器进程（空 Run）；测试可替换。
	start         func(ctx context.Context) error
	launchTimeout time.Duration

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	launching     *launch
	shutdown      bool
}

// launch 是一次进行中的浏览器启动；err 在 done 关闭前写入。
type launch struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

func NewSession(opts Options, log zerolog.Logger) *Session {
	return &Session{
		opts:          opts,
		log:           log.With().Str("component", "browser").Logger(),
		start:         func(ctx context.Context) error { return chromedp.Run(ctx) },
		launchTimeout: defaultLaunch,
	}
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if !s.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if s.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.opts.ExecPath))
	}
	if s.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.opts.UserAgent))
	}
	return opts
}

// browser 返回可用的浏览器 ctx；首次调用（或进程退出后）启动浏览器。
// 启动在后台进行且不持锁：调用方 ctx 结束时立即返回，启动本身受 launchTimeout 约束，
// 并发调用方共享同一次启动。
func (s *Session) browser(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.browserCtx != nil && s.browserCtx.Err() == nil {
		bctx := s.browserCtx
		s.mu.Unlock()
		return bctx, nil
	}
	l := s.launching
	if l == nil {
		if s.cancelBrowser != nil {
			s.cancelBrowser()
			s.cancelAlloc()
			s.browserCtx, s.cancelBrowser, s.cancelAlloc = nil, nil, nil
		}
		l = s.startLaunch()
	}
	s.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if l.err != nil {
		return nil, l.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown || s.browserCtx == nil {
		return nil, ErrClosed
	}
	return s.browserCtx, nil
}

// startLaunch 必须在持有 s.mu 时调用。
func (s *Session) startLaunch() *launch {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}
	l := &launch{done: make(chan struct{}), cancel: cancel}
	s.launching = l

	go func() {
		started := time.Now()
		// 浏览器 ctx 必须由第一次 Run 直接使用，超时只能靠取消整棵 ctx。
		timer := time.AfterFunc(s.launchTimeout, cancel)
		err := s.start(browserCtx)
		timedOut := !timer.Stop()

		s.mu.Lock()
		s.launching = nil
		switch {
		case timedOut:
			cancel()
			l.err = fmt.Errorf("启动浏览器超时（%s）", s.launchTimeout)
		case err != nil:
			cancel()
			l.err = fmt.Errorf("启动浏览器失败：%w", err)
		case s.shutdown:
			cancel()
			l.err = ErrClosed
		default:
			s.browserCtx, s.cancelBrowser, s.cancelAlloc = browserCtx, cancelBrowser, cancelAlloc
			s.log.Info().Str("exec", s.opts.ExecPath).Bool("headless", s.opts.Headless).Dur("elapsed", time.Since(started)).Msg("浏览器已启动")
		}
		s.mu.Unlock()
		close(l.done)
	}()
	return l
}

// NewPage 在共享浏览器中打开一个新标签页，并开启请求拦截。
func (s *Session) NewPage(ctx context.Context, filter Filter) (Page, error) {
	bctx, err := s.browser(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = func(Request) Decision { return Continue }
	}

	tabCtx, cancel := chromedp.NewContext(bctx)
	p := &page{
		ctx:      tabCtx,
		cancel:   cancel,
		filter:   filter,
		events:   make(chan Event, eventBuffer),
		inflight: newInflight(),
		log:      s.log,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	// 标签页的第一次 Run 必须直接用 tabCtx（它绑定了 target 的生命周期）；
	// 初始化期间调用方取消则直接关闭标签页。
	stop := context.AfterFunc(ctx, cancel)
	err = chromedp.Run(tabCtx, network.Enable(), fetch.Enable())
	stop()
	if err != nil {
		_ = p.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("打开标签页失败：%w", err)
	}
	return p, nil
}

// Shutdown 关闭浏览器进程；之后 NewPage 返回 ErrClosed。
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.launching != nil {
		s.launching.cancel()
	}
	if s.cancelBrowser != nil {
		s.cancelBrowser()
		s.cancelAlloc()
		s.browserCtx, s.cancelBrowser, s.cancelAlloc = nil, nil, nil
		s.log.Info().Msg("浏览器已关闭")
	}
}

type page struct {
	ctx    context.Context
	cancel context.CancelFunc
	filter Filter
	log    zerolog.Logger

	inflight *inflight

	mu     sync.Mutex
	closed bool
	events chan Event

	dropped int
}

func (p *page) Events() <-chan Event { return p.events }

// run 在标签页 ctx 上执行 actions，同时响应调用方 ctx 的取消。
func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}
	return p.inflight.waitIdle(ctx, idleMaxInflight, idleQuiet, idlePoll)
}

const clickPlayJS = `(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  el.click();
  return true;
})()`

func (p *page) ClickPlay(ctx context.Context) (bool, error) {
	if p.isClosed() {
		return false, ErrClosed
	}
	var clicked bool
	err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickPlayJS, PlaySelector), &clicked))
	return clicked, err
}

func (p *page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	dropped := p.dropped
	p.mu.Unlock()

	p.cancel()
	if dropped > 0 {
		p.log.Debug().Int("dropped", dropped).Msg("事件通道已满，部分事件被丢弃")
	}
	return nil
}

func (p *page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// emit 非阻塞投递；页面关闭后为 no-op。
func (p *page) emit(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped++
	}
}

func (p *page) onEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		p.onPaused(e)
	case *network.EventRequestWillBeSent:
		p.inflight.start(string(e.RequestID))
	case *network.EventLoadingFinished:
		p.inflight.finish(string(e.RequestID))
	case *network.EventLoadingFailed:
		p.inflight.finish(string(e.RequestID))
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.emit(Event{Response: &Response{
			RequestID: string(e.RequestID),
			URL:       e.Response.URL,
			Status:    int(e.Response.Status),
			MimeType:  e.Response.MimeType,
		}})
	}
}

func (p *page) onPaused(e *fetch.EventRequestPaused) {
	if p.isClosed() || e.Request == nil {
		return
	}
	req := Request{
		ID:           string(e.RequestID),
		URL:          e.Request.URL,
		Method:       e.Request.Method,
		ResourceType: e.ResourceType.String(),
		Headers:      headersToMap(e.Request.Headers),
	}
	decision := p.filter(req)
	if decision == Continue {
		p.emit(Event{Request: &req})
	}

	// 回复 CDP 不能在事件分发 goroutine 里同步执行。
	go func() {
		if p.isClosed() {
			return
		}
		c := chromedp.FromContext(p.ctx)
		if c == nil || c.Target == nil {
			return
		}
		ectx := cdp.WithExecutor(p.ctx, c.Target)
		var err error
		if decision == Abort {
			err = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ectx)
		} else {
			err = fetch.ContinueRequest(e.RequestID).Do(ectx)
		}
		if err != nil && !p.isClosed() {
			p.log.Debug().Err(err).Str("url", req.URL).Msg("回复拦截请求失败")
		}
	}()
}

func headersToMap(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch x := v.(type) {
		case string:
			out[k] = x
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out
}
