package httpx

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultScrapeTimeout = 15 * time.Second
	defaultRetryMax      = 0

	// BrowserUA 是所有出站请求的缺省 User-Agent（桌面 Chrome）。
	BrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Transport 把“固定 UA + 代理轮换 + keep-alive 策略 + 每 host 限速 + 有界重试”固化为统一策略。
//
// provider 只负责“定位页面 + 解析 HTML”，不关心网络策略细节。
type Transport struct {
	Base *http.Transport

	// UserAgent 仅在请求未显式设置 User-Agent 时生效。
	UserAgent string

	// RetryMax 表示最大重试次数（不含首次尝试）。抓取端固定为 0。
	RetryMax int

	// DisableKeepAlives 决定是否对 Request 设置 Close=true。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool

	// Limiter 非 nil 时每个请求前按 host 等待令牌。
	Limiter *HostLimiter
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：GET/HEAD 且无 body。
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	max := t.RetryMax
	if max < 0 || !canRetry {
		max = 0
	}

	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		if t.Limiter != nil {
			if err := t.Limiter.Wait(req); err != nil {
				return nil, err
			}
		}
		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" && t.UserAgent != "" {
			r.Header.Set("User-Agent", t.UserAgent)
		}
		if t.DisableKeepAlives {
			r.Close = true
		}

		resp, err := t.Base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// Options 描述一个出站 client 的网络策略。
type Options struct {
	// ProxyURLs 非空时每个请求随机挑选一个代理，并禁用 keep-alive（每请求新连接）。
	ProxyURLs []string

	// Timeout 为整体超时；0 表示不设整体超时（流式下载用）。
	Timeout time.Duration

	RetryMax  int
	UserAgent string

	// RatePerSecond>0 时启用每 host 限速。
	RatePerSecond float64
	Burst         int
}

// NewScrapeClient 构造 provider 抓取用 client：整体超时、无重试、代理轮换。
func NewScrapeClient(opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScrapeTimeout
	}
	opts.RetryMax = defaultRetryMax
	return newClient(opts)
}

// NewStreamClient 构造转发/下载用 client：不设整体超时（body 可能很大），
// 只限制建连与响应头等待时间；调用方用 ctx 控制生命周期。
func NewStreamClient(opts Options) (*http.Client, error) {
	opts.Timeout = 0
	return newClient(opts)
}

func newClient(opts Options) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   8,
	}

	proxies, err := parseProxies(opts.ProxyURLs)
	if err != nil {
		return nil, err
	}
	disableKeepAlives := false
	if len(proxies) > 0 {
		rot := newRotator(proxies)
		base.Proxy = rot.pick
		// 代理轮换依赖每请求新连接。
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = BrowserUA
	}

	tr := &Transport{
		Base:              base,
		UserAgent:         ua,
		RetryMax:          opts.RetryMax,
		DisableKeepAlives: disableKeepAlives,
	}
	if opts.RatePerSecond > 0 {
		tr.Limiter = NewHostLimiter(rate.Limit(opts.RatePerSecond), opts.Burst)
	}
	return &http.Client{
		Transport: tr,
		Timeout:   opts.Timeout,
	}, nil
}

func parseProxies(raw []string) ([]*url.URL, error) {
	out := make([]*url.URL, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("proxy url 无效 %q: %w", s, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy url 缺少 scheme/host：%q", s)
		}
		out = append(out, u)
	}
	return out, nil
}

type rotator struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	proxies []*url.URL
}

func newRotator(proxies []*url.URL) *rotator {
	return &rotator{
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		proxies: proxies,
	}
}

func (r *rotator) pick(*http.Request) (*url.URL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proxies[r.rnd.Intn(len(r.proxies))], nil
}
