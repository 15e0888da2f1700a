package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewScrapeClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewScrapeClient(Options{ProxyURLs: []string{"http://127.0.0.1:8080", " ", "http://127.0.0.1:8081"}})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives || !tr.DisableKeepAlives {
		t.Fatalf("代理模式应禁用 keep-alive")
	}
	if tr.RetryMax != 0 {
		t.Fatalf("抓取 client 不应重试，实际 RetryMax=%d", tr.RetryMax)
	}
	if c.Timeout != DefaultScrapeTimeout {
		t.Fatalf("期望缺省超时 %v，实际 %v", DefaultScrapeTimeout, c.Timeout)
	}
}

func TestProxyRotation_PicksFromPool(t *testing.T) {
	c, err := NewScrapeClient(Options{ProxyURLs: []string{"http://p1.test:1", "http://p2.test:2"}})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr := c.Transport.(*Transport)
	req, _ := http.NewRequest(http.MethodGet, "https://site.test/", nil)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		u, err := tr.Base.Proxy(req)
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		seen[u.Host] = true
	}
	if !seen["p1.test:1"] || !seen["p2.test:2"] || len(seen) != 2 {
		t.Fatalf("期望在两个代理间轮换，实际=%v", seen)
	}
}

func TestNewStreamClient_NoOverallTimeout(t *testing.T) {
	c, err := NewStreamClient(Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if c.Timeout != 0 {
		t.Fatalf("流式 client 不应设置整体超时，实际 %v", c.Timeout)
	}
	if tr := c.Transport.(*Transport); tr.Base.Proxy != nil || tr.Base.DisableKeepAlives {
		t.Fatalf("无代理时应保持直连 + keep-alive")
	}
}

func TestNewScrapeClient_InvalidProxyURL(t *testing.T) {
	if _, err := NewScrapeClient(Options{ProxyURLs: []string{"http://[::1"}}); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if _, err := NewScrapeClient(Options{ProxyURLs: []string{"127.0.0.1:8080"}}); err == nil {
		t.Fatalf("缺少 scheme 的代理应报错")
	}
}

func TestTransport_DefaultUserAgent(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	c, err := NewScrapeClient(Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if got.Load() != BrowserUA {
		t.Fatalf("期望缺省 UA，实际=%v", got.Load())
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom/1")
	resp, err = c.Do(req)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if got.Load() != "custom/1" {
		t.Fatalf("显式 UA 不应被覆盖，实际=%v", got.Load())
	}
}

func TestHostLimiter_ContextCancel(t *testing.T) {
	l := NewHostLimiter(0.001, 1)
	u, _ := url.Parse("https://api.test/x")
	req := (&http.Request{URL: u}).WithContext(context.Background())
	if err := l.Wait(req); err != nil {
		t.Fatalf("首个令牌应立即可用：%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(req.WithContext(ctx)); err == nil {
		t.Fatalf("令牌耗尽时应随 ctx 返回错误")
	}

	other, _ := url.Parse("https://other.test/x")
	if err := l.Wait((&http.Request{URL: other}).WithContext(context.Background())); err != nil {
		t.Fatalf("不同 host 应有独立令牌桶：%v", err)
	}
}

func TestAttachment(t *testing.T) {
	cases := []struct{ name, want string }{
		{"", `attachment; filename="download"`},
		{"Dune Part Two.mp4", `attachment; filename="Dune Part Two.mp4"`},
		{"日本.mp4", `attachment; filename*=utf-8''%E6%97%A5%E6%9C%AC.mp4`},
	}
	for _, tc := range cases {
		if got := Attachment(tc.name, "download"); got != tc.want {
			t.Fatalf("Attachment(%q)=%q，期望 %q", tc.name, got, tc.want)
		}
	}
}
