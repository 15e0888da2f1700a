package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/streamlux/internal/domain"
)

const (
	StageFetch = "fetch"
	StageParse = "parse"
	StagePanic = "panic"
	StageOK    = "ok"
)

// Attempt 记录一次 provider 调用的结果（用于报告“哪个来源为什么是空的”）。
type Attempt struct {
	Provider domain.Source
	Stage    string
	Count    int
	Err      error // nil when Stage==StageOK
}

// Error 是 provider 阶段的可追溯错误。
type Error struct {
	Provider domain.Source
	Stage    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Collect 调用一次 provider 并且永不失败：
// 网络错误、超时、非 2xx、解析错误乃至 panic 都降级为空列表 + 一条 warning。
// 不重试。
func Collect(ctx context.Context, p Provider, query string, c *http.Client, log zerolog.Logger) (items []domain.ScrapedItem, at Attempt) {
	name := p.Name()
	at = Attempt{Provider: name}
	log = log.With().Str("source", string(name)).Logger()

	defer func() {
		if r := recover(); r != nil {
			items = []domain.ScrapedItem{}
			at.Stage = StagePanic
			at.Count = 0
			at.Err = &Error{Provider: name, Stage: StagePanic, Err: fmt.Errorf("%v", r)}
			log.Warn().Err(at.Err).Msg("来源抓取 panic，按空结果处理")
		}
	}()

	pages, err := p.Fetch(ctx, query, c)
	if err != nil {
		at.Stage = StageFetch
		at.Err = &Error{Provider: name, Stage: StageFetch, Err: err}
		log.Warn().Err(err).Msg("来源抓取失败，按空结果处理")
		return []domain.ScrapedItem{}, at
	}

	items = make([]domain.ScrapedItem, 0, 64)
	for _, pg := range pages {
		got, err := p.Parse(pg)
		if err != nil {
			at.Stage = StageParse
			at.Err = &Error{Provider: name, Stage: StageParse, Err: err}
			log.Warn().Err(err).Str("page", pg.URL).Msg("来源解析失败，按空结果处理")
			return []domain.ScrapedItem{}, at
		}
		for _, it := range got {
			if it.Valid() {
				items = append(items, it)
			}
		}
	}

	at.Stage = StageOK
	at.Count = len(items)
	log.Debug().Int("count", len(items)).Msg("来源抓取完成")
	return items, at
}

// FetchPage 发起一次 GET 并返回 body。
// headers 会覆盖默认请求头；非 2xx 返回 *HTTPStatusError，挑战页返回 *BlockedError。
func FetchPage(ctx context.Context, c *http.Client, u string, headers map[string]string) (Page, error) {
	if c == nil {
		return Page{}, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if looksLikeChallenge(resp, b) {
			return Page{}, &BlockedError{URL: u, Reason: "cloudflare"}
		}
		return Page{}, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	if len(b) == 0 {
		return Page{}, errors.New("empty response body")
	}

	final := u
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return Page{URL: final, Body: b}, nil
}

func looksLikeChallenge(resp *http.Response, b []byte) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare") {
		return true
	}
	return bytes.Contains(b, []byte("cf-browser-verification")) || bytes.Contains(b, []byte("challenge-platform"))
}

// BrowserHeaders 返回模拟桌面浏览器的默认请求头（Referer 指向站点首页）。
func BrowserHeaders(referer string) map[string]string {
	h := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	}
	if strings.TrimSpace(referer) != "" {
		h["Referer"] = referer
	}
	return h
}

// ResolveURL 把 href 补全为绝对 URL（相对 base 解析）。
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	ru, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(ru).String()
}

// NormSpace 压缩空白（goquery 的 Text() 经常带换行与缩进）。
func NormSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

// Truncate 按来源上限截断结果；n<=0 表示不截断。
func Truncate(items []domain.ScrapedItem, n int) []domain.ScrapedItem {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}
