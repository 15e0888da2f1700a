package provider

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示站点返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d url=%s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %d url=%s location=%s", e.StatusCode, e.URL, loc)
}

// BlockedError 表示站点返回了“挑战/拦截”页面（通常需要浏览器执行 JS）。
// 不尝试绕过：视为该来源本次不可用。
type BlockedError struct {
	URL    string
	Reason string // 例如 "cloudflare"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return "blocked url=" + e.URL
	}
	return "blocked: " + strings.TrimSpace(e.Reason) + " url=" + e.URL
}
