package sniffer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/infra/httpx"
)

// 这些头由自身或 net/http 管理，不透传浏览器捕获的值。
var skipPipeHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"content-length":    true,
	"accept-encoding":   true,
	"transfer-encoding": true,
}

// SniffAndPipe 先嗅探，再用捕获到的完整请求头（外加固定 UA）回源，
// 把上游 body 以附件形式流式写入 w。
//
// 返回 false 表示没有向 w 写任何东西（调用方可自行回 404）：
// 未找到流、上游非 200/206，或在总超时前没拿到上游响应头。
// 总超时只约束检测和等待响应头；body 复制持续到 EOF 或客户端断开。
//
// 缓存结果里的请求头可能带已过期的 CDN 令牌：命中缓存且上游回 401/403 时，
// 丢弃该条目并重新检测一次。
func (s *Sniffer) SniffAndPipe(ctx context.Context, embedURL string, w http.ResponseWriter, filename string) (bool, error) {
	res, started, cached, err := s.sniff(ctx, embedURL, true)
	if err != nil || res == nil {
		return false, err
	}

	ok, status, err := s.pipe(ctx, res, started, w, filename)
	if ok || err != nil || !cached || (status != http.StatusUnauthorized && status != http.StatusForbidden) {
		return ok, err
	}

	s.log.Info().Int("status", status).Str("embed", embedURL).Msg("缓存的流已失效，重新嗅探")
	s.cache.Delete(embedURL)
	res, started, _, err = s.sniff(ctx, embedURL, false)
	if err != nil || res == nil {
		return false, err
	}
	ok, _, err = s.pipe(ctx, res, started, w, filename)
	return ok, err
}

// pipe 回源一次；未写入 w 时 status 为上游状态码（没拿到响应时为 0）。
func (s *Sniffer) pipe(ctx context.Context, res *domain.SniffResult, started time.Time, w http.ResponseWriter, filename string) (bool, int, error) {
	remaining := s.opts.SniffTimeout - s.opts.Now().Sub(started)
	if remaining <= 0 {
		s.log.Info().Str("url", res.URL).Msg("检测耗尽总超时，放弃回源")
		return false, 0, nil
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, res.URL, nil)
	if err != nil {
		return false, 0, err
	}
	for k, v := range res.Headers {
		if strings.HasPrefix(k, ":") || skipPipeHeaders[strings.ToLower(k)] {
			continue
		}
		req.Header.Set(k, v)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	// 响应头必须在剩余预算内到达；到达后停止计时，body 不受限制。
	timer := time.AfterFunc(remaining, cancel)
	resp, err := s.opts.Client.Do(req)
	if !timer.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		s.log.Info().Str("url", res.URL).Msg("等待上游响应头超时")
		return false, 0, nil
	}
	if err != nil {
		s.log.Info().Err(err).Str("url", res.URL).Msg("回源失败")
		return false, 0, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		s.log.Info().Int("status", resp.StatusCode).Str("url", res.URL).Msg("上游状态码不可用")
		return false, resp.StatusCode, nil
	}

	h := w.Header()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	h.Set("Content-Disposition", httpx.Attachment(filename, "download.mp4"))
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug().Err(err).Int64("bytes", n).Msg("转发中断")
	}
	return true, resp.StatusCode, nil
}
