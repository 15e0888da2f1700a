// Package rangeproxy 把已知直链按字节区间转发给客户端（可暂停/续传的下载），
// 以及一个不带区间语义的通用转发端点。
package rangeproxy

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/streamlux/internal/infra/httpx"
)

const DefaultHeadTimeout = 5 * time.Second

// 自定义上游头里这些键一律丢弃。
var forbiddenHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"content-length":    true,
	"accept-encoding":   true,
	"if-none-match":     true,
	"if-modified-since": true,
}

var directStreamRe = regexp.MustCompile(`(?i)\.(mp4|m3u8|ts|webm|mkv)(\?|$)`)

// Relay 无状态，可被任意并发使用。
type Relay struct {
	// Client 不应设置整体超时：下载 body 可能持续很久。
	Client      *http.Client
	HeadTimeout time.Duration
	log         zerolog.Logger
}

func New(c *http.Client, log zerolog.Logger) *Relay {
	if c == nil {
		c = &http.Client{}
	}
	return &Relay{Client: c, HeadTimeout: DefaultHeadTimeout, log: log.With().Str("component", "rangeproxy").Logger()}
}

// ETag 由目标 URL 字符串派生（不是内容哈希），同一 URL 始终相同。
func ETag(target string) string {
	sum := md5.Sum([]byte(target))
	return hex.EncodeToString(sum[:])
}

// IsDirectStream 判断 URL 看起来是否是媒体直链（而不是 embed 页）。
func IsDirectStream(target string) bool {
	u := strings.ToLower(target)
	return directStreamRe.MatchString(u) || strings.Contains(u, "/stream/") || strings.Contains(u, "/video/")
}

// FilterHeaders 去掉禁止透传的键；返回新 map。
func FilterHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if forbiddenHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// ByteRange 是解析后的 Range 头；End < 0 表示开区间（bytes=s-）。
// Suffix > 0 表示大小未知时原样回源的后缀区间（bytes=-N），此时 Start/End 无意义。
type ByteRange struct {
	Start  int64
	End    int64
	Suffix int64
}

var errBadRange = errors.New("rangeproxy: unsatisfiable range")

// ParseRange 解析单段 "bytes=s-e" 或后缀 "bytes=-n"。size<=0 表示大小未知。
// 已知大小时 End 缺省为 size-1 并截断到 size-1，后缀折算为最后 n 字节；Start 越界返回错误。
func ParseRange(header string, size int64) (ByteRange, error) {
	ranges, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(ranges, ",") {
		return ByteRange{}, errBadRange
	}
	startStr, endStr, ok := strings.Cut(ranges, "-")
	if !ok {
		return ByteRange{}, errBadRange
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, errBadRange
		}
		if size > 0 {
			return ByteRange{Start: max(size-n, 0), End: size - 1}, nil
		}
		return ByteRange{End: -1, Suffix: n}, nil
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, errBadRange
	}
	end := int64(-1)
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, errBadRange
		}
	}
	if size > 0 {
		if start >= size {
			return ByteRange{}, errBadRange
		}
		if end < 0 || end >= size {
			end = size - 1
		}
	}
	return ByteRange{Start: start, End: end}, nil
}

func (br ByteRange) header() string {
	switch {
	case br.Suffix > 0:
		return fmt.Sprintf("bytes=-%d", br.Suffix)
	case br.End < 0:
		return fmt.Sprintf("bytes=%d-", br.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", br.Start, br.End)
}

// contentRangeLength 从 "bytes a-b/total" 算出本段长度。
func contentRangeLength(cr string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(cr), "bytes ")
	if !ok {
		return 0, false
	}
	span, _, _ := strings.Cut(rest, "/")
	a, b, ok := strings.Cut(span, "-")
	if !ok {
		return 0, false
	}
	start, err1 := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	end, err2 := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if err1 != nil || err2 != nil || start < 0 || end < start {
		return 0, false
	}
	return end - start + 1, true
}

type upstreamStatusError struct {
	Status int
}

func (e *upstreamStatusError) Error() string { return fmt.Sprintf("upstream status %d", e.Status) }

// Download 以附件形式转发 target。客户端带 Range 时回 206，否则回 200。
func (rl *Relay) Download(w http.ResponseWriter, r *http.Request, target, filename string, extra map[string]string) {
	headers := httpx.BrowserHeaders()
	for k, v := range FilterHeaders(extra) {
		headers[k] = v
	}
	etag := ETag(target)
	log := rl.log.With().Str("url", target).Logger()

	// 有些源站拒绝 HEAD：失败不致命，只是大小未知。
	size, contentType := rl.head(r.Context(), target, headers)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var br *ByteRange
	if raw := r.Header.Get("Range"); raw != "" {
		parsed, err := ParseRange(raw, size)
		if err != nil {
			if size > 0 {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			}
			writeJSON(w, http.StatusRequestedRangeNotSatisfiable, map[string]any{"error": "Range not satisfiable"})
			return
		}
		br = &parsed
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		rl.fail(w, target, err, 0)
		return
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if br != nil {
		req.Header.Set("Range", br.header())
	}

	resp, err := rl.Client.Do(req)
	if err != nil {
		rl.fail(w, target, err, 0)
		return
	}
	defer resp.Body.Close()
	if br != nil && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			w.Header().Set("Content-Range", cr)
		}
		writeJSON(w, http.StatusRequestedRangeNotSatisfiable, map[string]any{"error": "Range not satisfiable"})
		return
	}
	if resp.StatusCode >= 400 {
		rl.fail(w, target, &upstreamStatusError{Status: resp.StatusCode}, resp.StatusCode)
		return
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Disposition", httpx.Attachment(filename, "download"))
	h.Set("ETag", etag)

	status := http.StatusOK
	if br != nil && resp.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
		total := "*"
		if size > 0 {
			total = strconv.FormatInt(size, 10)
		}
		// 大小未知时请求的 End 可能越过 EOF：长度以上游实际返回的区间为准。
		cr := resp.Header.Get("Content-Range")
		exact := br.Suffix == 0 && br.End >= 0
		if n, ok := contentRangeLength(cr); ok {
			h.Set("Content-Length", strconv.FormatInt(n, 10))
		} else if cl := resp.Header.Get("Content-Length"); cl != "" {
			h.Set("Content-Length", cl)
		} else if exact {
			h.Set("Content-Length", strconv.FormatInt(br.End-br.Start+1, 10))
		}
		if cr == "" && exact {
			cr = fmt.Sprintf("bytes %d-%d/%s", br.Start, br.End, total)
		}
		if cr != "" {
			h.Set("Content-Range", cr)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			h.Set("Content-Type", ct)
		} else {
			h.Set("Content-Type", contentType)
		}
	} else {
		// 上游忽略了 Range 时按完整文件回 200。
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			h.Set("Content-Length", cl)
		} else if size > 0 {
			h.Set("Content-Length", strconv.FormatInt(size, 10))
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			h.Set("Content-Type", ct)
		} else {
			h.Set("Content-Type", contentType)
		}
	}
	w.WriteHeader(status)

	n, err := io.Copy(w, resp.Body)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Int64("bytes", n).Msg("下载转发中断")
		return
	}
	log.Debug().Int("status", status).Int64("bytes", n).Msg("下载转发完成")
}

func (rl *Relay) head(ctx context.Context, target string, headers map[string]string) (int64, string) {
	ctx, cancel := context.WithTimeout(ctx, rl.HeadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, ""
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := rl.Client.Do(req)
	if err != nil {
		rl.log.Debug().Err(err).Str("url", target).Msg("HEAD 失败，继续 GET")
		return 0, ""
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		rl.log.Debug().Int("status", resp.StatusCode).Str("url", target).Msg("HEAD 被拒绝，继续 GET")
		return 0, ""
	}
	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return max(size, 0), resp.Header.Get("Content-Type")
}

// fail 处理回源失败：直链被 401/403 拒绝时让客户端自己去拿，否则回 500。
func (rl *Relay) fail(w http.ResponseWriter, target string, err error, status int) {
	rl.log.Warn().Err(err).Int("upstream_status", status).Str("url", target).Msg("下载代理失败")
	if (status == http.StatusUnauthorized || status == http.StatusForbidden) && IsDirectStream(target) {
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusFound)
		return
	}
	body := map[string]any{"error": "Failed to proxy download", "message": err.Error()}
	if status != 0 {
		body["status"] = status
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

// Proxy 无条件转发 GET：保留上游状态码（3xx 不跟随），只透传 content-type/content-length/location。
func (rl *Relay) Proxy(w http.ResponseWriter, r *http.Request, target, referer string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err == nil {
		for k, v := range httpx.BrowserHeaders() {
			req.Header.Set(k, v)
		}
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
	}
	var resp *http.Response
	if err == nil {
		c := *rl.Client
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		resp, err = c.Do(req)
	}
	if err != nil {
		rl.log.Warn().Err(err).Str("url", target).Msg("转发失败")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Proxy request failed", "details": err.Error()})
		return
	}
	defer resp.Body.Close()

	for _, k := range []string{"Content-Type", "Content-Length", "Location"} {
		if v := resp.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && !errors.Is(err, context.Canceled) {
		rl.log.Debug().Err(err).Str("url", target).Msg("转发中断")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
