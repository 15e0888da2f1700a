package domain

import "time"

// StreamType 是嗅探到的流类型。
type StreamType string

const (
	StreamHLS StreamType = "hls"
	StreamMP4 StreamType = "mp4"
)

// SniffResult 描述一次成功嗅探：直链 + 浏览器发出该请求时携带的完整请求头。
//
// 生命周期：首次成功嗅探时创建；按 TTL 失效；只会被新的结果替换，不会被显式删除。
type SniffResult struct {
	URL       string            `json:"url"`
	Type      StreamType        `json:"type"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Fresh 判断结果在 now 时刻是否仍在 ttl 内。
func (r SniffResult) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.Timestamp) < ttl
}

// Clone 深拷贝 Headers，避免缓存内外共享同一个 map。
func (r SniffResult) Clone() SniffResult {
	if r.Headers != nil {
		h := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			h[k] = v
		}
		r.Headers = h
	}
	return r
}
