// Package browser 封装一个共享的无头 Chrome 会话（chromedp），
// 每个 Page 是一个标签页：请求经 CDP Fetch 域拦截，由调用方的 Filter 决定放行或中止，
// 请求与响应的观测结果通过事件通道投递。
package browser

import (
	"context"
	"errors"
)

// Decision 是 Filter 对一个被拦截请求的裁决。
type Decision int

const (
	Continue Decision = iota
	Abort
)

// 常用资源类型（与 CDP Network.ResourceType 的取值一致）。
const (
	ResourceDocument = "Document"
	ResourceMedia    = "Media"
	ResourceImage    = "Image"
	ResourceFont     = "Font"
	ResourceXHR      = "XHR"
)

// Request 是一个被拦截的出站请求。
type Request struct {
	ID           string
	URL          string
	Method       string
	ResourceType string
	Headers      map[string]string
}

// Response 是一个被观测到的响应（只有元数据）。
type Response struct {
	RequestID string
	URL       string
	Status    int
	MimeType  string
}

// Event 二选一：Request 或 Response 非空。
type Event struct {
	Request  *Request
	Response *Response
}

// Filter 必须快速返回且不能阻塞（运行在 CDP 事件分发路径上）。
type Filter func(Request) Decision

// Page 是一个标签页。
type Page interface {
	// Events 返回事件通道；Close 之后通道关闭。
	Events() <-chan Event
	// Navigate 等待 load 且网络近似空闲（<=2 个在途请求持续 500ms）。
	Navigate(ctx context.Context, url string) error
	// ClickPlay 点击第一个匹配播放按钮选择器的元素；没有匹配元素时返回 false。
	ClickPlay(ctx context.Context) (bool, error)
	// Close 幂等；之后到达的拦截回调一律忽略。
	Close() error
}

// Browser 负责打开标签页。
type Browser interface {
	NewPage(ctx context.Context, filter Filter) (Page, error)
}

// PlaySelector 是 ClickPlay 使用的选择器。
const PlaySelector = "button, .play, .vjs-big-play-button"

var ErrClosed = errors.New("browser: closed")
