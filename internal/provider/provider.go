package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/streamlux/internal/domain"
)

// Mode 描述 provider 支持的抓取形态（可组合）。
type Mode uint8

const (
	// ModeListing：无 query，抓取“最新/列表”页。
	ModeListing Mode = 1 << iota
	// ModeSearch：按 query 搜索。
	ModeSearch
)

func (m Mode) Has(x Mode) bool { return m&x != 0 }

// Page 是一次 HTTP 抓取的原始结果（HTML 或 JSON）。
type Page struct {
	URL  string
	Body []byte
}

// Provider 把“站点变化”限制在各自的子包内部；聚合流程只依赖统一接口与 domain.ScrapedItem。
//
// 约束：
// - Fetch 不做缓存、不做重试（坏掉的来源等下一次运行自行恢复）
// - Parse 必须是纯函数：相同输入 => 相同输出，可直接用保存的 HTML fixture 测试
// - Parse 负责归一化到 ScrapedItem、补全相对 URL 并按来源上限截断
type Provider interface {
	Name() domain.Source
	Mode() Mode
	Fetch(ctx context.Context, query string, c *http.Client) ([]Page, error)
	Parse(p Page) ([]domain.ScrapedItem, error)
}
