// Package cards 实现“卡片列表”型站点的通用抓取：
// 每个站点只需描述一组选择器规则（卡片、标题、分类、画质正则）。
package cards

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/streamlux/internal/domain"
	providerx "github.com/John-Robertt/streamlux/internal/provider"
)

const defaultMaxItems = 100

// Rules 描述一个卡片列表站点。
type Rules struct {
	Source  domain.Source
	BaseURL string
	// Path 为列表页路径；为空时抓取 BaseURL 本身。
	Path string

	Card     string // 卡片选择器（可用逗号组合）
	Title    string // 卡片内的标题链接选择器
	Category string // 分类选择器；为空或取不到时为 Movie

	// TitleAttr 非空时：链接文本为空则回退到该属性（例如 a[title]）。
	TitleAttr string
	// Quality 在卡片可见文本上匹配画质；nil 表示不提取。
	Quality *regexp.Regexp

	MaxItems int
}

// Provider 用 Rules 驱动一次列表页抓取与解析。
type Provider struct {
	Rules Rules
}

func New(r Rules) Provider { return Provider{Rules: r} }

func (p Provider) Name() domain.Source { return p.Rules.Source }

func (Provider) Mode() providerx.Mode { return providerx.ModeListing }

func (p Provider) base() string { return strings.TrimRight(strings.TrimSpace(p.Rules.BaseURL), "/") }

// WithBaseURL 返回指向另一个站点根的副本（测试用 httptest）。
func (p Provider) WithBaseURL(base string) Provider {
	p.Rules.BaseURL = base
	return p
}

func (p Provider) Fetch(ctx context.Context, query string, c *http.Client) ([]providerx.Page, error) {
	base := p.base()
	if base == "" {
		return nil, errors.New("BaseURL 不能为空")
	}
	u := base + p.Rules.Path
	if p.Rules.Path == "" {
		u = base + "/"
	}
	pg, err := providerx.FetchPage(ctx, c, u, providerx.BrowserHeaders(base))
	if err != nil {
		return nil, err
	}
	return []providerx.Page{pg}, nil
}

func (p Provider) Parse(pg providerx.Page) ([]domain.ScrapedItem, error) {
	r := p.Rules
	if strings.TrimSpace(r.Card) == "" || strings.TrimSpace(r.Title) == "" {
		return nil, errors.New("规则缺少 Card/Title 选择器")
	}
	if len(pg.Body) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pg.Body))
	if err != nil {
		return nil, err
	}

	base := p.base()
	out := make([]domain.ScrapedItem, 0, 32)
	doc.Find(r.Card).Each(func(_ int, s *goquery.Selection) {
		a := s.Find(r.Title).First()
		title := providerx.NormSpace(a.Text())
		if title == "" && r.TitleAttr != "" {
			title = providerx.NormSpace(a.AttrOr(r.TitleAttr, ""))
		}
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if title == "" || href == "" {
			return
		}

		it := domain.ScrapedItem{
			Title:    title,
			URL:      providerx.ResolveURL(base, href),
			Source:   r.Source,
			Category: domain.CategoryMovie,
		}
		if r.Category != "" {
			if cat := providerx.NormSpace(s.Find(r.Category).First().Text()); cat != "" {
				it.Category = cat
			}
		}
		if r.Quality != nil {
			it.Quality = r.Quality.FindString(s.Text())
		}
		out = append(out, it)
	})

	max := r.MaxItems
	if max <= 0 {
		max = defaultMaxItems
	}
	return providerx.Truncate(out, max), nil
}
