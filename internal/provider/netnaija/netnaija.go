package netnaija

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/streamlux/internal/domain"
	providerx "github.com/John-Robertt/streamlux/internal/provider"
)

const (
	DefaultBaseURL = "https://www.thenetnaija.net"
	maxItems       = 100
)

// Provider 抓取 NetNaija 首页的最新文件列表（.file-one 卡片）。
type Provider struct {
	// BaseURL 为空时使用 DefaultBaseURL（测试可指向 httptest）。
	BaseURL string
}

func (Provider) Name() domain.Source { return domain.SourceNetNaija }

func (Provider) Mode() providerx.Mode { return providerx.ModeListing }

func (p Provider) base() string {
	if s := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/"); s != "" {
		return s
	}
	return DefaultBaseURL
}

func (p Provider) Fetch(ctx context.Context, query string, c *http.Client) ([]providerx.Page, error) {
	base := p.base()
	pg, err := providerx.FetchPage(ctx, c, base+"/", providerx.BrowserHeaders(base))
	if err != nil {
		return nil, err
	}
	return []providerx.Page{pg}, nil
}

// Parse 解析首页卡片：标题/链接来自 h2 a，分类缺省为 Movie。
func (p Provider) Parse(pg providerx.Page) ([]domain.ScrapedItem, error) {
	if len(pg.Body) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pg.Body))
	if err != nil {
		return nil, err
	}

	base := p.base()
	out := make([]domain.ScrapedItem, 0, 32)
	doc.Find(".file-one").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("h2 a").First()
		title := providerx.NormSpace(a.Text())
		href, _ := a.Attr("href")
		if title == "" || strings.TrimSpace(href) == "" {
			return
		}
		category := providerx.NormSpace(s.Find(".category").First().Text())
		if category == "" {
			category = domain.CategoryMovie
		}
		out = append(out, domain.ScrapedItem{
			Title:    title,
			URL:      providerx.ResolveURL(base, href),
			Source:   domain.SourceNetNaija,
			Category: category,
			Date:     providerx.NormSpace(s.Find(".date").First().Text()),
		})
	})
	return providerx.Truncate(out, maxItems), nil
}
