package o2tv

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
	DefaultBaseURL = "https://o2tvseries.com"
	listPath       = "/search/list_all_tv_series"
	maxItems       = 50
)

// Provider 抓取 O2TvSeries 的全部剧集列表页；全部条目按 Series 归类。
type Provider struct {
	BaseURL string
}

func (Provider) Name() domain.Source { return domain.SourceO2TvSeries }

func (Provider) Mode() providerx.Mode { return providerx.ModeListing }

func (p Provider) base() string {
	if s := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/"); s != "" {
		return s
	}
	return DefaultBaseURL
}

func (p Provider) Fetch(ctx context.Context, query string, c *http.Client) ([]providerx.Page, error) {
	base := p.base()
	pg, err := providerx.FetchPage(ctx, c, base+listPath, providerx.BrowserHeaders(base))
	if err != nil {
		return nil, err
	}
	return []providerx.Page{pg}, nil
}

func (p Provider) Parse(pg providerx.Page) ([]domain.ScrapedItem, error) {
	if len(pg.Body) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pg.Body))
	if err != nil {
		return nil, err
	}

	base := p.base()
	out := make([]domain.ScrapedItem, 0, maxItems)
	doc.Find(".data_list div").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("a").First()
		title := providerx.NormSpace(a.Text())
		href, _ := a.Attr("href")
		if title == "" || strings.TrimSpace(href) == "" {
			return
		}
		out = append(out, domain.ScrapedItem{
			Title:    title,
			URL:      providerx.ResolveURL(base, href),
			Source:   domain.SourceO2TvSeries,
			Category: domain.CategorySeries,
		})
	})
	return providerx.Truncate(out, maxItems), nil
}
