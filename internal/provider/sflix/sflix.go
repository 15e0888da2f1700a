package sflix

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/streamlux/internal/domain"
	providerx "github.com/John-Robertt/streamlux/internal/provider"
)

const (
	DefaultBaseURL = "https://sflix.to"
	maxItems       = 100
	defaultQuality = "HD"
)

var watchNowRE = regexp.MustCompile(`(?i)\s*Watch\s*now\s*$`)

// Provider 只支持搜索：/search/<query，空格替换为 ->。
type Provider struct {
	BaseURL string
}

func (Provider) Name() domain.Source { return domain.SourceSFlix }

func (Provider) Mode() providerx.Mode { return providerx.ModeSearch }

func (p Provider) base() string {
	if s := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/"); s != "" {
		return s
	}
	return DefaultBaseURL
}

func (p Provider) SearchURL(query string) string {
	slug := strings.Join(strings.Fields(query), "-")
	return p.base() + "/search/" + url.PathEscape(slug)
}

func (p Provider) Fetch(ctx context.Context, query string, c *http.Client) ([]providerx.Page, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query 不能为空")
	}
	base := p.base()
	pg, err := providerx.FetchPage(ctx, c, p.SearchURL(query), providerx.BrowserHeaders(base))
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
	out := make([]domain.ScrapedItem, 0, 32)
	doc.Find(".flw-item").Each(func(_ int, s *goquery.Selection) {
		a := s.Find(".film-name a").First()
		href := strings.TrimSpace(a.AttrOr("href", ""))
		title := strings.TrimSpace(a.AttrOr("title", ""))
		if title == "" {
			title = providerx.NormSpace(a.Text())
		}
		title = strings.TrimSpace(watchNowRE.ReplaceAllString(title, ""))
		if title == "" || href == "" {
			return
		}

		quality := providerx.NormSpace(s.Find(".film-poster .pick").First().Text())
		if quality == "" {
			quality = defaultQuality
		}
		out = append(out, domain.ScrapedItem{
			Title:    title,
			URL:      providerx.ResolveURL(base, href),
			Source:   domain.SourceSFlix,
			Category: category(s, href),
			Quality:  quality,
		})
	})
	return providerx.Truncate(out, maxItems), nil
}

// category 优先用第一个 .fdi-item 的类型标记，其次看链接路径。
func category(s *goquery.Selection, href string) string {
	t := strings.ToLower(providerx.NormSpace(s.Find(".fdi-item").First().Text()))
	h := strings.ToLower(href)
	switch {
	case t == "tv" || strings.Contains(t, "series") || strings.Contains(h, "/tv/"):
		return domain.CategorySeries
	default:
		return domain.CategoryMovie
	}
}
