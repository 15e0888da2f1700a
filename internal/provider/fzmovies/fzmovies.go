package fzmovies

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/streamlux/internal/domain"
	providerx "github.com/John-Robertt/streamlux/internal/provider"
)

const (
	DefaultBaseURL = "https://www.fzmovies.ng"
	searchPath     = "/search.php"
	maxItems       = 50

	QualityLatest  = "Latest"
	QualityHD      = "HD"
	QualityCAM     = "CAM"
	QualityUnknown = "Unknown"
)

// Provider 同时支持首页最新列表（query 为空）与站内搜索。
type Provider struct {
	BaseURL string
}

func (Provider) Name() domain.Source { return domain.SourceFzMovies }

func (Provider) Mode() providerx.Mode { return providerx.ModeListing | providerx.ModeSearch }

func (p Provider) base() string {
	if s := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/"); s != "" {
		return s
	}
	return DefaultBaseURL
}

// SearchURL 构造站内搜索页：/search.php?search=<q>&submit=Search
func (p Provider) SearchURL(query string) string {
	v := url.Values{}
	v.Set("search", strings.TrimSpace(query))
	v.Set("submit", "Search")
	return p.base() + searchPath + "?" + v.Encode()
}

func (p Provider) Fetch(ctx context.Context, query string, c *http.Client) ([]providerx.Page, error) {
	base := p.base()
	u := base + "/"
	if strings.TrimSpace(query) != "" {
		u = p.SearchURL(query)
	}
	pg, err := providerx.FetchPage(ctx, c, u, providerx.BrowserHeaders(base))
	if err != nil {
		return nil, err
	}
	return []providerx.Page{pg}, nil
}

// Parse 按 pageURL 区分两种页面：搜索结果页（div.mainbox）与首页（movie-/download.php 链接）。
func (p Provider) Parse(pg providerx.Page) ([]domain.ScrapedItem, error) {
	if len(pg.Body) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pg.Body))
	if err != nil {
		return nil, err
	}
	if isSearchPage(pg.URL) {
		return p.parseSearch(doc), nil
	}
	return p.parseLatest(doc), nil
}

func isSearchPage(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, searchPath)
}

func (p Provider) parseLatest(doc *goquery.Document) []domain.ScrapedItem {
	base := p.base()
	out := make([]domain.ScrapedItem, 0, maxItems)
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		title := providerx.NormSpace(a.Text())
		if title == "" || !(strings.Contains(href, "movie-") || strings.Contains(href, "download.php")) {
			return
		}
		out = append(out, domain.ScrapedItem{
			Title:    title,
			URL:      providerx.ResolveURL(base, href),
			Source:   domain.SourceFzMovies,
			Category: domain.CategoryMovie,
			Quality:  QualityLatest,
		})
	})
	return providerx.Truncate(out, maxItems)
}

func (p Provider) parseSearch(doc *goquery.Document) []domain.ScrapedItem {
	base := p.base()
	out := make([]domain.ScrapedItem, 0, 16)
	doc.Find("div.mainbox").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("a").First()
		href, _ := a.Attr("href")
		title := providerx.NormSpace(a.Text())
		if title == "" || strings.TrimSpace(href) == "" {
			return
		}
		out = append(out, domain.ScrapedItem{
			Title:    title,
			URL:      providerx.ResolveURL(base, href),
			Source:   domain.SourceFzMovies,
			Category: domain.CategoryMovie,
			Quality:  searchQuality(s.Text()),
		})
	})
	return providerx.Truncate(out, maxItems)
}

func searchQuality(text string) string {
	switch {
	case strings.Contains(text, "HD"):
		return QualityHD
	case strings.Contains(text, "CAM"):
		return QualityCAM
	default:
		return QualityUnknown
	}
}
