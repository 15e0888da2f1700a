package goojara

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/streamlux/internal/domain"
	providerx "github.com/John-Robertt/streamlux/internal/provider"
)

const (
	DefaultBaseURL = "https://www.goojara.to"
	maxItems       = 100
	defaultQuality = "HD"
)

type Provider struct {
	BaseURL string
}

func (Provider) Name() domain.Source { return domain.SourceGoojara }

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

// Parse 解析 .dflex 卡片；有年份时标题写成 "T (Y)"。
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
	doc.Find(".dflex").Each(func(_ int, s *goquery.Selection) {
		a := s.Find(".m-title a, .it").First()
		title := providerx.NormSpace(a.Text())
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			// .it 可能是包在链接里的文本节点
			href = strings.TrimSpace(a.Closest("a").AttrOr("href", ""))
		}
		if title == "" || href == "" {
			return
		}

		quality := providerx.NormSpace(s.Find(".quality, .q").First().Text())
		if quality == "" {
			quality = defaultQuality
		}
		it := domain.ScrapedItem{
			URL:      providerx.ResolveURL(base, href),
			Source:   domain.SourceGoojara,
			Category: domain.CategoryMovie,
			Quality:  quality,
			Title:    title,
		}
		if y := providerx.NormSpace(s.Find(".year, .y").First().Text()); y != "" {
			it.Title = title + " (" + y + ")"
			if n, err := strconv.Atoi(y); err == nil {
				it.Year = n
			}
		}
		out = append(out, it)
	})
	return providerx.Truncate(out, maxItems), nil
}
