// Package consumet 抓取几个动漫/剧集站点的搜索结果页。
// 三个站点结构相近，差异只在搜索 URL 与选择器。
package consumet

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

const maxItems = 100

// Site 描述一个搜索站点。
type Site struct {
	Source  domain.Source
	BaseURL string

	// SearchPath 为带查询参数前缀的路径，query 会被转义后直接拼在末尾。
	SearchPath string

	Item     string // 结果条目选择器
	Title    string // 标题文本所在元素
	Link     string // 链接元素；为空时与 Title 相同
	Quality  string
	Category string
}

type Provider struct {
	Site Site
}

func (p Provider) Name() domain.Source { return p.Site.Source }

func (Provider) Mode() providerx.Mode { return providerx.ModeSearch }

func (p Provider) base() string { return strings.TrimRight(strings.TrimSpace(p.Site.BaseURL), "/") }

func (p Provider) WithBaseURL(base string) Provider {
	p.Site.BaseURL = base
	return p
}

func (p Provider) SearchURL(query string) string {
	return p.base() + p.Site.SearchPath + url.QueryEscape(strings.TrimSpace(query))
}

func (p Provider) Fetch(ctx context.Context, query string, c *http.Client) ([]providerx.Page, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query 不能为空")
	}
	pg, err := providerx.FetchPage(ctx, c, p.SearchURL(query), providerx.BrowserHeaders(p.base()))
	if err != nil {
		return nil, err
	}
	return []providerx.Page{pg}, nil
}

func (p Provider) Parse(pg providerx.Page) ([]domain.ScrapedItem, error) {
	st := p.Site
	if strings.TrimSpace(st.Item) == "" || strings.TrimSpace(st.Title) == "" {
		return nil, errors.New("站点缺少 Item/Title 选择器")
	}
	if len(pg.Body) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pg.Body))
	if err != nil {
		return nil, err
	}

	link := st.Link
	if link == "" {
		link = st.Title
	}
	base := p.base()
	out := make([]domain.ScrapedItem, 0, 32)
	doc.Find(st.Item).Each(func(_ int, s *goquery.Selection) {
		title := providerx.NormSpace(s.Find(st.Title).First().Text())
		href := strings.TrimSpace(s.Find(link).First().AttrOr("href", ""))
		if title == "" || href == "" {
			return
		}
		out = append(out, domain.ScrapedItem{
			Title:    title,
			URL:      providerx.ResolveURL(base, href),
			Source:   st.Source,
			Category: st.Category,
			Quality:  st.Quality,
		})
	})
	return providerx.Truncate(out, maxItems), nil
}

func GogoAnime() Provider {
	return Provider{Site: Site{
		Source:     domain.SourceGogoAnime,
		BaseURL:    "https://gogoanime3.co",
		SearchPath: "/search.html?keyword=",
		Item:       ".last_episodes ul li",
		Title:      ".name a",
		Quality:    "HD",
		Category:   domain.CategorySeries,
	}}
}

func Dramacool() Provider {
	return Provider{Site: Site{
		Source:     domain.SourceDramacool,
		BaseURL:    "https://dramacool.pa",
		SearchPath: "/search?type=drama&keyword=",
		Item:       "ul.list-episode-item li",
		Title:      "h3",
		Link:       "a",
		Quality:    "HD",
		Category:   domain.CategorySeries,
	}}
}

func OKRu() Provider {
	return Provider{Site: Site{
		Source:     domain.SourceOkRu,
		BaseURL:    "https://ok.ru",
		SearchPath: "/search/video?st.query=",
		Item:       ".video-card",
		Title:      ".movie-title",
		Link:       "a.video-card_lnk",
		Quality:    "Unknown",
		Category:   domain.CategoryMovie,
	}}
}

func All() []Provider { return []Provider{GogoAnime(), Dramacool(), OKRu()} }
