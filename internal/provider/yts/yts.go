package yts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/John-Robertt/streamlux/internal/domain"
	providerx "github.com/John-Robertt/streamlux/internal/provider"
)

const (
	DefaultBaseURL = "https://yts.mx"
	listPath       = "/api/v2/list_movies.json"
	pageLimit      = 50
	pages          = 3
	defaultQuality = "HD"
)

// Provider 透传 YTS 列表 API：按上架时间倒序抓取前 3 页（每页 50 条）。
// 任一页失败即整体失败（由 Collect 降级为空）。
type Provider struct {
	BaseURL string
}

func (Provider) Name() domain.Source { return domain.SourceYTS }

func (Provider) Mode() providerx.Mode { return providerx.ModeListing }

func (p Provider) base() string {
	if s := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/"); s != "" {
		return s
	}
	return DefaultBaseURL
}

// PageURL 返回第 page 页（1 起）的 API 地址。
func (p Provider) PageURL(page int) string {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(pageLimit))
	v.Set("page", strconv.Itoa(page))
	v.Set("sort_by", "date_added")
	v.Set("order_by", "desc")
	return p.base() + listPath + "?" + v.Encode()
}

func (p Provider) Fetch(ctx context.Context, query string, c *http.Client) ([]providerx.Page, error) {
	headers := map[string]string{"Accept": "application/json"}
	out := make([]providerx.Page, 0, pages)
	for i := 1; i <= pages; i++ {
		pg, err := providerx.FetchPage(ctx, c, p.PageURL(i), headers)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		out = append(out, pg)
	}
	return out, nil
}

type listResponse struct {
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
	Data          struct {
		Movies []movie `json:"movies"`
	} `json:"data"`
}

type movie struct {
	Title        string    `json:"title"`
	Year         int       `json:"year"`
	Rating       float64   `json:"rating"`
	URL          string    `json:"url"`
	DateUploaded string    `json:"date_uploaded"`
	Torrents     []torrent `json:"torrents"`
}

type torrent struct {
	Quality string `json:"quality"`
}

func (p Provider) Parse(pg providerx.Page) ([]domain.ScrapedItem, error) {
	if len(pg.Body) == 0 {
		return nil, errors.New("body 为空")
	}
	var resp listResponse
	if err := json.Unmarshal(pg.Body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("yts status=%q message=%q", resp.Status, resp.StatusMessage)
	}

	out := make([]domain.ScrapedItem, 0, len(resp.Data.Movies))
	for _, m := range resp.Data.Movies {
		title := strings.TrimSpace(m.Title)
		if title == "" || strings.TrimSpace(m.URL) == "" {
			continue
		}
		if m.Year > 0 {
			title = fmt.Sprintf("%s (%d)", title, m.Year)
		}
		quality := defaultQuality
		if len(m.Torrents) > 0 && strings.TrimSpace(m.Torrents[0].Quality) != "" {
			quality = m.Torrents[0].Quality
		}
		out = append(out, domain.ScrapedItem{
			Title:    title,
			URL:      m.URL,
			Source:   domain.SourceYTS,
			Category: domain.CategoryMovie,
			Quality:  quality,
			Date:     m.DateUploaded,
			Year:     m.Year,
			Rating:   m.Rating,
		})
	}
	return providerx.Truncate(out, pageLimit), nil
}
