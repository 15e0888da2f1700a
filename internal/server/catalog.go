package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/title"
)

type listResponse struct {
	Query   string               `json:"query,omitempty"`
	Count   int                  `json:"count"`
	Results []domain.ScrapedItem `json:"results"`
	// Failed 是本次搜索失败的来源数（只对 /api/search 有意义）。
	Failed int `json:"failed,omitempty"`
}

// search 以 "title year" 实时扇出搜索，再按片名匹配度过滤、排序、去重。
func (s *Server) search(c echo.Context) error {
	name := strings.TrimSpace(c.QueryParam("title"))
	if name == "" {
		return errorJSON(c, http.StatusBadRequest, "Missing title parameter")
	}
	query := strings.TrimSpace(name + " " + strings.TrimSpace(c.QueryParam("year")))
	if s.deps.Search == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "Search is not configured")
	}

	items, rep := s.deps.Search.Search(c.Request().Context(), query)
	results := title.Dedupe(title.Rank(name, items))
	return c.JSON(http.StatusOK, listResponse{Query: query, Count: len(results), Results: results, Failed: rep.Failed()})
}

// downloads 返回最近一次抓取快照里与 title 匹配的条目；title 为空时返回全部。
func (s *Server) downloads(c echo.Context) error {
	if s.deps.Snapshot == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "Snapshot is not configured")
	}
	items, _, err := s.deps.Snapshot.Read()
	if err != nil {
		s.log.Error().Err(err).Msg("读取快照失败")
		return errorJSON(c, http.StatusInternalServerError, "Failed to read snapshot")
	}

	name := strings.TrimSpace(c.QueryParam("title"))
	results := make([]domain.ScrapedItem, 0, len(items))
	for _, it := range items {
		if name == "" || title.Matches(it.Title, name) {
			results = append(results, it)
		}
	}
	return c.JSON(http.StatusOK, listResponse{Query: name, Count: len(results), Results: results})
}
