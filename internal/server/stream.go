package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/infra/httpx"
	"github.com/John-Robertt/streamlux/internal/sniffer"
)

func (s *Server) proxy(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return errorJSON(c, http.StatusBadRequest, "Missing url parameter")
	}
	s.deps.Relay.Proxy(c.Response(), c.Request(), target, c.QueryParam("referer"))
	return nil
}

func (s *Server) download(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return errorJSON(c, http.StatusBadRequest, "URL parameter is required")
	}
	extra := parseHeaderParam(c.QueryParam("headers"))
	if extra == nil && c.QueryParam("headers") != "" {
		s.log.Warn().Msg("无法解析 headers 参数，忽略")
	}
	s.deps.Relay.Download(c.Response(), c.Request(), target, c.QueryParam("filename"), extra)
	return nil
}

// parseHeaderParam 解析 JSON 对象形式的自定义头；允许多编码了一层的值。
func parseHeaderParam(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(raw), &h); err == nil {
		return h
	}
	if dec, err := url.QueryUnescape(raw); err == nil {
		if err := json.Unmarshal([]byte(dec), &h); err == nil {
			return h
		}
	}
	return nil
}

type resolveResponse struct {
	Source        string `json:"source"`
	Status        string `json:"status"`
	ProxiedURL    string `json:"proxiedUrl"`
	DirectURL     string `json:"directUrl"`
	IsProxyNeeded bool   `json:"isProxyNeeded"`
}

// resolve 探测 vidsrc 的 embed 页是否存在，存在则给出经 /api/proxy 转发的地址。
func (s *Server) resolve(c echo.Context) error {
	kind, id := c.QueryParam("type"), c.QueryParam("id")
	if kind == "" || id == "" {
		return errorJSON(c, http.StatusBadRequest, "Missing type or id parameters")
	}

	base := strings.TrimRight(s.cfg.VidSrcBase, "/")
	var embed string
	if kind == "movie" {
		embed = fmt.Sprintf("%s/embed/movie?tmdb=%s", base, url.QueryEscape(id))
	} else {
		embed = fmt.Sprintf("%s/embed/tv?tmdb=%s&sea=%s&epi=%s", base,
			url.QueryEscape(id), url.QueryEscape(c.QueryParam("s")), url.QueryEscape(c.QueryParam("e")))
	}
	referer := base + "/"

	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodHead, embed, nil)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "Resolution failed")
	}
	for k, v := range httpx.BrowserHeaders() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Referer", referer)

	resp, err := s.deps.Client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("url", embed).Msg("解析探测失败")
		return errorJSON(c, http.StatusInternalServerError, "Resolution failed")
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errorJSON(c, http.StatusNotFound, "Source not found")
	}

	return c.JSON(http.StatusOK, resolveResponse{
		Source:        "vidsrc",
		Status:        "active",
		ProxiedURL:    s.publicBase(c) + "/api/proxy?url=" + url.QueryEscape(embed) + "&referer=" + url.QueryEscape(referer),
		DirectURL:     embed,
		IsProxyNeeded: true,
	})
}

// publicBase 优先使用配置的对外地址，否则取当前请求的 scheme://host。
func (s *Server) publicBase(c echo.Context) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/")
	}
	return c.Scheme() + "://" + c.Request().Host
}

// redirect 让浏览器直接去 CDN 下载，绕开服务端回源被 403 的问题。
func (s *Server) redirect(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return errorJSON(c, http.StatusBadRequest, "Missing url parameter")
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errorJSON(c, http.StatusBadRequest, "Invalid URL")
	}
	return c.Redirect(http.StatusFound, target)
}

type sniffResponse struct {
	Success bool `json:"success"`
	*domain.SniffResult
}

func (s *Server) visionSniff(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return errorJSON(c, http.StatusBadRequest, "Missing url parameter")
	}
	res, err := s.deps.Sniffer.Sniff(c.Request().Context(), target)
	switch {
	case errors.Is(err, sniffer.ErrInvalidURL):
		return errorJSON(c, http.StatusBadRequest, "Invalid url parameter", "success", false)
	case err != nil:
		s.log.Error().Err(err).Str("url", target).Msg("嗅探失败")
		return errorJSON(c, http.StatusInternalServerError, "Sniffing process failed", "success", false, "details", err.Error())
	case res == nil:
		return errorJSON(c, http.StatusNotFound, "Could not detect video stream from source", "success", false)
	}
	return c.JSON(http.StatusOK, sniffResponse{Success: true, SniffResult: res})
}

func (s *Server) visionDownload(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return errorJSON(c, http.StatusBadRequest, "Missing url parameter")
	}
	filename := c.QueryParam("filename")
	if filename == "" {
		filename = "download.mp4"
	}

	ok, err := s.deps.Sniffer.SniffAndPipe(c.Request().Context(), target, c.Response(), filename)
	if ok || c.Response().Committed {
		return nil
	}
	switch {
	case errors.Is(err, sniffer.ErrInvalidURL):
		return errorJSON(c, http.StatusBadRequest, "Invalid url parameter")
	case err != nil:
		s.log.Error().Err(err).Str("url", target).Msg("嗅探下载失败")
		return errorJSON(c, http.StatusInternalServerError, "Vision download failed", "details", err.Error())
	}
	return errorJSON(c, http.StatusNotFound, "Stream not found", "message", "Could not detect or pipe a video stream from this source")
}
