package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/rangeproxy"
	"github.com/John-Robertt/streamlux/internal/sniffer"
)

type fakeSniffer struct {
	res     *domain.SniffResult
	err     error
	piped   string
	lastURL string
}

func (f *fakeSniffer) Sniff(ctx context.Context, u string) (*domain.SniffResult, error) {
	f.lastURL = u
	return f.res, f.err
}

func (f *fakeSniffer) SniffAndPipe(ctx context.Context, u string, w http.ResponseWriter, filename string) (bool, error) {
	f.lastURL = u
	if f.piped == "" {
		return false, f.err
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(f.piped))
	return true, nil
}

type fakeSnapshot struct {
	items []domain.ScrapedItem
	err   error
}

func (f fakeSnapshot) Read() ([]domain.ScrapedItem, bool, error) {
	return f.items, f.items != nil, f.err
}

func newTestServer(t *testing.T, cfg Config, deps Deps) *Server {
	t.Helper()
	if deps.Relay == nil {
		deps.Relay = rangeproxy.New(&http.Client{}, zerolog.Nop())
	}
	if deps.Sniffer == nil {
		deps.Sniffer = &fakeSniffer{}
	}
	return New(cfg, deps, zerolog.Nop())
}

func do(s *Server, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})

	rec := do(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = do(s, http.MethodGet, "/api/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["pong"])

	rec = do(s, http.MethodGet, "/api/keep-alive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "alive", body["status"])
	assert.Contains(t, body, "memory")

	rec = do(s, http.MethodHead, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingParametersAre400(t *testing.T) {
	snf := &fakeSniffer{}
	s := newTestServer(t, Config{}, Deps{Sniffer: snf})

	for _, path := range []string{
		"/api/proxy",
		"/api/download",
		"/api/resolve?type=movie",
		"/api/resolve?id=1",
		"/api/vision/sniff",
		"/api/vision/download",
		"/api/stream/redirect",
		"/api/search?year=2020",
	} {
		rec := do(s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.NotEmpty(t, decode(t, rec)["error"], path)
	}
	assert.Empty(t, snf.lastURL, "参数缺失时不应触发任何 I/O")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, Config{CORSOrigins: []string{"https://streamlux.vercel.app", "https://app.example.com"}}, Deps{})

	rec := do(s, http.MethodGet, "/health", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Range")

	rec = do(s, http.MethodGet, "/health", map[string]string{"Origin": "https://preview-123.vercel.app"})
	assert.Equal(t, "https://preview-123.vercel.app", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(s, http.MethodGet, "/health", map[string]string{"Origin": "https://evil.test"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "无 Origin 的请求直接放行")

	rec = do(s, http.MethodOptions, "/api/download", map[string]string{
		"Origin":                        "https://x.web.app",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://x.web.app", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")
}

func TestOriginAllowed(t *testing.T) {
	list := map[string]bool{"https://a.test": true}
	assert.True(t, OriginAllowed("https://a.test", list))
	assert.True(t, OriginAllowed("https://foo.firebaseapp.com", list))
	assert.False(t, OriginAllowed("https://vercel.app.evil.test", list))
	assert.False(t, OriginAllowed("not a url", list))
}

func TestResolve(t *testing.T) {
	vidsrc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || r.URL.Query().Get("tmdb") != "550" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer vidsrc.Close()

	s := newTestServer(t, Config{VidSrcBase: vidsrc.URL, PublicBaseURL: "https://api.test/"}, Deps{Client: vidsrc.Client()})

	rec := do(s, http.MethodGet, "/api/resolve?type=movie&id=550", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	direct := vidsrc.URL + "/embed/movie?tmdb=550"
	assert.Equal(t, "vidsrc", body["source"])
	assert.Equal(t, direct, body["directUrl"])
	assert.Equal(t, true, body["isProxyNeeded"])
	assert.Equal(t, "https://api.test/api/proxy?url="+url.QueryEscape(direct)+"&referer="+url.QueryEscape(vidsrc.URL+"/"), body["proxiedUrl"])

	rec = do(s, http.MethodGet, "/api/resolve?type=tv&id=1&s=1&e=2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Source not found", decode(t, rec)["error"])
}

func TestVisionSniff(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	snf := &fakeSniffer{res: &domain.SniffResult{URL: "https://cdn.test/a.m3u8", Type: domain.StreamHLS, Timestamp: ts}}
	s := newTestServer(t, Config{}, Deps{Sniffer: snf})

	rec := do(s, http.MethodGet, "/api/vision/sniff?url="+url.QueryEscape("https://embed.test/e/1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "https://cdn.test/a.m3u8", body["url"])
	assert.Equal(t, "hls", body["type"])
	assert.Equal(t, "https://embed.test/e/1", snf.lastURL)

	snf.res = nil
	rec = do(s, http.MethodGet, "/api/vision/sniff?url=https://embed.test/e/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Could not detect video stream from source", body["error"])

	snf.err = sniffer.ErrInvalidURL
	rec = do(s, http.MethodGet, "/api/vision/sniff?url=ftp://x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	snf.err = errors.New("chrome missing")
	rec = do(s, http.MethodGet, "/api/vision/sniff?url=https://embed.test/e/1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestVisionDownload(t *testing.T) {
	snf := &fakeSniffer{piped: "bytes"}
	s := newTestServer(t, Config{}, Deps{Sniffer: snf})

	rec := do(s, http.MethodGet, "/api/vision/download?url=https://embed.test/e/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes", rec.Body.String())
	assert.Equal(t, `attachment; filename="download.mp4"`, rec.Header().Get("Content-Disposition"))

	snf.piped = ""
	rec = do(s, http.MethodGet, "/api/vision/download?url=https://embed.test/e/1&filename=x.mp4", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Stream not found", decode(t, rec)["error"])
}

func TestStreamRedirect(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})

	target := "https://cdn.test/v.mp4?sig=abc&exp=1"
	rec := do(s, http.MethodGet, "/api/stream/redirect?url="+url.QueryEscape(target), nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, target, rec.Header().Get("Location"))

	rec = do(s, http.MethodGet, "/api/stream/redirect?url=javascript:alert(1)", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadAndProxyDelegateToRelay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "" {
			w.Header().Set("X-Seen-Token", r.Header.Get("X-Token"))
		}
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, "v.mp4", time.Time{}, strings.NewReader(strings.Repeat("x", 1000)))
	}))
	defer upstream.Close()

	s := newTestServer(t, Config{}, Deps{Relay: rangeproxy.New(upstream.Client(), zerolog.Nop())})

	target := upstream.URL + "/v.mp4"
	hdrs := url.QueryEscape(`{"X-Token":"t1"}`)
	rec := do(s, http.MethodGet, "/api/download?url="+url.QueryEscape(target)+"&filename=a.mp4&headers="+hdrs,
		map[string]string{"Range": "bytes=0-499"})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-499/1000", rec.Header().Get("Content-Range"))
	assert.Len(t, rec.Body.String(), 500)

	rec = do(s, http.MethodGet, "/api/proxy?url="+url.QueryEscape(target), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
}

func TestParseHeaderParam(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1"}, parseHeaderParam(`{"a":"1"}`))
	assert.Equal(t, map[string]string{"a": "1"}, parseHeaderParam(url.QueryEscape(`{"a":"1"}`)))
	assert.Nil(t, parseHeaderParam("not json"))
	assert.Nil(t, parseHeaderParam(""))
}

func TestSearch(t *testing.T) {
	var gotQuery string
	search := SearchFunc(func(ctx context.Context, q string) ([]domain.ScrapedItem, domain.AggregateReport) {
		gotQuery = q
		return []domain.ScrapedItem{
				{Title: "Completely Different", URL: "u0", Source: domain.SourceSFlix},
				{Title: "Inception 2010", URL: "u1", Source: domain.SourceSFlix},
				{Title: "Inception", URL: "u2", Source: domain.SourceGogoAnime},
				{Title: "inception", URL: "u3", Source: domain.SourceGogoAnime},
			}, domain.AggregateReport{Sources: []domain.SourceResult{
				{Source: domain.SourceSFlix, Status: domain.SourceStatusOK},
				{Source: domain.SourceDramacool, Status: domain.SourceStatusFailed},
			}}
	})
	s := newTestServer(t, Config{}, Deps{Search: search})

	rec := do(s, http.MethodGet, "/api/search?title=Inception&year=2010", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Inception 2010", gotQuery)

	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Inception 2010", body.Query)
	assert.Equal(t, 1, body.Failed)
	require.Equal(t, body.Count, len(body.Results))
	require.NotEmpty(t, body.Results)
	for _, it := range body.Results {
		assert.NotEqual(t, "u0", it.URL, "不匹配的条目应被过滤")
		assert.NotEqual(t, "u3", it.URL, "同来源同归一化片名只保留首个")
	}
}

func TestDownloadsFiltersSnapshot(t *testing.T) {
	snap := fakeSnapshot{items: []domain.ScrapedItem{
		{Title: "The Matrix", URL: "a", Source: domain.SourceNetNaija},
		{Title: "Avatar", URL: "b", Source: domain.SourceFzMovies},
	}}
	s := newTestServer(t, Config{}, Deps{Snapshot: snap})

	rec := do(s, http.MethodGet, "/api/downloads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	rec = do(s, http.MethodGet, "/api/downloads?title=matrix", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "a", body.Results[0].URL)

	s = newTestServer(t, Config{}, Deps{Snapshot: fakeSnapshot{}})
	rec = do(s, http.MethodGet, "/api/downloads", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Results)

	s = newTestServer(t, Config{}, Deps{Snapshot: fakeSnapshot{err: errors.New("disk")}})
	rec = do(s, http.MethodGet, "/api/downloads", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	stopped := make(chan struct{})
	s := newTestServer(t, Config{Addr: "127.0.0.1:0"}, Deps{OnShutdown: func() { close(stopped) }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run 未在取消后返回")
	}
	select {
	case <-stopped:
	default:
		t.Fatal("OnShutdown 未被调用")
	}
}
