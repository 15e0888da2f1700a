package yts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/John-Robertt/streamlux/internal/domain"
	providerx "github.com/John-Robertt/streamlux/internal/provider"
)

func TestParse_Page(t *testing.T) {
	b, err := os.ReadFile(filepath.Join("testdata", "page1.json"))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	items, err := Provider{}.Parse(providerx.Page{URL: Provider{}.PageURL(1), Body: b})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(items) != 2 {
		t.Fatalf("期望 2 条，实际=%d", len(items))
	}
	first := items[0]
	if first.Title != "Dune: Part Two (2024)" || first.Quality != "1080p" || first.Year != 2024 || first.Rating != 8.6 {
		t.Fatalf("第一条不符合预期：%+v", first)
	}
	if first.Date != "2024-05-01 10:00:00" || first.Source != domain.SourceYTS {
		t.Fatalf("date/source 不符合预期：%+v", first)
	}
	if items[1].Quality != defaultQuality {
		t.Fatalf("无 torrent 时应回退 HD，实际=%q", items[1].Quality)
	}
}

func TestParse_StatusNotOK(t *testing.T) {
	_, err := Provider{}.Parse(providerx.Page{Body: []byte(`{"status":"error","status_message":"bad"}`)})
	if err == nil {
		t.Fatalf("期望 status!=ok 报错")
	}
}

func TestFetch_ThreePages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if r.URL.Path != listPath || q.Get("limit") != "50" || q.Get("sort_by") != "date_added" || q.Get("order_by") != "desc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","data":{"movies":[]}}`))
	}))
	defer srv.Close()

	pages, err := Provider{BaseURL: srv.URL}.Fetch(context.Background(), "", srv.Client())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(pages) != 3 || calls.Load() != 3 {
		t.Fatalf("期望 3 页，实际 pages=%d calls=%d", len(pages), calls.Load())
	}
}

func TestFetch_PageFailureFailsAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","data":{"movies":[]}}`))
	}))
	defer srv.Close()

	if _, err := (Provider{BaseURL: srv.URL}).Fetch(context.Background(), "", srv.Client()); err == nil {
		t.Fatalf("期望第 2 页失败时整体报错")
	}
}
