package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/provider"
)

func TestSnapshot_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "downloads.json")
	s := NewSnapshot(path)

	if _, ok, err := s.Read(); ok || err != nil {
		t.Fatalf("不存在的快照应返回 ok=false err=nil，实际 ok=%v err=%v", ok, err)
	}

	in := []domain.ScrapedItem{
		{Title: "Heat", URL: "https://x.test/heat", Source: domain.SourceNetNaija, Category: "Movie"},
		{Title: "Dark", URL: "https://x.test/dark", Source: domain.SourceO2TvSeries, Category: "Series"},
	}
	if err := s.Write(in); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	got, ok, err := s.Read()
	if err != nil || !ok {
		t.Fatalf("读取失败：ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != in[0] || got[1] != in[1] {
		t.Fatalf("快照内容不一致：%+v", got)
	}
}

func TestSnapshot_WriteNilIsEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	if err := NewSnapshot(path).Write(nil); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "[]\n" {
		t.Fatalf("期望空数组，实际=%q", string(b))
	}
}

func TestStore_ReadWriteSourcePage(t *testing.T) {
	s := New(t.TempDir(), false)
	if err := s.WriteSourcePage(domain.SourceOkRu, 1, "html", []byte("<html/>")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, ok, err := s.ReadSourcePage(domain.SourceOkRu, 1, "html")
	if err != nil || !ok || string(b) != "<html/>" {
		t.Fatalf("读取不符合预期：ok=%v err=%v b=%q", ok, err, string(b))
	}
	path, _ := s.SourcePagePath(domain.SourceOkRu, 1, "html")
	if filepath.Base(filepath.Dir(path)) != "ok_ru" {
		t.Fatalf("source 目录名不符合预期：%q", path)
	}
}

func TestStore_ReadOnlyAndInvalidNames(t *testing.T) {
	s := New(t.TempDir(), true)
	if err := s.WriteSourcePage(domain.SourceYTS, 1, "json", []byte(`{}`)); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}
	if _, err := s.SourcePagePath("../etc", 1, "html"); err == nil {
		t.Fatalf("期望拒绝路径穿越")
	}
	if _, err := s.SourcePagePath(domain.SourceYTS, 0, "json"); err == nil {
		t.Fatalf("期望拒绝页码 0")
	}
}

type pagesProvider struct{ pages []provider.Page }

func (pagesProvider) Name() domain.Source { return domain.SourceYTS }
func (pagesProvider) Mode() provider.Mode { return provider.ModeListing }
func (p pagesProvider) Parse(provider.Page) ([]domain.ScrapedItem, error) { return nil, nil }
func (p pagesProvider) Fetch(context.Context, string, *http.Client) ([]provider.Page, error) {
	return p.pages, nil
}

func TestRecord_WritesEveryPage(t *testing.T) {
	s := New(t.TempDir(), false)
	p := Record(pagesProvider{pages: []provider.Page{
		{URL: "u1", Body: []byte(` {"status":"ok"}`)},
		{URL: "u2", Body: []byte(`<html></html>`)},
	}}, s)

	pages, err := p.Fetch(context.Background(), "", nil)
	if err != nil || len(pages) != 2 {
		t.Fatalf("Fetch 不符合预期：%v %d", err, len(pages))
	}
	if p.Name() != domain.SourceYTS {
		t.Fatalf("包装后应保留 Name")
	}
	if _, ok, _ := s.ReadSourcePage(domain.SourceYTS, 1, "json"); !ok {
		t.Fatalf("第 1 页应按 json 存档")
	}
	if _, ok, _ := s.ReadSourcePage(domain.SourceYTS, 2, "html"); !ok {
		t.Fatalf("第 2 页应按 html 存档")
	}
}
