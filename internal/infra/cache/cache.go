package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/infra/fsx"
	"github.com/John-Robertt/streamlux/internal/provider"
)

// Snapshot 是抓取结果的落盘文件（扁平 JSON 数组）。
// 写入走临时文件 + rename：进程中途崩溃不会留下半截文件，旧快照保持可读。
type Snapshot struct {
	Path string
}

func NewSnapshot(path string) Snapshot {
	return Snapshot{Path: filepath.Clean(strings.TrimSpace(path))}
}

func (s Snapshot) Write(items []domain.ScrapedItem) error {
	if items == nil {
		items = []domain.ScrapedItem{}
	}
	return fsx.WriteJSONAtomic(s.Path, items)
}

// Read 读取快照；文件不存在时返回 (nil, false, nil)。
func (s Snapshot) Read() ([]domain.ScrapedItem, bool, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var items []domain.ScrapedItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, true, fmt.Errorf("快照解析失败 %q: %w", s.Path, err)
	}
	return items, true, nil
}

// Store 提供 <root>/sources/<source>/ 下的原始页面存档（用于排查与制作 fixture）。
//
// 约束：
// - ReadOnly=true：只允许读
// - 同一来源的多页按序号命名：page-1.html、page-2.json ...
type Store struct {
	Root     string
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// SourcePagePath 返回第 n 页（1 起）的存档路径；ext 不带点，例如 "html"。
func (s Store) SourcePagePath(source domain.Source, n int, ext string) (string, error) {
	dir, err := cleanSource(source)
	if err != nil {
		return "", err
	}
	if n <= 0 {
		return "", fmt.Errorf("页码必须 >= 1：%d", n)
	}
	if !extRE.MatchString(ext) {
		return "", fmt.Errorf("非法扩展名：%q", ext)
	}
	return filepath.Join(s.Root, "sources", dir, "page-"+strconv.Itoa(n)+"."+ext), nil
}

func (s Store) ReadSourcePage(source domain.Source, n int, ext string) ([]byte, bool, error) {
	path, err := s.SourcePagePath(source, n, ext)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s Store) WriteSourcePage(source domain.Source, n int, ext string, body []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.SourcePagePath(source, n, ext)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(path, body)
}

// Record 包装 p：每次 Fetch 成功后把原始页面写入 s（写失败不影响抓取结果）。
func Record(p provider.Provider, s Store) provider.Provider {
	return recorder{Provider: p, store: s}
}

type recorder struct {
	provider.Provider
	store Store
}

func (r recorder) Fetch(ctx context.Context, query string, c *http.Client) ([]provider.Page, error) {
	pages, err := r.Provider.Fetch(ctx, query, c)
	if err != nil {
		return nil, err
	}
	for i, pg := range pages {
		_ = r.store.WriteSourcePage(r.Name(), i+1, pageExt(pg.Body), pg.Body)
	}
	return pages, nil
}

func pageExt(b []byte) string {
	t := strings.TrimSpace(string(b[:min(len(b), 64)]))
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		return "json"
	}
	return "html"
}

var (
	sourceNameRE = regexp.MustCompile(`^[a-z0-9_]+$`)
	extRE        = regexp.MustCompile(`^[a-z]{2,5}$`)
)

func cleanSource(s domain.Source) (string, error) {
	p := strings.ToLower(strings.TrimSpace(string(s)))
	if p == "" {
		return "", fmt.Errorf("source 不能为空")
	}
	// "OK.ru" -> "ok_ru"
	p = strings.ReplaceAll(p, ".", "_")
	if !sourceNameRE.MatchString(p) {
		return "", fmt.Errorf("非法 source：%q", s)
	}
	return p, nil
}
