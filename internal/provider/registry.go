package provider

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/streamlux/internal/domain"
)

// Registry 是 provider 的只读注册表。
// 按 name 索引之外还保留注册顺序：聚合结果的合并顺序就是注册顺序。
type Registry struct {
	byName map[string]Provider
	order  []Provider
}

func NewRegistry(providers ...Provider) (Registry, error) {
	byName := make(map[string]Provider, len(providers))
	order := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			return Registry{}, fmt.Errorf("provider 不能为空")
		}
		name := key(p.Name())
		if name == "" {
			return Registry{}, fmt.Errorf("provider.Name 不能为空")
		}
		if p.Mode() == 0 {
			return Registry{}, fmt.Errorf("provider %q 未声明 Mode", p.Name())
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 provider：%q", name)
		}
		byName[name] = p
		order = append(order, p)
	}
	return Registry{byName: byName, order: order}, nil
}

func (r Registry) Get(name domain.Source) (Provider, bool) {
	if r.byName == nil {
		return nil, false
	}
	p, ok := r.byName[key(name)]
	return p, ok
}

// All 按注册顺序返回全部 provider（返回副本）。
func (r Registry) All() []Provider {
	return append([]Provider(nil), r.order...)
}

// WithMode 按注册顺序返回支持 m 的 provider。
func (r Registry) WithMode(m Mode) []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, p := range r.order {
		if p.Mode().Has(m) {
			out = append(out, p)
		}
	}
	return out
}

func (r Registry) Len() int { return len(r.order) }

func key(s domain.Source) string { return strings.ToLower(strings.TrimSpace(string(s))) }
