package domain

import (
	"sort"
	"time"
)

const (
	SourceStatusOK     = "ok"
	SourceStatusEmpty  = "empty"
	SourceStatusFailed = "failed"
)

// AggregateReport 是一次聚合运行的摘要（控制台输出 / report.json）。
type AggregateReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total   int            `json:"total"`
	Sources []SourceResult `json:"sources"`
}

type SourceResult struct {
	Source Source `json:"source"`
	Count  int    `json:"count"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	// Order 是注册顺序，只用于排序，不输出。
	Order int `json:"-"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) sources 按注册顺序稳定排序（并发完成顺序不可预测）
// 3) total 与 status 由 count/error 计算得出
func (r *AggregateReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Sources, func(i, j int) bool { return r.Sources[i].Order < r.Sources[j].Order })

	total := 0
	for i := range r.Sources {
		s := &r.Sources[i]
		total += s.Count
		switch {
		case s.Error != "":
			s.Status = SourceStatusFailed
		case s.Count == 0:
			s.Status = SourceStatusEmpty
		default:
			s.Status = SourceStatusOK
		}
	}
	r.Total = total
	if r.Sources == nil {
		r.Sources = []SourceResult{}
	}
}

// Failed 返回失败来源数量。
func (r AggregateReport) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Status == SourceStatusFailed {
			n++
		}
	}
	return n
}
