package aggregate

import (
	"time"

	"github.com/John-Robertt/streamlux/internal/domain"
)

// Observer 把“聚合进度/来源结果”从核心执行流程中解耦出来。
//
// 约束：
// - aggregate 包只负责发事件，不做任何输出
// - 实现必须并发安全：OnSourceDone 来自多个 goroutine
type Observer interface {
	// OnStart 在开始抓取前调用；query 为空表示列表模式。
	OnStart(sources []domain.Source, query string)
	// OnSourceDone 在某个来源结束（成功/失败）时调用，done 为已完成数量。
	OnSourceDone(done, total int, res domain.SourceResult, dur time.Duration)
	// OnFinish 在全部来源结束并完成合并后调用一次。
	OnFinish(rep domain.AggregateReport)
}

type nopObserver struct{}

func (nopObserver) OnStart([]domain.Source, string) {}
func (nopObserver) OnSourceDone(int, int, domain.SourceResult, time.Duration) {}
func (nopObserver) OnFinish(domain.AggregateReport) {}
