package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/streamlux/internal/domain"
)

func TestProgressUI_Lifecycle(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)

	p.OnStart([]domain.Source{domain.SourceNetNaija, domain.SourceYTS}, "")
	p.OnSourceDone(1, 2, domain.SourceResult{Source: domain.SourceYTS, Count: 0, Status: domain.SourceStatusFailed, Error: "HTTP 503"}, time.Second)
	p.OnSourceDone(2, 2, domain.SourceResult{Source: domain.SourceNetNaija, Count: 3, Status: domain.SourceStatusOK}, 1500*time.Millisecond)
	if p.tickerStarted {
		t.Fatalf("最后一个来源完成后 ticker 应停止")
	}
	p.OnFinish(domain.AggregateReport{Total: 3})

	out := buf.String()
	for _, want := range []string{"sources=2", "[1/2] YTS FAIL HTTP 503", "[2/2] NetNaija OK items=3 (1.5s)", "汇总: items=3 ok=1 fail=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
}

func TestProgressUI_KeepaliveListsPending(t *testing.T) {
	var buf safeBuffer
	p := newProgressUI(&buf)
	p.keepaliveThreshold = time.Millisecond
	p.tickerInterval = 5 * time.Millisecond

	p.OnStart([]domain.Source{domain.SourceSFlix, domain.SourceGogoAnime}, "inception")
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "进度:") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.OnFinish(domain.AggregateReport{})

	out := buf.String()
	if !strings.Contains(out, `search "inception"`) {
		t.Fatalf("期望输出搜索模式：\n%s", out)
	}
	if !strings.Contains(out, "waiting=GogoAnime,SFlix") {
		t.Fatalf("期望 keepalive 列出未完成来源：\n%s", out)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatElapsed(3723 * time.Second); got != "01:02:03" {
		t.Fatalf("formatElapsed 错误：%q", got)
	}
	if got := formatShortDuration(-time.Second); got != "0.0s" {
		t.Fatalf("formatShortDuration 错误：%q", got)
	}
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Fatalf("truncate 错误：%q", got)
	}
}
