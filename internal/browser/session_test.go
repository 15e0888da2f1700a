package browser

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPage(filter Filter) *page {
	return &page{
		ctx:      context.Background(),
		cancel:   func() {},
		filter:   filter,
		events:   make(chan Event, 8),
		inflight: newInflight(),
		log:      zerolog.Nop(),
	}
}

func TestPage_PausedRequestGoesThroughFilter(t *testing.T) {
	var seen []string
	p := newTestPage(func(r Request) Decision {
		seen = append(seen, r.URL)
		if r.ResourceType == ResourceImage {
			return Abort
		}
		return Continue
	})

	p.onEvent(&fetch.EventRequestPaused{
		RequestID:    "r1",
		ResourceType: network.ResourceTypeImage,
		Request:      &network.Request{URL: "https://cdn.test/a.png", Method: "GET"},
	})
	p.onEvent(&fetch.EventRequestPaused{
		RequestID:    "r2",
		ResourceType: network.ResourceTypeMedia,
		Request: &network.Request{
			URL:     "https://cdn.test/v.mp4",
			Method:  "GET",
			Headers: network.Headers{"Referer": "https://embed.test/", "X-Num": 3},
		},
	})

	require.Equal(t, []string{"https://cdn.test/a.png", "https://cdn.test/v.mp4"}, seen)
	require.Len(t, p.events, 1, "被中止的请求不应投递事件")

	ev := <-p.events
	require.NotNil(t, ev.Request)
	assert.Equal(t, "r2", ev.Request.ID)
	assert.Equal(t, ResourceMedia, ev.Request.ResourceType)
	assert.Equal(t, "https://embed.test/", ev.Request.Headers["Referer"])
	assert.Equal(t, "3", ev.Request.Headers["X-Num"])
}

func TestPage_ResponseAndInflight(t *testing.T) {
	p := newTestPage(nil)

	p.onEvent(&network.EventRequestWillBeSent{RequestID: "a"})
	p.onEvent(&network.EventRequestWillBeSent{RequestID: "b"})
	assert.Equal(t, 2, p.inflight.count())

	p.onEvent(&network.EventLoadingFinished{RequestID: "a"})
	p.onEvent(&network.EventLoadingFailed{RequestID: "b"})
	assert.Equal(t, 0, p.inflight.count())

	p.onEvent(&network.EventResponseReceived{
		RequestID: "a",
		Response:  &network.Response{URL: "https://cdn.test/master.m3u8", Status: 200, MimeType: "application/vnd.apple.mpegurl"},
	})
	ev := <-p.events
	require.NotNil(t, ev.Response)
	assert.Equal(t, 200, ev.Response.Status)
	assert.Equal(t, "https://cdn.test/master.m3u8", ev.Response.URL)
}

func TestPage_CloseIsIdempotentAndSilencesCallbacks(t *testing.T) {
	called := 0
	p := newTestPage(func(Request) Decision { called++; return Continue })

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	p.onEvent(&fetch.EventRequestPaused{RequestID: "x", Request: &network.Request{URL: "https://a.test/x.m3u8"}})
	p.onEvent(&network.EventResponseReceived{RequestID: "x", Response: &network.Response{URL: "https://a.test/x.m3u8"}})
	assert.Zero(t, called, "关闭后不应再调用 filter")

	_, ok := <-p.Events()
	assert.False(t, ok, "关闭后事件通道应已关闭")

	err := p.Navigate(context.Background(), "https://a.test/")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = p.ClickPlay(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPage_EmitDropsWhenFull(t *testing.T) {
	p := newTestPage(nil)
	for i := 0; i < cap(p.events)+3; i++ {
		p.emit(Event{Response: &Response{URL: "u"}})
	}
	assert.Equal(t, cap(p.events), len(p.events))
	assert.Equal(t, 3, p.dropped)
}

func TestInflight_WaitIdle(t *testing.T) {
	f := newInflight()
	for _, id := range []string{"1", "2", "3"} {
		f.start(id)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.finish("1")
	}()

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.waitIdle(ctx, 2, 50*time.Millisecond, 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(started), 80*time.Millisecond-10*time.Millisecond)
}

func TestInflight_WaitIdleHonorsContext(t *testing.T) {
	f := newInflight()
	for _, id := range []string{"1", "2", "3"} {
		f.start(id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.waitIdle(ctx, 2, 10*time.Millisecond, 5*time.Millisecond), context.DeadlineExceeded)
}

func TestSession_ShutdownRejectsNewPages(t *testing.T) {
	s := NewSession(Options{Headless: true}, zerolog.Nop())
	s.Shutdown()
	_, err := s.NewPage(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_LaunchHonorsCallerContext(t *testing.T) {
	s := NewSession(Options{Headless: true}, zerolog.Nop())
	defer s.Shutdown()

	release := make(chan struct{})
	var starts atomic.Int32
	s.start = func(ctx context.Context) error {
		starts.Add(1)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err := s.browser(ctx)
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		case <-time.After(2 * time.Second):
			t.Fatal("启动卡住时调用方应按自身 ctx 返回")
		}
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bctx, err := s.browser(ctx)
	require.NoError(t, err)
	require.NotNil(t, bctx)
	assert.EqualValues(t, 1, starts.Load(), "并发调用方应共享同一次启动")
}

func TestSession_LaunchTimeoutAndRetry(t *testing.T) {
	s := NewSession(Options{Headless: true}, zerolog.Nop())
	defer s.Shutdown()
	s.launchTimeout = 30 * time.Millisecond

	var starts atomic.Int32
	s.start = func(ctx context.Context) error {
		if starts.Add(1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return errors.New("no chrome")
	}

	_, err := s.browser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "超时")

	_, err = s.browser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chrome")
	assert.EqualValues(t, 2, starts.Load(), "失败后下一次调用应重新启动")
}

// 需要本机 Chrome；设置 STREAMLUX_CHROME_TEST=1 才会运行。
func TestSession_RealBrowser(t *testing.T) {
	if os.Getenv("STREAMLUX_CHROME_TEST") == "" {
		t.Skip("未设置 STREAMLUX_CHROME_TEST")
	}
	s := NewSession(Options{Headless: true, ExecPath: os.Getenv("CHROME_PATH")}, zerolog.Nop())
	defer s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pg, err := s.NewPage(ctx, nil)
	require.NoError(t, err)
	defer pg.Close()

	require.NoError(t, pg.Navigate(ctx, "data:text/html,<button onclick=\"document.title='x'\">play</button>"))
	clicked, err := pg.ClickPlay(ctx)
	require.NoError(t, err)
	assert.True(t, clicked)
}
