// Package server 是 echo 之上的薄 HTTP 层：注册路由、CORS、请求日志，
// 并把参数校验后的请求交给 sniffer / rangeproxy / aggregate。
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/streamlux/internal/domain"
	"github.com/John-Robertt/streamlux/internal/rangeproxy"
)

const (
	DefaultVidSrcBase = "https://vidsrc.me"
	shutdownTimeout   = 10 * time.Second
)

type (
	// Sniffer 由 *sniffer.Sniffer 实现。
	Sniffer interface {
		Sniff(ctx context.Context, embedURL string) (*domain.SniffResult, error)
		SniffAndPipe(ctx context.Context, embedURL string, w http.ResponseWriter, filename string) (bool, error)
	}

	// Searcher 把一个查询扇出到支持搜索的来源。
	Searcher interface {
		Search(ctx context.Context, query string) ([]domain.ScrapedItem, domain.AggregateReport)
	}

	// Snapshot 由 cache.Snapshot 实现。
	Snapshot interface {
		Read() ([]domain.ScrapedItem, bool, error)
	}

	Config struct {
		Addr          string
		CORSOrigins   []string
		PublicBaseURL string
		// VidSrcBase 为空时使用 DefaultVidSrcBase。
		VidSrcBase string
	}

	Deps struct {
		Sniffer  Sniffer
		Relay    *rangeproxy.Relay
		Search   Searcher
		Snapshot Snapshot
		// Client 用于 /api/resolve 的探测请求（应带整体超时）。
		Client *http.Client
		// OnShutdown 在 HTTP 服务停止之后调用（例如关闭浏览器）。
		OnShutdown func()
	}

	// Server 持有 echo 实例与各端点依赖。
	Server struct {
		cfg     Config
		deps    Deps
		ec      *echo.Echo
		log     zerolog.Logger
		started time.Time
	}
)

// SearchFunc 让普通函数满足 Searcher。
type SearchFunc func(ctx context.Context, query string) ([]domain.ScrapedItem, domain.AggregateReport)

func (f SearchFunc) Search(ctx context.Context, query string) ([]domain.ScrapedItem, domain.AggregateReport) {
	return f(ctx, query)
}

// New 构造 echo 路由并注册全部端点。
func New(cfg Config, deps Deps, log zerolog.Logger) *Server {
	if cfg.VidSrcBase == "" {
		cfg.VidSrcBase = DefaultVidSrcBase
	}
	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: 15 * time.Second}
	}
	log = log.With().Str("component", "server").Logger()

	ec := echo.New()
	ec.HideBanner = true
	ec.HidePort = true
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, mw []echo.MiddlewareFunc) {
		log.Debug().Str("method", route.Method).Str("path", route.Path).Msg("注册路由")
	}

	s := &Server{cfg: cfg, deps: deps, ec: ec, log: log, started: time.Now()}

	ec.Use(middleware.Recover())
	ec.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	ec.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil || v.Status >= 500 {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("request_id", v.RequestID).Str("method", v.Method).Str("uri", v.URI).
				Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))
	ec.Use(middleware.CORSWithConfig(corsConfig(cfg.CORSOrigins)))

	s.routes()
	return s
}

func (s *Server) routes() {
	getHead := []string{http.MethodGet, http.MethodHead}
	s.ec.Match(getHead, "/health", s.health)

	api := s.ec.Group("/api")
	api.Match(getHead, "/health", s.apiHealth)
	api.Match(getHead, "/ping", s.ping)
	api.GET("/keep-alive", s.keepAlive)

	api.GET("/proxy", s.proxy)
	api.GET("/download", s.download)
	api.GET("/resolve", s.resolve)
	api.GET("/stream/redirect", s.redirect)
	api.GET("/vision/sniff", s.visionSniff)
	api.GET("/vision/download", s.visionDownload)

	api.GET("/search", s.search)
	api.GET("/downloads", s.downloads)
}

// Handler 暴露底层路由（测试或自定义 http.Server 使用）。
func (s *Server) Handler() http.Handler { return s.ec }

// Run 启动监听直到 ctx 取消；之后优雅停止 echo，再调用 OnShutdown。
// 父 ctx 取消不视为错误。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("开始监听")
		errCh <- s.ec.Start(s.cfg.Addr)
	}()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.ec.Shutdown(shCtx); err != nil {
			s.log.Warn().Err(err).Msg("优雅停止超时，强制关闭")
			_ = s.ec.Close()
		}
		cancel()
		<-errCh
	}

	if s.deps.OnShutdown != nil {
		s.deps.OnShutdown()
	}
	s.log.Info().Msg("服务已停止")
	return runErr
}

var corsSuffixes = []string{".vercel.app", ".web.app", ".firebaseapp.com"}

// corsConfig：列表为空或含 "*" 时放行全部来源；否则按白名单 + 常见部署域名后缀放行。
// 不带 Origin 的请求（curl、下载导航）由 echo 直接放行。
func corsConfig(origins []string) middleware.CORSConfig {
	allowed := make(map[string]bool, len(origins))
	allowAll := len(origins) == 0
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			allowed[o] = true
		}
	}

	return middleware.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return allowAll || OriginAllowed(origin, allowed), nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Range", "Accept", "Origin", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length", "Content-Range", "Accept-Ranges",
			"Content-Disposition", "ETag", "Content-Type", "Location",
		},
		MaxAge: 86400,
	}
}

// OriginAllowed 判断 origin 是否在白名单里，或属于允许的部署域名后缀。
func OriginAllowed(origin string, allowlist map[string]bool) bool {
	if allowlist[origin] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, suf := range corsSuffixes {
		if strings.HasSuffix(host, suf) {
			return true
		}
	}
	return false
}

// errorJSON 输出 {error, ...extra}；extra 为成对的键值。
func errorJSON(c echo.Context, status int, msg string, extra ...any) error {
	body := map[string]any{"error": msg}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			body[k] = extra[i+1]
		}
	}
	return c.JSON(status, body)
}
