package server

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) uptime() float64 { return time.Since(s.started).Seconds() }

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    s.uptime(),
		"service":   "streamlux",
	})
}

func (s *Server) apiHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    s.uptime(),
		"message":   "StreamLux backend is running",
	})
}

func (s *Server) ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"pong":      true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) keepAlive(c echo.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mb := func(b uint64) string { return fmt.Sprintf("%dMB", b/1024/1024) }

	return c.JSON(http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    s.uptime(),
		"memory": map[string]string{
			"sys":       mb(m.Sys),
			"heapAlloc": mb(m.HeapAlloc),
			"heapInuse": mb(m.HeapInuse),
		},
		"goroutines": runtime.NumGoroutine(),
		"goVersion":  runtime.Version(),
		"platform":   runtime.GOOS,
	})
}
