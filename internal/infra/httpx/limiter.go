package httpx

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter 为每个 host 维护一个令牌桶。
type HostLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

func NewHostLimiter(limit rate.Limit, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{limit: limit, burst: burst, hosts: make(map[string]*rate.Limiter)}
}

// Wait 阻塞到该请求的 host 拿到令牌，或 ctx 结束。
func (l *HostLimiter) Wait(req *http.Request) error {
	return l.get(req.URL.Host).Wait(req.Context())
}

func (l *HostLimiter) get(host string) *rate.Limiter {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.hosts[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.hosts[host] = lim
	}
	return lim
}
