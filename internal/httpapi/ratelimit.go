package httpapi

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter ограничивает запросы на клиента (IP). Простаивающие клиенты вычищаются.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

// NewRateLimiter возвращает nil при rps<=0: ограничение выключено.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow расходует один токен клиента key.
func (l *RateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, cl := range l.clients {
			if now.Sub(cl.seen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}
	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = cl
	}
	cl.seen = now
	l.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// Middleware отвечает 429 при превышении лимита.
func (l *RateLimiter) Middleware(responder *Responder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			retryAfter := 1
			if l.limit > 0 && l.limit < 1 {
				retryAfter = int(1/float64(l.limit)) + 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			responder.Respond(c, ProblemRateLimited.WithDetail("rate limit exceeded"))
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
