package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	rateLimitCleanupThreshold = 500
	rateLimitMaxIdleAge       = 10 * time.Minute
	rateLimitExceededMessage  = "Too many requests, please try again later."
	healthPath                = "/api/health"

	headerRateLimitTotal     = "X-RateLimit-Total"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client address and prunes idle ones inline.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewIPRateLimiter allows requestsPerMinute sustained requests with the given burst per address.
func NewIPRateLimiter(requestsPerMinute, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(requestsPerMinute) / time.Minute.Seconds()),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *IPRateLimiter) limiterFor(address string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.clients) > rateLimitCleanupThreshold {
		cutoff := now.Add(-rateLimitMaxIdleAge)
		for key, client := range l.clients {
			if client.lastSeen.Before(cutoff) {
				delete(l.clients, key)
			}
		}
	}

	client, exists := l.clients[address]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[address] = client
	}
	client.lastSeen = now
	return client.limiter
}

// Middleware rejects requests over the budget with 429. Health checks are never limited.
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == healthPath {
			c.Next()
			return
		}

		now := l.now()
		limiter := l.limiterFor(c.ClientIP())
		allowed := limiter.AllowN(now, 1)
		remaining := int(math.Max(0, math.Floor(limiter.TokensAt(now))))
		reset := now.Add(l.refillDelay())

		c.Header(headerRateLimitTotal, strconv.Itoa(l.burst))
		c.Header(headerRateLimitRemaining, strconv.Itoa(remaining))
		c.Header(headerRateLimitReset, strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(l.refillDelay().Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      rateLimitExceededMessage,
				"status":     http.StatusTooManyRequests,
				"retryAfter": reset.Unix(),
			})
			return
		}
		c.Next()
	}
}

func (l *IPRateLimiter) refillDelay() time.Duration {
	if l.limit <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / float64(l.limit))
}
