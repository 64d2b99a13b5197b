package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// limiterIdle is how long a client IP may stay quiet before its bucket is
// dropped. A bucket refills completely within a minute, so a dropped one
// behaves exactly like a new one.
const limiterIdle = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one token bucket per client IP.
type limiterStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	every     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func newLimiterStore(every rate.Limit, burst int) *limiterStore {
	return &limiterStore{
		visitors: make(map[string]*visitor),
		every:    every,
		burst:    burst,
		now:      time.Now,
	}
}

func (s *limiterStore) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= limiterIdle {
		s.sweep(now)
	}
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.every, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle visitors. Callers hold mu.
func (s *limiterStore) sweep(now time.Time) {
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) >= limiterIdle {
			delete(s.visitors, key)
		}
	}
	s.lastSweep = now
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// RateLimit allows perMinute requests per client IP with an equal burst.
func RateLimit(perMinute int, log *zap.Logger) gin.HandlerFunc {
	if perMinute <= 0 {
		perMinute = 120
	}
	store := newLimiterStore(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	return rateLimit(store, log)
}

func rateLimit(store *limiterStore, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !store.allow(ip) {
			log.Warn("rate limit exceeded", zap.String("ip", ip))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}
