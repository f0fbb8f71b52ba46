package middleware

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"atg_broadcast/internal/httputil"
)

// AuthRequired проверяет Bearer-токен из конфигурации.
func AuthRequired(token string) gin.HandlerFunc {
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if token == "" || subtle.ConstantTimeCompare(got, expected) != 1 {
			httputil.RespondError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

// RateLimit ограничивает число запросов с одного адреса: не больше max за window.
func RateLimit(window time.Duration, max int) gin.HandlerFunc {
	if max < 1 {
		max = 1
	}
	every := rate.Every(window / time.Duration(max))
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		mu.Lock()
		l, ok := limiters[ip]
		if !ok {
			l = rate.NewLimiter(every, max)
			limiters[ip] = l
		}
		mu.Unlock()
		if !l.Allow() {
			httputil.RespondError(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
