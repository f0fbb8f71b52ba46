package bot

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

const (
	replyUnauthorized = "You are not authorized to use this bot."
	replyRateLimited  = "Rate limit exceeded. Please wait before sending more commands."
)

// OwnerOnly пропускает дальше только команды владельца бота.
func OwnerOnly(ownerID int64, log zerolog.Logger) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			u := c.Sender()
			if u == nil || u.ID != ownerID {
				var id int64
				if u != nil {
					id = u.ID
				}
				log.Warn().Int64("user_id", id).Str("text", c.Text()).Msg("команда от постороннего пользователя")
				return c.Send(replyUnauthorized)
			}
			return next(c)
		}
	}
}

// RateLimiter ограничивает число команд одного пользователя: не больше max за window.
type RateLimiter struct {
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if max < 1 {
		max = 1
	}
	return &RateLimiter{
		every:    window / time.Duration(max),
		burst:    max,
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Allow расходует одну команду пользователя на момент now.
func (r *RateLimiter) Allow(userID int64, now time.Time) bool {
	r.mu.Lock()
	l, ok := r.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.every), r.burst)
		r.limiters[userID] = l
	}
	r.mu.Unlock()
	return l.AllowN(now, 1)
}

func (r *RateLimiter) Middleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			u := c.Sender()
			if u != nil && !r.Allow(u.ID, time.Now()) {
				return c.Send(replyRateLimited)
			}
			return next(c)
		}
	}
}
