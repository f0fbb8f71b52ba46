package bot

import (
	"context"
	"strings"
	"sync"
	"time"
)

// confirmations ждёт ответ владельца в чате, например YES для /clearall.
type confirmations struct {
	mu      sync.Mutex
	waiters map[int64]chan string
}

func newConfirmations() *confirmations {
	return &confirmations{waiters: make(map[int64]chan string)}
}

// Deliver передаёт текст ожидающему подтверждению. false, если в чате никто не ждёт.
func (c *confirmations) Deliver(chatID int64, text string) bool {
	c.mu.Lock()
	ch, ok := c.waiters[chatID]
	if ok {
		delete(c.waiters, chatID)
	}
	c.mu.Unlock()
	if ok {
		ch <- text
	}
	return ok
}

// Await ждёт следующее сообщение чата не дольше timeout.
// Возвращает true только если ответ YES (без учёта регистра).
// Второе значение false означает, что ответа не было.
func (c *confirmations) Await(ctx context.Context, chatID int64, timeout time.Duration) (confirmed, answered bool) {
	ch := make(chan string, 1)
	c.mu.Lock()
	c.waiters[chatID] = ch
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case text := <-ch:
		return strings.EqualFold(strings.TrimSpace(text), "YES"), true
	case <-timer.C:
	case <-ctx.Done():
	}

	c.mu.Lock()
	if c.waiters[chatID] == ch {
		delete(c.waiters, chatID)
	}
	c.mu.Unlock()
	return false, false
}
