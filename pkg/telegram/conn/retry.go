package conn

import (
	"context"
	"time"
)

// SleepFunc ожидает d или отмены контекста.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryFloodOnce выполняет op и при флуд-ожидании повторяет его ровно один раз
// после паузы, указанной Telegram. Прочие ошибки возвращаются сразу.
// Ошибка второй попытки возвращается как есть, третьей попытки не бывает.
func RetryFloodOnce(ctx context.Context, sleep SleepFunc, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	wait, ok := AsFloodWait(err)
	if !ok {
		return err
	}
	if err := sleep(ctx, wait); err != nil {
		return err
	}
	return op(ctx)
}
