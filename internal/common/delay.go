package common

import (
	"context"
	"time"
)

// Sleep ожидает d и прерывается при отмене контекста.
// Используется для пауз, которые Telegram назначает при флуд-ожидании:
// они бывают долгими, и остановка процесса не должна их дожидаться.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// Возвращаем ошибку контекста, чтобы вызвать обработку прерывания выше по стеку.
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
