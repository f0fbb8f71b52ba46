package conn

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrPasswordRequired - для аккаунта включена двухфакторная защита.
	ErrPasswordRequired = errors.New("two-step verification password required")
	ErrBadCode          = errors.New("invalid or expired code")
	ErrBadPassword      = errors.New("invalid password")

	ErrPrivacyRestricted = errors.New("privacy restricted")
	ErrWriteForbidden    = errors.New("write forbidden")
	ErrPeerFlood         = errors.New("peer flood")
)

// FloodWaitError - Telegram просит подождать Wait перед повтором.
type FloodWaitError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodWaitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flood wait %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("flood wait %s", e.Wait)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// AsFloodWait извлекает длительность ожидания из ошибки.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}

// IsPermissionDenied сообщает, что действие запрещено настройками чата или собеседника.
// Такие ошибки не повторяются.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPrivacyRestricted) ||
		errors.Is(err, ErrWriteForbidden) ||
		errors.Is(err, ErrPeerFlood)
}

// IsAuthFailure - неверный код или пароль, попытку входа можно повторить.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrBadCode) || errors.Is(err, ErrBadPassword)
}
