package models

import "time"

// LoginStage - этап незавершённого входа.
type LoginStage string

const (
	StageAwaitingCode     LoginStage = "awaiting_code"
	StageAwaitingPassword LoginStage = "awaiting_password"
)

// PendingLogin описывает номер, для которого запрошен код, но вход ещё не завершён.
// Временное соединение хранит машина состояний, здесь только данные для отчётов.
type PendingLogin struct {
	Phone         string     `json:"phone"`
	PhoneCodeHash string     `json:"-"`
	Stage         LoginStage `json:"stage"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// Expired сообщает, истёк ли срок жизни попытки входа.
func (p PendingLogin) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
