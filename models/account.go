package models

import "time"

// Account хранит метаданные авторизованного аккаунта, ключом служит номер телефона.
// Само соединение с Telegram живёт рядом в SessionStore и в файл не попадает.
type Account struct {
	CreatedAt     Timestamp  `json:"created_at"`
	LastUsed      Timestamp  `json:"last_used"`
	Groups        int        `json:"groups"`         // Количество групп, куда аккаунт может писать
	LastBroadcast *Timestamp `json:"last_broadcast"` // nil, если рассылок ещё не было
}

// NewAccount создаёт метаданные свежего аккаунта с нулевыми счётчиками.
func NewAccount(now time.Time) Account {
	return Account{
		CreatedAt: Timestamp{Time: now},
		LastUsed:  Timestamp{Time: now},
	}
}

// AccountStatus - срез состояния аккаунта для отчёта /status.
type AccountStatus struct {
	Phone         string     `json:"phone"`
	Groups        int        `json:"groups"`
	LastBroadcast *time.Time `json:"last_broadcast"`
	Expired       bool       `json:"expired"`
	ExpiresAt     time.Time  `json:"expiry_time"`
	Connected     bool       `json:"connected"` // есть ли живое соединение
}
