package accounts_auth

import (
	"context"
	"os"

	"github.com/go-faster/errors"
)

// Restore переподключает аккаунты из sessions.json по сохранённым файлам сессий.
// Аккаунт, чья сессия не найдена или больше не авторизована, остаётся
// в метаданных без соединения: в статусе он виден как connected=false.
func (m *Machine) Restore(ctx context.Context) int {
	restored := 0
	for _, phone := range m.store.Phones() {
		if ctx.Err() != nil {
			break
		}
		if _, ok := m.store.Get(phone); ok {
			continue
		}
		if m.check(ctx, phone) {
			restored++
		}
	}
	m.log.Info().Int("restored", restored).Int("accounts", len(m.store.Phones())).Msg("восстановление сессий завершено")
	return restored
}

// check подключает один аккаунт и проверяет, сохранилась ли авторизация.
func (m *Machine) check(ctx context.Context, phone string) bool {
	log := m.log.With().Str("phone", phone).Logger()
	path := m.store.SessionPath(phone)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("файл сессии не найден")
		} else {
			log.Error().Err(err).Msg("ошибка чтения файла сессии")
		}
		return false
	}

	if err := m.locker.Lock(phone); err != nil {
		log.Warn().Err(err).Msg("аккаунт занят, восстановление пропущено")
		return false
	}
	defer m.locker.Unlock(phone)

	c, err := m.dialer.Dial(ctx, phone, path)
	if err != nil {
		log.Error().Err(err).Msg("ошибка подключения")
		return false
	}
	ok, err := c.Authorized(ctx)
	if err != nil || !ok {
		m.closeConn(phone, c)
		if err != nil {
			log.Error().Err(err).Msg("ошибка проверки авторизации")
		} else {
			log.Warn().Msg("аккаунт больше не авторизован")
		}
		return false
	}
	if err := m.store.Attach(phone, c); err != nil {
		m.closeConn(phone, c)
		log.Error().Err(err).Msg("не удалось подключить аккаунт")
		return false
	}
	log.Info().Msg("сессия восстановлена")
	return true
}
