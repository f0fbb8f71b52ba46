// Package app собирает хранилища и движки в один набор сервисов,
// которым пользуются бот и HTTP API.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"atg_broadcast/internal/config"
	"atg_broadcast/pkg/storage"
	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/accounts_auth"
	"atg_broadcast/pkg/telegram/broadcast"
	"atg_broadcast/pkg/telegram/conn"
	"atg_broadcast/pkg/telegram/groups"
)

type Services struct {
	Store    *storage.SessionStore
	History  *storage.History
	Locker   *account_mutex.Locker
	Auth     *accounts_auth.Machine
	Engine   *broadcast.Engine
	Scanner  *groups.Scanner
	Criteria groups.Criteria
	Format   conn.Format
	Started  time.Time

	log zerolog.Logger
}

// Build создаёт сервисы по конфигурации. Ошибка чтения sessions.json
// прерывает запуск, чтобы не затереть файл пустыми метаданными.
func Build(ctx context.Context, cfg config.Config, dialer conn.Dialer, log zerolog.Logger) (*Services, error) {
	format, err := conn.ParseFormat(cfg.Broadcast.DefaultFormat)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSessionStore(cfg.Sessions.Dir, cfg.Sessions.Expiry.D(), log)
	if err != nil {
		return nil, err
	}
	if err := store.Load(); err != nil {
		return nil, errors.Wrap(err, "load sessions")
	}

	var sink storage.HistorySink
	if cfg.History.Driver != "" {
		h, err := storage.OpenSQLHistory(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "open history")
		}
		sink = h
	}
	history := storage.NewHistory(cfg.Broadcast.HistorySize, sink, log)

	locker := account_mutex.New(log)
	inspector := groups.NewInspector(log)
	s := &Services{
		Store:    store,
		History:  history,
		Locker:   locker,
		Auth:     accounts_auth.NewMachine(store, dialer, inspector, locker, cfg.Sessions.PendingTTL.D(), log),
		Engine:   broadcast.NewEngine(store, inspector, history, locker, cfg.Broadcast.ParallelAccounts, log),
		Scanner:  groups.NewScanner(store, inspector, locker, log),
		Criteria: groups.Criteria{Muted: cfg.Groups.LeaveMuted, ReadOnly: cfg.Groups.LeaveReadOnly},
		Format:   format,
		Started:  time.Now(),
		log:      log,
	}
	log.Info().
		Str("dir", cfg.Sessions.Dir).
		Int("accounts", len(store.Phones())).
		Str("history", cfg.History.Driver).
		Msg("сервисы созданы")
	return s, nil
}

// ReapPending - задача планировщика: удаляет просроченные попытки входа.
func (s *Services) ReapPending(context.Context) error {
	s.Auth.ReapExpired()
	return nil
}

// CleanupExpired - задача планировщика: удаляет просроченные аккаунты.
// Занятые рассылкой или входом пропускаются до следующего запуска.
func (s *Services) CleanupExpired(context.Context) error {
	_, err := s.Store.CleanupExpired(s.Locker)
	return err
}

// Close закрывает незавершённые входы, соединения аккаунтов и журнал.
func (s *Services) Close() error {
	s.Auth.Close()
	s.Store.Close()
	err := s.History.Close()
	s.log.Info().Msg("сервисы остановлены")
	return err
}
