// Package broadcast рассылает сообщение во все группы всех подключённых аккаунтов.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"atg_broadcast/internal/common"
	"atg_broadcast/models"
	"atg_broadcast/pkg/storage"
	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/conn"
	"atg_broadcast/pkg/telegram/groups"
)

// ErrCannotSend - аккаунту запрещено писать в группу, отправка не выполнялась.
var ErrCannotSend = errors.New("cannot send messages")

// Engine выполняет рассылки. Аккаунты обрабатываются по очереди, если
// parallel > 1, то до parallel аккаунтов одновременно; внутри аккаунта
// группы всегда идут последовательно.
type Engine struct {
	store     *storage.SessionStore
	inspector *groups.Inspector
	history   *storage.History
	locker    *account_mutex.Locker
	parallel  int
	sleep     conn.SleepFunc
	now       func() time.Time
	log       zerolog.Logger
}

func NewEngine(store *storage.SessionStore, inspector *groups.Inspector, history *storage.History, locker *account_mutex.Locker, parallel int, log zerolog.Logger) *Engine {
	if parallel < 1 {
		parallel = 1
	}
	return &Engine{
		store:     store,
		inspector: inspector,
		history:   history,
		locker:    locker,
		parallel:  parallel,
		sleep:     common.Sleep,
		now:       time.Now,
		log:       log.With().Str("component", "BROADCAST").Logger(),
	}
}

// SetSleep подменяет ожидание перед повтором, нужен тестам.
func (e *Engine) SetSleep(fn conn.SleepFunc) { e.sleep = fn }

// Broadcast отправляет text во все группы каждого подключённого аккаунта и
// записывает итог в журнал. Ошибка одного аккаунта попадает в его результат
// и не влияет на остальные.
func (e *Engine) Broadcast(ctx context.Context, text string, format conn.Format) map[string]models.BroadcastResult {
	started := e.now()
	entries := e.store.ListAll()
	e.log.Info().Int("accounts", len(entries)).Str("format", string(format)).Msg("рассылка начата")

	var (
		mu      sync.Mutex
		results = make(map[string]models.BroadcastResult, len(entries))
		g       errgroup.Group
	)
	g.SetLimit(e.parallel)
	for _, entry := range entries {
		g.Go(func() error {
			res := e.broadcastAccount(ctx, entry, text, format)
			mu.Lock()
			results[entry.Phone] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if e.history != nil {
		e.history.Append(ctx, models.BroadcastLogEntry{
			Time:    started,
			Text:    text,
			Format:  string(format),
			Results: results,
		})
	}
	e.log.Info().Dur("took", e.now().Sub(started)).Msg("рассылка завершена")
	return results
}

func (e *Engine) broadcastAccount(ctx context.Context, entry storage.Entry, text string, format conn.Format) models.BroadcastResult {
	log := e.log.With().Str("phone", entry.Phone).Logger()
	if err := e.locker.Lock(entry.Phone); err != nil {
		return models.BroadcastResult{Errors: []models.GroupError{}, Error: err.Error()}
	}
	defer e.locker.Unlock(entry.Phone)

	res := e.SendToAccount(ctx, entry.Conn, text, format)
	if res.Error != "" {
		log.Error().Str("error", res.Error).Int("success", res.Success).Msg("аккаунт не обработан")
		// Часть сообщений уже доставлена: время рассылки всё равно фиксируем
		if res.Success == 0 {
			return res
		}
	}
	if err := e.store.MarkBroadcast(entry.Phone); err != nil {
		log.Error().Err(err).Msg("не удалось сохранить время рассылки")
	}
	log.Info().Int("success", res.Success).Int("failed", res.Failed).Msg("аккаунт обработан")
	return res
}

// SendToAccount рассылает сообщение по группам одного аккаунта.
// Флуд-ожидание выдерживается и отправка повторяется ровно один раз;
// запреты на запись и прочие ошибки записываются без повтора.
func (e *Engine) SendToAccount(ctx context.Context, c conn.Conn, text string, format conn.Format) models.BroadcastResult {
	res := models.BroadcastResult{Errors: []models.GroupError{}}
	list, err := e.inspector.Groups(ctx, c)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	for _, g := range list {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			break
		}
		// Неизвестные права не мешают попытке: Telegram сам вернёт запрет
		if perm, _ := e.inspector.CanSend(ctx, c, g); perm == models.PermissionDenied {
			res.AddFailure(g.Title, ErrCannotSend)
			continue
		}
		err := conn.RetryFloodOnce(ctx, e.sleep, func(ctx context.Context) error {
			return c.SendMessage(ctx, g, text, format)
		})
		if err != nil {
			res.AddFailure(g.Title, err)
			e.log.Debug().Err(err).Int64("chat_id", g.ID).Str("title", g.Title).Msg("сообщение не отправлено")
			continue
		}
		res.Success++
	}
	return res
}

// ListGroups возвращает сведения о группах аккаунта без изменений.
func (e *Engine) ListGroups(ctx context.Context, c conn.Conn) ([]models.GroupInfo, error) {
	return e.inspector.ListGroups(ctx, c)
}
