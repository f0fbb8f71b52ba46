package groups

import (
	"context"

	"github.com/rs/zerolog"

	"atg_broadcast/internal/common"
	"atg_broadcast/models"
	"atg_broadcast/pkg/storage"
	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/conn"
)

// Criteria задаёт, из каких групп выходить.
type Criteria struct {
	// Muted: уведомления группы явно выключены.
	Muted bool
	// ReadOnly: аккаунту запрещено писать в группу.
	ReadOnly bool
}

// DefaultCriteria включает оба признака.
func DefaultCriteria() Criteria { return Criteria{Muted: true, ReadOnly: true} }

// Scanner выходит из бесполезных групп и строит отчёты по группам аккаунтов.
type Scanner struct {
	store     *storage.SessionStore
	inspector *Inspector
	locker    *account_mutex.Locker
	sleep     conn.SleepFunc
	log       zerolog.Logger
}

func NewScanner(store *storage.SessionStore, inspector *Inspector, locker *account_mutex.Locker, log zerolog.Logger) *Scanner {
	return &Scanner{
		store:     store,
		inspector: inspector,
		locker:    locker,
		sleep:     common.Sleep,
		log:       log.With().Str("component", "GROUPS").Logger(),
	}
}

// SetSleep подменяет ожидание перед повтором, нужен тестам.
func (s *Scanner) SetSleep(fn conn.SleepFunc) { s.sleep = fn }

// eligible решает, выходить ли из группы. Неизвестное состояние никогда не приводит к выходу.
func (s *Scanner) eligible(ctx context.Context, c conn.Conn, g conn.Chat, crit Criteria) bool {
	if crit.Muted && g.Notifications == models.NotificationsDisabled {
		return true
	}
	if crit.ReadOnly {
		perm, _ := s.inspector.CanSend(ctx, c, g)
		return perm == models.PermissionDenied
	}
	return false
}

// SweepMuted выходит из групп аккаунта, подходящих под критерии.
// При флуд-ожидании выход повторяется один раз, остальные ошибки записываются в отчёт.
func (s *Scanner) SweepMuted(ctx context.Context, c conn.Conn, crit Criteria) models.LeaveResult {
	res := models.LeaveResult{Errors: []models.GroupError{}}
	groups, err := s.inspector.Groups(ctx, c)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	for _, g := range groups {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			break
		}
		if !s.eligible(ctx, c, g, crit) {
			continue
		}
		err := conn.RetryFloodOnce(ctx, s.sleep, func(ctx context.Context) error {
			return c.LeaveChat(ctx, g)
		})
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, models.GroupError{Title: g.Title, Error: err.Error()})
			s.log.Warn().Err(err).Int64("chat_id", g.ID).Str("title", g.Title).Msg("не удалось выйти из группы")
			continue
		}
		res.Left++
	}
	return res
}

// SweepAll выполняет SweepMuted для каждого подключённого аккаунта.
// Ошибка одного аккаунта не мешает остальным.
func (s *Scanner) SweepAll(ctx context.Context, crit Criteria) map[string]models.LeaveResult {
	out := make(map[string]models.LeaveResult)
	for _, e := range s.store.ListAll() {
		if err := s.locker.Lock(e.Phone); err != nil {
			out[e.Phone] = models.LeaveResult{Errors: []models.GroupError{}, Error: err.Error()}
			continue
		}
		res := s.SweepMuted(ctx, e.Conn, crit)
		s.locker.Unlock(e.Phone)

		if res.Error == "" {
			if err := s.store.Touch(e.Phone); err != nil {
				s.log.Error().Err(err).Str("phone", e.Phone).Msg("не удалось обновить метаданные")
			}
		}
		s.log.Info().Str("phone", e.Phone).Int("left", res.Left).Int("failed", res.Failed).Str("error", res.Error).Msg("чистка групп завершена")
		out[e.Phone] = res
	}
	return out
}

// StatusReport возвращает состояние групп одного аккаунта.
func (s *Scanner) StatusReport(ctx context.Context, c conn.Conn) ([]models.GroupInfo, error) {
	return s.inspector.ListGroups(ctx, c)
}

// Scan перечисляет группы всех аккаунтов и сохраняет их количество.
func (s *Scanner) Scan(ctx context.Context) map[string]models.ScanResult {
	out := make(map[string]models.ScanResult)
	for _, e := range s.store.ListAll() {
		if err := s.locker.Lock(e.Phone); err != nil {
			out[e.Phone] = models.ScanResult{Error: err.Error()}
			continue
		}
		list, err := s.inspector.ListGroups(ctx, e.Conn)
		s.locker.Unlock(e.Phone)
		if err != nil {
			out[e.Phone] = models.ScanResult{Error: err.Error()}
			continue
		}
		if err := s.store.UpdateGroupCount(e.Phone, len(list)); err != nil {
			s.log.Error().Err(err).Str("phone", e.Phone).Msg("не удалось сохранить число групп")
		}
		out[e.Phone] = models.ScanResult{Groups: len(list), GroupList: list}
	}
	return out
}
