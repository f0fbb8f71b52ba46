// Package scheduler запускает фоновые задачи обслуживания по cron-расписанию:
// удаление просроченных попыток входа и просроченных аккаунтов.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job - фоновая задача. Ошибка только логируется, расписание продолжается.
type Job func(ctx context.Context) error

type Scheduler struct {
	c   *cron.Cron
	loc *time.Location
	log zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	names  map[cron.EntryID]string
}

// New создаёт планировщик в заданном часовом поясе (пустая строка означает UTC).
func New(timezone string, log zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", timezone)
	}
	log = log.With().Str("component", "SCHEDULER").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
		),
		loc:    loc,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		names:  make(map[cron.EntryID]string),
	}, nil
}

// Add регистрирует задачу. Пустое расписание отключает её.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.log.Info().Str("job", name).Msg("задача отключена")
		return nil
	}
	id, err := s.c.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return errors.Wrapf(err, "schedule %s (%q)", name, spec)
	}
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
	s.log.Info().Str("job", name).Str("spec", spec).Msg("задача добавлена")
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	start := time.Now()
	if err := job(s.ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("ошибка фоновой задачи")
		return
	}
	s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("задача выполнена")
}

// Start запускает расписание в отдельной горутине.
func (s *Scheduler) Start() {
	s.c.Start()
	s.log.Info().Str("tz", s.loc.String()).Int("jobs", len(s.c.Entries())).Msg("планировщик запущен")
}

// Stop отменяет контекст задач и ждёт завершения запущенных, но не дольше ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("задачи не завершились до остановки")
	}
	s.log.Info().Msg("планировщик остановлен")
}

// Jobs возвращает имена задач и время их следующего запуска.
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.names))
	for _, e := range s.c.Entries() {
		out[s.names[e.ID]] = e.Next
	}
	return out
}

type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
