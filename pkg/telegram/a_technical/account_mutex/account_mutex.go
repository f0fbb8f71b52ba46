package account_mutex

import (
	"sort"
	"sync"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

// ErrBusy - аккаунт уже занят другой операцией.
var ErrBusy = errors.New("account is busy")

// Locker выдаёт мьютексы по номеру телефона, чтобы рассылка, выход из групп
// и вход не работали с одним аккаунтом одновременно.
type Locker struct {
	log zerolog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	locked map[string]struct{}
}

func New(log zerolog.Logger) *Locker {
	return &Locker{
		log:    log.With().Str("component", "MUTEX").Logger(),
		locks:  make(map[string]*sync.Mutex),
		locked: make(map[string]struct{}),
	}
}

// lockedPhones возвращает список занятых номеров.
// Предполагается, что l.mu уже захвачен.
func (l *Locker) lockedPhones() []string {
	phones := make([]string, 0, len(l.locked))
	for phone := range l.locked {
		phones = append(phones, phone)
	}
	sort.Strings(phones)
	return phones
}

// Lock пытается захватить мьютекс номера. Если аккаунт уже используется,
// возвращается ErrBusy, ожидания нет.
func (l *Locker) Lock(phone string) error {
	l.mu.Lock()
	lock, ok := l.locks[phone]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[phone] = lock
	}
	l.mu.Unlock()

	if !lock.TryLock() {
		l.mu.Lock()
		current := l.lockedPhones()
		l.mu.Unlock()
		l.log.Debug().Str("phone", phone).Strs("locked", current).Msg("аккаунт занят")
		return errors.Wrapf(ErrBusy, "account %s", phone)
	}

	l.mu.Lock()
	l.locked[phone] = struct{}{}
	l.mu.Unlock()
	return nil
}

// Unlock освобождает мьютекс номера. Повторный вызов безопасен.
func (l *Locker) Unlock(phone string) {
	l.mu.Lock()
	lock := l.locks[phone]
	_, held := l.locked[phone]
	delete(l.locked, phone)
	l.mu.Unlock()
	if lock != nil && held {
		lock.Unlock()
	}
}

// Locked возвращает номера, которые сейчас заняты.
func (l *Locker) Locked() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lockedPhones()
}
