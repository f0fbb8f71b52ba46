package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"atg_broadcast/models"
	"atg_broadcast/pkg/telegram/conn"
)

// MetadataFile - имя файла с метаданными аккаунтов внутри каталога сессий.
const MetadataFile = "sessions.json"

// DefaultExpiry - через сколько после последнего использования аккаунт считается просроченным.
const DefaultExpiry = 24 * time.Hour

var (
	ErrPersistence = errors.New("session metadata persistence failed")
	ErrNotFound    = errors.New("account not found")
)

// PersistenceError - не удалось прочитать или записать файл метаданных.
// errors.Is(err, ErrPersistence) срабатывает для любой такой ошибки.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "session metadata " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Entry - аккаунт с живым соединением.
type Entry struct {
	Phone string
	Conn  conn.Conn
}

// SessionStore хранит метаданные аккаунтов и их соединения.
// Единственный владелец файла sessions.json: после каждого изменения файл
// переписывается целиком.
type SessionStore struct {
	dir    string
	expiry time.Duration
	log    zerolog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	conns map[string]conn.Conn
	meta  map[string]*models.Account
}

// NewSessionStore создаёт хранилище в каталоге dir, каталог создаётся при необходимости.
func NewSessionStore(dir string, expiry time.Duration, log zerolog.Logger) (*SessionStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("session dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create session dir")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &SessionStore{
		dir:    dir,
		expiry: expiry,
		log:    log.With().Str("component", "SESSIONS").Logger(),
		now:    time.Now,
		conns:  make(map[string]conn.Conn),
		meta:   make(map[string]*models.Account),
	}, nil
}

// SetClock подменяет источник времени, нужен тестам.
func (s *SessionStore) SetClock(now func() time.Time) { s.now = now }

// Path возвращает путь к файлу метаданных.
func (s *SessionStore) Path() string { return filepath.Join(s.dir, MetadataFile) }

// SessionPath возвращает путь к файлу сессии Telegram для номера.
func (s *SessionStore) SessionPath(phone string) string {
	return filepath.Join(s.dir, fileName(phone)+".session.json")
}

// artifactPaths - все файлы сессии номера, включая старый формат <phone>.session.
func (s *SessionStore) artifactPaths(phone string) []string {
	return []string{
		s.SessionPath(phone),
		filepath.Join(s.dir, fileName(phone)+".session"),
	}
}

// fileName убирает из номера символы, недопустимые в имени файла.
func fileName(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, phone)
}

// Load читает файл метаданных. Отсутствующий или пустой файл означает,
// что аккаунтов нет; повреждённый файл - ошибка, молча начинать с нуля нельзя.
func (s *SessionStore) Load() error {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info().Str("path", s.Path()).Msg("файл метаданных не найден, аккаунтов нет")
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "read", Err: err}
	}
	loaded := make(map[string]*models.Account)
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &loaded); err != nil {
			return &PersistenceError{Op: "decode", Err: err}
		}
	}

	s.mu.Lock()
	s.meta = loaded
	s.mu.Unlock()

	s.log.Info().Int("accounts", len(loaded)).Msg("метаданные загружены")
	return nil
}

// Save переписывает файл метаданных целиком.
func (s *SessionStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// saveLocked пишет во временный файл и переименовывает его, чтобы при падении
// не остался обрезанный sessions.json. Вызывается под s.mu.
func (s *SessionStore) saveLocked() error {
	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Err: err}
	}
	tmp, err := os.CreateTemp(s.dir, MetadataFile+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "write", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &PersistenceError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &PersistenceError{Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		_ = os.Remove(tmpName)
		return &PersistenceError{Op: "write", Err: err}
	}
	return nil
}

// Add регистрирует аккаунт после успешного входа. Соединение переходит во владение хранилища.
// Для уже известного номера сохраняются CreatedAt и LastBroadcast.
func (s *SessionStore) Add(phone string, c conn.Conn) error {
	s.mu.Lock()
	prev := s.conns[phone]
	acc := models.NewAccount(s.now())
	// Повторный вход в известный аккаунт не стирает его историю
	if old, ok := s.meta[phone]; ok {
		acc.CreatedAt = old.CreatedAt
		acc.LastBroadcast = old.LastBroadcast
	}
	s.meta[phone] = &acc
	s.conns[phone] = c
	err := s.saveLocked()
	s.mu.Unlock()

	if prev != nil && prev != c {
		s.closeConn(phone, prev)
	}
	s.log.Info().Str("phone", phone).Msg("аккаунт добавлен")
	return err
}

// Attach подключает восстановленное соединение к уже известному аккаунту.
func (s *SessionStore) Attach(phone string, c conn.Conn) error {
	s.mu.Lock()
	if _, ok := s.meta[phone]; !ok {
		s.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "attach %s", phone)
	}
	prev := s.conns[phone]
	s.conns[phone] = c
	s.mu.Unlock()

	if prev != nil && prev != c {
		s.closeConn(phone, prev)
	}
	return nil
}

// Remove закрывает соединение, удаляет файл сессии и метаданные.
// Для неизвестного номера ничего не происходит, кроме перезаписи файла.
func (s *SessionStore) Remove(phone string) error {
	s.mu.Lock()
	c := s.conns[phone]
	delete(s.conns, phone)
	_, known := s.meta[phone]
	delete(s.meta, phone)
	err := s.saveLocked()
	s.mu.Unlock()

	// Сначала закрываем соединение: при остановке клиент может ещё раз записать сессию
	if c != nil {
		s.closeConn(phone, c)
	}
	if known {
		for _, path := range s.artifactPaths(phone) {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				s.log.Warn().Err(rmErr).Str("phone", phone).Str("path", path).Msg("не удалось удалить файл сессии")
			}
		}
		s.log.Info().Str("phone", phone).Msg("аккаунт удалён")
	}
	return err
}

// closeConn закрывает соединение, ошибки закрытия только логируются.
func (s *SessionStore) closeConn(phone string, c conn.Conn) {
	if err := c.Close(); err != nil {
		s.log.Warn().Err(err).Str("phone", phone).Msg("ошибка закрытия соединения")
	}
}

// Guard захватывает аккаунт на время удаления, чтобы не закрыть соединение,
// с которым работает рассылка, выход из групп или вход. Реализуется account_mutex.Locker.
type Guard interface {
	Lock(phone string) error
	Unlock(phone string)
}

// Sweep - итог массового удаления: удалённые номера и занятые, которые пропущены.
type Sweep struct {
	Removed []string `json:"removed"`
	Busy    []string `json:"busy"`
}

// removeGuarded удаляет аккаунт под guard. Занятый аккаунт пропускается, ok=false.
func (s *SessionStore) removeGuarded(g Guard, phone string) (ok bool, err error) {
	if g != nil {
		if lockErr := g.Lock(phone); lockErr != nil {
			s.log.Warn().Err(lockErr).Str("phone", phone).Msg("аккаунт занят, удаление пропущено")
			return false, nil
		}
		defer g.Unlock(phone)
	}
	return true, s.Remove(phone)
}

func (s *SessionStore) removeAll(g Guard, phones []string) (Sweep, error) {
	sweep := Sweep{Removed: []string{}, Busy: []string{}}
	var errs []error
	for _, phone := range phones {
		ok, err := s.removeGuarded(g, phone)
		if !ok {
			sweep.Busy = append(sweep.Busy, phone)
			continue
		}
		sweep.Removed = append(sweep.Removed, phone)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return sweep, multierr.Combine(errs...)
}

// ClearAll удаляет все аккаунты, кроме занятых guard.
func (s *SessionStore) ClearAll(g Guard) (Sweep, error) {
	return s.removeAll(g, s.Phones())
}

// Get возвращает живое соединение аккаунта.
func (s *SessionStore) Get(phone string) (conn.Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[phone]
	return c, ok
}

// Has сообщает, известен ли аккаунт, даже если соединения с ним нет.
func (s *SessionStore) Has(phone string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.meta[phone]
	return ok
}

// Account возвращает копию метаданных аккаунта.
func (s *SessionStore) Account(phone string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.meta[phone]
	if !ok {
		return models.Account{}, false
	}
	return *acc, true
}

// ListAll возвращает аккаунты с живыми соединениями, отсортированные по номеру.
func (s *SessionStore) ListAll() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.conns))
	for phone, c := range s.conns {
		entries = append(entries, Entry{Phone: phone, Conn: c})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Phone < entries[j].Phone })
	return entries
}

// Phones возвращает номера всех известных аккаунтов.
func (s *SessionStore) Phones() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phones := make([]string, 0, len(s.meta))
	for phone := range s.meta {
		phones = append(phones, phone)
	}
	sort.Strings(phones)
	return phones
}

// update применяет fn к метаданным аккаунта и сохраняет файл.
func (s *SessionStore) update(phone string, fn func(acc *models.Account, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.meta[phone]
	if !ok {
		return errors.Wrapf(ErrNotFound, "update %s", phone)
	}
	fn(acc, s.now())
	return s.saveLocked()
}

// UpdateGroupCount сохраняет количество групп аккаунта.
func (s *SessionStore) UpdateGroupCount(phone string, n int) error {
	return s.update(phone, func(acc *models.Account, _ time.Time) {
		acc.Groups = n
	})
}

// MarkBroadcast фиксирует время рассылки, заодно аккаунт считается использованным.
func (s *SessionStore) MarkBroadcast(phone string) error {
	return s.update(phone, func(acc *models.Account, now time.Time) {
		acc.LastBroadcast = &models.Timestamp{Time: now}
		acc.LastUsed = models.Timestamp{Time: now}
	})
}

// Touch продлевает срок жизни аккаунта.
func (s *SessionStore) Touch(phone string) error {
	return s.update(phone, func(acc *models.Account, now time.Time) {
		acc.LastUsed = models.Timestamp{Time: now}
	})
}

// ComputeStatus возвращает состояние всех аккаунтов. Аккаунт просрочен,
// если now > last_used + expiry; ровно на границе он ещё действителен.
func (s *SessionStore) ComputeStatus() []models.AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	status := make([]models.AccountStatus, 0, len(s.meta))
	for phone, acc := range s.meta {
		expiresAt := acc.LastUsed.Add(s.expiry)
		st := models.AccountStatus{
			Phone:     phone,
			Groups:    acc.Groups,
			Expired:   now.After(expiresAt),
			ExpiresAt: expiresAt,
		}
		if acc.LastBroadcast != nil {
			t := acc.LastBroadcast.Time
			st.LastBroadcast = &t
		}
		_, st.Connected = s.conns[phone]
		status = append(status, st)
	}
	sort.Slice(status, func(i, j int) bool { return status[i].Phone < status[j].Phone })
	return status
}

// CleanupExpired удаляет просроченные аккаунты. Занятые guard пропускаются
// и попадут в следующую очистку.
func (s *SessionStore) CleanupExpired(g Guard) (Sweep, error) {
	var expired []string
	for _, st := range s.ComputeStatus() {
		if st.Expired {
			expired = append(expired, st.Phone)
		}
	}
	sweep, err := s.removeAll(g, expired)
	if len(sweep.Removed) > 0 {
		s.log.Info().Strs("phones", sweep.Removed).Msg("просроченные аккаунты удалены")
	}
	return sweep, err
}

// Close закрывает все соединения, метаданные остаются на диске.
func (s *SessionStore) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[string]conn.Conn)
	s.mu.Unlock()
	for phone, c := range conns {
		s.closeConn(phone, c)
	}
}
