// Package accounts_auth проводит вход аккаунта: запрос кода, проверка кода,
// при необходимости пароль двухфакторной защиты. После входа соединение
// передаётся в SessionStore.
package accounts_auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"atg_broadcast/models"
	"atg_broadcast/pkg/storage"
	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/conn"
	"atg_broadcast/pkg/telegram/groups"
)

// DefaultPendingTTL - сколько живёт незавершённый вход.
const DefaultPendingTTL = 15 * time.Minute

var (
	ErrAlreadyActive  = errors.New("account is already active")
	ErrLoginPending   = errors.New("login is already pending, cancel it first")
	ErrNoPendingLogin = errors.New("no pending login")
	ErrWrongStage     = errors.New("wrong login stage")
)

// Result - итог шага входа. Completed означает, что аккаунт добавлен.
type Result struct {
	Phone     string            `json:"phone"`
	Stage     models.LoginStage `json:"stage,omitempty"`
	Completed bool              `json:"completed"`
	User      conn.Identity     `json:"-"`
	Groups    int               `json:"groups"`
}

type pendingLogin struct {
	info models.PendingLogin
	conn conn.LoginConn
}

// Machine хранит незавершённые входы и переводит их по этапам.
type Machine struct {
	store     *storage.SessionStore
	dialer    conn.Dialer
	inspector *groups.Inspector
	locker    *account_mutex.Locker
	ttl       time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingLogin
}

func NewMachine(store *storage.SessionStore, dialer conn.Dialer, inspector *groups.Inspector, locker *account_mutex.Locker, ttl time.Duration, log zerolog.Logger) *Machine {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Machine{
		store:     store,
		dialer:    dialer,
		inspector: inspector,
		locker:    locker,
		ttl:       ttl,
		now:       time.Now,
		log:       log.With().Str("component", "AUTH").Logger(),
		pending:   make(map[string]*pendingLogin),
	}
}

// SetClock подменяет источник времени, нужен тестам.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

// NormalizePhone убирает пробелы, скобки и дефисы из номера.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// take возвращает незавершённый вход; просроченный удаляется и считается отсутствующим.
func (m *Machine) take(phone string) (*pendingLogin, bool) {
	m.mu.Lock()
	p, ok := m.pending[phone]
	if ok && p.info.Expired(m.now()) {
		delete(m.pending, phone)
		m.mu.Unlock()
		m.closeConn(phone, p.conn)
		m.log.Info().Str("phone", phone).Msg("попытка входа просрочена")
		return nil, false
	}
	m.mu.Unlock()
	return p, ok
}

func (m *Machine) drop(phone string) *pendingLogin {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending[phone]
	delete(m.pending, phone)
	return p
}

func (m *Machine) closeConn(phone string, c conn.Conn) {
	if err := c.Close(); err != nil {
		m.log.Warn().Err(err).Str("phone", phone).Msg("ошибка закрытия временного соединения")
	}
}

// RequestCode подключается к Telegram и запрашивает код для номера.
func (m *Machine) RequestCode(ctx context.Context, phone string) (models.PendingLogin, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return models.PendingLogin{}, errors.New("phone is empty")
	}
	if err := m.locker.Lock(phone); err != nil {
		return models.PendingLogin{}, err
	}
	defer m.locker.Unlock(phone)

	if _, ok := m.store.Get(phone); ok {
		return models.PendingLogin{}, errors.Wrapf(ErrAlreadyActive, "phone %s", phone)
	}
	if _, ok := m.take(phone); ok {
		return models.PendingLogin{}, errors.Wrapf(ErrLoginPending, "phone %s", phone)
	}

	c, err := m.dialer.Dial(ctx, phone, m.store.SessionPath(phone))
	if err != nil {
		return models.PendingLogin{}, errors.Wrap(err, "connect")
	}
	hash, err := c.RequestCode(ctx, phone)
	if err != nil {
		m.closeConn(phone, c)
		m.log.Error().Err(err).Str("phone", phone).Msg("не удалось запросить код")
		return models.PendingLogin{}, errors.Wrap(err, "request code")
	}

	now := m.now()
	info := models.PendingLogin{
		Phone:         phone,
		PhoneCodeHash: hash,
		Stage:         models.StageAwaitingCode,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}
	m.mu.Lock()
	m.pending[phone] = &pendingLogin{info: info, conn: c}
	m.mu.Unlock()

	m.log.Info().Str("phone", phone).Msg("код отправлен")
	return info, nil
}

// SubmitCode проверяет код. Если нужен пароль, вход переходит на этап
// awaiting_password и ошибки нет. При неверном коде вход сохраняется.
func (m *Machine) SubmitCode(ctx context.Context, phone, code string) (Result, error) {
	phone = NormalizePhone(phone)
	if err := m.locker.Lock(phone); err != nil {
		return Result{}, err
	}
	defer m.locker.Unlock(phone)

	p, ok := m.take(phone)
	if !ok {
		return Result{}, errors.Wrapf(ErrNoPendingLogin, "phone %s", phone)
	}
	if p.info.Stage != models.StageAwaitingCode {
		return Result{Phone: phone, Stage: p.info.Stage}, errors.Wrapf(ErrWrongStage, "expected %s", models.StageAwaitingCode)
	}

	id, err := p.conn.SignIn(ctx, phone, p.info.PhoneCodeHash, strings.TrimSpace(code))
	if errors.Is(err, conn.ErrPasswordRequired) {
		m.mu.Lock()
		p.info.Stage = models.StageAwaitingPassword
		m.mu.Unlock()
		m.log.Info().Str("phone", phone).Msg("требуется пароль двухфакторной защиты")
		return Result{Phone: phone, Stage: models.StageAwaitingPassword}, nil
	}
	if err != nil {
		m.log.Warn().Err(err).Str("phone", phone).Msg("вход по коду не удался")
		return Result{Phone: phone, Stage: models.StageAwaitingCode}, errors.Wrap(err, "sign in")
	}
	return m.promote(ctx, phone, id)
}

// SubmitPassword проверяет пароль двухфакторной защиты.
func (m *Machine) SubmitPassword(ctx context.Context, phone, password string) (Result, error) {
	phone = NormalizePhone(phone)
	if err := m.locker.Lock(phone); err != nil {
		return Result{}, err
	}
	defer m.locker.Unlock(phone)

	p, ok := m.take(phone)
	if !ok {
		return Result{}, errors.Wrapf(ErrNoPendingLogin, "phone %s", phone)
	}
	if p.info.Stage != models.StageAwaitingPassword {
		return Result{Phone: phone, Stage: p.info.Stage}, errors.Wrapf(ErrWrongStage, "expected %s", models.StageAwaitingPassword)
	}

	id, err := p.conn.CheckPassword(ctx, password)
	if err != nil {
		m.log.Warn().Err(err).Str("phone", phone).Msg("неверный пароль")
		return Result{Phone: phone, Stage: models.StageAwaitingPassword}, errors.Wrap(err, "check password")
	}
	return m.promote(ctx, phone, id)
}

// promote передаёт соединение в SessionStore и считает группы, куда можно писать.
// Вызывается под блокировкой номера.
func (m *Machine) promote(ctx context.Context, phone string, id conn.Identity) (Result, error) {
	p := m.drop(phone)
	res := Result{Phone: phone, Completed: true, User: id}

	addErr := m.store.Add(phone, p.conn)
	if addErr != nil {
		m.log.Error().Err(addErr).Str("phone", phone).Msg("аккаунт подключён, но метаданные не сохранены")
	}

	n, err := m.inspector.CountSendable(ctx, p.conn)
	if err != nil {
		m.log.Warn().Err(err).Str("phone", phone).Msg("не удалось посчитать группы")
	} else {
		res.Groups = n
		if err := m.store.UpdateGroupCount(phone, n); err != nil && addErr == nil {
			addErr = err
		}
	}

	m.log.Info().Str("phone", phone).Int64("user_id", id.ID).Int("groups", res.Groups).Msg("аккаунт авторизован")
	return res, addErr
}

// Cancel прерывает вход и закрывает временное соединение.
func (m *Machine) Cancel(phone string) error {
	phone = NormalizePhone(phone)
	if err := m.locker.Lock(phone); err != nil {
		return err
	}
	defer m.locker.Unlock(phone)

	p := m.drop(phone)
	if p == nil {
		return errors.Wrapf(ErrNoPendingLogin, "phone %s", phone)
	}
	m.closeConn(phone, p.conn)
	m.log.Info().Str("phone", phone).Msg("вход отменён")
	return nil
}

// Pending возвращает незавершённые входы, отсортированные по номеру.
func (m *Machine) Pending() []models.PendingLogin {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PendingLogin, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out
}

// ReapExpired удаляет просроченные входы. Номера, занятые другой операцией,
// пропускаются до следующего вызова.
func (m *Machine) ReapExpired() []string {
	now := m.now()
	var reaped []string
	for _, info := range m.Pending() {
		if !info.Expired(now) {
			continue
		}
		if err := m.locker.Lock(info.Phone); err != nil {
			continue
		}
		if p := m.drop(info.Phone); p != nil {
			m.closeConn(info.Phone, p.conn)
			reaped = append(reaped, info.Phone)
		}
		m.locker.Unlock(info.Phone)
	}
	if len(reaped) > 0 {
		m.log.Info().Strs("phones", reaped).Msg("просроченные попытки входа удалены")
	}
	return reaped
}

// Close закрывает соединения всех незавершённых входов.
func (m *Machine) Close() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]*pendingLogin)
	m.mu.Unlock()
	for phone, p := range pending {
		m.closeConn(phone, p.conn)
	}
}
