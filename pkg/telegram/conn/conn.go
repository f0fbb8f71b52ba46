// Package conn описывает возможности соединения с Telegram, которыми пользуется
// ядро: запрос кода, вход, перечисление диалогов, отправка сообщений и выход из чатов.
// Реализация на gotd/td лежит в пакете client, в тестах используется conntest.
package conn

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"atg_broadcast/models"
)

// ChatKind - вид диалога.
type ChatKind int

const (
	KindPrivate ChatKind = iota
	KindGroup
	KindSupergroup
	KindChannel
)

// IsGroup сообщает, относится ли диалог к группам (обычным или супергруппам).
func (k ChatKind) IsGroup() bool {
	return k == KindGroup || k == KindSupergroup
}

// GroupType переводит вид чата в тип группы для отчётов.
func (k ChatKind) GroupType() models.GroupType {
	if k == KindSupergroup {
		return models.GroupTypeSupergroup
	}
	return models.GroupTypeGroup
}

// Chat - диалог аккаунта в том виде, в каком его видит ядро.
type Chat struct {
	ID            int64
	Title         string
	Kind          ChatKind
	Username      string
	Notifications models.NotificationState
}

// MemberStatus - статус аккаунта в чате.
type MemberStatus string

const (
	StatusCreator    MemberStatus = "creator"
	StatusAdmin      MemberStatus = "administrator"
	StatusMember     MemberStatus = "member"
	StatusRestricted MemberStatus = "restricted"
	StatusLeft       MemberStatus = "left"
)

// Membership - членство аккаунта в чате.
type Membership struct {
	Status  MemberStatus
	CanSend bool
}

// IsAdmin сообщает, есть ли у аккаунта права администратора.
func (m Membership) IsAdmin() bool {
	return m.Status == StatusCreator || m.Status == StatusAdmin
}

// Identity - пользователь, под которым выполнен вход.
type Identity struct {
	ID        int64
	FirstName string
	Username  string
}

// Format - разметка текста рассылки.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// ParseFormat разбирает название разметки, пустая строка означает plain.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatPlain, nil
	case FormatPlain, FormatHTML, FormatMarkdown:
		return f, nil
	default:
		return "", errors.Errorf("unknown message format %q", s)
	}
}

// Conn - авторизованное соединение аккаунта.
type Conn interface {
	// Dialogs возвращает все диалоги аккаунта.
	Dialogs(ctx context.Context) ([]Chat, error)
	// SelfMembership запрашивает статус аккаунта в чате.
	SelfMembership(ctx context.Context, chat Chat) (Membership, error)
	SendMessage(ctx context.Context, chat Chat, text string, format Format) error
	LeaveChat(ctx context.Context, chat Chat) error
	MemberCount(ctx context.Context, chat Chat) (int, error)
	Close() error
}

// LoginConn - соединение, через которое проходит вход. После успешного входа
// оно же становится рабочим соединением аккаунта.
type LoginConn interface {
	Conn
	RequestCode(ctx context.Context, phone string) (phoneCodeHash string, err error)
	SignIn(ctx context.Context, phone, phoneCodeHash, code string) (Identity, error)
	CheckPassword(ctx context.Context, password string) (Identity, error)
	// Authorized проверяет, действительна ли сохранённая сессия.
	Authorized(ctx context.Context) (bool, error)
}

// Dialer открывает соединение для номера, используя файл сессии по указанному пути.
type Dialer interface {
	Dial(ctx context.Context, phone, sessionPath string) (LoginConn, error)
}
