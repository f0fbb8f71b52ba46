// Package conntest содержит управляемые подделки соединения для тестов ядра.
package conntest

import (
	"context"
	"sync"

	"atg_broadcast/pkg/telegram/conn"
)

// Sent - зафиксированная отправка сообщения.
type Sent struct {
	ChatID int64
	Text   string
	Format conn.Format
}

// FakeConn выполняет сценарий, заданный полями. Ошибки отправки и выхода
// выдаются по очереди для каждой попытки; когда очередь пуста, попытка успешна.
type FakeConn struct {
	mu sync.Mutex

	Chats      []conn.Chat
	DialogsErr error

	Members   map[int64]conn.Membership
	MemberErr map[int64]error
	Counts    map[int64]int
	CountErr  map[int64]error

	SendErrs  map[int64][]error
	LeaveErrs map[int64][]error

	// Вход
	CodeHash       string
	RequestCodeErr error
	ValidCode      string
	SignInErr      error
	PasswordNeeded bool
	Password       string
	User           conn.Identity
	IsAuthorized   bool
	AuthorizedErr  error

	CloseErr error

	sent          []Sent
	left          []int64
	sendAttempts  map[int64]int
	leaveAttempts map[int64]int
	closed        int
}

func (f *FakeConn) Dialogs(ctx context.Context) ([]conn.Chat, error) {
	if f.DialogsErr != nil {
		return nil, f.DialogsErr
	}
	out := make([]conn.Chat, len(f.Chats))
	copy(out, f.Chats)
	return out, nil
}

func (f *FakeConn) SelfMembership(ctx context.Context, chat conn.Chat) (conn.Membership, error) {
	if err := f.MemberErr[chat.ID]; err != nil {
		return conn.Membership{}, err
	}
	if m, ok := f.Members[chat.ID]; ok {
		return m, nil
	}
	return conn.Membership{Status: conn.StatusMember, CanSend: true}, nil
}

func (f *FakeConn) SendMessage(ctx context.Context, chat conn.Chat, text string, format conn.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendAttempts == nil {
		f.sendAttempts = map[int64]int{}
	}
	f.sendAttempts[chat.ID]++
	if err := pop(f.SendErrs, chat.ID); err != nil {
		return err
	}
	f.sent = append(f.sent, Sent{ChatID: chat.ID, Text: text, Format: format})
	return nil
}

func (f *FakeConn) LeaveChat(ctx context.Context, chat conn.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaveAttempts == nil {
		f.leaveAttempts = map[int64]int{}
	}
	f.leaveAttempts[chat.ID]++
	if err := pop(f.LeaveErrs, chat.ID); err != nil {
		return err
	}
	f.left = append(f.left, chat.ID)
	return nil
}

func (f *FakeConn) MemberCount(ctx context.Context, chat conn.Chat) (int, error) {
	if err := f.CountErr[chat.ID]; err != nil {
		return 0, err
	}
	return f.Counts[chat.ID], nil
}

func (f *FakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.CloseErr
}

func (f *FakeConn) RequestCode(ctx context.Context, phone string) (string, error) {
	if f.RequestCodeErr != nil {
		return "", f.RequestCodeErr
	}
	if f.CodeHash == "" {
		return "hash-" + phone, nil
	}
	return f.CodeHash, nil
}

func (f *FakeConn) SignIn(ctx context.Context, phone, phoneCodeHash, code string) (conn.Identity, error) {
	if f.SignInErr != nil {
		return conn.Identity{}, f.SignInErr
	}
	if code != f.ValidCode {
		return conn.Identity{}, conn.ErrBadCode
	}
	if f.PasswordNeeded {
		return conn.Identity{}, conn.ErrPasswordRequired
	}
	return f.User, nil
}

func (f *FakeConn) CheckPassword(ctx context.Context, password string) (conn.Identity, error) {
	if password != f.Password {
		return conn.Identity{}, conn.ErrBadPassword
	}
	return f.User, nil
}

func (f *FakeConn) Authorized(ctx context.Context) (bool, error) {
	return f.IsAuthorized, f.AuthorizedErr
}

// Sent возвращает успешные отправки в порядке выполнения.
func (f *FakeConn) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// Left возвращает чаты, из которых аккаунт вышел.
func (f *FakeConn) Left() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.left...)
}

func (f *FakeConn) SendAttempts(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendAttempts[chatID]
}

func (f *FakeConn) LeaveAttempts(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaveAttempts[chatID]
}

// Closed возвращает число вызовов Close.
func (f *FakeConn) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func pop(queues map[int64][]error, id int64) error {
	q := queues[id]
	if len(q) == 0 {
		return nil
	}
	queues[id] = q[1:]
	return q[0]
}

// FakeDialer выдаёт заранее подготовленные соединения по номеру.
type FakeDialer struct {
	mu    sync.Mutex
	Conns map[string]*FakeConn
	Err   error

	dialed []string
	paths  []string
}

func (d *FakeDialer) Dial(ctx context.Context, phone, sessionPath string) (conn.LoginConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, phone)
	d.paths = append(d.paths, sessionPath)
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Conns == nil {
		d.Conns = map[string]*FakeConn{}
	}
	c, ok := d.Conns[phone]
	if !ok {
		c = &FakeConn{}
		d.Conns[phone] = c
	}
	return c, nil
}

// Dialed возвращает номера, для которых открывались соединения.
func (d *FakeDialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

// Paths возвращает пути к файлам сессий, переданные при подключении.
func (d *FakeDialer) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}
