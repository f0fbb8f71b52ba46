package accounts_auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atg_broadcast/models"
	"atg_broadcast/pkg/storage"
	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/conn"
	"atg_broadcast/pkg/telegram/conn/conntest"
	"atg_broadcast/pkg/telegram/groups"
)

const phone = "+15551234567"

type fixture struct {
	machine *Machine
	store   *storage.SessionStore
	dialer  *conntest.FakeDialer
	locker  *account_mutex.Locker
	now     time.Time
}

func newFixture(t *testing.T, fc *conntest.FakeConn) *fixture {
	t.Helper()
	store, err := storage.NewSessionStore(t.TempDir(), 0, zerolog.Nop())
	require.NoError(t, err)
	f := &fixture{
		store:  store,
		dialer: &conntest.FakeDialer{Conns: map[string]*conntest.FakeConn{phone: fc}},
		locker: account_mutex.New(zerolog.Nop()),
		now:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.machine = NewMachine(store, f.dialer, groups.NewInspector(zerolog.Nop()), f.locker, 0, zerolog.Nop())
	f.machine.SetClock(func() time.Time { return f.now })
	return f
}

func loginConn() *conntest.FakeConn {
	return &conntest.FakeConn{
		ValidCode: "12345",
		User:      conn.Identity{ID: 42, FirstName: "Test"},
		Chats: []conn.Chat{
			{ID: -1, Title: "A", Kind: conn.KindGroup},
			{ID: -2, Title: "B", Kind: conn.KindSupergroup},
			{ID: -3, Title: "Канал", Kind: conn.KindChannel},
		},
		Members: map[int64]conn.Membership{-2: {Status: conn.StatusRestricted}},
	}
}

func TestCodeLoginFlow(t *testing.T) {
	fc := loginConn()
	f := newFixture(t, fc)
	ctx := context.Background()

	info, err := f.machine.RequestCode(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, models.StageAwaitingCode, info.Stage)
	assert.Equal(t, "hash-"+phone, info.PhoneCodeHash)
	assert.Equal(t, f.now.Add(DefaultPendingTTL), info.ExpiresAt)
	assert.Equal(t, []string{f.store.SessionPath(phone)}, f.dialer.Paths())

	_, err = f.machine.SubmitCode(ctx, phone, "00000")
	require.ErrorIs(t, err, conn.ErrBadCode)
	require.Len(t, f.machine.Pending(), 1, "неверный код не сбрасывает вход")
	assert.Empty(t, f.store.ListAll())

	res, err := f.machine.SubmitCode(ctx, phone, "12345")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, int64(42), res.User.ID)
	assert.Equal(t, 1, res.Groups, "считаются только группы, куда можно писать")
	assert.Empty(t, f.machine.Pending())

	entries := f.store.ListAll()
	require.Len(t, entries, 1)
	assert.Equal(t, phone, entries[0].Phone)
	acc, ok := f.store.Account(phone)
	require.True(t, ok)
	assert.Equal(t, 1, acc.Groups)
	assert.Zero(t, fc.Closed(), "соединение передано хранилищу открытым")
}

func TestPasswordFlow(t *testing.T) {
	fc := loginConn()
	fc.PasswordNeeded = true
	fc.Password = "secret"
	f := newFixture(t, fc)
	ctx := context.Background()

	_, err := f.machine.RequestCode(ctx, phone)
	require.NoError(t, err)

	_, err = f.machine.SubmitPassword(ctx, phone, "secret")
	require.ErrorIs(t, err, ErrWrongStage)

	res, err := f.machine.SubmitCode(ctx, phone, "12345")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, models.StageAwaitingPassword, res.Stage)
	assert.Equal(t, models.StageAwaitingPassword, f.machine.Pending()[0].Stage)

	_, err = f.machine.SubmitCode(ctx, phone, "12345")
	require.ErrorIs(t, err, ErrWrongStage)

	_, err = f.machine.SubmitPassword(ctx, phone, "wrong")
	require.ErrorIs(t, err, conn.ErrBadPassword)
	require.Len(t, f.machine.Pending(), 1)

	res, err = f.machine.SubmitPassword(ctx, phone, "secret")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, f.store.Has(phone))
}

func TestRequestCodeRejections(t *testing.T) {
	f := newFixture(t, loginConn())
	ctx := context.Background()

	_, err := f.machine.RequestCode(ctx, phone)
	require.NoError(t, err)
	_, err = f.machine.RequestCode(ctx, phone)
	require.ErrorIs(t, err, ErrLoginPending)
	assert.Len(t, f.dialer.Dialed(), 1, "повторный запрос не подключается")

	require.NoError(t, f.store.Add("+1000", &conntest.FakeConn{}))
	_, err = f.machine.RequestCode(ctx, "+1000")
	require.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, f.locker.Lock("+2000"))
	_, err = f.machine.RequestCode(ctx, "+2000")
	require.ErrorIs(t, err, account_mutex.ErrBusy)
}

func TestRequestCodeFailureClosesConn(t *testing.T) {
	fc := &conntest.FakeConn{RequestCodeErr: errors.New("PHONE_NUMBER_INVALID")}
	f := newFixture(t, fc)
	_, err := f.machine.RequestCode(context.Background(), phone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PHONE_NUMBER_INVALID")
	assert.Equal(t, 1, fc.Closed())
	assert.Empty(t, f.machine.Pending())
}

func TestSubmitWithoutPending(t *testing.T) {
	f := newFixture(t, loginConn())
	_, err := f.machine.SubmitCode(context.Background(), phone, "1")
	require.ErrorIs(t, err, ErrNoPendingLogin)
	_, err = f.machine.SubmitPassword(context.Background(), phone, "1")
	require.ErrorIs(t, err, ErrNoPendingLogin)
	require.ErrorIs(t, f.machine.Cancel(phone), ErrNoPendingLogin)
}

func TestCancelAndRetry(t *testing.T) {
	fc := loginConn()
	f := newFixture(t, fc)
	ctx := context.Background()

	_, err := f.machine.RequestCode(ctx, phone)
	require.NoError(t, err)
	require.NoError(t, f.machine.Cancel(phone))
	assert.Equal(t, 1, fc.Closed())
	assert.Empty(t, f.machine.Pending())

	_, err = f.machine.RequestCode(ctx, phone)
	require.NoError(t, err)
}

func TestPendingExpiry(t *testing.T) {
	fc := loginConn()
	f := newFixture(t, fc)
	ctx := context.Background()

	_, err := f.machine.RequestCode(ctx, phone)
	require.NoError(t, err)

	f.now = f.now.Add(DefaultPendingTTL)
	assert.Empty(t, f.machine.ReapExpired(), "ровно на границе вход ещё действителен")

	f.now = f.now.Add(time.Second)
	assert.Equal(t, []string{phone}, f.machine.ReapExpired())
	assert.Empty(t, f.machine.Pending())
	assert.Equal(t, 1, fc.Closed())
}

func TestExpiredPendingIsDroppedLazily(t *testing.T) {
	f := newFixture(t, loginConn())
	ctx := context.Background()

	_, err := f.machine.RequestCode(ctx, phone)
	require.NoError(t, err)
	f.now = f.now.Add(time.Hour)

	_, err = f.machine.SubmitCode(ctx, phone, "12345")
	require.ErrorIs(t, err, ErrNoPendingLogin)

	_, err = f.machine.RequestCode(ctx, phone)
	require.NoError(t, err, "просроченный вход не мешает новому")
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+15551234567", NormalizePhone(" +1 (555) 123-45-67 "))
}

func TestRestore(t *testing.T) {
	f := newFixture(t, loginConn())
	ctx := context.Background()

	// Два аккаунта в метаданных, соединений нет
	require.NoError(t, f.store.Add("+1", &conntest.FakeConn{}))
	require.NoError(t, f.store.Add("+2", &conntest.FakeConn{}))
	require.NoError(t, f.store.Add("+3", &conntest.FakeConn{}))
	f.store.Close()
	require.NoError(t, f.store.Load())
	require.Empty(t, f.store.ListAll())

	for _, p := range []string{"+1", "+2"} {
		require.NoError(t, os.WriteFile(f.store.SessionPath(p), []byte("{}"), 0o600))
	}
	f.dialer.Conns["+1"] = &conntest.FakeConn{IsAuthorized: true}
	revoked := &conntest.FakeConn{IsAuthorized: false}
	f.dialer.Conns["+2"] = revoked

	assert.Equal(t, 1, f.machine.Restore(ctx))
	_, ok := f.store.Get("+1")
	assert.True(t, ok)
	_, ok = f.store.Get("+2")
	assert.False(t, ok)
	assert.Equal(t, 1, revoked.Closed())
	assert.ElementsMatch(t, []string{"+1", "+2"}, f.dialer.Dialed(), "без файла сессии подключения нет")
	assert.True(t, f.store.Has("+3"))
}
