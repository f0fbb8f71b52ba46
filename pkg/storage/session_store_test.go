package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/conn/conntest"
)

// newTestStore создаёт хранилище во временном каталоге с управляемыми часами.
func newTestStore(t *testing.T, now *time.Time) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(t.TempDir(), DefaultExpiry, zerolog.Nop())
	require.NoError(t, err)
	s.SetClock(func() time.Time { return *now })
	return s
}

// readFile разбирает sessions.json в сырую карту.
func readFile(t *testing.T, s *SessionStore) map[string]map[string]any {
	t.Helper()
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestAddThenStatusIsFresh(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)

	require.NoError(t, s.Add("+15551234567", &conntest.FakeConn{}))

	status := s.ComputeStatus()
	require.Len(t, status, 1)
	require.Equal(t, "+15551234567", status[0].Phone)
	require.Equal(t, 0, status[0].Groups)
	require.Nil(t, status[0].LastBroadcast)
	require.False(t, status[0].Expired)
	require.True(t, status[0].Connected)

	file := readFile(t, s)
	require.Contains(t, file, "+15551234567")
	require.Nil(t, file["+15551234567"]["last_broadcast"])
	require.EqualValues(t, 0, file["+15551234567"]["groups"])
}

func TestExpiryBoundary(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	require.NoError(t, s.Add("+1", &conntest.FakeConn{}))

	now = now.Add(24 * time.Hour)
	require.False(t, s.ComputeStatus()[0].Expired, "ровно 24 часа ещё не просрочка")

	now = now.Add(time.Nanosecond)
	require.True(t, s.ComputeStatus()[0].Expired)
}

func TestRemoveIsIdempotent(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	fc := &conntest.FakeConn{}
	require.NoError(t, s.Add("+1", fc))
	require.NoError(t, s.Add("+2", &conntest.FakeConn{}))

	artifact := s.SessionPath("+1")
	require.NoError(t, os.WriteFile(artifact, []byte("{}"), 0o600))
	legacy := filepath.Join(filepath.Dir(s.Path()), "+1.session")
	require.NoError(t, os.WriteFile(legacy, []byte("x"), 0o600))

	require.NoError(t, s.Remove("+1"))
	_, ok := s.Get("+1")
	require.False(t, ok)
	require.False(t, s.Has("+1"))
	require.Equal(t, 1, fc.Closed())
	require.NotContains(t, readFile(t, s), "+1")
	require.Contains(t, readFile(t, s), "+2")
	require.NoFileExists(t, artifact)
	require.NoFileExists(t, legacy)

	require.NoError(t, s.Remove("+1"))
	require.Equal(t, 1, fc.Closed())
}

func TestRemoveSwallowsCloseError(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	require.NoError(t, s.Add("+1", &conntest.FakeConn{CloseErr: errors.New("boom")}))
	require.NoError(t, s.Remove("+1"))
	require.Empty(t, s.Phones())
}

func TestLoadMissingAndEmpty(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	require.NoError(t, s.Load())
	require.Empty(t, s.Phones())

	require.NoError(t, os.WriteFile(s.Path(), []byte("  \n"), 0o600))
	require.NoError(t, s.Load())
	require.Empty(t, s.Phones())
}

func TestLoadCorruptFails(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))
	err := s.Load()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrPersistence)
}

func TestLoadLegacyFormat(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	legacy := `{"+79990000000": {"created_at": "2024-05-01T10:00:00.123456", "last_used": "2024-05-02T11:30:00", "groups": 7, "last_broadcast": null}}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(legacy), 0o600))
	require.NoError(t, s.Load())

	acc, ok := s.Account("+79990000000")
	require.True(t, ok)
	require.Equal(t, 7, acc.Groups)
	require.Nil(t, acc.LastBroadcast)
	require.Equal(t, 2024, acc.LastUsed.Year())
	require.Equal(t, 30, acc.LastUsed.Minute())

	// Загруженный аккаунт известен, но соединения с ним ещё нет
	_, connected := s.Get("+79990000000")
	require.False(t, connected)
	require.Empty(t, s.ListAll())
}

func TestSaveLoadRoundTripKeepsCounters(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	require.NoError(t, s.Add("+1", &conntest.FakeConn{}))
	require.NoError(t, s.UpdateGroupCount("+1", 12))
	now = now.Add(time.Hour)
	require.NoError(t, s.MarkBroadcast("+1"))

	reloaded, err := NewSessionStore(filepath.Dir(s.Path()), DefaultExpiry, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())
	acc, ok := reloaded.Account("+1")
	require.True(t, ok)
	require.Equal(t, 12, acc.Groups)
	require.NotNil(t, acc.LastBroadcast)
	require.True(t, acc.LastBroadcast.Equal(now))
	require.True(t, acc.LastUsed.Equal(now))
}

func TestUpdateUnknownAccount(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	require.ErrorIs(t, s.UpdateGroupCount("+404", 3), ErrNotFound)
	require.ErrorIs(t, s.MarkBroadcast("+404"), ErrNotFound)
	require.ErrorIs(t, s.Attach("+404", &conntest.FakeConn{}), ErrNotFound)
}

func TestSaveFailureIsReported(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	require.NoError(t, s.Add("+1", &conntest.FakeConn{}))
	// Каталог вместо файла метаданных делает rename невозможным
	require.NoError(t, os.Remove(s.Path()))
	require.NoError(t, os.Mkdir(s.Path(), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(s.Path(), "keep"), nil, 0o600))

	err := s.UpdateGroupCount("+1", 5)
	require.ErrorIs(t, err, ErrPersistence)
}

func TestCleanupExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	old := &conntest.FakeConn{}
	require.NoError(t, s.Add("+old", old))
	now = now.Add(23 * time.Hour)
	require.NoError(t, s.Add("+new", &conntest.FakeConn{}))
	now = now.Add(2 * time.Hour)

	sweep, err := s.CleanupExpired(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"+old"}, sweep.Removed)
	require.Empty(t, sweep.Busy)
	require.Equal(t, []string{"+new"}, s.Phones())
	require.Equal(t, 1, old.Closed())
}

func TestClearAllAndListOrder(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	for _, phone := range []string{"+3", "+1", "+2"} {
		require.NoError(t, s.Add(phone, &conntest.FakeConn{}))
	}
	entries := s.ListAll()
	require.Len(t, entries, 3)
	require.Equal(t, "+1", entries[0].Phone)
	require.Equal(t, "+3", entries[2].Phone)

	sweep, err := s.ClearAll(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"+1", "+2", "+3"}, sweep.Removed)
	require.Empty(t, s.ListAll())
	require.Empty(t, readFile(t, s))
}

func TestClearAllSkipsBusyAccount(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	busy := &conntest.FakeConn{}
	free := &conntest.FakeConn{}
	require.NoError(t, s.Add("+1", busy))
	require.NoError(t, s.Add("+2", free))

	locker := account_mutex.New(zerolog.Nop())
	require.NoError(t, locker.Lock("+1"))

	sweep, err := s.ClearAll(locker)
	require.NoError(t, err)
	require.Equal(t, []string{"+2"}, sweep.Removed)
	require.Equal(t, []string{"+1"}, sweep.Busy)
	require.Equal(t, 0, busy.Closed(), "соединение занятого аккаунта не закрывается")
	require.Equal(t, 1, free.Closed())
	c, ok := s.Get("+1")
	require.True(t, ok)
	require.Same(t, busy, c)
	require.Contains(t, readFile(t, s), "+1")

	// guard освобождается после удаления, занятый номер остаётся занятым
	require.Equal(t, []string{"+1"}, locker.Locked())
	locker.Unlock("+1")
	sweep, err = s.ClearAll(locker)
	require.NoError(t, err)
	require.Equal(t, []string{"+1"}, sweep.Removed)
	require.Equal(t, 1, busy.Closed())
	require.Empty(t, locker.Locked())
}

func TestCleanupExpiredSkipsBusyAccount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)
	fc := &conntest.FakeConn{}
	require.NoError(t, s.Add("+1", fc))
	now = now.Add(25 * time.Hour)

	locker := account_mutex.New(zerolog.Nop())
	require.NoError(t, locker.Lock("+1"))
	sweep, err := s.CleanupExpired(locker)
	require.NoError(t, err)
	require.Empty(t, sweep.Removed)
	require.Equal(t, []string{"+1"}, sweep.Busy)
	require.True(t, s.Has("+1"))
	require.Equal(t, 0, fc.Closed())
}

func TestAddKeepsHistoryOfKnownAccount(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created
	s := newTestStore(t, &now)
	require.NoError(t, s.Add("+1", &conntest.FakeConn{}))
	now = now.Add(time.Hour)
	require.NoError(t, s.MarkBroadcast("+1"))
	require.NoError(t, s.UpdateGroupCount("+1", 4))

	// повторный вход после потери соединения
	now = now.Add(48 * time.Hour)
	require.NoError(t, s.Add("+1", &conntest.FakeConn{}))

	acc, ok := s.Account("+1")
	require.True(t, ok)
	require.True(t, acc.CreatedAt.Time.Equal(created))
	require.NotNil(t, acc.LastBroadcast)
	require.True(t, acc.LastBroadcast.Time.Equal(created.Add(time.Hour)))
	require.True(t, acc.LastUsed.Time.Equal(now))
	require.Equal(t, 0, acc.Groups)
}

func TestAttachReplacesConnection(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, &now)
	first := &conntest.FakeConn{}
	require.NoError(t, s.Add("+1", first))
	second := &conntest.FakeConn{}
	require.NoError(t, s.Attach("+1", second))
	c, ok := s.Get("+1")
	require.True(t, ok)
	require.Same(t, second, c)
	require.Equal(t, 1, first.Closed())
}
