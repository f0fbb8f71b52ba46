package storage

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"atg_broadcast/models"
)

// DefaultHistorySize - сколько последних рассылок держится в памяти.
const DefaultHistorySize = 100

// HistorySink - постоянное хранилище журнала рассылок.
type HistorySink interface {
	AppendBroadcast(ctx context.Context, e models.BroadcastLogEntry) error
	RecentBroadcasts(ctx context.Context, limit int) ([]models.BroadcastLogEntry, error)
	Close() error
}

// History - журнал рассылок: кольцевой буфер последних записей
// и, если настроен, запись в базу.
type History struct {
	log  zerolog.Logger
	sink HistorySink

	mu      sync.Mutex
	entries []models.BroadcastLogEntry
	next    int
	full    bool
}

// NewHistory создаёт журнал на size записей. sink может быть nil.
func NewHistory(size int, sink HistorySink, log zerolog.Logger) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		log:     log.With().Str("component", "HISTORY").Logger(),
		sink:    sink,
		entries: make([]models.BroadcastLogEntry, size),
	}
}

// Append добавляет запись, вытесняя самую старую при переполнении.
// Ошибка базы только логируется: журнал в памяти уже обновлён.
func (h *History) Append(ctx context.Context, e models.BroadcastLogEntry) {
	h.mu.Lock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()

	if h.sink == nil {
		return
	}
	if err := h.sink.AppendBroadcast(ctx, e); err != nil {
		h.log.Error().Err(err).Time("time", e.Time).Msg("не удалось сохранить рассылку в базу")
	}
}

// Len возвращает число записей в памяти.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Recent возвращает до n последних записей, новые первыми. n <= 0 - все.
func (h *History) Recent(n int) []models.BroadcastLogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	size := h.next
	if h.full {
		size = len(h.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]models.BroadcastLogEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}

// Stored читает записи из базы; без базы отдаёт содержимое памяти.
func (h *History) Stored(ctx context.Context, limit int) ([]models.BroadcastLogEntry, error) {
	if h.sink == nil {
		return h.Recent(limit), nil
	}
	return h.sink.RecentBroadcasts(ctx, limit)
}

// Close закрывает базу, если она есть.
func (h *History) Close() error {
	if h.sink == nil {
		return nil
	}
	return h.sink.Close()
}
