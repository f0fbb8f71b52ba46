package bot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atg_broadcast/models"
)

func groupErrors(n int) []models.GroupError {
	out := make([]models.GroupError, n)
	for i := range out {
		out[i] = models.GroupError{Title: fmt.Sprintf("g%d", i+1), Error: "CHAT_WRITE_FORBIDDEN"}
	}
	return out
}

func TestErrorSummary(t *testing.T) {
	assert.Equal(t, "g1: CHAT_WRITE_FORBIDDEN", errorSummary(groupErrors(1)))
	assert.Equal(t,
		"g1: CHAT_WRITE_FORBIDDEN, g2: CHAT_WRITE_FORBIDDEN, g3: CHAT_WRITE_FORBIDDEN (and 2 more...)",
		errorSummary(groupErrors(5)))
	assert.NotContains(t, errorSummary(groupErrors(3)), "more")
}

func TestFormatBroadcast(t *testing.T) {
	out := formatBroadcast(map[string]models.BroadcastResult{
		"+2": {Error: "account is busy"},
		"+1": {Success: 3, Failed: 4, Errors: groupErrors(4)},
	})
	assert.Less(t, strings.Index(out, "+1"), strings.Index(out, "+2"), "номера упорядочены")
	assert.Contains(t, out, "📱 +2: Error - account is busy")
	assert.Contains(t, out, "(and 1 more...)")
	assert.True(t, strings.HasSuffix(out, "✅ Success: 3\n❌ Failed: 4"), "ошибка аккаунта не входит в итог")
}

func TestFormatScanCapsList(t *testing.T) {
	list := make([]models.GroupInfo, 12)
	for i := range list {
		list[i] = models.GroupInfo{Title: fmt.Sprintf("G%02d", i), Type: models.GroupTypeSupergroup}
	}
	out := formatScan(map[string]models.ScanResult{"+1": {Groups: 12, GroupList: list}})
	assert.Contains(t, out, "   - G09 (supergroup)")
	assert.NotContains(t, out, "G10")
	assert.Contains(t, out, "   ... and 2 more groups")
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0h 0m 0s", formatUptime(0))
	assert.Equal(t, "26h 3m 9s", formatUptime(26*time.Hour+3*time.Minute+9*time.Second+500*time.Millisecond))
}

func TestFormatStatus(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	out := formatStatus([]models.AccountStatus{
		{Phone: "+1", Groups: 5, LastBroadcast: &last, Connected: true},
		{Phone: "+2", Expired: true},
	}, []models.PendingLogin{{Phone: "+3", Stage: models.StageAwaitingCode, ExpiresAt: last}}, time.Hour)

	assert.Contains(t, out, "⏱ Uptime: 1h 0m 0s")
	assert.Contains(t, out, "📢 Last Broadcast: 2026-03-01 12:30:00")
	assert.Contains(t, out, "📢 Last Broadcast: Never")
	assert.Contains(t, out, "⏰ Expired: Yes")
	assert.Equal(t, 1, strings.Count(out, "Connected: No"))
	assert.Contains(t, out, "🔑 +3 (awaiting_code, expires 12:30:00)")

	assert.Contains(t, formatStatus(nil, nil, 0), "No active sessions.")
}

func TestFormatLogs(t *testing.T) {
	assert.Equal(t, "No broadcasts yet.", formatLogs(nil))
	out := formatLogs([]models.BroadcastLogEntry{{
		Time:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Text:    strings.Repeat("я", 50),
		Results: map[string]models.BroadcastResult{"+1": {Success: 2, Failed: 1}},
	}})
	assert.Contains(t, out, strings.Repeat("я", 40)+"…")
	assert.Contains(t, out, "Accounts: 1 ✅ 2 ❌ 1")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	parts := splitMessage("aaaa\nbbbb\ncccc\n", 10)
	require.Len(t, parts, 2)
	assert.Equal(t, "aaaa\nbbbb", parts[0])
	assert.Equal(t, "cccc", parts[1])

	for _, p := range splitMessage(strings.Repeat("x", 25), 10) {
		assert.LessOrEqual(t, len(p), 10)
	}
}
