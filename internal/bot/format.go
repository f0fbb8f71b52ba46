package bot

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"atg_broadcast/models"
)

const (
	maxErrorsShown = 3
	maxGroupsShown = 10
	maxLogsShown   = 10
	logTextPreview = 40
)

func sortedPhones[V any](m map[string]V) []string {
	phones := make([]string, 0, len(m))
	for p := range m {
		phones = append(phones, p)
	}
	sort.Strings(phones)
	return phones
}

// errorSummary показывает первые три ошибки и количество остальных.
func errorSummary(errs []models.GroupError) string {
	shown := errs
	if len(shown) > maxErrorsShown {
		shown = shown[:maxErrorsShown]
	}
	parts := make([]string, len(shown))
	for i, e := range shown {
		parts[i] = html.EscapeString(e.String())
	}
	s := strings.Join(parts, ", ")
	if rest := len(errs) - len(shown); rest > 0 {
		s += fmt.Sprintf(" (and %d more...)", rest)
	}
	return s
}

func formatBroadcast(results map[string]models.BroadcastResult) string {
	var b strings.Builder
	b.WriteString("<b>Broadcast Results:</b>\n\n")
	var success, failed int
	for _, phone := range sortedPhones(results) {
		r := results[phone]
		if r.Error != "" {
			fmt.Fprintf(&b, "📱 %s: Error - %s\n\n", phone, html.EscapeString(r.Error))
			continue
		}
		fmt.Fprintf(&b, "📱 %s:\n   ✅ Success: %d\n   ❌ Failed: %d\n", phone, r.Success, r.Failed)
		if len(r.Errors) > 0 {
			fmt.Fprintf(&b, "   Errors: %s\n", errorSummary(r.Errors))
		}
		b.WriteString("\n")
		success += r.Success
		failed += r.Failed
	}
	fmt.Fprintf(&b, "📊 <b>Total:</b>\n✅ Success: %d\n❌ Failed: %d", success, failed)
	return b.String()
}

func formatLeave(results map[string]models.LeaveResult) string {
	var b strings.Builder
	b.WriteString("<b>Left Groups Results:</b>\n\n")
	for _, phone := range sortedPhones(results) {
		r := results[phone]
		if r.Error != "" {
			fmt.Fprintf(&b, "📱 %s: Error - %s\n\n", phone, html.EscapeString(r.Error))
			continue
		}
		fmt.Fprintf(&b, "📱 %s:\n   ✅ Left: %d\n   ❌ Failed: %d\n", phone, r.Left, r.Failed)
		if len(r.Errors) > 0 {
			fmt.Fprintf(&b, "   Errors: %s\n", errorSummary(r.Errors))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatScan(results map[string]models.ScanResult) string {
	var b strings.Builder
	b.WriteString("<b>Scan Results:</b>\n\n")
	for _, phone := range sortedPhones(results) {
		r := results[phone]
		if r.Error != "" {
			fmt.Fprintf(&b, "📱 %s: Error - %s\n\n", phone, html.EscapeString(r.Error))
			continue
		}
		fmt.Fprintf(&b, "📱 %s:\n   📚 Groups: %d\n", phone, r.Groups)
		if r.Groups > 0 {
			b.WriteString("   Group List:\n")
			list := r.GroupList
			if len(list) > maxGroupsShown {
				list = list[:maxGroupsShown]
			}
			for _, g := range list {
				fmt.Fprintf(&b, "   - %s (%s)\n", html.EscapeString(g.Title), g.Type)
			}
			if r.Groups > maxGroupsShown {
				fmt.Fprintf(&b, "   ... and %d more groups\n", r.Groups-maxGroupsShown)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatUptime печатает длительность как "Xh Ym Zs".
func formatUptime(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", s/3600, s%3600/60, s%60)
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatStatus(status []models.AccountStatus, pending []models.PendingLogin, uptime time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Bot Status</b>\n⏱ Uptime: %s\n\n", formatUptime(uptime))
	if len(status) == 0 {
		b.WriteString("No active sessions.\n")
	} else {
		b.WriteString("<b>Active Sessions:</b>\n")
		for _, st := range status {
			fmt.Fprintf(&b, "📱 %s\n   📚 Groups: %d\n", st.Phone, st.Groups)
			if st.LastBroadcast != nil {
				fmt.Fprintf(&b, "   📢 Last Broadcast: %s\n", st.LastBroadcast.UTC().Format(time.DateTime))
			} else {
				b.WriteString("   📢 Last Broadcast: Never\n")
			}
			fmt.Fprintf(&b, "   ⏰ Expired: %s\n", yesNo(st.Expired))
			if !st.Connected {
				b.WriteString("   🔌 Connected: No\n")
			}
			b.WriteString("\n")
		}
	}
	if len(pending) > 0 {
		b.WriteString("<b>Pending Logins:</b>\n")
		for _, p := range pending {
			fmt.Fprintf(&b, "🔑 %s (%s, expires %s)\n", p.Phone, p.Stage, p.ExpiresAt.UTC().Format(time.TimeOnly))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLogs(entries []models.BroadcastLogEntry) string {
	if len(entries) == 0 {
		return "No broadcasts yet."
	}
	var b strings.Builder
	b.WriteString("<b>Recent Broadcasts:</b>\n\n")
	for _, e := range entries {
		success, failed := e.Totals()
		text := []rune(e.Text)
		preview := string(text)
		if len(text) > logTextPreview {
			preview = string(text[:logTextPreview]) + "…"
		}
		fmt.Fprintf(&b, "🕒 %s - %s\n   📱 Accounts: %d ✅ %d ❌ %d\n",
			e.Time.UTC().Format(time.DateTime), html.EscapeString(preview), len(e.Results), success, failed)
	}
	return strings.TrimRight(b.String(), "\n")
}

const helpText = `🤖 <b>Telegram Broadcasting Bot</b> 🤖

<b>Available Commands:</b>
/addid &lt;phone_number&gt; - Add new account
/otp [phone_number] &lt;code&gt; - Verify OTP
/password [phone_number] &lt;2fa_password&gt; - 2FA authentication
/cancel [phone_number] - Cancel a pending login
/scan - Scan all groups for added accounts
/broadcast &lt;message&gt; - Broadcast message to groups
/left - Leave muted/read-only groups
/status - Show session status
/logs - Show recent broadcasts
/removeid &lt;phone_number&gt; - Remove account
/clearall - Clear all sessions

🔒 <i>Only the bot owner can use these commands.</i>`
