// Package bot - командный интерфейс владельца в Telegram на telebot.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"atg_broadcast/internal/app"
	"atg_broadcast/internal/config"
	"atg_broadcast/pkg/storage"
	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/accounts_auth"
	"atg_broadcast/pkg/telegram/conn"
)

// Лимит длины сообщения Telegram.
const maxMessageLen = 4096

const replyNoSessions = "No active sessions found. Please add an account first using /addid."

var commands = []tele.Command{
	{Text: "start", Description: "Show help"},
	{Text: "addid", Description: "Add new account"},
	{Text: "otp", Description: "Verify OTP"},
	{Text: "password", Description: "2FA authentication"},
	{Text: "cancel", Description: "Cancel a pending login"},
	{Text: "scan", Description: "Scan all groups"},
	{Text: "broadcast", Description: "Broadcast message to groups"},
	{Text: "left", Description: "Leave muted/read-only groups"},
	{Text: "status", Description: "Show session status"},
	{Text: "logs", Description: "Show recent broadcasts"},
	{Text: "removeid", Description: "Remove account"},
	{Text: "clearall", Description: "Clear all sessions"},
}

type Bot struct {
	tb      *tele.Bot
	svc     *app.Services
	cfg     config.BotConfig
	limiter *RateLimiter
	confirm *confirmations
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New создаёт бота с long polling и регистрирует команды.
func New(cfg config.BotConfig, svc *app.Services, log zerolog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("bot token is empty")
	}
	timeout := cfg.PollTimeout.D()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := newBot(cfg, svc, log)
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			b.log.Error().Err(err).Msg("ошибка обработчика")
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create bot")
	}
	b.tb = tb
	b.register(tb)
	return b, nil
}

func newBot(cfg config.BotConfig, svc *app.Services, log zerolog.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		svc:     svc,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit.Window.D(), cfg.RateLimit.MaxCommands),
		confirm: newConfirmations(),
		log:     log.With().Str("component", "BOT").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Bot) register(tb *tele.Bot) {
	tb.Use(OwnerOnly(b.cfg.OwnerID, b.log))

	cmd := tb.Group()
	cmd.Use(b.limiter.Middleware())
	cmd.Handle("/start", b.onStart)
	cmd.Handle("/addid", b.onAddID)
	cmd.Handle("/otp", b.onOTP)
	cmd.Handle("/password", b.onPassword)
	cmd.Handle("/cancel", b.onCancel)
	cmd.Handle("/broadcast", b.onBroadcast)
	cmd.Handle("/left", b.onLeft)
	cmd.Handle("/scan", b.onScan)
	cmd.Handle("/status", b.onStatus)
	cmd.Handle("/logs", b.onLogs)
	cmd.Handle("/removeid", b.onRemoveID)
	cmd.Handle("/clearall", b.onClearAll)

	// Ответы на подтверждения не расходуют лимит команд
	tb.Handle(tele.OnText, b.onText)
}

// Start запускает опрос обновлений в отдельной горутине.
func (b *Bot) Start() {
	if err := b.tb.SetCommands(commands); err != nil {
		b.log.Warn().Err(err).Msg("не удалось обновить меню команд")
	}
	go b.tb.Start()
	b.log.Info().Str("username", b.tb.Me.Username).Int64("owner_id", b.cfg.OwnerID).Msg("бот запущен")
}

// Stop прерывает выполняемые команды и останавливает опрос.
func (b *Bot) Stop() {
	b.cancel()
	if b.tb != nil {
		b.tb.Stop()
	}
	b.log.Info().Msg("бот остановлен")
}

func sendHTML(c tele.Context, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := c.Send(chunk, tele.ModeHTML); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage режет длинный ответ по границам блоков, затем по строкам.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			out = append(out, line[:limit])
			line = line[limit:]
		}
		if cur.Len()+len(line) > limit {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return out
}

func payload(c tele.Context) string {
	if m := c.Message(); m != nil {
		return strings.TrimSpace(m.Payload)
	}
	return ""
}

func (b *Bot) onStart(c tele.Context) error {
	return sendHTML(c, helpText)
}

func (b *Bot) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	b.confirm.Deliver(m.Chat.ID, m.Text)
	return nil
}

// authReply переводит ошибку входа в ответ владельцу.
func authReply(phone string, err error, prefix string) string {
	switch {
	case errors.Is(err, accounts_auth.ErrAlreadyActive):
		return fmt.Sprintf("Account with phone number %s is already added.", phone)
	case errors.Is(err, accounts_auth.ErrLoginPending):
		return fmt.Sprintf("A login for %s is already pending. Use /otp to continue or /cancel %s to start over.", phone, phone)
	case errors.Is(err, accounts_auth.ErrNoPendingLogin):
		return "No pending login for this phone number. Please use /addid first."
	case errors.Is(err, account_mutex.ErrBusy):
		return fmt.Sprintf("Account %s is busy with another operation. Please try again later.", phone)
	case errors.Is(err, storage.ErrPersistence):
		return fmt.Sprintf("Logged in, but account metadata could not be saved: %v", err)
	}
	var fw *conn.FloodWaitError
	if errors.As(err, &fw) {
		return fmt.Sprintf("%s: Telegram asks to wait %s before retrying.", prefix, fw.Wait)
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}

func (b *Bot) onAddID(c tele.Context) error {
	args := strings.Fields(payload(c))
	if len(args) < 1 {
		return c.Send("Please provide a phone number. Usage: /addid <phone_number>")
	}
	phone := accounts_auth.NormalizePhone(args[0])
	if _, err := b.svc.Auth.RequestCode(b.ctx, phone); err != nil {
		return c.Send(authReply(phone, err, "Failed to send OTP"))
	}
	return c.Send(fmt.Sprintf("OTP sent to %s. Please use /otp <code> to complete login.", phone))
}

// resolvePending выбирает номер для /otp, /password и /cancel: явно указанный
// первым аргументом или единственный незавершённый вход.
func (b *Bot) resolvePending(text string, needRest bool) (phone, rest, reply string) {
	fields := strings.Fields(text)
	pending := b.svc.Auth.Pending()
	if len(fields) > 0 && (len(fields) > 1 || !needRest) {
		first := accounts_auth.NormalizePhone(fields[0])
		explicit := strings.HasPrefix(first, "+")
		for _, p := range pending {
			if p.Phone == first {
				explicit = true
			}
		}
		if explicit {
			return first, strings.TrimSpace(strings.TrimPrefix(text, fields[0])), ""
		}
	}
	switch len(pending) {
	case 0:
		return "", "", "No pending login found. Please use /addid first."
	case 1:
		return pending[0].Phone, text, ""
	}
	phones := make([]string, len(pending))
	for i, p := range pending {
		phones[i] = p.Phone
	}
	return "", "", fmt.Sprintf("Several logins are pending (%s). Please specify the phone number first.", strings.Join(phones, ", "))
}

func (b *Bot) onOTP(c tele.Context) error {
	text := payload(c)
	if text == "" {
		return c.Send("Please provide the OTP code. Usage: /otp [phone_number] <code>")
	}
	phone, code, reply := b.resolvePending(text, true)
	if reply != "" {
		return c.Send(reply)
	}
	if code == "" {
		return c.Send("Please provide the OTP code. Usage: /otp [phone_number] <code>")
	}
	res, err := b.svc.Auth.SubmitCode(b.ctx, phone, code)
	if err != nil {
		return c.Send(authReply(phone, err, "Failed to verify OTP"))
	}
	if !res.Completed {
		return c.Send("Two-step verification is enabled. Please use /password <password> to complete login.")
	}
	return c.Send(fmt.Sprintf("Login successful for %s! Groups available: %d", res.User.FirstName, res.Groups))
}

func (b *Bot) onPassword(c tele.Context) error {
	text := payload(c)
	if text == "" {
		return c.Send("Please provide the 2FA password. Usage: /password [phone_number] <password>")
	}
	phone, password, reply := b.resolvePending(text, true)
	if reply != "" {
		return c.Send(reply)
	}
	res, err := b.svc.Auth.SubmitPassword(b.ctx, phone, password)
	if err != nil {
		return c.Send(authReply(phone, err, "Failed to authenticate with password"))
	}
	return c.Send(fmt.Sprintf("2FA successful! Logged in as %s. Groups available: %d", res.User.FirstName, res.Groups))
}

func (b *Bot) onCancel(c tele.Context) error {
	phone, _, reply := b.resolvePending(payload(c), false)
	if reply != "" {
		return c.Send(reply)
	}
	if err := b.svc.Auth.Cancel(phone); err != nil {
		return c.Send(authReply(phone, err, "Failed to cancel login"))
	}
	return c.Send(fmt.Sprintf("Login for %s cancelled.", phone))
}

func (b *Bot) onBroadcast(c tele.Context) error {
	text := payload(c)
	if text == "" {
		return c.Send("Please provide a message to broadcast. Usage: /broadcast <message>")
	}
	if len(b.svc.Store.ListAll()) == 0 {
		return c.Send(replyNoSessions)
	}
	if err := c.Send("Broadcasting message to all groups..."); err != nil {
		return err
	}
	results := b.svc.Engine.Broadcast(b.ctx, text, b.svc.Format)
	return sendHTML(c, formatBroadcast(results))
}

func (b *Bot) onLeft(c tele.Context) error {
	if len(b.svc.Store.ListAll()) == 0 {
		return c.Send(replyNoSessions)
	}
	if err := c.Send("Leaving muted/read-only groups..."); err != nil {
		return err
	}
	results := b.svc.Scanner.SweepAll(b.ctx, b.svc.Criteria)
	return sendHTML(c, formatLeave(results))
}

func (b *Bot) onScan(c tele.Context) error {
	if len(b.svc.Store.ListAll()) == 0 {
		return c.Send(replyNoSessions)
	}
	if err := c.Send("Scanning all groups for added accounts..."); err != nil {
		return err
	}
	return sendHTML(c, formatScan(b.svc.Scanner.Scan(b.ctx)))
}

func (b *Bot) onStatus(c tele.Context) error {
	uptime := time.Since(b.svc.Started)
	return sendHTML(c, formatStatus(b.svc.Store.ComputeStatus(), b.svc.Auth.Pending(), uptime))
}

func (b *Bot) onLogs(c tele.Context) error {
	return sendHTML(c, formatLogs(b.svc.History.Recent(maxLogsShown)))
}

func (b *Bot) onRemoveID(c tele.Context) error {
	args := strings.Fields(payload(c))
	if len(args) < 1 {
		return c.Send("Please provide a phone number. Usage: /removeid <phone_number>")
	}
	phone := accounts_auth.NormalizePhone(args[0])
	if !b.svc.Store.Has(phone) {
		return c.Send(fmt.Sprintf("No session found for phone number %s.", phone))
	}
	if err := b.svc.Locker.Lock(phone); err != nil {
		return c.Send(authReply(phone, err, "Failed to remove session"))
	}
	defer b.svc.Locker.Unlock(phone)
	if err := b.svc.Store.Remove(phone); err != nil {
		b.log.Error().Err(err).Str("phone", phone).Msg("не удалось удалить аккаунт")
		return c.Send(fmt.Sprintf("Session for %s removed, but metadata could not be saved: %v", phone, err))
	}
	return c.Send(fmt.Sprintf("Session for %s removed successfully.", phone))
}

func (b *Bot) onClearAll(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	if err := c.Send("Are you sure you want to clear all sessions? This will remove all accounts. Reply with 'YES' to confirm."); err != nil {
		return err
	}
	confirmed, answered := b.confirm.Await(b.ctx, m.Chat.ID, b.cfg.ConfirmTimeout.D())
	switch {
	case !answered:
		return c.Send("No confirmation received. Operation cancelled.")
	case !confirmed:
		return c.Send("Operation cancelled.")
	}
	sweep, err := b.svc.Store.ClearAll(b.svc.Locker)
	if err != nil {
		b.log.Error().Err(err).Msg("не удалось очистить аккаунты")
		return c.Send(fmt.Sprintf("Sessions cleared, but metadata could not be saved: %v", err))
	}
	b.log.Warn().Strs("removed", sweep.Removed).Strs("busy", sweep.Busy).Msg("аккаунты удалены владельцем")
	if len(sweep.Busy) > 0 {
		return c.Send(fmt.Sprintf("Cleared %d sessions. Skipped busy accounts: %s. Run /clearall again when they are free.",
			len(sweep.Removed), strings.Join(sweep.Busy, ", ")))
	}
	return c.Send("All sessions cleared successfully.")
}
