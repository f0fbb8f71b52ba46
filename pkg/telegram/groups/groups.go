// Package groups перечисляет группы аккаунта, проверяет права на отправку
// и чистит список групп от заглушённых и read-only чатов.
package groups

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"atg_broadcast/models"
	"atg_broadcast/pkg/telegram/conn"
)

// Inspector читает группы аккаунта и права в них. Ничего не меняет.
type Inspector struct {
	log zerolog.Logger
}

func NewInspector(log zerolog.Logger) *Inspector {
	return &Inspector{log: log.With().Str("component", "GROUPS").Logger()}
}

// Groups возвращает только обычные группы и супергруппы, каналы и личные чаты отбрасываются.
func (i *Inspector) Groups(ctx context.Context, c conn.Conn) ([]conn.Chat, error) {
	dialogs, err := c.Dialogs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "dialogs")
	}
	out := make([]conn.Chat, 0, len(dialogs))
	for _, d := range dialogs {
		if d.Kind.IsGroup() {
			out = append(out, d)
		}
	}
	return out, nil
}

// CanSend проверяет, может ли аккаунт писать в группу. Если Telegram не ответил,
// возвращается PermissionUnknown: решение остаётся за вызывающим.
func (i *Inspector) CanSend(ctx context.Context, c conn.Conn, chat conn.Chat) (models.Permission, conn.Membership) {
	m, err := c.SelfMembership(ctx, chat)
	if err != nil {
		i.log.Debug().Err(err).Int64("chat_id", chat.ID).Str("title", chat.Title).Msg("не удалось получить статус участника")
		return models.PermissionUnknown, conn.Membership{}
	}
	if m.Status == conn.StatusLeft || !m.CanSend {
		return models.PermissionDenied, m
	}
	return models.PermissionAllowed, m
}

// CountSendable считает группы, куда рассылка будет отправлять сообщения:
// запрещённые не считаются, неизвестные считаются.
func (i *Inspector) CountSendable(ctx context.Context, c conn.Conn) (int, error) {
	groups, err := i.Groups(ctx, c)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, g := range groups {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if perm, _ := i.CanSend(ctx, c, g); perm != models.PermissionDenied {
			n++
		}
	}
	return n, nil
}

// ListGroups собирает сведения о каждой группе. Ошибки запроса числа участников
// и статуса не прерывают обход, поля получают значение unknown.
func (i *Inspector) ListGroups(ctx context.Context, c conn.Conn) ([]models.GroupInfo, error) {
	groups, err := i.Groups(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]models.GroupInfo, 0, len(groups))
	for _, g := range groups {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		perm, m := i.CanSend(ctx, c, g)
		info := models.GroupInfo{
			ID:              g.ID,
			Title:           g.Title,
			Type:            g.Kind.GroupType(),
			IsAdmin:         m.IsAdmin(),
			CanSendMessages: perm,
			Notifications:   g.Notifications,
		}
		if info.Notifications == "" {
			info.Notifications = models.NotificationsUnknown
		}
		if n, err := c.MemberCount(ctx, g); err == nil {
			info.MemberCount = models.KnownMembers(n)
		} else {
			i.log.Debug().Err(err).Int64("chat_id", g.ID).Msg("число участников неизвестно")
		}
		if g.Username != "" {
			username := g.Username
			info.Username = &username
		}
		out = append(out, info)
	}
	return out, nil
}
