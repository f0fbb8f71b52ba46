package client

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"atg_broadcast/models"
	"atg_broadcast/pkg/telegram/conn"
)

const (
	dialogsPage = 100
	// Не больше стольких страниц диалогов за один обход
	maxDialogPages = 200
	channelIDShift = 1_000_000_000_000
)

// peer - то, что нужно для обращения к чату после перечисления диалогов.
type peer struct {
	input   tg.InputPeerClass
	channel *tg.Channel
	chat    *tg.Chat
}

func (p peer) inputChannel() *tg.InputChannel {
	return &tg.InputChannel{ChannelID: p.channel.ID, AccessHash: p.channel.AccessHash}
}

// Идентификаторы в стиле Bot API: каналы и супергруппы -100…, группы отрицательные.
func channelChatID(id int64) int64 { return -(channelIDShift + id) }
func basicChatID(id int64) int64   { return -id }

// Dialogs обходит все страницы messages.getDialogs и запоминает
// входные пиры, чтобы дальнейшие вызовы обходились без повторного поиска.
func (c *Conn) Dialogs(ctx context.Context) ([]conn.Chat, error) {
	var (
		out        []conn.Chat
		seen       = make(map[int64]struct{})
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
		found      = make(map[int64]peer)
		now        = time.Now()
	)

	for page := 0; page < maxDialogPages; page++ {
		res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogsPage,
		})
		if err != nil {
			return nil, errors.Wrap(mapError(err), "get dialogs")
		}
		dialogs, ok := res.AsModified()
		if !ok {
			break
		}

		chats := indexChats(dialogs.GetChats())
		users := indexUsers(dialogs.GetUsers())
		raw := dialogs.GetDialogs()
		for _, rd := range raw {
			d, ok := rd.(*tg.Dialog)
			if !ok {
				continue
			}
			chat, p, ok := describe(d, chats, users, now)
			if !ok {
				continue
			}
			if _, dup := seen[chat.ID]; dup {
				continue
			}
			seen[chat.ID] = struct{}{}
			found[chat.ID] = p
			out = append(out, chat)
		}

		if _, more := res.(*tg.MessagesDialogsSlice); !more || len(raw) < dialogsPage {
			break
		}
		last, ok := raw[len(raw)-1].(*tg.Dialog)
		if !ok {
			break
		}
		nextPeer, nextDate := c.offsetFor(last, dialogs.GetMessages(), chats, users)
		if nextPeer == nil || (last.TopMessage == offsetID && nextDate == offsetDate) {
			break
		}
		offsetID, offsetDate, offsetPeer = last.TopMessage, nextDate, nextPeer
	}

	c.mu.Lock()
	for id, p := range found {
		c.peers[id] = p
	}
	c.mu.Unlock()

	c.log.Debug().Int("dialogs", len(out)).Msg("диалоги получены")
	return out, nil
}

// offsetFor возвращает пир и дату верхнего сообщения последнего диалога страницы.
func (c *Conn) offsetFor(d *tg.Dialog, msgs []tg.MessageClass, chats map[int64]tg.ChatClass, users map[int64]*tg.User) (tg.InputPeerClass, int) {
	var input tg.InputPeerClass
	switch p := d.Peer.(type) {
	case *tg.PeerChannel:
		if ch, ok := chats[p.ChannelID].(*tg.Channel); ok {
			input = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
		}
	case *tg.PeerChat:
		input = &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerUser:
		if u, ok := users[p.UserID]; ok {
			input = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
		}
	}

	target := peerKey(d.Peer)
	for _, m := range msgs {
		switch m := m.(type) {
		case *tg.Message:
			if m.ID == d.TopMessage && peerKey(m.PeerID) == target {
				return input, m.Date
			}
		case *tg.MessageService:
			if m.ID == d.TopMessage && peerKey(m.PeerID) == target {
				return input, m.Date
			}
		}
	}
	return input, 0
}

func peerKey(p tg.PeerClass) int64 {
	switch p := p.(type) {
	case *tg.PeerChannel:
		return channelChatID(p.ChannelID)
	case *tg.PeerChat:
		return basicChatID(p.ChatID)
	case *tg.PeerUser:
		return p.UserID
	}
	return 0
}

func indexChats(list []tg.ChatClass) map[int64]tg.ChatClass {
	out := make(map[int64]tg.ChatClass, len(list))
	for _, ch := range list {
		out[ch.GetID()] = ch
	}
	return out
}

func indexUsers(list []tg.UserClass) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(list))
	for _, u := range list {
		if user, ok := u.(*tg.User); ok {
			out[user.ID] = user
		}
	}
	return out
}

// describe переводит диалог в conn.Chat. Покинутые, удалённые и
// мигрировавшие группы пропускаются.
func describe(d *tg.Dialog, chats map[int64]tg.ChatClass, users map[int64]*tg.User, now time.Time) (conn.Chat, peer, bool) {
	chat := conn.Chat{Notifications: notificationState(d.NotifySettings, now)}
	var p peer
	switch dp := d.Peer.(type) {
	case *tg.PeerChannel:
		ch, ok := chats[dp.ChannelID].(*tg.Channel)
		if !ok || ch.Left {
			return conn.Chat{}, peer{}, false
		}
		chat.ID, chat.Title, chat.Username = channelChatID(ch.ID), ch.Title, ch.Username
		chat.Kind = conn.KindChannel
		if ch.Megagroup || ch.Gigagroup {
			chat.Kind = conn.KindSupergroup
		}
		p = peer{input: &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, channel: ch}
	case *tg.PeerChat:
		ch, ok := chats[dp.ChatID].(*tg.Chat)
		if !ok || ch.Left || ch.Deactivated {
			return conn.Chat{}, peer{}, false
		}
		chat.ID, chat.Title, chat.Kind = basicChatID(ch.ID), ch.Title, conn.KindGroup
		p = peer{input: &tg.InputPeerChat{ChatID: ch.ID}, chat: ch}
	case *tg.PeerUser:
		u, ok := users[dp.UserID]
		if !ok {
			return conn.Chat{}, peer{}, false
		}
		chat.ID, chat.Kind, chat.Username = u.ID, conn.KindPrivate, u.Username
		chat.Title = strings.TrimSpace(u.FirstName + " " + u.LastName)
		p = peer{input: &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}}
	default:
		return conn.Chat{}, peer{}, false
	}
	return chat, p, true
}

// notificationState: mute_until в будущем означает, что уведомления выключены,
// в прошлом - включены; без значения состояние неизвестно.
func notificationState(s tg.PeerNotifySettings, now time.Time) models.NotificationState {
	until, ok := s.GetMuteUntil()
	if !ok {
		return models.NotificationsUnknown
	}
	if int64(until) > now.Unix() {
		return models.NotificationsDisabled
	}
	return models.NotificationsEnabled
}

// lookup возвращает сохранённый пир чата.
func (c *Conn) lookup(chat conn.Chat) (peer, error) {
	c.mu.RLock()
	p, ok := c.peers[chat.ID]
	c.mu.RUnlock()
	if !ok {
		return peer{}, errors.Errorf("chat %d (%s) is not in dialogs cache", chat.ID, chat.Title)
	}
	return p, nil
}

func (c *Conn) forget(chat conn.Chat) {
	c.mu.Lock()
	delete(c.peers, chat.ID)
	c.mu.Unlock()
}
