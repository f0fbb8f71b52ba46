package client

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"atg_broadcast/pkg/telegram/conn"
)

// SelfMembership запрашивает статус аккаунта в чате. Для супергрупп и каналов
// идёт запрос channels.getParticipant, для обычных групп права берутся из
// данных чата, полученных вместе с диалогами.
func (c *Conn) SelfMembership(ctx context.Context, chat conn.Chat) (conn.Membership, error) {
	p, err := c.lookup(chat)
	if err != nil {
		return conn.Membership{}, err
	}
	if p.chat != nil {
		return basicMembership(p.chat), nil
	}
	if p.channel == nil {
		return conn.Membership{}, errors.Errorf("chat %d is not a group", chat.ID)
	}

	res, err := c.api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     p.inputChannel(),
		Participant: &tg.InputPeerSelf{},
	})
	if err != nil {
		return conn.Membership{}, errors.Wrap(mapError(err), "get participant")
	}
	return channelMembership(p.channel, res.Participant, time.Now()), nil
}

func basicMembership(ch *tg.Chat) conn.Membership {
	if ch.Creator {
		return conn.Membership{Status: conn.StatusCreator, CanSend: true}
	}
	if _, ok := ch.GetAdminRights(); ok {
		return conn.Membership{Status: conn.StatusAdmin, CanSend: true}
	}
	m := conn.Membership{Status: conn.StatusMember, CanSend: true}
	if rights, ok := ch.GetDefaultBannedRights(); ok && rights.SendMessages {
		m.CanSend = false
	}
	return m
}

func channelMembership(ch *tg.Channel, part tg.ChannelParticipantClass, now time.Time) conn.Membership {
	switch pt := part.(type) {
	case *tg.ChannelParticipantCreator:
		return conn.Membership{Status: conn.StatusCreator, CanSend: true}
	case *tg.ChannelParticipantAdmin:
		return conn.Membership{Status: conn.StatusAdmin, CanSend: !ch.Broadcast || pt.AdminRights.PostMessages}
	case *tg.ChannelParticipantLeft:
		return conn.Membership{Status: conn.StatusLeft}
	case *tg.ChannelParticipantBanned:
		if pt.Left {
			return conn.Membership{Status: conn.StatusLeft}
		}
		if restricts(pt.BannedRights, now) {
			return conn.Membership{Status: conn.StatusRestricted}
		}
	}

	m := conn.Membership{Status: conn.StatusMember, CanSend: !ch.Broadcast}
	if rights, ok := ch.GetDefaultBannedRights(); ok && restricts(rights, now) {
		m.CanSend = false
	}
	if rights, ok := ch.GetBannedRights(); ok && restricts(rights, now) {
		m.Status, m.CanSend = conn.StatusRestricted, false
	}
	return m
}

// restricts сообщает, запрещает ли ограничение писать сообщения прямо сейчас.
// UntilDate == 0 означает бессрочное ограничение.
func restricts(r tg.ChatBannedRights, now time.Time) bool {
	if !r.SendMessages {
		return false
	}
	return r.UntilDate == 0 || int64(r.UntilDate) > now.Unix()
}

// MemberCount возвращает число участников чата.
func (c *Conn) MemberCount(ctx context.Context, chat conn.Chat) (int, error) {
	p, err := c.lookup(chat)
	if err != nil {
		return 0, err
	}
	if p.chat != nil {
		return p.chat.ParticipantsCount, nil
	}
	if p.channel == nil {
		return 0, errors.Errorf("chat %d is not a group", chat.ID)
	}
	if n, ok := p.channel.GetParticipantsCount(); ok && n > 0 {
		return n, nil
	}

	full, err := c.api.ChannelsGetFullChannel(ctx, p.inputChannel())
	if err != nil {
		return 0, errors.Wrap(mapError(err), "get full channel")
	}
	cf, ok := full.FullChat.(*tg.ChannelFull)
	if !ok {
		return 0, errors.Errorf("unexpected full chat type %T", full.FullChat)
	}
	n, ok := cf.GetParticipantsCount()
	if !ok {
		return 0, errors.New("participants count is hidden")
	}
	return n, nil
}

// LeaveChat выходит из группы, супергруппы или канала.
func (c *Conn) LeaveChat(ctx context.Context, chat conn.Chat) error {
	p, err := c.lookup(chat)
	if err != nil {
		return err
	}
	switch {
	case p.channel != nil:
		_, err = c.api.ChannelsLeaveChannel(ctx, p.inputChannel())
	case p.chat != nil:
		_, err = c.api.MessagesDeleteChatUser(ctx, &tg.MessagesDeleteChatUserRequest{
			ChatID: p.chat.ID,
			UserID: &tg.InputUserSelf{},
		})
	default:
		return errors.Errorf("chat %d is not a group", chat.ID)
	}
	if err != nil {
		return mapError(err)
	}
	c.forget(chat)
	c.log.Info().Int64("chat_id", chat.ID).Str("title", chat.Title).Msg("аккаунт покинул чат")
	return nil
}
