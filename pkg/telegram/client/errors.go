package client

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"atg_broadcast/pkg/telegram/conn"
)

// Ошибки RPC, после которых писать в чат бессмысленно.
var writeForbidden = []string{
	"CHAT_WRITE_FORBIDDEN",
	"CHAT_SEND_PLAIN_FORBIDDEN",
	"CHAT_RESTRICTED",
	"USER_BANNED_IN_CHANNEL",
	"CHAT_ADMIN_REQUIRED",
	"CHANNEL_PRIVATE",
}

var badCode = []string{
	"PHONE_CODE_INVALID",
	"PHONE_CODE_EXPIRED",
	"PHONE_CODE_EMPTY",
}

// mapError переводит ошибки gotd в ошибки пакета conn. Исходная ошибка
// остаётся в цепочке, текст сохраняется для отчётов.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &conn.FloodWaitError{Wait: wait, Err: err}
	}
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return conn.ErrPasswordRequired
	case errors.Is(err, auth.ErrPasswordInvalid), tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return wrap(conn.ErrBadPassword, err)
	case tgerr.Is(err, badCode...):
		return wrap(conn.ErrBadCode, err)
	case tgerr.Is(err, "USER_PRIVACY_RESTRICTED"):
		return wrap(conn.ErrPrivacyRestricted, err)
	case tgerr.Is(err, writeForbidden...):
		return wrap(conn.ErrWriteForbidden, err)
	case tgerr.Is(err, "PEER_FLOOD"):
		return wrap(conn.ErrPeerFlood, err)
	}
	return err
}

func wrap(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}
