package models

import (
	"encoding/json"
	"strconv"
)

// GroupType - вид группового чата.
type GroupType string

const (
	GroupTypeGroup      GroupType = "group"
	GroupTypeSupergroup GroupType = "supergroup"
)

// Permission - результат проверки права писать в чат.
// Unknown возвращается, когда Telegram не дал ответа, решение остаётся за вызывающим.
type Permission string

const (
	PermissionAllowed Permission = "allowed"
	PermissionDenied  Permission = "denied"
	PermissionUnknown Permission = "unknown"
)

// NotificationState - состояние уведомлений диалога.
type NotificationState string

const (
	NotificationsEnabled  NotificationState = "enabled"
	NotificationsDisabled NotificationState = "disabled"
	NotificationsUnknown  NotificationState = "unknown"
)

// MemberCount - число участников; при неудачном запросе сериализуется как "unknown".
type MemberCount struct {
	Value int
	Known bool
}

func KnownMembers(n int) MemberCount { return MemberCount{Value: n, Known: true} }

func (m MemberCount) String() string {
	if !m.Known {
		return "unknown"
	}
	return strconv.Itoa(m.Value)
}

func (m MemberCount) MarshalJSON() ([]byte, error) {
	if !m.Known {
		return []byte(`"unknown"`), nil
	}
	return []byte(strconv.Itoa(m.Value)), nil
}

func (m *MemberCount) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		*m = MemberCount{}
		return nil
	}
	*m = KnownMembers(n)
	return nil
}

// GroupInfo - сведения о группе аккаунта, вычисляются на лету и не сохраняются.
type GroupInfo struct {
	ID              int64             `json:"id"`
	Title           string            `json:"title"`
	Type            GroupType         `json:"type"`
	MemberCount     MemberCount       `json:"member_count"`
	IsAdmin         bool              `json:"is_admin"`
	CanSendMessages Permission        `json:"can_send_messages"`
	Notifications   NotificationState `json:"notifications"`
	Username        *string           `json:"username"`
}

// LeaveResult - итог выхода из заглушённых и read-only групп по одному аккаунту.
type LeaveResult struct {
	Left   int          `json:"left"`
	Failed int          `json:"failed"`
	Errors []GroupError `json:"errors"`
	Error  string       `json:"error,omitempty"`
}

// ScanResult - список групп аккаунта для команды /scan.
type ScanResult struct {
	Groups    int         `json:"groups"`
	GroupList []GroupInfo `json:"group_list"`
	Error     string      `json:"error,omitempty"`
}
