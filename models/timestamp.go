package models

import (
	"bytes"
	"time"

	"github.com/go-faster/errors"
)

// legacyLayout - формат datetime.isoformat() без часового пояса,
// в таком виде время лежит в старых sessions.json.
const legacyLayout = "2006-01-02T15:04:05.999999"

// Timestamp сериализуется в RFC 3339, но при чтении понимает и старый формат.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.Format(time.RFC3339Nano) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.Errorf("timestamp must be a string, got %s", data)
	}
	s := string(data[1 : len(data)-1])
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	// Старый формат пишется в локальном времени процесса
	parsed, err := time.ParseInLocation(legacyLayout, s, time.Local)
	if err != nil {
		return errors.Wrapf(err, "parse timestamp %q", s)
	}
	t.Time = parsed
	return nil
}
