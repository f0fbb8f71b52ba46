package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampRoundTrip(t *testing.T) {
	in := Timestamp{Time: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-01T10:30:00Z"`, string(data))

	var out Timestamp
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Equal(in.Time))
}

func TestTimestampLegacyLayout(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2025-12-31T23:59:58.123456"`), &ts))
	assert.Equal(t, time.Local, ts.Location())
	assert.Equal(t, 123456000, ts.Nanosecond())
}

func TestTimestampErrors(t *testing.T) {
	var ts Timestamp
	err := json.Unmarshal([]byte(`{"ts": 5}`), &struct {
		TS Timestamp `json:"ts"`
	}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp must be a string, got 5")

	err = ts.UnmarshalJSON([]byte(`"yesterday"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parse timestamp "yesterday"`)
	var parseErr *time.ParseError
	assert.True(t, errors.As(err, &parseErr), "исходная ошибка разбора сохраняется")
}
