package db

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// legacyTimeLayouts are accepted for timestamps not written as RFC 3339.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// epochMillisFloor separates epoch milliseconds from epoch seconds.
const epochMillisFloor = 1e11

// lenientTime decodes a timestamp written by any earlier version: an RFC 3339
// string, a legacy layout, or epoch seconds or milliseconds. Anything else
// decodes to zero. canonical is false when the value should be rewritten.
func lenientTime(raw json.RawMessage) (t time.Time, canonical bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, true
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
		for _, layout := range legacyTimeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, false
			}
		}
		return time.Time{}, false
	}

	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n >= epochMillisFloor {
		return time.UnixMilli(int64(n)), false
	}
	return time.Unix(int64(n), 0), false
}

// UnmarshalJSON tolerates malformed timestamps; migration back-fills them.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	aux := struct {
		*plain
		Timestamp json.RawMessage `json:"timestamp"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var canonical bool
	m.Timestamp, canonical = lenientTime(aux.Timestamp)
	m.rewrite = !canonical
	return nil
}

// UnmarshalJSON tolerates a malformed createdAt.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	type plain Conversation
	aux := struct {
		*plain
		CreatedAt json.RawMessage `json:"createdAt"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var canonical bool
	c.CreatedAt, canonical = lenientTime(aux.CreatedAt)
	c.rewrite = !canonical
	return nil
}

// UnmarshalJSON tolerates a malformed createdAt.
func (it *MemoryItem) UnmarshalJSON(data []byte) error {
	type plain MemoryItem
	aux := struct {
		*plain
		CreatedAt json.RawMessage `json:"createdAt"`
	}{plain: (*plain)(it)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var canonical bool
	it.CreatedAt, canonical = lenientTime(aux.CreatedAt)
	it.rewrite = !canonical
	return nil
}
