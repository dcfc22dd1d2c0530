package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp accepts the three timestamp encodings observed on the wire:
// epoch milliseconds as a JSON number, an RFC3339 string, or a server-time
// placeholder object that resolves at write time.
type Timestamp struct {
	Millis     *int64
	ISO        string
	ServerTime bool
}

type serverTimePlaceholder struct {
	ServerTime bool   `json:"server_time"`
	SV         string `json:".sv"`
}

// UnmarshalJSON decodes any of the supported encodings.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	switch data[0] {
	case '"':
		var iso string
		if err := json.Unmarshal(data, &iso); err != nil {
			return err
		}
		*t = Timestamp{ISO: iso}
		return nil
	case '{':
		var placeholder serverTimePlaceholder
		if err := json.Unmarshal(data, &placeholder); err != nil {
			return err
		}
		if !placeholder.ServerTime && placeholder.SV != "timestamp" {
			return fmt.Errorf("unrecognized timestamp placeholder: %s", data)
		}
		*t = Timestamp{ServerTime: true}
		return nil
	default:
		millis, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp value %q: %w", data, err)
		}
		*t = Timestamp{Millis: &millis}
		return nil
	}
}

// MarshalJSON emits epoch milliseconds, the canonical form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	resolved, err := t.Resolve(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return json.Marshal(resolved.UnixMilli())
}

// IsZero reports whether no timestamp was supplied.
func (t Timestamp) IsZero() bool {
	return t.Millis == nil && t.ISO == "" && !t.ServerTime
}

// Resolve normalizes the tagged union to a single comparable instant. The
// server-time placeholder resolves to now.
func (t Timestamp) Resolve(now time.Time) (time.Time, error) {
	switch {
	case t.Millis != nil:
		return time.UnixMilli(*t.Millis).UTC(), nil
	case t.ISO != "":
		parsed, err := time.Parse(time.RFC3339, t.ISO)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp string %q: %w", t.ISO, err)
		}
		return parsed.UTC(), nil
	case t.ServerTime:
		return now.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("timestamp not set")
	}
}
