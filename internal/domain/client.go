package domain

import "time"

// ClientID is the caller-supplied identifier of a connected client.
type ClientID string

func (id ClientID) String() string { return string(id) }

// FormatTimestamp renders server timestamps stamped onto relayed messages.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
