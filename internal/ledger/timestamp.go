package ledger

import "time"

// timestampLayout is fixed width so stored timestamps order lexicographically.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t as a UTC ISO-8601 string with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
