package timestamp

import "time"

// formatMillisUTC renders a millisecond epoch as ISO-8601 with millisecond
// precision, e.g. "2026-07-31T12:00:00.000Z".
func formatMillisUTC(millis int64) string {
	t := time.UnixMilli(millis).UTC()
	return t.Format("2006-01-02T15:04:05.000Z")
}
