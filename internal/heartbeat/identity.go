package heartbeat

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// isoLocal formats t like an ISO 8601 timestamp without zone, dropping the
// fractional part when it is zero.
func isoLocal(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05")
	}
	return t.Format("2006-01-02T15:04:05.000000")
}

// TaskHash identifies a task by its normalized text.
func TaskHash(text string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])[:12]
}

// EmailID identifies a message by sender address and send time as written
// in its header (zone dropped).
func EmailID(senderEmail string, sent time.Time) string {
	return senderEmail + "_" + isoLocal(sent)
}

// CalendarID identifies an event by title and start time.
func CalendarID(summary string, start time.Time) string {
	return summary + "_" + isoLocal(start)
}
