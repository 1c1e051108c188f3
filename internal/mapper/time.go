package mapper

import (
	"fmt"
	"time"

	"github.com/npclinic/databridge/internal/record"
)

// Timestamps cross the wire two ways: the GEO side uses epoch
// milliseconds, the CMS side ISO-8601 strings. Conversion uses a fixed
// UTC offset so behavior never depends on a timezone database.

// EpochMillisToISO renders an epoch-millisecond timestamp as ISO-8601
// in UTC. Zero means "not set" and renders empty.
func EpochMillisToISO(ms int64) string {
	if ms == 0 {
		return ""
	}
	return record.Timestamp(time.UnixMilli(ms))
}

// ISOToEpochMillis parses an ISO-8601 timestamp, with or without an
// offset, back to epoch milliseconds. Offsetless values are read as UTC.
func ISOToEpochMillis(s string) (int64, error) {
	for _, layout := range []string{record.TimeLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", s)
}
