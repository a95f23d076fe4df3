package scheduler

import (
	"strconv"
	"strings"
	"time"
)

var startFromLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseStartFromTime parses an administrative watermark override. It accepts
// a full timestamp (RFC 3339, or a zone-less date and time read as UTC), a
// bare date ("2006-01-02", midnight UTC), or "HH:MM" meaning that time today
// relative to now. An empty string yields nil.
func ParseStartFromTime(value string, now time.Time) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if strings.Contains(value, "T") || len(value) > 10 {
		for _, layout := range startFromLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				t = t.UTC()
				return &t, nil
			}
		}
		return nil, invalidf("startFromTime %q is not a valid timestamp", value)
	}

	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, nil
	}

	hh, mm, ok := strings.Cut(value, ":")
	if ok {
		hour, herr := strconv.Atoi(hh)
		minute, merr := strconv.Atoi(mm)
		if herr == nil && merr == nil && hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
			now = now.UTC()
			t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
			return &t, nil
		}
	}

	return nil, invalidf("startFromTime %q must be a timestamp, a date or HH:MM", value)
}
