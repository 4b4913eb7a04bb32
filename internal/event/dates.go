package event

import (
	"strings"
	"time"
)

// dateLayouts is the fixed set of accepted date formats, tried in order.
// Layouts with a time part keep the calendar date as written.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"20060102",
}

// ParseDate parses s with the accepted layouts and returns the calendar date
// at midnight UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date(t), true
		}
	}
	return time.Time{}, false
}
