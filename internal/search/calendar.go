package search

import (
	"time"
	_ "time/tzdata" // catalog dates must resolve even on hosts without zoneinfo

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
)

// DefaultTimezone decides which calendar day "today" is.
const DefaultTimezone = "Europe/Paris"

// Calendar turns clock readings into catalog dates in one time zone.
type Calendar struct {
	clock clockwork.Clock
	loc   *time.Location
}

// NewCalendar loads tz (DefaultTimezone when empty). A nil clock means real time.
func NewCalendar(clock clockwork.Clock, tz string) (Calendar, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Calendar{}, eris.Wrapf(err, "search: load timezone %q", tz)
	}
	return Calendar{clock: clock, loc: loc}, nil
}

// Today returns the current local calendar date as UTC midnight, the form
// event dates are stored in.
func (c Calendar) Today() time.Time {
	y, m, d := c.clock.Now().In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Clock exposes the underlying clock.
func (c Calendar) Clock() clockwork.Clock { return c.clock }
