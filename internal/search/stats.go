package search

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-events/internal/geospatial"
)

// Snapshot is a catalog summary as of a calendar date.
type Snapshot struct {
	AsOf time.Time `json:"asOf"`
	geospatial.Stats
}

// StatsService reports catalog statistics. Upcoming counts events starting
// today or later.
type StatsService struct {
	store   geospatial.Store
	cal     Calendar
	timeout time.Duration
}

// NewStatsService creates a StatsService. timeout <= 0 uses DefaultQueryTimeout.
func NewStatsService(store geospatial.Store, cal Calendar, timeout time.Duration) *StatsService {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &StatsService{store: store, cal: cal, timeout: timeout}
}

// Stats returns the current snapshot.
func (s *StatsService) Stats(ctx context.Context) (Snapshot, error) {
	today := s.cal.Today()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st, err := s.store.Stats(ctx, today)
	if err != nil {
		if geospatial.IsUnavailable(err) {
			return Snapshot{}, eris.Wrapf(ErrUnavailable, "stats: %v", err)
		}
		return Snapshot{}, eris.Wrap(err, "search: stats")
	}
	return Snapshot{AsOf: today, Stats: st}, nil
}
