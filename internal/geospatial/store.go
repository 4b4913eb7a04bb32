package geospatial

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-events/internal/event"
)

// TopLocalityLimit bounds Stats.TopLocalities.
const TopLocalityLimit = 10

// ErrEmptyFilter is returned by DeleteWhere when no condition is set.
var ErrEmptyFilter = eris.New("geospatial: delete filter has no conditions")

// Store is the persistent event catalog.
type Store interface {
	// UpsertBatch inserts or replaces events keyed by ExternalID. Each event
	// applies fully or not at all; a repeated ID inside one batch resolves to
	// its last occurrence and counts as an update.
	UpsertBatch(ctx context.Context, events []event.Event) (BatchResult, error)

	// QueryWithin returns events whose location lies within radiusMeters
	// geodesic distance of center (inclusive) and whose StartsAt falls in
	// [notBefore, notAfter] (inclusive, calendar dates). Results are ordered by
	// distance then ExternalID and truncated to limit. limit <= 0 means no cap.
	QueryWithin(ctx context.Context, center event.Point, radiusMeters float64, notBefore, notAfter time.Time, limit int) ([]Hit, error)

	// DeleteWhere removes events matching every condition set in f.
	DeleteWhere(ctx context.Context, f DeleteFilter) (int64, error)

	// Stats aggregates catalog counts. Upcoming means StartsAt >= asOf.
	Stats(ctx context.Context, asOf time.Time) (Stats, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
}

// RunRecorder is implemented by stores that keep an import audit trail.
type RunRecorder interface {
	RecordImportRun(ctx context.Context, run ImportRun) error
	LatestImportRun(ctx context.Context) (ImportRun, error)
}

// BatchResult splits an upsert batch into fresh inserts and replacements.
type BatchResult struct {
	Inserted int
	Updated  int
}

// Hit is one QueryWithin match.
type Hit struct {
	Event          event.Event
	DistanceMeters float64
}

// DeleteFilter selects events for bulk deletion. Set conditions are ANDed.
// Events without an end date never match EndsBefore.
type DeleteFilter struct {
	EndsBefore   *time.Time
	StartsBefore *time.Time
}

// IsEmpty reports whether no condition is set.
func (f DeleteFilter) IsEmpty() bool {
	return f.EndsBefore == nil && f.StartsBefore == nil
}

// LocalityCount is one row of the locality leaderboard.
type LocalityCount struct {
	Locality string `json:"locality"`
	Count    int64  `json:"count"`
}

// Stats is a catalog snapshot.
type Stats struct {
	TotalCount    int64           `json:"total_count"`
	UpcomingCount int64           `json:"upcoming_count"`
	TopLocalities []LocalityCount `json:"top_localities"`
	StorageBytes  int64           `json:"storage_bytes"`
}

// ImportRun is the audit record of one loader run.
type ImportRun struct {
	ID         uuid.UUID            `json:"id"`
	Source     string               `json:"source"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Imported   int                  `json:"imported"`
	Updated    int                  `json:"updated"`
	Failed     int                  `json:"failed"`
	Skipped    map[event.Reason]int `json:"skipped"`
	Error      string               `json:"error,omitempty"`
}

const dateLayout = "2006-01-02"
