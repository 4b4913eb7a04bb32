package geospatial

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-events/internal/db"
	"github.com/sells-group/geo-events/internal/event"
)

const eventsTable = "catalog.events"

// eventUpsert stages lon/lat as plain doubles and builds the geography in
// the INSERT ... SELECT, so COPY never has to encode PostGIS types.
var eventUpsert = db.UpsertConfig{
	Table: eventsTable,
	Stage: []db.Column{
		{Name: "external_id", Type: "text"},
		{Name: "name", Type: "text"},
		{Name: "description", Type: "text"},
		{Name: "locality", Type: "text"},
		{Name: "address", Type: "text"},
		{Name: "postal_code", Type: "text"},
		{Name: "contacts", Type: "text"},
		{Name: "lon", Type: "double precision"},
		{Name: "lat", Type: "double precision"},
		{Name: "starts_at", Type: "date"},
		{Name: "ends_at", Type: "date"},
		{Name: "raw_payload", Type: "jsonb"},
	},
	Target: []string{
		"external_id", "name", "description", "locality", "address", "postal_code",
		"contacts", "geom", "starts_at", "ends_at", "raw_payload",
	},
	Select: []string{
		"external_id", "name", "description", "locality", "address", "postal_code",
		"contacts", "ST_SetSRID(ST_MakePoint(lon, lat), 4326)::geography",
		"starts_at", "ends_at", "raw_payload",
	},
	ConflictKeys: []string{"external_id"},
	TouchColumn:  "updated_at",
}

// PostgresStore implements Store on PostGIS.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UpsertBatch implements Store.
func (s *PostgresStore) UpsertBatch(ctx context.Context, events []event.Event) (BatchResult, error) {
	rows := make([][]any, len(events))
	for i, ev := range events {
		rows[i] = []any{
			ev.ExternalID, ev.Name, ev.Description, ev.Locality, ev.Address, ev.PostalCode,
			ev.Contacts, ev.Location.Lon, ev.Location.Lat, ev.StartsAt, ev.EndsAt,
			payloadOrEmpty(ev.RawPayload),
		}
	}
	res, err := db.BulkUpsert(ctx, s.pool, eventUpsert, rows)
	if err != nil {
		return BatchResult{}, eris.Wrap(err, "geospatial: upsert events")
	}
	return BatchResult{Inserted: int(res.Inserted), Updated: int(res.Updated)}, nil
}

const queryWithinSQL = `
	SELECT external_id, name, description, locality, address, postal_code, contacts,
	       ST_X(geom::geometry), ST_Y(geom::geometry), starts_at, ends_at, raw_payload,
	       ST_Distance(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance_m
	FROM catalog.events
	WHERE ST_DWithin(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
	  AND starts_at BETWEEN $4 AND $5
	ORDER BY distance_m, external_id
	LIMIT $6
`

// QueryWithin implements Store. Both ST_DWithin and ST_Distance run on the
// geography type, which measures on the WGS84 spheroid.
func (s *PostgresStore) QueryWithin(ctx context.Context, center event.Point, radiusMeters float64, notBefore, notAfter time.Time, limit int) ([]Hit, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, queryWithinSQL,
		center.Lon, center.Lat, radiusMeters, event.Date(notBefore), event.Date(notAfter), lim,
	)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: query within")
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		ev := &h.Event
		if err := rows.Scan(
			&ev.ExternalID, &ev.Name, &ev.Description, &ev.Locality, &ev.Address, &ev.PostalCode,
			&ev.Contacts, &ev.Location.Lon, &ev.Location.Lat, &ev.StartsAt, &ev.EndsAt,
			&ev.RawPayload, &h.DistanceMeters,
		); err != nil {
			return nil, eris.Wrap(err, "geospatial: scan event row")
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geospatial: iterate event rows")
	}
	return hits, nil
}

// DeleteWhere implements Store.
func (s *PostgresStore) DeleteWhere(ctx context.Context, f DeleteFilter) (int64, error) {
	where, args, err := deleteConditions(f, func(n int) string { return fmt.Sprintf("$%d", n) })
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM catalog.events WHERE "+where, args...)
	if err != nil {
		return 0, eris.Wrap(err, "geospatial: delete events")
	}
	return tag.RowsAffected(), nil
}

// deleteConditions renders f as a WHERE clause. placeholder maps a 1-based
// argument position to the driver's bind syntax.
func deleteConditions(f DeleteFilter, placeholder func(int) string) (string, []any, error) {
	if f.IsEmpty() {
		return "", nil, ErrEmptyFilter
	}
	var conds []string
	var args []any
	if f.EndsBefore != nil {
		args = append(args, event.Date(*f.EndsBefore))
		conds = append(conds, "ends_at < "+placeholder(len(args)))
	}
	if f.StartsBefore != nil {
		args = append(args, event.Date(*f.StartsBefore))
		conds = append(conds, "starts_at < "+placeholder(len(args)))
	}
	return strings.Join(conds, " AND "), args, nil
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context, asOf time.Time) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE starts_at >= $1),
		       pg_total_relation_size('catalog.events')
		FROM catalog.events
	`, event.Date(asOf)).Scan(&st.TotalCount, &st.UpcomingCount, &st.StorageBytes)
	if err != nil {
		return Stats{}, eris.Wrap(err, "geospatial: count events")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT locality, count(*) AS n
		FROM catalog.events
		WHERE locality <> ''
		GROUP BY locality
		ORDER BY n DESC, locality
		LIMIT $1
	`, TopLocalityLimit)
	if err != nil {
		return Stats{}, eris.Wrap(err, "geospatial: query top localities")
	}
	defer rows.Close()

	st.TopLocalities = make([]LocalityCount, 0, TopLocalityLimit)
	for rows.Next() {
		var lc LocalityCount
		if err := rows.Scan(&lc.Locality, &lc.Count); err != nil {
			return Stats{}, eris.Wrap(err, "geospatial: scan locality row")
		}
		st.TopLocalities = append(st.TopLocalities, lc)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, eris.Wrap(err, "geospatial: iterate locality rows")
	}
	return st, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "geospatial: ping")
}

// RecordImportRun implements RunRecorder.
func (s *PostgresStore) RecordImportRun(ctx context.Context, run ImportRun) error {
	skipped, err := json.Marshal(skippedOrEmpty(run.Skipped))
	if err != nil {
		return eris.Wrap(err, "geospatial: marshal skipped counts")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO catalog.import_runs
			(id, source, started_at, finished_at, imported, updated, failed, skipped, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, run.Source, run.StartedAt, run.FinishedAt,
		run.Imported, run.Updated, run.Failed, skipped, nullIfEmpty(run.Error),
	)
	return eris.Wrap(err, "geospatial: record import run")
}

// LatestImportRun returns the most recent audit record. IsNoRows reports
// true on the error when no run was recorded yet.
func (s *PostgresStore) LatestImportRun(ctx context.Context) (ImportRun, error) {
	var run ImportRun
	var skipped []byte
	var errText *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, source, started_at, finished_at, imported, updated, failed, skipped, error
		FROM catalog.import_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&run.ID, &run.Source, &run.StartedAt, &run.FinishedAt,
		&run.Imported, &run.Updated, &run.Failed, &skipped, &errText)
	if err != nil {
		return ImportRun{}, eris.Wrap(err, "geospatial: latest import run")
	}
	if len(skipped) > 0 {
		if err := json.Unmarshal(skipped, &run.Skipped); err != nil {
			return ImportRun{}, eris.Wrap(err, "geospatial: decode skipped counts")
		}
	}
	if errText != nil {
		run.Error = *errText
	}
	return run, nil
}

func payloadOrEmpty(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage(`{}`)
	}
	return p
}

func skippedOrEmpty(m map[event.Reason]int) map[event.Reason]int {
	if m == nil {
		return map[event.Reason]int{}
	}
	return m
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
