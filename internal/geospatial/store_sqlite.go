package geospatial

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geo-events/internal/event"
)

// SQLiteStore implements Store on a single SQLite file. An R*Tree virtual
// table narrows radius queries to a bounding box; the exact ellipsoidal
// distance is then computed in Go.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path in WAL mode. maxConns bounds the
// database/sql pool; zero keeps the driver default.
func NewSQLiteStore(path string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: open sqlite")
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN attaches per-connection pragmas. Pragmas executed once on the
// pool would only reach its first connection.
func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	locality    TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	postal_code TEXT NOT NULL DEFAULT '',
	contacts    TEXT NOT NULL DEFAULT '',
	lon         REAL NOT NULL,
	lat         REAL NOT NULL,
	starts_at   TEXT NOT NULL,
	ends_at     TEXT,
	raw_payload TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	CHECK (ends_at IS NULL OR ends_at >= starts_at)
);

CREATE INDEX IF NOT EXISTS idx_events_starts_at ON events(starts_at);
CREATE INDEX IF NOT EXISTS idx_events_ends_at ON events(ends_at);
CREATE INDEX IF NOT EXISTS idx_events_locality ON events(locality);

CREATE VIRTUAL TABLE IF NOT EXISTS events_rtree USING rtree(id, min_lon, max_lon, min_lat, max_lat);

CREATE TRIGGER IF NOT EXISTS events_rtree_insert AFTER INSERT ON events BEGIN
	INSERT INTO events_rtree (id, min_lon, max_lon, min_lat, max_lat)
	VALUES (new.id, new.lon, new.lon, new.lat, new.lat);
END;

CREATE TRIGGER IF NOT EXISTS events_rtree_update AFTER UPDATE OF lon, lat ON events BEGIN
	UPDATE events_rtree
	SET min_lon = new.lon, max_lon = new.lon, min_lat = new.lat, max_lat = new.lat
	WHERE id = new.id;
END;

CREATE TRIGGER IF NOT EXISTS events_rtree_delete AFTER DELETE ON events BEGIN
	DELETE FROM events_rtree WHERE id = old.id;
END;

CREATE TABLE IF NOT EXISTS import_runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	imported    INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     TEXT NOT NULL DEFAULT '{}',
	error       TEXT
);
`

// Migrate creates the schema if needed. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "geospatial: sqlite migrate")
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runTimeLayout has fixed width so text order matches time order.
const runTimeLayout = "2006-01-02T15:04:05.000000Z"

const (
	sqliteInsertEvent = `
		INSERT INTO events (external_id, name, description, locality, address, postal_code,
			contacts, lon, lat, starts_at, ends_at, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqliteUpdateEvent = `
		UPDATE events SET name = ?, description = ?, locality = ?, address = ?, postal_code = ?,
			contacts = ?, lon = ?, lat = ?, starts_at = ?, ends_at = ?, raw_payload = ?,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`
)

// UpsertBatch implements Store. The batch runs in one transaction.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, events []event.Event) (BatchResult, error) {
	var res BatchResult
	if len(events) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "geospatial: sqlite begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, ev := range events {
		var ends any
		if ev.EndsAt != nil {
			ends = ev.EndsAt.Format(dateLayout)
		}
		payload := string(payloadOrEmpty(ev.RawPayload))
		starts := ev.StartsAt.Format(dateLayout)

		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM events WHERE external_id = ?`, ev.ExternalID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, sqliteInsertEvent,
				ev.ExternalID, ev.Name, ev.Description, ev.Locality, ev.Address, ev.PostalCode,
				ev.Contacts, ev.Location.Lon, ev.Location.Lat, starts, ends, payload,
			); err != nil {
				return BatchResult{}, eris.Wrapf(err, "geospatial: sqlite insert event %s", ev.ExternalID)
			}
			res.Inserted++
		case err != nil:
			return BatchResult{}, eris.Wrapf(err, "geospatial: sqlite lookup event %s", ev.ExternalID)
		default:
			if _, err := tx.ExecContext(ctx, sqliteUpdateEvent,
				ev.Name, ev.Description, ev.Locality, ev.Address, ev.PostalCode,
				ev.Contacts, ev.Location.Lon, ev.Location.Lat, starts, ends, payload, id,
			); err != nil {
				return BatchResult{}, eris.Wrapf(err, "geospatial: sqlite update event %s", ev.ExternalID)
			}
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, eris.Wrap(err, "geospatial: sqlite commit")
	}
	return res, nil
}

const sqliteQueryBox = `
	SELECT e.external_id, e.name, e.description, e.locality, e.address, e.postal_code,
	       e.contacts, e.lon, e.lat, e.starts_at, e.ends_at, e.raw_payload
	FROM events_rtree r
	JOIN events e ON e.id = r.id
	WHERE r.min_lon <= ? AND r.max_lon >= ? AND r.min_lat <= ? AND r.max_lat >= ?
	  AND e.starts_at BETWEEN ? AND ?`

// QueryWithin implements Store.
func (s *SQLiteStore) QueryWithin(ctx context.Context, center event.Point, radiusMeters float64, notBefore, notAfter time.Time, limit int) ([]Hit, error) {
	box := BoundingBox(center, radiusMeters)
	rows, err := s.db.QueryContext(ctx, sqliteQueryBox,
		box.MaxLng, box.MinLng, box.MaxLat, box.MinLat,
		notBefore.Format(dateLayout), notAfter.Format(dateLayout),
	)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: sqlite query within")
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		d := Distance(center, ev.Location)
		if d > radiusMeters {
			continue
		}
		hits = append(hits, Hit{Event: ev, DistanceMeters: d})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geospatial: sqlite iterate event rows")
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// sortHits orders by distance, then external ID.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters != hits[j].DistanceMeters {
			return hits[i].DistanceMeters < hits[j].DistanceMeters
		}
		return hits[i].Event.ExternalID < hits[j].Event.ExternalID
	})
}

func scanSQLiteEvent(rows *sql.Rows) (event.Event, error) {
	var ev event.Event
	var starts, payload string
	var ends sql.NullString
	if err := rows.Scan(
		&ev.ExternalID, &ev.Name, &ev.Description, &ev.Locality, &ev.Address, &ev.PostalCode,
		&ev.Contacts, &ev.Location.Lon, &ev.Location.Lat, &starts, &ends, &payload,
	); err != nil {
		return ev, eris.Wrap(err, "geospatial: sqlite scan event row")
	}
	t, err := time.Parse(dateLayout, starts)
	if err != nil {
		return ev, eris.Wrapf(err, "geospatial: sqlite parse starts_at of %s", ev.ExternalID)
	}
	ev.StartsAt = t
	if ends.Valid {
		t, err := time.Parse(dateLayout, ends.String)
		if err != nil {
			return ev, eris.Wrapf(err, "geospatial: sqlite parse ends_at of %s", ev.ExternalID)
		}
		ev.EndsAt = &t
	}
	ev.RawPayload = json.RawMessage(payload)
	return ev, nil
}

// DeleteWhere implements Store. Triggers keep the R*Tree in step.
func (s *SQLiteStore) DeleteWhere(ctx context.Context, f DeleteFilter) (int64, error) {
	where, args, err := deleteConditions(f, func(int) string { return "?" })
	if err != nil {
		return 0, err
	}
	for i, a := range args {
		args[i] = a.(time.Time).Format(dateLayout)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE "+where, args...)
	if err != nil {
		return 0, eris.Wrap(err, "geospatial: sqlite delete events")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "geospatial: sqlite rows affected")
}

// Stats implements Store. StorageBytes is the size of the whole file.
func (s *SQLiteStore) Stats(ctx context.Context, asOf time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(starts_at >= ?), 0) FROM events`,
		event.Date(asOf).Format(dateLayout),
	).Scan(&st.TotalCount, &st.UpcomingCount)
	if err != nil {
		return Stats{}, eris.Wrap(err, "geospatial: sqlite count events")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT p.page_count * s.page_size FROM pragma_page_count() p, pragma_page_size() s`,
	).Scan(&st.StorageBytes)
	if err != nil {
		return Stats{}, eris.Wrap(err, "geospatial: sqlite storage size")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT locality, count(*) AS n
		FROM events
		WHERE locality <> ''
		GROUP BY locality
		ORDER BY n DESC, locality
		LIMIT ?`, TopLocalityLimit)
	if err != nil {
		return Stats{}, eris.Wrap(err, "geospatial: sqlite query top localities")
	}
	defer rows.Close()

	st.TopLocalities = make([]LocalityCount, 0, TopLocalityLimit)
	for rows.Next() {
		var lc LocalityCount
		if err := rows.Scan(&lc.Locality, &lc.Count); err != nil {
			return Stats{}, eris.Wrap(err, "geospatial: sqlite scan locality row")
		}
		st.TopLocalities = append(st.TopLocalities, lc)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, eris.Wrap(err, "geospatial: sqlite iterate locality rows")
	}
	return st, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "geospatial: sqlite ping")
}

// RecordImportRun implements RunRecorder.
func (s *SQLiteStore) RecordImportRun(ctx context.Context, run ImportRun) error {
	skipped, err := json.Marshal(skippedOrEmpty(run.Skipped))
	if err != nil {
		return eris.Wrap(err, "geospatial: marshal skipped counts")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_runs (id, source, started_at, finished_at, imported, updated, failed, skipped, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Source,
		run.StartedAt.UTC().Format(runTimeLayout), run.FinishedAt.UTC().Format(runTimeLayout),
		run.Imported, run.Updated, run.Failed, string(skipped), nullIfEmpty(run.Error),
	)
	return eris.Wrap(err, "geospatial: sqlite record import run")
}

// LatestImportRun implements RunRecorder.
func (s *SQLiteStore) LatestImportRun(ctx context.Context) (ImportRun, error) {
	var run ImportRun
	var id, started, finished, skipped string
	var errText sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, started_at, finished_at, imported, updated, failed, skipped, error
		FROM import_runs
		ORDER BY started_at DESC
		LIMIT 1`,
	).Scan(&id, &run.Source, &started, &finished, &run.Imported, &run.Updated, &run.Failed, &skipped, &errText)
	if err != nil {
		return ImportRun{}, eris.Wrap(err, "geospatial: sqlite latest import run")
	}
	if run.ID, err = uuid.Parse(id); err != nil {
		return ImportRun{}, eris.Wrap(err, "geospatial: sqlite parse run id")
	}
	if run.StartedAt, err = time.Parse(runTimeLayout, started); err != nil {
		return ImportRun{}, eris.Wrap(err, "geospatial: sqlite parse started_at")
	}
	if run.FinishedAt, err = time.Parse(runTimeLayout, finished); err != nil {
		return ImportRun{}, eris.Wrap(err, "geospatial: sqlite parse finished_at")
	}
	if err := json.Unmarshal([]byte(skipped), &run.Skipped); err != nil {
		return ImportRun{}, eris.Wrap(err, "geospatial: sqlite decode skipped counts")
	}
	run.Error = errText.String
	return run, nil
}

// Vacuum rebuilds the database file and refreshes planner statistics.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	zap.L().Info("geospatial: sqlite vacuum")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return eris.Wrap(err, "geospatial: sqlite vacuum")
	}
	_, err := s.db.ExecContext(ctx, "ANALYZE")
	return eris.Wrap(err, "geospatial: sqlite analyze")
}

// Reindex rebuilds every index of the database.
func (s *SQLiteStore) Reindex(ctx context.Context) error {
	zap.L().Info("geospatial: sqlite reindex")
	_, err := s.db.ExecContext(ctx, "REINDEX")
	return eris.Wrap(err, "geospatial: sqlite reindex")
}

// TableStats reports row counts of the catalog tables. Sizes are not tracked
// per table, so TotalSize carries the whole file and IndexSize stays empty.
func (s *SQLiteStore) TableStats(ctx context.Context) ([]TableStats, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT p.page_count * s.page_size FROM pragma_page_count() p, pragma_page_size() s`,
	).Scan(&size)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: sqlite storage size")
	}

	stats := make([]TableStats, 0, 2)
	for _, table := range []string{"events", "import_runs"} {
		st := TableStats{
			TableName:  table,
			TotalSize:  fmt.Sprintf("%d bytes", size),
			HasSpatial: table == "events",
		}
		if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&st.RowCount); err != nil {
			return nil, eris.Wrapf(err, "geospatial: sqlite count %s", table)
		}
		stats = append(stats, st)
	}
	return stats, nil
}
