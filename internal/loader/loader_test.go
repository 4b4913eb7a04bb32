package loader

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
	"github.com/sells-group/geo-events/internal/geospatial"
	"github.com/sells-group/geo-events/internal/metrics"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory Store that can fail a chosen UpsertBatch call.
type memStore struct {
	events  map[string]event.Event
	batches [][]event.Event
	failOn  int // 1-based call number; 0 = never
	runs    []geospatial.ImportRun
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string]event.Event)}
}

func (m *memStore) UpsertBatch(_ context.Context, events []event.Event) (geospatial.BatchResult, error) {
	m.batches = append(m.batches, append([]event.Event(nil), events...))
	if m.failOn == len(m.batches) {
		return geospatial.BatchResult{}, fmt.Errorf("connection reset")
	}
	var res geospatial.BatchResult
	for _, ev := range events {
		if _, ok := m.events[ev.ExternalID]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		m.events[ev.ExternalID] = ev
	}
	return res, nil
}

func (m *memStore) QueryWithin(context.Context, event.Point, float64, time.Time, time.Time, int) ([]geospatial.Hit, error) {
	return nil, nil
}

func (m *memStore) DeleteWhere(context.Context, geospatial.DeleteFilter) (int64, error) {
	return 0, nil
}

func (m *memStore) Stats(context.Context, time.Time) (geospatial.Stats, error) {
	return geospatial.Stats{TotalCount: int64(len(m.events))}, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) RecordImportRun(_ context.Context, run geospatial.ImportRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) LatestImportRun(context.Context) (geospatial.ImportRun, error) {
	return m.runs[len(m.runs)-1], nil
}

// sliceSource yields records then io.EOF, or err after the records if set.
type sliceSource struct {
	recs []event.RawRecord
	err  error
	pos  int
}

func (s *sliceSource) Next(context.Context) (event.RawRecord, error) {
	if s.pos < len(s.recs) {
		s.pos++
		return s.recs[s.pos-1], nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func good(id string) event.RawRecord {
	return event.RawRecord{
		"uri":        id,
		"nom":        "Event " + id,
		"latitude":   "43.6047",
		"longitude":  "1.4442",
		"date_debut": "2026-10-20",
		"commune":    "Toulouse",
	}
}

func records(n int, prefix string) []event.RawRecord {
	out := make([]event.RawRecord, n)
	for i := range out {
		out[i] = good(fmt.Sprintf("%s-%03d", prefix, i))
	}
	return out
}

func newLoader(store geospatial.Store, batch int, opts ...Option) *Loader {
	return New(store, event.NewNormalizer(event.DefaultMapping()), Config{BatchSize: batch}, opts...)
}

func TestLoad_BatchesAndCounts(t *testing.T) {
	store := newMemStore()
	l := newLoader(store, 2)

	rep, err := l.Load(context.Background(), &sliceSource{recs: records(5, "e")})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Imported)
	assert.Equal(t, 0, rep.Updated)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, 0, rep.Skipped())
	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 2)
	assert.Len(t, store.batches[2], 1)
}

func TestLoad_RejectionsCountedAndSkipped(t *testing.T) {
	bad := good("bad-lat")
	bad["latitude"] = "999"
	backwards := good("backwards")
	backwards["date_fin"] = "2026-10-01"
	noID := good("")
	noCoords := good("no-coords")
	delete(noCoords, "latitude")

	src := &sliceSource{recs: []event.RawRecord{good("a"), bad, backwards, noID, noCoords, good("b")}}
	rep, err := newLoader(newMemStore(), 10).Load(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Imported)
	assert.Equal(t, map[event.Reason]int{
		event.InvalidCoordinates:    1,
		event.InconsistentDateRange: 1,
		event.MissingIdentifier:     1,
		event.MissingCoordinates:    1,
	}, rep.SkippedByReason)
	assert.Equal(t, 4, rep.Skipped())
}

func TestLoad_ReimportIsIdempotent(t *testing.T) {
	store := newMemStore()
	l := newLoader(store, 3)

	_, err := l.Load(context.Background(), &sliceSource{recs: records(4, "e")})
	require.NoError(t, err)
	rep, err := l.Load(context.Background(), &sliceSource{recs: records(4, "e")})
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Imported)
	assert.Equal(t, 4, rep.Updated)
	assert.Len(t, store.events, 4)
}

func TestLoad_StoreFailureHaltsWithPartialReport(t *testing.T) {
	store := newMemStore()
	store.failOn = 2
	src := &sliceSource{recs: records(7, "e")}

	rep, err := newLoader(store, 3).Load(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, 3, rep.Imported, "first batch stays committed")
	assert.Equal(t, 3, rep.Failed)
	assert.Len(t, store.events, 3)
	assert.Len(t, store.batches, 2, "no batch after the failure")
	assert.Equal(t, 6, src.pos, "source is not drained after the failure")
}

func TestLoad_SourceErrorFlushesAndHalts(t *testing.T) {
	store := newMemStore()
	src := &sliceSource{recs: records(2, "e"), err: fmt.Errorf("unexpected EOF in quoted field")}

	rep, err := newLoader(store, 10).Load(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read source")
	assert.Equal(t, 2, rep.Imported)
	assert.Equal(t, 0, rep.Failed)
}

func TestLoad_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := newLoader(newMemStore(), 10).Load(ctx, &sliceSource{recs: records(2, "e")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rep.Imported)
}

func TestLoad_RecordsAuditRun(t *testing.T) {
	store := newMemStore()
	store.failOn = 1
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 6, 0, 0, 0, time.UTC))

	rep, err := newLoader(store, 10, WithClock(clock)).LoadNamed(context.Background(), "events.csv", &sliceSource{recs: records(1, "e")})
	require.Error(t, err)

	require.Len(t, store.runs, 1)
	run := store.runs[0]
	assert.Equal(t, rep.RunID, run.ID)
	assert.Equal(t, "events.csv", run.Source)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, clock.Now(), run.StartedAt)
	assert.Contains(t, run.Error, "connection reset")
}

func TestLoad_Metrics(t *testing.T) {
	m := metrics.New(nil)
	bad := good("x")
	bad["date_debut"] = "soon"

	_, err := newLoader(newMemStore(), 2, WithMetrics(m)).Load(context.Background(),
		&sliceSource{recs: append(records(3, "e"), bad)})
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.LoaderRecords.WithLabelValues("imported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoaderRecords.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoaderRejections.WithLabelValues("InvalidDate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoaderBatches))
}

func TestNew_DefaultBatchSize(t *testing.T) {
	l := newLoader(newMemStore(), 0)
	assert.Equal(t, DefaultBatchSize, l.batchSize)
}
