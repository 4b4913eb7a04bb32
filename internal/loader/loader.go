// Package loader streams raw records through the normalizer into the
// spatial store in bounded batches.
package loader

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
	"github.com/sells-group/geo-events/internal/geospatial"
	"github.com/sells-group/geo-events/internal/metrics"
)

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 1000

// RecordSource yields raw records one at a time. Next returns io.EOF after
// the last record. Sources are finite and cannot be restarted.
type RecordSource interface {
	Next(ctx context.Context) (event.RawRecord, error)
}

// Config tunes a Loader.
type Config struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// Report summarizes one Load call. Imported counts new events, Updated counts
// replaced ones, and Failed counts the events of the batch that halted the run.
type Report struct {
	RunID           uuid.UUID            `json:"run_id"`
	Source          string               `json:"source"`
	Imported        int                  `json:"imported"`
	Updated         int                  `json:"updated"`
	SkippedByReason map[event.Reason]int `json:"skipped_by_reason"`
	Failed          int                  `json:"failed"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      time.Time            `json:"finished_at"`
}

// Skipped returns the total number of rejected records.
func (r Report) Skipped() int {
	n := 0
	for _, c := range r.SkippedByReason {
		n += c
	}
	return n
}

// Loader imports raw records into a Store. A Loader is not meant to run
// several loads at once against the same catalog.
type Loader struct {
	store      geospatial.Store
	normalizer *event.Normalizer
	batchSize  int
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// Option customizes a Loader.
type Option func(*Loader)

// WithClock sets the clock used for run timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(l *Loader) { l.clock = c }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New creates a Loader.
func New(store geospatial.Store, normalizer *event.Normalizer, cfg Config, opts ...Option) *Loader {
	l := &Loader{
		store:      store,
		normalizer: normalizer,
		batchSize:  cfg.BatchSize,
		clock:      clockwork.NewRealClock(),
		log:        zap.L().With(zap.String("component", "loader")),
	}
	if l.batchSize <= 0 {
		l.batchSize = DefaultBatchSize
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load drains src. Rejected records are counted and skipped. A store error
// stops the run: the failed batch is reported in Failed and the partial
// report is returned with the error, while earlier batches stay committed.
// A source error also stops the run after flushing what was already read.
// Store writes are never retried; re-running is safe since upserts are
// keyed by ExternalID.
func (l *Loader) Load(ctx context.Context, src RecordSource) (Report, error) {
	return l.LoadNamed(ctx, "", src)
}

// LoadNamed is Load with a source label recorded in the report and audit.
func (l *Loader) LoadNamed(ctx context.Context, name string, src RecordSource) (Report, error) {
	rep := Report{
		RunID:           uuid.New(),
		Source:          name,
		SkippedByReason: make(map[event.Reason]int),
		StartedAt:       l.clock.Now(),
	}
	log := l.log.With(zap.String("run_id", rep.RunID.String()), zap.String("source", name))
	log.Info("import started", zap.Int("batch_size", l.batchSize))

	err := l.run(ctx, src, &rep, log)
	rep.FinishedAt = l.clock.Now()
	l.audit(ctx, rep, err, log)

	fields := []zap.Field{
		zap.Int("imported", rep.Imported),
		zap.Int("updated", rep.Updated),
		zap.Int("skipped", rep.Skipped()),
		zap.Int("failed", rep.Failed),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	if err != nil {
		log.Error("import halted", append(fields, zap.Error(err))...)
		return rep, err
	}
	log.Info("import complete", fields...)
	return rep, nil
}

func (l *Loader) run(ctx context.Context, src RecordSource, rep *Report, log *zap.Logger) error {
	batch := make([]event.Event, 0, l.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			if ferr := l.flush(ctx, batch, rep); ferr != nil {
				return ferr
			}
			return eris.Wrap(err, "loader: canceled")
		}

		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ferr := l.flush(ctx, batch, rep); ferr != nil {
				return ferr
			}
			return eris.Wrap(err, "loader: read source")
		}

		ev, rej := l.normalizer.Normalize(rec)
		if rej != nil {
			rep.SkippedByReason[rej.Reason]++
			l.countRejection(rej.Reason)
			log.Debug("record skipped", zap.String("reason", string(rej.Reason)), zap.String("detail", rej.Detail))
			continue
		}

		batch = append(batch, ev)
		if len(batch) >= l.batchSize {
			if err := l.flush(ctx, batch, rep); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	return l.flush(ctx, batch, rep)
}

func (l *Loader) flush(ctx context.Context, batch []event.Event, rep *Report) error {
	if len(batch) == 0 {
		return nil
	}
	start := l.clock.Now()
	res, err := l.store.UpsertBatch(ctx, batch)
	if l.metrics != nil {
		l.metrics.LoaderBatchDuration.Observe(l.clock.Since(start).Seconds())
	}
	if err != nil {
		rep.Failed += len(batch)
		l.countRecords("failed", len(batch))
		return eris.Wrapf(err, "loader: flush batch of %d", len(batch))
	}
	rep.Imported += res.Inserted
	rep.Updated += res.Updated
	if l.metrics != nil {
		l.metrics.LoaderBatches.Inc()
	}
	l.countRecords("imported", res.Inserted)
	l.countRecords("updated", res.Updated)
	return nil
}

// audit persists the report when the store keeps an import trail. It runs
// even if ctx was canceled, and its failure never changes the load result.
func (l *Loader) audit(ctx context.Context, rep Report, runErr error, log *zap.Logger) {
	rec, ok := l.store.(geospatial.RunRecorder)
	if !ok {
		return
	}
	run := geospatial.ImportRun{
		ID:         rep.RunID,
		Source:     rep.Source,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Imported:   rep.Imported,
		Updated:    rep.Updated,
		Failed:     rep.Failed,
		Skipped:    rep.SkippedByReason,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rec.RecordImportRun(actx, run); err != nil {
		log.Warn("record import run failed", zap.Error(err))
	}
}

func (l *Loader) countRecords(outcome string, n int) {
	if l.metrics == nil || n == 0 {
		return
	}
	l.metrics.LoaderRecords.WithLabelValues(outcome).Add(float64(n))
}

func (l *Loader) countRejection(reason event.Reason) {
	if l.metrics == nil {
		return
	}
	l.metrics.LoaderRecords.WithLabelValues("skipped").Inc()
	l.metrics.LoaderRejections.WithLabelValues(string(reason)).Inc()
}
