// Package search answers "events near here, starting soon" over a
// geospatial.Store and summarizes the catalog.
package search

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
	"github.com/sells-group/geo-events/internal/geospatial"
	"github.com/sells-group/geo-events/internal/metrics"
)

// Defaults applied by NewEngine to zero Config fields.
const (
	DefaultMaxResults   = 500
	DefaultQueryTimeout = 2 * time.Second
	DefaultRadiusKm     = 30
	DefaultDays         = 30
)

// Config tunes the search engine.
type Config struct {
	DefaultRadiusKm float64       `yaml:"default_radius_km" mapstructure:"default_radius_km"`
	DefaultDays     int           `yaml:"default_days" mapstructure:"default_days"`
	MaxResults      int           `yaml:"max_results" mapstructure:"max_results"`
	QueryTimeout    time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
	Timezone        string        `yaml:"timezone" mapstructure:"timezone"`
}

// Query is one nearby search. Limit <= 0 means the server cap.
type Query struct {
	Center      event.Point
	RadiusKm    float64
	HorizonDays int
	Limit       int
}

// Result is one event in a search response.
type Result struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Locality    string     `json:"locality"`
	Address     string     `json:"address"`
	PostalCode  string     `json:"postalCode"`
	URL         string     `json:"url"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	StartsAt    time.Time  `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt"`
	DistanceKm  float64    `json:"distanceKm"`
}

// Engine runs nearby searches. It is stateless and safe for concurrent use.
type Engine struct {
	store   geospatial.Store
	cal     Calendar
	cfg     Config
	metrics *metrics.Metrics
	log     *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine, filling zero Config fields with defaults.
func NewEngine(store geospatial.Store, cal Calendar, cfg Config, opts ...Option) *Engine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = DefaultRadiusKm
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = DefaultDays
	}
	e := &Engine{
		store: store,
		cal:   cal,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "search")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Search validates q and returns events within q.RadiusKm of q.Center whose
// start date falls between today and today+q.HorizonDays, nearest first.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	start := e.cal.Clock().Now()
	results, err := e.search(ctx, q)
	e.observe(start, len(results), err)
	return results, err
}

func (e *Engine) search(ctx context.Context, q Query) ([]Result, error) {
	if err := validate(q); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 || limit > e.cfg.MaxResults {
		limit = e.cfg.MaxResults
	}
	notBefore := e.cal.Today()
	notAfter := notBefore.AddDate(0, 0, q.HorizonDays)

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	hits, err := e.store.QueryWithin(qctx, q.Center, q.RadiusKm*1000, notBefore, notAfter, limit)
	if err != nil {
		if geospatial.IsUnavailable(err) {
			e.log.Warn("store unavailable", zap.Error(err))
			return nil, eris.Wrapf(ErrUnavailable, "query within: %v", err)
		}
		return nil, eris.Wrap(err, "search: query within")
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = toResult(h)
	}
	return results, nil
}

func validate(q Query) error {
	if !(q.RadiusKm > 0) || math.IsInf(q.RadiusKm, 0) {
		return eris.Wrapf(ErrInvalidInput, "radius_km must be a positive number, got %v", q.RadiusKm)
	}
	if q.HorizonDays <= 0 {
		return eris.Wrapf(ErrInvalidInput, "days must be positive, got %d", q.HorizonDays)
	}
	if rej := event.ValidatePoint(q.Center); rej != nil {
		return eris.Wrapf(ErrInvalidInput, "center: %s", rej.String())
	}
	return nil
}

func toResult(h geospatial.Hit) Result {
	ev := h.Event
	return Result{
		ID:          ev.ExternalID,
		Name:        ev.Name,
		Description: ev.Description,
		Locality:    ev.Locality,
		Address:     ev.Address,
		PostalCode:  ev.PostalCode,
		URL:         ev.URL(),
		Latitude:    ev.Location.Lat,
		Longitude:   ev.Location.Lon,
		StartsAt:    ev.StartsAt,
		EndsAt:      ev.EndsAt,
		DistanceKm:  event.RoundTo(h.DistanceMeters/1000, 2),
	}
}

func (e *Engine) observe(start time.Time, n int, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
		e.metrics.SearchResults.Observe(float64(n))
	case eris.Is(err, ErrInvalidInput):
		outcome = "invalid"
	case eris.Is(err, ErrUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	e.metrics.SearchRequests.WithLabelValues(outcome).Inc()
	e.metrics.SearchDuration.Observe(e.cal.Clock().Since(start).Seconds())
}
