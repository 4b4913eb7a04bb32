package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
	"github.com/sells-group/geo-events/internal/geospatial"
	"github.com/sells-group/geo-events/internal/search"
)

const (
	dateLayout    = "2006-01-02"
	healthTimeout = 2 * time.Second
)

type center struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type eventJSON struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Locality    string  `json:"locality"`
	Address     string  `json:"address"`
	PostalCode  string  `json:"postalCode"`
	URL         string  `json:"url"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	StartsAt    string  `json:"startsAt"`
	EndsAt      *string `json:"endsAt"`
	DistanceKm  float64 `json:"distanceKm"`
}

type nearbyResponse struct {
	Status   string      `json:"status"`
	Center   center      `json:"center"`
	RadiusKm float64     `json:"radiusKm"`
	Days     int         `json:"days"`
	Count    int         `json:"count"`
	Events   []eventJSON `json:"events"`
}

type statsResponse struct {
	Status         string                     `json:"status"`
	AsOf           string                     `json:"as_of"`
	TotalEvents    int64                      `json:"total_events"`
	UpcomingEvents int64                      `json:"upcoming_events"`
	TopLocalities  []geospatial.LocalityCount `json:"top_localities"`
	StorageBytes   int64                      `json:"storage_bytes"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Nearby handles GET /api/events/nearby.
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	p, err := bindNearby(r, h.search.Config())
	if err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	results, err := h.search.Search(r.Context(), search.Query{
		Center:      event.Point{Lat: *p.Lat, Lon: *p.Lon},
		RadiusKm:    p.RadiusKm,
		HorizonDays: p.Days,
		Limit:       p.Limit,
	})
	if err != nil {
		h.fail(w, "nearby", err)
		return
	}

	events := make([]eventJSON, len(results))
	for i, res := range results {
		events[i] = toEventJSON(res)
	}
	respondJSON(w, http.StatusOK, nearbyResponse{
		Status:   "success",
		Center:   center{Latitude: *p.Lat, Longitude: *p.Lon},
		RadiusKm: p.RadiusKm,
		Days:     p.Days,
		Count:    len(events),
		Events:   events,
	})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.Stats(r.Context())
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	top := snap.TopLocalities
	if top == nil {
		top = []geospatial.LocalityCount{}
	}
	respondJSON(w, http.StatusOK, statsResponse{
		Status:         "success",
		AsOf:           snap.AsOf.Format(dateLayout),
		TotalEvents:    snap.TotalCount,
		UpcomingEvents: snap.UpcomingCount,
		TopLocalities:  top,
		StorageBytes:   snap.StorageBytes,
	})
}

// Health handles GET /health by pinging the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Database: "disconnected"})
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
}

// fail maps search errors to 400, 503 or 500.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case eris.Is(err, search.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case eris.Is(err, search.ErrUnavailable):
		h.log.Warn("store unavailable", zap.String("op", op), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, codeUnavailable, "the event store is temporarily unavailable")
	default:
		h.log.Error("request failed", zap.String("op", op), zap.Error(err))
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func toEventJSON(r search.Result) eventJSON {
	out := eventJSON{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Locality:    r.Locality,
		Address:     r.Address,
		PostalCode:  r.PostalCode,
		URL:         r.URL,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		StartsAt:    r.StartsAt.Format(dateLayout),
		DistanceKm:  r.DistanceKm,
	}
	if r.EndsAt != nil {
		end := r.EndsAt.Format(dateLayout)
		out.EndsAt = &end
	}
	return out
}
