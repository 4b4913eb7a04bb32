package event

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lon float64 `json:"longitude"`
	Lat float64 `json:"latitude"`
}

// Valid reports whether the point lies inside the WGS84 degree ranges.
// NaN and infinities are never valid.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// ValidatePoint returns a rejection when p is out of range.
func ValidatePoint(p Point) *Rejection {
	if !p.Valid() {
		return reject(InvalidCoordinates, "lat=%v lon=%v", p.Lat, p.Lon)
	}
	return nil
}

// Event is one geolocated, time-bounded catalog entry.
//
// Re-imports resolve conflicts by ExternalID with last-write-wins on every
// other field.
type Event struct {
	ExternalID  string          `json:"external_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Locality    string          `json:"locality"`
	Address     string          `json:"address,omitempty"`
	PostalCode  string          `json:"postal_code,omitempty"`
	Contacts    string          `json:"contacts,omitempty"`
	Location    Point           `json:"location"`
	StartsAt    time.Time       `json:"starts_at"`
	EndsAt      *time.Time      `json:"ends_at,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
}

// URL returns the first web link found in the '#'-separated contacts field.
func (e Event) URL() string {
	for _, part := range strings.Split(e.Contacts, "#") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "http://") || strings.HasPrefix(part, "https://") {
			return part
		}
	}
	return ""
}

// Date truncates t to its calendar date in UTC. Store and query code compare
// dates only through values produced here.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
