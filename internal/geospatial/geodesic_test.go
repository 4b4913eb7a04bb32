package geospatial

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/geo-events/internal/event"
)

func dms(d, m, s float64) float64 { return d + m/60 + s/3600 }

func TestDistance_KnownGeodesics(t *testing.T) {
	tests := []struct {
		name string
		p, q event.Point
		want float64
		tol  float64
	}{
		{
			// Vincenty's own worked example.
			name: "Flinders Peak to Buninyong",
			p:    event.Point{Lon: dms(144, 25, 29.52440), Lat: -dms(37, 57, 3.72030)},
			q:    event.Point{Lon: dms(143, 55, 35.38390), Lat: -dms(37, 39, 10.15610)},
			want: 54972.271,
			tol:  0.001,
		},
		{name: "Toulouse to Paris", p: toulouse, q: paris, want: 587953.62, tol: 0.01},
		{name: "one degree of equator", p: event.Point{}, q: event.Point{Lon: 1}, want: 111319.491, tol: 0.001},
		{name: "one degree of meridian", p: event.Point{}, q: event.Point{Lat: 1}, want: 110574.389, tol: 0.001},
		{name: "same point", p: paris, q: paris, want: 0, tol: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.p, tt.q), tt.tol)
			assert.InDelta(t, tt.want, Distance(tt.q, tt.p), tt.tol)
		})
	}
}

func TestDistance_NearlyAntipodal(t *testing.T) {
	// Reference distances from GeographicLib.
	tests := []struct {
		name string
		p, q event.Point
		want float64
	}{
		{
			name: "south america to borneo",
			p:    event.Point{Lon: -59.700016865718936, Lat: -14.385718290190454},
			q:    event.Point{Lon: 124.47888483801137, Lat: 12.840892458048728},
			want: 19547775.424575284,
		},
		{
			name: "high latitudes",
			p:    event.Point{Lon: -140.0099777435393, Lat: -69.63242132356869},
			q:    event.Point{Lon: 39.417357010079456, Lat: 72.12761905039844},
			want: 19724771.524122942,
		},
		{name: "equatorial antipodes", p: event.Point{Lon: 0, Lat: 0}, q: event.Point{Lon: 180, Lat: 0}, want: 20003931.4586},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.p, tt.q), 0.001)
			assert.InDelta(t, tt.want, Distance(tt.q, tt.p), 0.001)
		})
	}
}

func TestDistance_DiffersFromFlatDegrees(t *testing.T) {
	// At 60°N a degree of longitude is about half a degree of latitude.
	d := Distance(event.Point{Lon: 10, Lat: 60}, event.Point{Lon: 11, Lat: 60})
	assert.InDelta(t, 55800, d, 200)
}

func TestBoundingBox_CoversCircle(t *testing.T) {
	const r = 30000.0
	box := BoundingBox(toulouse, r)
	assert.True(t, box.Contains(toulouse))

	// Points at exactly r in the four cardinal directions must be inside.
	for _, p := range []event.Point{
		{Lon: toulouse.Lon, Lat: toulouse.Lat + r/110574},
		{Lon: toulouse.Lon, Lat: toulouse.Lat - r/111700},
		{Lon: toulouse.Lon + r/(111319.49*0.72), Lat: toulouse.Lat},
		{Lon: toulouse.Lon - r/(111319.49*0.72), Lat: toulouse.Lat},
	} {
		if Distance(toulouse, p) <= r {
			assert.True(t, box.Contains(p), "%+v", p)
		}
	}
	assert.False(t, box.Contains(paris))
}

func TestBoundingBox_Antimeridian(t *testing.T) {
	box := BoundingBox(event.Point{Lon: 179.9, Lat: -16.5}, 50000)
	assert.Equal(t, -180.0, box.MinLng)
	assert.Equal(t, 180.0, box.MaxLng)
	assert.Less(t, box.MinLat, -16.5)
}

func TestBoundingBox_Pole(t *testing.T) {
	box := BoundingBox(event.Point{Lon: 20, Lat: 89.9}, 50000)
	assert.Equal(t, 90.0, box.MaxLat)
	assert.Equal(t, -180.0, box.MinLng)
	assert.Equal(t, 180.0, box.MaxLng)
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, IsUnavailable(context.DeadlineExceeded))
	assert.False(t, IsUnavailable(nil))
	assert.False(t, IsUnavailable(errTest))
	assert.False(t, IsUnavailable(ErrEmptyFilter))
}
