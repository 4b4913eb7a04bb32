package geospatial

import (
	"math"

	"github.com/tidwall/geodesic"

	"github.com/sells-group/geo-events/internal/event"
)

const (
	wgs84A = 6378137.0

	// Shortest meridian degree (at the equator) and the equatorial parallel
	// degree. Both bound how far a point can drift in one degree.
	minMetersPerDegLat  = 110574.0
	metersPerDegLonEqtr = wgs84A * math.Pi / 180

	// bboxMargin absorbs float32 rounding in the R*Tree.
	bboxMargin = 1.001
)

// Distance returns the ellipsoidal distance in meters between p and q on
// WGS84, using Karney's inverse solution. It converges for every pair,
// antipodal ones included.
func Distance(p, q event.Point) float64 {
	if p == q {
		return 0
	}
	var s12 float64
	geodesic.WGS84.Inverse(p.Lat, p.Lon, q.Lat, q.Lon, &s12, nil, nil)
	return s12
}

// BoundingBox returns a box containing every point within radiusMeters of c.
// It is a prefilter only: the box over-covers, never under-covers. Circles
// touching a pole or crossing the antimeridian get the full longitude range.
func BoundingBox(c event.Point, radiusMeters float64) BBox {
	dLat := radiusMeters / minMetersPerDegLat * bboxMargin
	box := BBox{MinLat: c.Lat - dLat, MaxLat: c.Lat + dLat, MinLng: -180, MaxLng: 180}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.MinLat = math.Max(box.MinLat, -90)
		box.MaxLat = math.Min(box.MaxLat, 90)
		return box
	}

	maxAbsLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	dLon := radiusMeters / (metersPerDegLonEqtr * math.Cos(toRad(maxAbsLat))) * bboxMargin
	if c.Lon-dLon < -180 || c.Lon+dLon > 180 {
		return box
	}
	box.MinLng = c.Lon - dLon
	box.MaxLng = c.Lon + dLon
	return box
}

// BBox is a geographic bounding box in degrees.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BBox) Contains(p event.Point) bool {
	return p.Lon >= b.MinLng && p.Lon <= b.MaxLng && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
