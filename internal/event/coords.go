package event

import (
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"github.com/twpayne/go-geom/encoding/wkt"
)

const wgs84SRID = 4326

// CoordinateStrategy extracts a point from one shape of source data. ok is
// false when the record does not carry coordinates in that shape, so the
// next strategy gets a turn. Range checks happen after extraction.
type CoordinateStrategy interface {
	Name() string
	Extract(rec RawRecord) (p Point, ok bool)
}

// DefaultStrategies returns the extraction order used by the Normalizer:
// separate columns, WKT, hex WKB, a GeoJSON [lon, lat] array, then a
// combined "lat, lon" column.
func DefaultStrategies(m FieldMapping) []CoordinateStrategy {
	return []CoordinateStrategy{
		LatLonColumns{Lat: m.Latitude, Lon: m.Longitude},
		WKTColumn{Fields: m.Geometry},
		HexWKBColumn{Fields: m.WKB},
		CoordinateArray{Fields: m.Coordinates},
		CombinedColumn{Fields: m.LatLon},
	}
}

// LatLonColumns reads separate latitude and longitude columns.
type LatLonColumns struct {
	Lat []string
	Lon []string
}

func (LatLonColumns) Name() string { return "lat_lon_columns" }

func (s LatLonColumns) Extract(rec RawRecord) (Point, bool) {
	latStr, ok := rec.Lookup(s.Lat)
	if !ok {
		return Point{}, false
	}
	lonStr, ok := rec.Lookup(s.Lon)
	if !ok {
		return Point{}, false
	}
	lat, ok := parseCoord(latStr)
	if !ok {
		return Point{}, false
	}
	lon, ok := parseCoord(lonStr)
	if !ok {
		return Point{}, false
	}
	return Point{Lon: lon, Lat: lat}, true
}

// WKTColumn reads a WKT or EWKT POINT geometry expression.
type WKTColumn struct {
	Fields []string
}

func (WKTColumn) Name() string { return "wkt" }

func (s WKTColumn) Extract(rec RawRecord) (Point, bool) {
	for _, field := range s.Fields {
		raw, ok := rec.Lookup([]string{field})
		if !ok {
			continue
		}
		if p, ok := parseWKTPoint(raw); ok {
			return p, true
		}
	}
	return Point{}, false
}

func parseWKTPoint(raw string) (Point, bool) {
	srid := 0
	if strings.HasPrefix(strings.ToUpper(raw), "SRID=") {
		head, rest, found := strings.Cut(raw, ";")
		if !found {
			return Point{}, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(head[len("SRID="):]))
		if err != nil {
			return Point{}, false
		}
		srid, raw = n, rest
	}
	if srid != 0 && srid != wgs84SRID {
		return Point{}, false
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(raw)), "POINT") {
		return Point{}, false
	}
	g, err := wkt.Unmarshal(strings.TrimSpace(raw))
	if err != nil {
		return Point{}, false
	}
	return pointFromGeom(g)
}

// HexWKBColumn reads a hex-encoded WKB or EWKB point, the default text
// rendering of PostGIS geometry columns.
type HexWKBColumn struct {
	Fields []string
}

func (HexWKBColumn) Name() string { return "hex_wkb" }

func (s HexWKBColumn) Extract(rec RawRecord) (Point, bool) {
	for _, field := range s.Fields {
		raw, ok := rec.Lookup([]string{field})
		if !ok || !isHex(raw) {
			continue
		}
		g, err := ewkbhex.Decode(raw)
		if err != nil {
			continue
		}
		if g.SRID() != 0 && g.SRID() != wgs84SRID {
			continue
		}
		if p, ok := pointFromGeom(g); ok {
			return p, true
		}
	}
	return Point{}, false
}

// CoordinateArray reads a GeoJSON position, longitude first. The value is
// either a bare [lon, lat(, alt)] array or a Point geometry object.
type CoordinateArray struct {
	Fields []string
}

func (CoordinateArray) Name() string { return "coordinate_array" }

func (s CoordinateArray) Extract(rec RawRecord) (Point, bool) {
	v, ok := rec.lookupValue(s.Fields)
	if !ok {
		return Point{}, false
	}
	if obj, isObj := v.(map[string]any); isObj {
		if t, _ := obj["type"].(string); !strings.EqualFold(t, "Point") {
			return Point{}, false
		}
		v = obj["coordinates"]
	}
	arr, isArr := v.([]any)
	if !isArr || len(arr) < 2 || len(arr) > 3 {
		return Point{}, false
	}
	lon, ok := parseCoord(valueString(arr[0]))
	if !ok {
		return Point{}, false
	}
	lat, ok := parseCoord(valueString(arr[1]))
	if !ok {
		return Point{}, false
	}
	return Point{Lon: lon, Lat: lat}, true
}

// CombinedColumn reads "lat, lon" from one column, as in OpenDataSoft's
// geo_point_2d. Brackets and a semicolon separator are tolerated.
type CombinedColumn struct {
	Fields []string
}

func (CombinedColumn) Name() string { return "combined_column" }

func (s CombinedColumn) Extract(rec RawRecord) (Point, bool) {
	raw, ok := rec.Lookup(s.Fields)
	if !ok {
		return Point{}, false
	}
	raw = strings.Trim(raw, "[]() ")
	sep := ","
	if strings.Contains(raw, ";") {
		sep = ";"
	}
	parts := strings.Split(raw, sep)
	if len(parts) != 2 {
		return Point{}, false
	}
	lat, ok := parseCoord(parts[0])
	if !ok {
		return Point{}, false
	}
	lon, ok := parseCoord(parts[1])
	if !ok {
		return Point{}, false
	}
	return Point{Lon: lon, Lat: lat}, true
}

func pointFromGeom(g geom.T) (Point, bool) {
	pt, ok := g.(*geom.Point)
	if !ok || len(pt.FlatCoords()) < 2 {
		return Point{}, false
	}
	return Point{Lon: pt.X(), Lat: pt.Y()}, true
}

// parseCoord parses a decimal degree value, accepting a decimal comma.
func parseCoord(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isHex(s string) bool {
	if len(s) < 42 || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
