package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
)

// shapefileSource reads a point layer. Attributes become fields and the
// point is rendered as WKT under "geometry". Coordinates are passed through
// as stored, so layers must be in WGS84 longitude/latitude.
type shapefileSource struct {
	reader *shp.Reader
	fields []string
}

func openShapefile(path string) (*shapefileSource, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimSpace(strings.TrimRight(f.String(), "\x00"))
	}

	checkProjection(path)
	return &shapefileSource{reader: reader, fields: names}, nil
}

func (s *shapefileSource) Next(ctx context.Context) (event.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "shapefile: context cancelled")
	}
	if !s.reader.Next() {
		if err := s.reader.Err(); err != nil {
			return nil, eris.Wrap(err, "shapefile: read shape")
		}
		return nil, io.EOF
	}

	_, shape := s.reader.Shape()
	rec := make(event.RawRecord, len(s.fields)+1)
	for i, name := range s.fields {
		val := strings.TrimSpace(strings.TrimRight(s.reader.Attribute(i), "\x00"))
		if val != "" {
			rec[name] = val
		}
	}
	if text, ok := pointWKT(shape); ok {
		rec["geometry"] = text
	}
	return rec, nil
}

func (s *shapefileSource) Close() error {
	return s.reader.Close()
}

// pointWKT renders point shapes, and multipoints holding a single point.
// Lines and polygons yield false.
func pointWKT(shape shp.Shape) (string, bool) {
	var x, y float64
	switch p := shape.(type) {
	case *shp.Point:
		x, y = p.X, p.Y
	case *shp.PointZ:
		x, y = p.X, p.Y
	case *shp.PointM:
		x, y = p.X, p.Y
	case *shp.MultiPoint:
		if len(p.Points) != 1 {
			return "", false
		}
		x, y = p.Points[0].X, p.Points[0].Y
	default:
		return "", false
	}
	text, err := wkt.Marshal(geom.NewPointFlat(geom.XY, []float64{x, y}))
	if err != nil {
		return "", false
	}
	return text, true
}

// checkProjection warns when the sidecar .prj declares a projected system.
func checkProjection(shpPath string) {
	prj := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
	data, err := os.ReadFile(prj)
	if err != nil {
		return
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(string(data))), "PROJCS") {
		zap.L().Warn("shapefile: layer is projected, coordinates will be rejected unless they are WGS84 degrees",
			zap.String("component", "fetcher"),
			zap.String("prj", prj),
		)
	}
}
