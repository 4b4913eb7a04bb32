package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-events/internal/event"
)

type shapeRow struct {
	x, y     float64
	id, name string
}

func createTestShapefile(t *testing.T, dir string, rows []shapeRow) string {
	t.Helper()
	path := filepath.Join(dir, "events.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)

	w.SetFields([]shp.Field{
		shp.StringField("ID", 20),
		shp.StringField("NOM", 40),
	})
	for _, r := range rows {
		idx := int(w.Write(&shp.Point{X: r.x, Y: r.y}))
		w.WriteAttribute(idx, 0, r.id)
		w.WriteAttribute(idx, 1, r.name)
	}
	w.Close()
	// go-shp v0.1.1 names the attribute file "<base>dbf" without the dot.
	base := strings.TrimSuffix(path, ".shp")
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	require.FileExists(t, base+".dbf")
	return path
}

var shapeRows = []shapeRow{
	{x: 1.4442, y: 43.6047, id: "ev-1", name: "Festival"},
	{x: 2.3522, y: 48.8566, id: "ev-2", name: ""},
}

func TestOpen_Shapefile(t *testing.T) {
	path := createTestShapefile(t, t.TempDir(), shapeRows)

	src, err := Open(context.Background(), path, FormatAuto)
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	recs := drain(t, src)
	require.Len(t, recs, 2)

	id, ok := recs[0].Lookup([]string{"id"})
	require.True(t, ok)
	assert.Equal(t, "ev-1", id)
	assert.Equal(t, "Festival", recs[0]["NOM"])
	assert.NotContains(t, recs[1], "NOM", "blank attributes are omitted")

	p, ok := event.WKTColumn{Fields: []string{"geometry"}}.Extract(recs[0])
	require.True(t, ok)
	assert.InDelta(t, 1.4442, p.Lon, 1e-9)
	assert.InDelta(t, 43.6047, p.Lat, 1e-9)
}

func TestOpen_ZippedShapefile(t *testing.T) {
	layerDir := t.TempDir()
	createTestShapefile(t, layerDir, shapeRows)

	files := map[string]string{}
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(filepath.Join(layerDir, "events"+ext))
		require.NoError(t, err)
		files["layer/events"+ext] = string(data)
	}
	archive := filepath.Join(t.TempDir(), "events.zip")
	writeZip(t, archive, files)

	src, err := NewOpener(Options{TempDir: t.TempDir()}).Open(context.Background(), archive, FormatAuto)
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	assert.Equal(t, FormatShapefile, src.Format())
	assert.Len(t, drain(t, src), 2)
}

func TestPointWKT(t *testing.T) {
	text, ok := pointWKT(&shp.Point{X: 1.5, Y: 43.25})
	require.True(t, ok)
	assert.Contains(t, text, "POINT")

	_, ok = pointWKT(&shp.MultiPoint{Points: []shp.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}})
	assert.False(t, ok)

	_, ok = pointWKT(&shp.MultiPoint{Points: []shp.Point{{X: 1, Y: 2}}})
	assert.True(t, ok)

	_, ok = pointWKT(&shp.PolyLine{})
	assert.False(t, ok)

	_, ok = pointWKT(nil)
	assert.False(t, ok)
}
