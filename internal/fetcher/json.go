package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
)

// recordArrayKeys name the members that hold the record array when a JSON
// document wraps it in an object, as API exports and GeoJSON do.
var recordArrayKeys = map[string]bool{
	"features": true,
	"results":  true,
	"records":  true,
	"data":     true,
	"items":    true,
}

// jsonArraySource decodes the elements of a JSON array one at a time.
// The array is either the document itself or a member of a top-level object
// named in recordArrayKeys.
type jsonArraySource struct {
	dec     *json.Decoder
	started bool
	done    bool
}

func newJSONArraySource(r io.Reader) *jsonArraySource {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &jsonArraySource{dec: dec}
}

func (s *jsonArraySource) Next(ctx context.Context) (event.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "json: context cancelled")
	}
	if s.done {
		return nil, io.EOF
	}
	if !s.started {
		s.started = true
		if err := s.seekArray(); err != nil {
			s.done = true
			return nil, err
		}
	}
	if !s.dec.More() {
		s.done = true
		return nil, io.EOF
	}

	var obj map[string]any
	if err := s.dec.Decode(&obj); err != nil {
		s.done = true
		return nil, eris.Wrap(err, "json: decode element")
	}
	return toRecord(obj), nil
}

// seekArray consumes tokens up to the opening bracket of the record array.
// An empty document yields io.EOF.
func (s *jsonArraySource) seekArray() error {
	tok, err := s.dec.Token()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return eris.Wrap(err, "json: read opening token")
	}
	switch tok {
	case json.Delim('['):
		return nil
	case json.Delim('{'):
	default:
		return eris.Errorf("json: expected array or object, got %v", tok)
	}

	for s.dec.More() {
		keyTok, err := s.dec.Token()
		if err != nil {
			return eris.Wrap(err, "json: read member name")
		}
		key, _ := keyTok.(string)
		if recordArrayKeys[key] {
			tok, err := s.dec.Token()
			if err != nil {
				return eris.Wrap(err, "json: read member value")
			}
			if tok == json.Delim('[') {
				return nil
			}
			if _, isDelim := tok.(json.Delim); isDelim {
				return eris.Errorf("json: member %q is not an array", key)
			}
			continue
		}
		var skip json.RawMessage
		if err := s.dec.Decode(&skip); err != nil {
			return eris.Wrapf(err, "json: skip member %q", key)
		}
	}
	return eris.New("json: no record array found in object")
}

// jsonLinesSource decodes one JSON object per line. Blank lines are skipped.
type jsonLinesSource struct {
	r    *bufio.Reader
	line int
	eof  bool
}

func newJSONLinesSource(r io.Reader) *jsonLinesSource {
	return &jsonLinesSource{r: bufio.NewReaderSize(r, 64*1024)}
}

func (s *jsonLinesSource) Next(ctx context.Context) (event.RawRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "jsonl: context cancelled")
		}
		if s.eof {
			return nil, io.EOF
		}

		raw, err := s.r.ReadBytes('\n')
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			return nil, eris.Wrap(err, "jsonl: read line")
		}
		s.line++

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, eris.Wrapf(err, "jsonl: decode line %d", s.line)
		}
		return toRecord(obj), nil
	}
}

// toRecord flattens GeoJSON features: properties become fields, the feature
// id fills "id" when the properties lack one, and the geometry is rendered
// as WKT under "geometry". Other objects pass through.
func toRecord(obj map[string]any) event.RawRecord {
	if obj["type"] != "Feature" {
		return event.RawRecord(obj)
	}

	rec := make(event.RawRecord)
	if props, ok := obj["properties"].(map[string]any); ok {
		for k, v := range props {
			rec[k] = v
		}
	}
	if id, ok := obj["id"]; ok {
		if _, taken := rec["id"]; !taken {
			rec["id"] = id
		}
	}
	if g, ok := obj["geometry"]; ok && g != nil {
		text, err := geometryWKT(g)
		if err != nil {
			zap.L().Debug("json: unreadable feature geometry",
				zap.String("component", "fetcher"),
				zap.Error(err),
			)
		} else {
			rec["geometry"] = text
		}
	}
	return rec
}

func geometryWKT(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "json: encode geometry")
	}
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return "", eris.Wrap(err, "json: decode geometry")
	}
	text, err := wkt.Marshal(g)
	if err != nil {
		return "", eris.Wrap(err, "json: encode wkt")
	}
	return text, nil
}
