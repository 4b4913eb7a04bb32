package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
)

// Source yields the raw records of one location. Next returns io.EOF after
// the last record. Close releases connections and temporary files.
type Source struct {
	name    string
	format  Format
	next    func(ctx context.Context) (event.RawRecord, error)
	closers []func() error
}

// Name is the location the source was opened from.
func (s *Source) Name() string { return s.name }

// Format is the layout the source is parsed as.
func (s *Source) Format() Format { return s.format }

// Next returns the next record.
func (s *Source) Next(ctx context.Context) (event.RawRecord, error) {
	return s.next(ctx)
}

// Close releases resources in reverse order of acquisition and returns the
// first error.
func (s *Source) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

func (s *Source) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Opener resolves locations to record sources.
type Opener struct {
	opts     Options
	fetchers map[string]Fetcher
}

// NewOpener builds the file, HTTP and FTP transports from opts.
func NewOpener(opts Options) *Opener {
	return &Opener{
		opts: opts,
		fetchers: map[string]Fetcher{
			"file": fileFetcher{},
			"http": NewHTTPFetcher(HTTPOptions{
				UserAgent:         opts.UserAgent,
				Timeout:           opts.Timeout,
				MaxRetries:        opts.MaxRetries,
				RequestsPerSecond: opts.RequestsPerSecond,
			}),
			"ftp": NewFTPFetcher(FTPOptions{
				Timeout:    opts.Timeout,
				MaxRetries: opts.MaxRetries,
			}),
		},
	}
}

// Open resolves location with default options.
func Open(ctx context.Context, location string, format Format) (*Source, error) {
	return NewOpener(Options{}).Open(ctx, location, format)
}

// Open resolves location and starts parsing it as format. FormatAuto infers
// the format from the extension. XLSX and shapefile sources need random
// access, so remote ones are first downloaded to a temporary directory.
func (o *Opener) Open(ctx context.Context, location string, format Format) (*Source, error) {
	if format == FormatAuto {
		f, err := DetectFormat(location)
		if err != nil {
			return nil, err
		}
		format = f
	}

	transport := scheme(location)
	fetcher, ok := o.fetchers[transport]
	if !ok {
		return nil, eris.Errorf("fetcher: unsupported scheme %q", transport)
	}

	zap.L().Info("opening source",
		zap.String("component", "fetcher"),
		zap.String("location", location),
		zap.String("format", string(format)),
		zap.String("transport", transport),
	)

	src := &Source{name: location, format: format}
	var err error
	switch format {
	case FormatCSV, FormatJSONLines, FormatJSON:
		err = o.openStream(ctx, src, fetcher, location)
	case FormatXLSX, FormatShapefile:
		err = o.openFile(ctx, src, fetcher, transport, location)
	default:
		err = eris.Errorf("fetcher: unsupported format %q", format)
	}
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return src, nil
}

func (o *Opener) openStream(ctx context.Context, src *Source, f Fetcher, location string) error {
	body, err := f.Download(ctx, location)
	if err != nil {
		return err
	}
	src.onClose(body.Close)

	switch src.format {
	case FormatJSONLines:
		src.next = newJSONLinesSource(body).Next
	case FormatJSON:
		src.next = newJSONArraySource(body).Next
	default:
		streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		src.onClose(func() error { cancel(); return nil })
		rows, errs := StreamCSV(streamCtx, body, CSVOptions{
			Delimiter:  o.opts.Delimiter,
			LazyQuotes: true,
			TrimSpace:  true,
		})
		src.next = newRowSource(rows, errs).Next
	}
	return nil
}

func (o *Opener) openFile(ctx context.Context, src *Source, f Fetcher, transport, location string) error {
	path := localPath(location)
	var dir string
	needsDir := transport != "file" || strings.EqualFold(filepath.Ext(path), ".zip")
	if needsDir {
		var err error
		dir, err = os.MkdirTemp(o.opts.TempDir, "geo-events-*")
		if err != nil {
			return eris.Wrap(err, "fetcher: create temp dir")
		}
		src.onClose(func() error { return os.RemoveAll(dir) })
	}

	if transport != "file" {
		name := filepath.Base(path)
		if name == "." || name == "/" {
			name = "download"
		}
		dst := filepath.Join(dir, name)
		n, err := f.DownloadToFile(ctx, location, dst)
		if err != nil {
			return err
		}
		zap.L().Debug("downloaded source",
			zap.String("component", "fetcher"),
			zap.String("path", dst),
			zap.Int64("bytes", n),
		)
		path = dst
	}

	if src.format == FormatXLSX {
		streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		src.onClose(func() error { cancel(); return nil })
		rows, errs := StreamXLSX(streamCtx, path, o.opts.Sheet)
		src.next = newRowSource(rows, errs).Next
		return nil
	}

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		extracted, err := ExtractZIP(path, dir)
		if err != nil {
			return err
		}
		if path, err = findShapefile(extracted); err != nil {
			return err
		}
	}
	shapes, err := openShapefile(path)
	if err != nil {
		return err
	}
	src.onClose(shapes.Close)
	src.next = shapes.Next
	return nil
}

// rowSource turns header-first row streams into records keyed by the header.
// Rows whose cells are all blank are skipped.
type rowSource struct {
	rows   <-chan []string
	errs   <-chan error
	header []string
}

func newRowSource(rows <-chan []string, errs <-chan error) *rowSource {
	return &rowSource{rows: rows, errs: errs}
}

func (s *rowSource) Next(ctx context.Context) (event.RawRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "fetcher: context cancelled")
		}
		var row []string
		var ok bool
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "fetcher: context cancelled")
		case row, ok = <-s.rows:
		}
		if !ok {
			if err := <-s.errs; err != nil {
				return nil, err
			}
			return nil, io.EOF
		}

		if s.header == nil {
			s.header = make([]string, len(row))
			for i, h := range row {
				s.header[i] = strings.TrimSpace(h)
			}
			continue
		}
		if rec := s.record(row); rec != nil {
			return rec, nil
		}
	}
}

func (s *rowSource) record(row []string) event.RawRecord {
	rec := make(event.RawRecord, len(s.header))
	blank := true
	for i, cell := range row {
		if i >= len(s.header) || s.header[i] == "" {
			continue
		}
		rec[s.header[i]] = cell
		if strings.TrimSpace(cell) != "" {
			blank = false
		}
	}
	if blank {
		return nil
	}
	return rec
}
