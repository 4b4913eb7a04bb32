// Package fetcher opens raw event records from local files, HTTP and FTP
// locations, in CSV, JSON, XLSX and shapefile layouts.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher retrieves the bytes behind a location.
type Fetcher interface {
	// Download returns the content at location. The caller closes it.
	Download(ctx context.Context, location string) (io.ReadCloser, error)

	// DownloadToFile writes the content at location to path and returns the
	// number of bytes written.
	DownloadToFile(ctx context.Context, location string, path string) (int64, error)
}

// Format names the layout of a source.
type Format string

// Supported formats. FormatAuto picks one from the location's extension.
const (
	FormatAuto      Format = ""
	FormatCSV       Format = "csv"
	FormatJSONLines Format = "jsonl"
	FormatJSON      Format = "json"
	FormatXLSX      Format = "xlsx"
	FormatShapefile Format = "shp"
)

// ParseFormat accepts a format name as given on the command line.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatCSV, FormatJSONLines, FormatJSON, FormatXLSX, FormatShapefile:
		return f, nil
	case "ndjson":
		return FormatJSONLines, nil
	case "geojson":
		return FormatJSON, nil
	case "shapefile", "zip":
		return FormatShapefile, nil
	}
	return FormatAuto, eris.Errorf("fetcher: unknown format %q", s)
}

// DetectFormat infers the format from the location's file extension.
// A zip archive is taken to hold a shapefile.
func DetectFormat(location string) (Format, error) {
	p := location
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		p = u.Path
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".jsonl", ".ndjson":
		return FormatJSONLines, nil
	case ".json", ".geojson":
		return FormatJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".shp", ".zip":
		return FormatShapefile, nil
	default:
		return FormatAuto, eris.Errorf("fetcher: cannot infer format of %q", location)
	}
}

// Options configures transports and parsers.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int

	// RequestsPerSecond bounds HTTP requests per host. Zero means 5.
	RequestsPerSecond float64

	// Delimiter forces the CSV field separator. Zero sniffs it from the header.
	Delimiter rune

	// Sheet selects an XLSX sheet by name. Empty means the first sheet.
	Sheet string

	// TempDir receives downloads of formats that need random access.
	TempDir string
}

// scheme classifies a location as "file", "http" or "ftp".
func scheme(location string) string {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) <= 1 {
		// No scheme, or a Windows drive letter.
		return "file"
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return "http"
	case "ftp":
		return "ftp"
	case "file":
		return "file"
	}
	return u.Scheme
}

// localPath strips a file:// prefix.
func localPath(location string) string {
	if u, err := url.Parse(location); err == nil && strings.EqualFold(u.Scheme, "file") {
		return u.Path
	}
	return location
}
