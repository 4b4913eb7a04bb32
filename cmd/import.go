package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
	"github.com/sells-group/geo-events/internal/fetcher"
	"github.com/sells-group/geo-events/internal/geospatial"
	"github.com/sells-group/geo-events/internal/loader"
	"github.com/sells-group/geo-events/internal/metrics"
)

var (
	importFormat    string
	importMapping   string
	importBatchSize int
	importSheet     string
	importDelimiter string
	importJSON      bool
	importMetrics   string
)

var importCmd = &cobra.Command{
	Use:   "import <location>...",
	Short: "Import event datasets into the catalog",
	Long: "Loads each location (local path, http(s):// or ftp:// URL) as CSV, JSON, XLSX or shapefile " +
		"and upserts its events. Re-importing the same dataset is safe.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := fetcher.ParseFormat(importFormat)
		if err != nil {
			return err
		}
		delim, err := parseDelimiter(importDelimiter)
		if err != nil {
			return err
		}
		mapping := event.DefaultMapping()
		if importMapping != "" {
			if mapping, err = event.LoadMapping(importMapping); err != nil {
				return err
			}
		}

		cat, err := openCatalog(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer cat.Close()

		lcfg := cfg.Loader
		if importBatchSize > 0 {
			lcfg.BatchSize = importBatchSize
		}

		opener := fetcher.NewOpener(fetcher.Options{
			UserAgent:         cfg.Fetch.UserAgent,
			Timeout:           cfg.Fetch.Timeout,
			MaxRetries:        cfg.Fetch.MaxRetries,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			TempDir:           cfg.Fetch.TempDir,
			Delimiter:         delim,
			Sheet:             importSheet,
		})
		reg := prometheus.NewRegistry()
		ld := newImportLoader(cat.Store, mapping, lcfg, reg)

		err = runImport(ctx, cmd.OutOrStdout(), opener, ld, args, format, importJSON)
		if importMetrics != "" {
			if werr := writeImportMetrics(importMetrics, reg); werr != nil {
				zap.L().Warn("write import metrics", zap.Error(werr))
			}
		}
		return err
	},
}

// newImportLoader builds a loader whose instruments are registered on reg.
func newImportLoader(store geospatial.Store, mapping event.FieldMapping, lcfg loader.Config, reg prometheus.Registerer) *loader.Loader {
	return loader.New(store, event.NewNormalizer(mapping), lcfg, loader.WithMetrics(metrics.New(reg)))
}

// writeImportMetrics writes reg in the text exposition format, for the
// node_exporter textfile collector. The file is replaced atomically.
func writeImportMetrics(path string, reg prometheus.Gatherer) error {
	return eris.Wrapf(prometheus.WriteToTextfile(path, reg), "write metrics %s", path)
}

// sourceOpener resolves a location to a record source.
type sourceOpener interface {
	Open(ctx context.Context, location string, format fetcher.Format) (*fetcher.Source, error)
}

// runImport loads every location in order and stops at the first failure.
func runImport(ctx context.Context, out io.Writer, opener sourceOpener, ld *loader.Loader, locations []string, format fetcher.Format, asJSON bool) error {
	for _, loc := range locations {
		src, err := opener.Open(ctx, loc, format)
		if err != nil {
			return eris.Wrapf(err, "open %s", loc)
		}
		rep, err := ld.LoadNamed(ctx, loc, src)
		closeErr := src.Close()

		if perr := printReport(out, rep, asJSON); perr != nil {
			return perr
		}
		if err != nil {
			return eris.Wrapf(err, "import %s", loc)
		}
		if closeErr != nil {
			return eris.Wrapf(closeErr, "close %s", loc)
		}
	}
	return nil
}

func printReport(out io.Writer, rep loader.Report, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode report")
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	fmt.Fprintf(out, "Source:   %s\n", rep.Source)
	fmt.Fprintf(out, "Run:      %s\n", rep.RunID)
	fmt.Fprintf(out, "Imported: %d\n", rep.Imported)
	fmt.Fprintf(out, "Updated:  %d\n", rep.Updated)
	fmt.Fprintf(out, "Failed:   %d\n", rep.Failed)
	fmt.Fprintf(out, "Skipped:  %d\n", rep.Skipped())
	reasons := make([]string, 0, len(rep.SkippedByReason))
	for r := range rep.SkippedByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(out, "  %-24s %d\n", r, rep.SkippedByReason[event.Reason(r)])
	}
	fmt.Fprintf(out, "Elapsed:  %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	return nil
}

// parseDelimiter accepts a single character or the name "tab".
func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError {
		return 0, eris.Errorf("invalid delimiter %q: want a single character", s)
	}
	return r, nil
}

func init() {
	importCmd.Flags().StringVar(&importFormat, "format", "", "source format: csv, jsonl, json, xlsx, shp (default from extension)")
	importCmd.Flags().StringVar(&importMapping, "mapping", "", "YAML field mapping file")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "records per upsert batch (default from config)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV delimiter (default sniffed from the header)")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "print reports as JSON")
	importCmd.Flags().StringVar(&importMetrics, "metrics-file", "", "write loader metrics to this file after the run (Prometheus text format)")
	rootCmd.AddCommand(importCmd)
}
