package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geo-events/internal/geospatial"
	"github.com/sells-group/geo-events/internal/search"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	Long:  "Prints total and upcoming event counts, the busiest localities, storage size and the last import run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cal, err := newCalendar(cfg.Search)
		if err != nil {
			return err
		}
		cat, err := openCatalog(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer cat.Close()

		report, err := collectStats(ctx, search.NewStatsService(cat, cal, cfg.Search.QueryTimeout), cat.Store)
		if err != nil {
			return err
		}
		return printStats(cmd.OutOrStdout(), report, statsJSON)
	},
}

// statsReport is a catalog snapshot plus the most recent import, if any.
type statsReport struct {
	search.Snapshot
	LastImport *geospatial.ImportRun `json:"lastImport,omitempty"`
}

func collectStats(ctx context.Context, svc *search.StatsService, store geospatial.Store) (statsReport, error) {
	snap, err := svc.Stats(ctx)
	if err != nil {
		return statsReport{}, eris.Wrap(err, "stats")
	}
	report := statsReport{Snapshot: snap}

	if rec, ok := store.(geospatial.RunRecorder); ok {
		run, err := rec.LatestImportRun(ctx)
		switch {
		case err == nil:
			report.LastImport = &run
		case !geospatial.IsNoRows(err):
			return statsReport{}, eris.Wrap(err, "stats: latest import")
		}
	}
	return report, nil
}

func printStats(out io.Writer, r statsReport, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode stats")
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	fmt.Fprintf(out, "As of:     %s\n", r.AsOf.Format(time.DateOnly))
	fmt.Fprintf(out, "Events:    %d\n", r.TotalCount)
	fmt.Fprintf(out, "Upcoming:  %d\n", r.UpcomingCount)
	fmt.Fprintf(out, "Storage:   %d bytes\n", r.StorageBytes)
	if len(r.TopLocalities) > 0 {
		fmt.Fprintln(out, "Top localities:")
		for _, lc := range r.TopLocalities {
			fmt.Fprintf(out, "  %-30s %d\n", lc.Locality, lc.Count)
		}
	}
	if run := r.LastImport; run != nil {
		fmt.Fprintf(out, "Last import: %s at %s (imported %d, updated %d, failed %d)\n",
			run.Source, run.FinishedAt.Format(time.RFC3339), run.Imported, run.Updated, run.Failed)
		if run.Error != "" {
			fmt.Fprintf(out, "  error: %s\n", run.Error)
		}
	}
	return nil
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}
