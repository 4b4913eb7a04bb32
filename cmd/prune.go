package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/geospatial"
)

var pruneRetentionDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete events that ended before the retention window",
	Long:  "Deletes events whose end date is more than --retention-days days in the past. Events without an end date are kept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		days := cfg.Maintenance.RetentionDays
		if cmd.Flags().Changed("retention-days") {
			days = pruneRetentionDays
		}
		if days < 0 {
			return eris.Errorf("retention days must not be negative, got %d", days)
		}

		cal, err := newCalendar(cfg.Search)
		if err != nil {
			return err
		}

		cat, err := openCatalog(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer cat.Close()

		filter := pruneFilter(cal.Today(), days)
		n, err := cat.DeleteWhere(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "prune")
		}

		zap.L().Info("prune complete",
			zap.Int64("deleted", n),
			zap.Time("ends_before", *filter.EndsBefore),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d events ending before %s\n", n, filter.EndsBefore.Format(time.DateOnly))
		return nil
	},
}

// pruneFilter selects events that ended more than days days before today.
func pruneFilter(today time.Time, days int) geospatial.DeleteFilter {
	cutoff := today.AddDate(0, 0, -days)
	return geospatial.DeleteFilter{EndsBefore: &cutoff}
}

func init() {
	pruneCmd.Flags().IntVar(&pruneRetentionDays, "retention-days", 30, "keep events that ended within this many days (default from config)")
	rootCmd.AddCommand(pruneCmd)
}
