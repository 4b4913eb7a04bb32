package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/geospatial"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run catalog maintenance tasks",
	Long:  "Run VACUUM ANALYZE, CLUSTER (Postgres only), REINDEX, and report table statistics for the catalog.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		vacuum, _ := cmd.Flags().GetBool("vacuum")
		cluster, _ := cmd.Flags().GetBool("cluster")
		reindex, _ := cmd.Flags().GetBool("reindex")
		stats, _ := cmd.Flags().GetBool("stats")

		// Default: show stats if no specific action requested.
		if !vacuum && !cluster && !reindex && !stats {
			stats = true
		}

		cat, err := openCatalog(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer cat.Close()

		m := maintainerFor(cat)
		if vacuum {
			if err := m.vacuum(ctx); err != nil {
				return eris.Wrap(err, "maintenance vacuum")
			}
			zap.L().Info("VACUUM ANALYZE complete")
		}
		if cluster {
			if m.cluster == nil {
				return eris.New("maintenance cluster: not supported by the sqlite store")
			}
			if err := m.cluster(ctx); err != nil {
				return eris.Wrap(err, "maintenance cluster")
			}
			zap.L().Info("CLUSTER complete")
		}
		if reindex {
			if err := m.reindex(ctx); err != nil {
				return eris.Wrap(err, "maintenance reindex")
			}
			zap.L().Info("REINDEX complete")
		}
		if stats {
			tableStats, err := m.stats(ctx)
			if err != nil {
				return eris.Wrap(err, "maintenance stats")
			}
			printTableStats(cmd.OutOrStdout(), tableStats)
		}
		return nil
	},
}

// maintainer binds maintenance tasks to one backend. cluster is nil when the
// backend has no equivalent.
type maintainer struct {
	vacuum  func(context.Context) error
	cluster func(context.Context) error
	reindex func(context.Context) error
	stats   func(context.Context) ([]geospatial.TableStats, error)
}

func maintainerFor(c *catalog) maintainer {
	if c.sqlite != nil {
		return maintainer{
			vacuum:  c.sqlite.Vacuum,
			reindex: c.sqlite.Reindex,
			stats:   c.sqlite.TableStats,
		}
	}
	pool := c.pool
	return maintainer{
		vacuum:  func(ctx context.Context) error { return geospatial.VacuumAnalyze(ctx, pool) },
		cluster: func(ctx context.Context) error { return geospatial.ClusterEvents(ctx, pool) },
		reindex: func(ctx context.Context) error { return geospatial.ReindexSpatial(ctx, pool) },
		stats: func(ctx context.Context) ([]geospatial.TableStats, error) {
			return geospatial.GetTableStats(ctx, pool)
		},
	}
}

func printTableStats(out io.Writer, stats []geospatial.TableStats) {
	fmt.Fprintf(out, "%-30s %10s %14s %12s %8s\n", "Table", "Rows", "Total Size", "Index Size", "Spatial")
	fmt.Fprintln(out, "------------------------------------------------------------------------------------")
	for _, s := range stats {
		spatial := "no"
		if s.HasSpatial {
			spatial = "yes"
		}
		fmt.Fprintf(out, "%-30s %10d %14s %12s %8s\n", s.TableName, s.RowCount, s.TotalSize, s.IndexSize, spatial)
	}
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
	maintenanceCmd.Flags().Bool("vacuum", false, "Run VACUUM ANALYZE on the catalog tables")
	maintenanceCmd.Flags().Bool("cluster", false, "Cluster events by their spatial index (Postgres)")
	maintenanceCmd.Flags().Bool("reindex", false, "Rebuild catalog indexes")
	maintenanceCmd.Flags().Bool("stats", false, "Show table statistics")
}
