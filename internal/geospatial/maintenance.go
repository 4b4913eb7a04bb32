package geospatial

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/db"
)

// TableStats holds size and row count information for a catalog table.
type TableStats struct {
	TableName  string `json:"table_name"`
	RowCount   int64  `json:"row_count"`
	TotalSize  string `json:"total_size"`
	IndexSize  string `json:"index_size"`
	HasSpatial bool   `json:"has_spatial"`
}

// catalogTables lists the tables maintenance commands operate on.
var catalogTables = []string{
	"catalog.events",
	"catalog.import_runs",
}

// VacuumAnalyze runs VACUUM ANALYZE on every catalog table. Large prunes
// leave dead tuples behind, and the planner needs fresh starts_at statistics
// to keep choosing the date index.
func VacuumAnalyze(ctx context.Context, pool db.Pool) error {
	for _, table := range catalogTables {
		zap.L().Info("geospatial: vacuum analyze", zap.String("table", table))
		if _, err := pool.Exec(ctx, fmt.Sprintf("VACUUM ANALYZE %s", table)); err != nil {
			return eris.Wrapf(err, "geospatial: vacuum analyze %s", table)
		}
	}
	return nil
}

// ClusterEvents physically reorders catalog.events along its GiST index so
// nearby events share pages.
func ClusterEvents(ctx context.Context, pool db.Pool) error {
	zap.L().Info("geospatial: cluster events", zap.String("index", "idx_events_geom"))
	if _, err := pool.Exec(ctx, "CLUSTER catalog.events USING idx_events_geom"); err != nil {
		return eris.Wrap(err, "geospatial: cluster catalog.events")
	}
	return nil
}

// GetTableStats returns size and row count statistics for the catalog schema.
func GetTableStats(ctx context.Context, pool db.Pool) ([]TableStats, error) {
	sql := `
		SELECT
			schemaname || '.' || relname AS table_name,
			n_live_tup AS row_count,
			pg_size_pretty(pg_total_relation_size(schemaname || '.' || relname)) AS total_size,
			pg_size_pretty(pg_indexes_size(schemaname || '.' || relname)) AS index_size,
			EXISTS (
				SELECT 1 FROM pg_indexes
				WHERE schemaname = s.schemaname AND tablename = s.relname
				AND indexdef LIKE '%USING gist%'
			) AS has_spatial
		FROM pg_stat_user_tables s
		WHERE schemaname = 'catalog'
		ORDER BY pg_total_relation_size(schemaname || '.' || relname) DESC
	`
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: query table stats")
	}
	defer rows.Close()

	var stats []TableStats
	for rows.Next() {
		var s TableStats
		if err := rows.Scan(&s.TableName, &s.RowCount, &s.TotalSize, &s.IndexSize, &s.HasSpatial); err != nil {
			return nil, eris.Wrap(err, "geospatial: scan table stats row")
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geospatial: iterate table stats rows")
	}
	return stats, nil
}

// ReindexSpatial rebuilds every index in the catalog schema.
func ReindexSpatial(ctx context.Context, pool db.Pool) error {
	zap.L().Info("geospatial: reindexing catalog")
	if _, err := pool.Exec(ctx, "REINDEX SCHEMA catalog"); err != nil {
		return eris.Wrap(err, "geospatial: reindex schema")
	}
	return nil
}
