package geospatial

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVacuumAnalyze_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for _, table := range catalogTables {
		mock.ExpectExec("VACUUM ANALYZE " + table).WillReturnResult(pgxmock.NewResult("VACUUM", 0))
	}

	require.NoError(t, VacuumAnalyze(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVacuumAnalyze_StopsOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("VACUUM ANALYZE " + catalogTables[0]).WillReturnError(errTest)

	err = VacuumAnalyze(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vacuum analyze catalog.events")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClusterEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CLUSTER catalog.events USING idx_events_geom").
		WillReturnResult(pgxmock.NewResult("CLUSTER", 0))
	require.NoError(t, ClusterEvents(context.Background(), mock))

	mock.ExpectExec("CLUSTER").WillReturnError(errTest)
	assert.Error(t, ClusterEvents(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTableStats_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{
		"table_name", "row_count", "total_size", "index_size", "has_spatial",
	}).
		AddRow("catalog.events", int64(42000), "61 MB", "9 MB", true).
		AddRow("catalog.import_runs", int64(12), "48 kB", "16 kB", false)
	mock.ExpectQuery("WHERE schemaname = 'catalog'").WillReturnRows(rows)

	stats, err := GetTableStats(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "catalog.events", stats[0].TableName)
	assert.Equal(t, int64(42000), stats[0].RowCount)
	assert.True(t, stats[0].HasSpatial)
	assert.False(t, stats[1].HasSpatial)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTableStats_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errTest)

	_, err = GetTableStats(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query table stats")
}

func TestReindexSpatial(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("REINDEX SCHEMA catalog").WillReturnResult(pgxmock.NewResult("REINDEX", 0))
	require.NoError(t, ReindexSpatial(context.Background(), mock))

	mock.ExpectExec("REINDEX SCHEMA catalog").WillReturnError(errTest)
	err = ReindexSpatial(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reindex schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}
