package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Column is a staged column definition for the temp table.
type Column struct {
	Name string
	Type string
}

// UpsertConfig defines the parameters for a staged bulk upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "catalog.events")
	Stage        []Column // columns COPYed into the temp table, in row order
	Target       []string // target columns, in insert order
	Select       []string // one expression over staged columns per target column; nil = same names
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict target columns
	TouchColumn  string   // optional timestamp column set to now() on update
}

// UpsertResult splits affected rows into fresh inserts and conflict updates.
type UpsertResult struct {
	Inserted int64
	Updated  int64
}

// BulkUpsert performs a bulk upsert via a temp table and INSERT ... ON CONFLICT.
// 1. Creates a temp table with the staged columns (dropped on commit)
// 2. COPY rows into the temp table
// 3. Deletes earlier staged rows that share a conflict key with a later one
// 4. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE SET ...
// 5. Counts inserts vs updates from RETURNING (xmax = 0)
//
// Everything runs in one transaction so each row either fully applies or not
// at all. A key repeated inside rows resolves to its last occurrence; the
// dropped duplicates are counted as updates.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	var res UpsertResult
	if len(rows) == 0 {
		return res, nil
	}

	if len(cfg.Stage) == 0 || len(cfg.Target) == 0 {
		return res, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return res, eris.New("db: upsert: no conflict keys specified")
	}
	if cfg.Select != nil && len(cfg.Select) != len(cfg.Target) {
		return res, eris.Errorf("db: upsert: %d select expressions for %d target columns", len(cfg.Select), len(cfg.Target))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := StageTableName(cfg.Table)

	if _, err := tx.Exec(ctx, createStageSQL(tempTable, cfg.Stage)); err != nil {
		return res, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	stageNames := make([]string, len(cfg.Stage))
	for i, c := range cfg.Stage {
		stageNames[i] = c.Name
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, stageNames, pgx.CopyFromRows(rows)); err != nil {
		return res, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, dedupSQL(tempTable, cfg.ConflictKeys))
	if err != nil {
		return res, eris.Wrapf(err, "db: upsert: dedup temp table for %s", cfg.Table)
	}
	res.Updated = tag.RowsAffected()

	dbRows, err := tx.Query(ctx, upsertSQL(tempTable, cfg))
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	for dbRows.Next() {
		var inserted bool
		if err := dbRows.Scan(&inserted); err != nil {
			dbRows.Close()
			return UpsertResult{}, eris.Wrap(err, "db: upsert: scan result")
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	dbRows.Close()
	if err := dbRows.Err(); err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, eris.Wrap(err, "db: upsert: commit tx")
	}

	return res, nil
}

// StageTableName returns the temp table name used to stage rows for table.
func StageTableName(table string) string {
	return "_stage_" + strings.ReplaceAll(table, ".", "_")
}

func createStageSQL(tempTable string, cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + c.Type
	}
	return fmt.Sprintf(
		"CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		strings.Join(defs, ", "),
	)
}

// dedupSQL keeps the last staged row per conflict key. A fresh temp table
// filled by COPY stores rows in insertion order, so ctid follows input order.
func dedupSQL(tempTable string, keys []string) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		id := pgx.Identifier{k}.Sanitize()
		conds[i] = fmt.Sprintf("a.%s = b.%s", id, id)
	}
	t := pgx.Identifier{tempTable}.Sanitize()
	return fmt.Sprintf(
		"DELETE FROM %s a USING %s b WHERE a.ctid < b.ctid AND %s",
		t, t, strings.Join(conds, " AND "),
	)
}

func upsertSQL(tempTable string, cfg UpsertConfig) string {
	selectList := quoteAndJoin(cfg.Target)
	if cfg.Select != nil {
		selectList = strings.Join(cfg.Select, ", ")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Target {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	setClauses := make([]string, 0, len(updateCols)+1)
	for _, col := range updateCols {
		id := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", id, id))
	}
	if cfg.TouchColumn != "" {
		setClauses = append(setClauses, pgx.Identifier{cfg.TouchColumn}.Sanitize()+" = now()")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Target),
		selectList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	)
}

// sanitizeTable handles schema-qualified table names like "catalog.events".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
