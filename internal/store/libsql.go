package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/autoflow/internal/xjson"
	"github.com/rendis/autoflow/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/runs.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *LibSQLStore) SaveRun(ctx context.Context, rec *schema.RunRecord) error {
	if rec == nil || rec.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run record requires an execution id")
	}
	body, err := xjson.Marshal(rec)
	if err != nil {
		return persistenceError("marshal run record", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (execution_id, workflow_name, start_time, end_time, final_state, success, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET
		   workflow_name=excluded.workflow_name, start_time=excluded.start_time,
		   end_time=excluded.end_time, final_state=excluded.final_state,
		   success=excluded.success, record=excluded.record`,
		rec.ExecutionID, rec.WorkflowName, rec.StartTime.UTC(), rec.EndTime.UTC(),
		string(rec.FinalState), boolToInt(rec.Success), string(body),
	)
	if err != nil {
		return persistenceError("save run", err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, executionID string) (*schema.RunRecord, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM runs WHERE execution_id = ?`, executionID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound(executionID)
	}
	if err != nil {
		return nil, persistenceError("get run", err)
	}
	rec := &schema.RunRecord{}
	if err := xjson.Unmarshal([]byte(body), rec); err != nil {
		return nil, persistenceError("decode run record", err)
	}
	return rec, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]schema.RunSummary, error) {
	query := `SELECT execution_id, workflow_name, start_time, end_time, final_state, success FROM runs`
	var conds []string
	var args []any
	if filter.WorkflowName != "" {
		conds = append(conds, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if filter.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_time DESC, execution_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("list runs", err)
	}
	defer rows.Close()

	var out []schema.RunSummary
	for rows.Next() {
		var (
			sum        schema.RunSummary
			start, end time.Time
			state      string
			success    int
		)
		if err := rows.Scan(&sum.ExecutionID, &sum.WorkflowName, &start, &end, &state, &success); err != nil {
			return nil, persistenceError("scan run", err)
		}
		sum.StartTime = start.UTC()
		sum.EndTime = end.UTC()
		sum.FinalState = schema.ExecutionState(state)
		sum.Success = success != 0
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list runs", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
