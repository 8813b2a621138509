package store

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/autoflow/pkg/schema"
)

// Migration files are named NNN_description.sql and applied in version order.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

type migration struct {
	version int
	name    string
	script  string
}

// loadMigrations reads every *.sql file at the root of fsys.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, persistenceError("list migrations", err)
	}

	seen := make(map[int]string, len(files))
	out := make([]migration, 0, len(files))
	for _, file := range files {
		prefix, rest, ok := strings.Cut(file, "_")
		version, convErr := strconv.Atoi(prefix)
		if !ok || convErr != nil || version <= 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"migration %q: name must be <version>_<description>.sql", file)
		}
		if prev, dup := seen[version]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConflict,
				"migrations %q and %q share version %d", prev, file, version)
		}
		seen[version] = file

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, persistenceError("read migration "+file, err)
		}
		out = append(out, migration{
			version: version,
			name:    strings.TrimSuffix(rest, ".sql"),
			script:  string(body),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// runMigrations applies every embedded migration not yet recorded in
// run_migrations. Each migration runs in its own transaction.
func runMigrations(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return persistenceError("open migrations", err)
	}
	pending, err := loadMigrations(sub)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS run_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return persistenceError("create run_migrations", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM run_migrations`)
	if err != nil {
		return nil, persistenceError("read run_migrations", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, persistenceError("scan run_migrations", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("read run_migrations", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	op := "migration " + strconv.Itoa(m.version) + " (" + m.name + ")"
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(m.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return persistenceError(op, err).WithDetails(map[string]any{"statement": stmt})
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return persistenceError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return persistenceError(op, err)
	}
	return nil
}

// splitStatements cuts a script at semicolons outside single-quoted strings.
// Whole-line "--" comments are dropped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		b       strings.Builder
		inQuote bool
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			stmts = append(stmts, s)
		}
		b.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		if !inQuote && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'':
				inQuote = !inQuote
				b.WriteRune(r)
			case r == ';' && !inQuote:
				flush()
			default:
				b.WriteRune(r)
			}
		}
		b.WriteByte('\n')
	}
	flush()
	return stmts
}
