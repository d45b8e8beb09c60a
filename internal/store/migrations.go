package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// schemaStep is one migrations/NNN_name.sql script.
type schemaStep struct {
	version int
	name    string
	stmts   []string
}

// loadSchemaSteps reads every embedded script ordered by version. Versions
// must start at 1 and have no gaps.
func loadSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	steps := make([]schemaStep, 0, len(files))
	for _, f := range files {
		version, name, err := parseStepName(path.Base(f))
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		steps = append(steps, schemaStep{version: version, name: name, stmts: splitStatements(string(body))})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	for i, st := range steps {
		if st.version != i+1 {
			return nil, fmt.Errorf("schema step %d (%s) out of sequence, want %d", st.version, st.name, i+1)
		}
	}
	return steps, nil
}

// parseStepName splits "001_initial_schema.sql" into 1 and "initial_schema".
func parseStepName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("schema file %q: want NNN_name.sql", file)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("schema file %q: bad version %q", file, num)
	}
	return version, name, nil
}

// migrate brings the schema up to the newest embedded step. Each step runs
// in its own transaction together with its schema_version row.
func (s *SQLStore) migrate(ctx context.Context) error {
	steps, err := loadSchemaSteps(migrationFS)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	if err := s.queryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current > len(steps) {
		return fmt.Errorf("database schema version %d is newer than this binary (%d)", current, len(steps))
	}
	for _, st := range steps[current:] {
		if err := s.applyStep(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) applyStep(ctx context.Context, st schemaStep) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema step %d: %w", st.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range st.stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema step %d (%s): %w", st.version, st.name, err)
		}
	}
	if _, err = tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO schema_version (version, name) VALUES (?, ?)`), st.version, st.name); err != nil {
		return fmt.Errorf("record schema step %d: %w", st.version, err)
	}
	return tx.Commit()
}

// splitStatements cuts a script on semicolons and drops chunks holding only
// "--" comments.
func splitStatements(script string) []string {
	var stmts []string
	for _, chunk := range strings.Split(script, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" && !onlyComments(chunk) {
			stmts = append(stmts, chunk)
		}
	}
	return stmts
}

func onlyComments(chunk string) bool {
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
