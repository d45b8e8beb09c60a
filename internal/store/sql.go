package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// SQLStore implements Store over database/sql for libSQL, SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	// appendMu serializes event sequence allocation within this process.
	appendMu sync.Mutex
}

// Open connects to the given backend. For libsql and sqlite the dsn is a
// file path or URI ("file:/path/to.db"); for postgres it is a connection URL.
func Open(driver Driver, dsn string) (*SQLStore, error) {
	d, ok := dialectFor(driver)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported store driver %q", driver)
	}
	db, err := sql.Open(d.sqlName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d.singleConn {
		db.SetMaxOpenConns(1)
	}
	// Some PRAGMAs return rows, so use QueryRow and discard the value.
	for _, p := range d.pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// DB returns the underlying *sql.DB.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Driver returns the backend in use.
func (s *SQLStore) Driver() Driver { return s.dialect.driver }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.migrate(ctx)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

// --- Plans ---

func (s *SQLStore) CreatePlan(ctx context.Context, plan *schema.Plan) error {
	nodes, err := json.Marshal(plan.Nodes)
	if err != nil {
		return fmt.Errorf("marshal plan nodes: %w", err)
	}
	errs, err := marshalOrNil(plan.Errors)
	if err != nil {
		return fmt.Errorf("marshal plan errors: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO plans (id, starting_node_id, valid, nodes, errors, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.StartingNodeID, boolInt(plan.Valid), string(nodes), errs, fmtTime(timeOrNow(plan.CreatedAt)),
	)
	return err
}

func (s *SQLStore) GetPlan(ctx context.Context, id string) (*schema.Plan, error) {
	rows, err := s.query(ctx,
		`SELECT id, starting_node_id, valid, nodes, errors, created_at FROM plans WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plans, err := scanPlans(rows)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, storeNotFound("plan", id)
	}
	return plans[0], nil
}

func (s *SQLStore) ListPlans(ctx context.Context, filter PlanFilter) ([]*schema.Plan, error) {
	query := `SELECT id, starting_node_id, valid, nodes, errors, created_at FROM plans`
	var args []any
	if filter.Valid != nil {
		query += " WHERE valid = ?"
		args = append(args, boolInt(*filter.Valid))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlans(rows)
}

func scanPlans(rows *sql.Rows) ([]*schema.Plan, error) {
	var plans []*schema.Plan
	for rows.Next() {
		p := &schema.Plan{}
		var valid int
		var nodes, created string
		var errs sql.NullString
		if err := rows.Scan(&p.ID, &p.StartingNodeID, &valid, &nodes, &errs, &created); err != nil {
			return nil, err
		}
		p.Valid = valid != 0
		if err := json.Unmarshal([]byte(nodes), &p.Nodes); err != nil {
			return nil, fmt.Errorf("unmarshal plan nodes: %w", err)
		}
		if err := unmarshalNull(errs, &p.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal plan errors: %w", err)
		}
		p.CreatedAt = parseTime(created)
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// --- Plan executions ---

const planExecutionColumns = `id, plan_id, status, inputs, metadata, error, failed_node_path, rerun_of, version, created_at, started_at, ended_at, updated_at`

func (s *SQLStore) CreatePlanExecution(ctx context.Context, exec *schema.PlanExecution) error {
	inputs, err := marshalMapOrDefault(exec.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	md, err := json.Marshal(exec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO plan_executions (`+planExecutionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.PlanID, string(exec.Status), string(inputs), string(md),
		nullStr(exec.Error), nullStr(exec.FailedNodePath), nullStr(exec.RerunOf), exec.Version,
		fmtTime(timeOrNow(exec.CreatedAt)), nullTime(exec.StartedAt), nullTime(exec.EndedAt), fmtTime(timeOrNow(exec.UpdatedAt)),
	)
	return err
}

func (s *SQLStore) GetPlanExecution(ctx context.Context, id string) (*schema.PlanExecution, error) {
	rows, err := s.query(ctx, `SELECT `+planExecutionColumns+` FROM plan_executions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	execs, err := scanPlanExecutions(rows)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, storeNotFound("plan execution", id)
	}
	return execs[0], nil
}

func (s *SQLStore) UpdatePlanExecution(ctx context.Context, id string, expected schema.ExecutionStatus, update PlanExecutionUpdate) (bool, error) {
	sets := []string{"version = version + 1", "updated_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.FailedNodePath != nil {
		sets = append(sets, "failed_node_path = ?")
		args = append(args, nullStr(*update.FailedNodePath))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, fmtTime(*update.StartedAt))
	}
	if update.EndedAt != nil {
		sets = append(sets, "ended_at = ?")
		args = append(args, fmtTime(*update.EndedAt))
	}

	args = append(args, id, string(expected))
	res, err := s.exec(ctx,
		"UPDATE plan_executions SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, res, "plan_executions", "plan execution", id)
}

func (s *SQLStore) ListPlanExecutions(ctx context.Context, filter PlanExecutionFilter) ([]*schema.PlanExecution, error) {
	var where []string
	var args []any

	if filter.PlanID != "" {
		where = append(where, "plan_id = ?")
		args = append(args, filter.PlanID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.UpdatedBefore != nil {
		where = append(where, "updated_at < ?")
		args = append(args, fmtTime(*filter.UpdatedBefore))
	}

	query := `SELECT ` + planExecutionColumns + ` FROM plan_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlanExecutions(rows)
}

func scanPlanExecutions(rows *sql.Rows) ([]*schema.PlanExecution, error) {
	var out []*schema.PlanExecution
	for rows.Next() {
		e := &schema.PlanExecution{}
		var (
			status, inputs, md, created, updated string
			errMsg, failedPath, rerunOf          sql.NullString
			started, ended                       sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.PlanID, &status, &inputs, &md, &errMsg, &failedPath, &rerunOf,
			&e.Version, &created, &started, &ended, &updated); err != nil {
			return nil, err
		}
		e.Status = schema.ExecutionStatus(status)
		if err := json.Unmarshal([]byte(inputs), &e.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
		if err := json.Unmarshal([]byte(md), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		e.Error = errMsg.String
		e.FailedNodePath = failedPath.String
		e.RerunOf = rerunOf.String
		e.CreatedAt = parseTime(created)
		e.UpdatedAt = parseTime(updated)
		e.StartedAt = parseNullTime(started)
		e.EndedAt = parseNullTime(ended)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Node executions ---

const nodeExecutionColumns = `id, plan_execution_id, node_id, parent_id, previous_id, ambiance, status, mode, executable_response, outcome, failure_message, attempt, retry_of, version, created_at, started_at, ended_at`

func (s *SQLStore) CreateNodeExecution(ctx context.Context, n *schema.NodeExecution) error {
	amb, err := json.Marshal(n.Ambiance)
	if err != nil {
		return fmt.Errorf("marshal ambiance: %w", err)
	}
	er, err := marshalOrNil(n.ExecutableResponse)
	if err != nil {
		return fmt.Errorf("marshal executable response: %w", err)
	}
	outcome, err := marshalOrNil(n.Outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO node_executions (`+nodeExecutionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.PlanExecutionID, n.NodeID, nullStr(n.ParentID), nullStr(n.PreviousID), string(amb),
		string(n.Status), nullStr(string(n.Mode)), er, outcome, nullStr(n.FailureMessage),
		n.Attempt, nullStr(n.RetryOf), n.Version,
		fmtTime(timeOrNow(n.CreatedAt)), nullTime(n.StartedAt), nullTime(n.EndedAt),
	)
	return err
}

func (s *SQLStore) GetNodeExecution(ctx context.Context, id string) (*schema.NodeExecution, error) {
	rows, err := s.query(ctx, `SELECT `+nodeExecutionColumns+` FROM node_executions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	nodes, err := scanNodeExecutions(rows)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, storeNotFound("node execution", id)
	}
	return nodes[0], nil
}

func (s *SQLStore) UpdateNodeExecution(ctx context.Context, id string, expected schema.NodeStatus, update NodeExecutionUpdate) (bool, error) {
	sets := []string{"version = version + 1"}
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Mode != nil {
		sets = append(sets, "mode = ?")
		args = append(args, string(*update.Mode))
	}
	if update.ExecutableResponse != nil {
		er, err := json.Marshal(update.ExecutableResponse)
		if err != nil {
			return false, fmt.Errorf("marshal executable response: %w", err)
		}
		sets = append(sets, "executable_response = ?")
		args = append(args, string(er))
	}
	if update.Outcome != nil {
		outcome, err := json.Marshal(update.Outcome)
		if err != nil {
			return false, fmt.Errorf("marshal outcome: %w", err)
		}
		sets = append(sets, "outcome = ?")
		args = append(args, string(outcome))
	}
	if update.FailureMessage != nil {
		sets = append(sets, "failure_message = ?")
		args = append(args, nullStr(*update.FailureMessage))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, fmtTime(*update.StartedAt))
	}
	if update.EndedAt != nil {
		sets = append(sets, "ended_at = ?")
		args = append(args, fmtTime(*update.EndedAt))
	}

	args = append(args, id, string(expected))
	res, err := s.exec(ctx,
		"UPDATE node_executions SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, res, "node_executions", "node execution", id)
}

func (s *SQLStore) ListNodeExecutions(ctx context.Context, planExecutionID string) ([]*schema.NodeExecution, error) {
	rows, err := s.query(ctx,
		`SELECT `+nodeExecutionColumns+` FROM node_executions WHERE plan_execution_id = ? ORDER BY created_at ASC, attempt ASC`,
		planExecutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodeExecutions(rows)
}

func scanNodeExecutions(rows *sql.Rows) ([]*schema.NodeExecution, error) {
	var out []*schema.NodeExecution
	for rows.Next() {
		n := &schema.NodeExecution{}
		var (
			amb, status, created                     string
			parent, prev, mode, er, outcome, failMsg sql.NullString
			retryOf, started, ended                  sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.PlanExecutionID, &n.NodeID, &parent, &prev, &amb, &status, &mode,
			&er, &outcome, &failMsg, &n.Attempt, &retryOf, &n.Version, &created, &started, &ended); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(amb), &n.Ambiance); err != nil {
			return nil, fmt.Errorf("unmarshal ambiance: %w", err)
		}
		if er.Valid && er.String != "" {
			n.ExecutableResponse = &schema.ExecutableResponse{}
			if err := json.Unmarshal([]byte(er.String), n.ExecutableResponse); err != nil {
				return nil, fmt.Errorf("unmarshal executable response: %w", err)
			}
		}
		if err := unmarshalNull(outcome, &n.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
		n.ParentID = parent.String
		n.PreviousID = prev.String
		n.Status = schema.NodeStatus(status)
		n.Mode = schema.ExecutionMode(mode.String)
		n.FailureMessage = failMsg.String
		n.RetryOf = retryOf.String
		n.CreatedAt = parseTime(created)
		n.StartedAt = parseNullTime(started)
		n.EndedAt = parseNullTime(ended)
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Events ---

// AppendEvent assigns the next per-execution sequence and inserts the event
// in one transaction.
func (s *SQLStore) AppendEvent(ctx context.Context, event *Event) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE plan_execution_id = ?`),
		event.PlanExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO events (plan_execution_id, sequence, node_execution_id, node_id, event_type, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		event.PlanExecutionID, seq, nullStr(event.NodeExecutionID), nullStr(event.NodeID),
		event.Type, nullRaw(event.Payload), fmtTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	event.Sequence = seq
	return nil
}

func (s *SQLStore) GetEvents(ctx context.Context, planExecutionID string, since int64) ([]*Event, error) {
	rows, err := s.query(ctx,
		`SELECT plan_execution_id, sequence, node_execution_id, node_id, event_type, payload, timestamp
		 FROM events WHERE plan_execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		planExecutionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeExecID, nodeID, payload sql.NullString
		var ts string
		if err := rows.Scan(&e.PlanExecutionID, &e.Sequence, &nodeExecID, &nodeID, &e.Type, &payload, &ts); err != nil {
			return nil, err
		}
		e.NodeExecutionID = nodeExecID.String
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		e.Timestamp = parseTime(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Tasks ---

const taskColumns = `id, plan_execution_id, node_execution_id, executor_id, status, payload, capabilities, callback_token_hash, progress, result, timeout_ms, created_at, updated_at`

func (s *SQLStore) CreateTask(ctx context.Context, t *Task) error {
	payload, err := marshalOrNil(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	caps, err := marshalOrNil(t.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal task capabilities: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PlanExecutionID, t.NodeExecutionID, nullStr(t.ExecutorID), string(t.Status), payload, caps,
		t.CallbackTokenHash, nil, nil, t.Timeout.Milliseconds(), fmtTime(timeOrNow(t.CreatedAt)), fmtTime(now),
	)
	return err
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*Task, error) {
	rows, err := s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, storeNotFound("task", id)
	}
	return tasks[0], nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, id string, expected TaskStatus, update TaskUpdate) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.ExecutorID != nil {
		sets = append(sets, "executor_id = ?")
		args = append(args, nullStr(*update.ExecutorID))
	}
	if update.Progress != nil {
		raw, err := json.Marshal(update.Progress)
		if err != nil {
			return false, fmt.Errorf("marshal task progress: %w", err)
		}
		sets = append(sets, "progress = ?")
		args = append(args, string(raw))
	}
	if update.Result != nil {
		raw, err := json.Marshal(update.Result)
		if err != nil {
			return false, fmt.Errorf("marshal task result: %w", err)
		}
		sets = append(sets, "result = ?")
		args = append(args, string(raw))
	}

	args = append(args, id, string(expected))
	res, err := s.exec(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, res, "tasks", "task", id)
}

func (s *SQLStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var where []string
	var args []any
	if filter.PlanExecutionID != "" {
		where = append(where, "plan_execution_id = ?")
		args = append(args, filter.PlanExecutionID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		t := &Task{}
		var (
			status, hash, created, updated            string
			executor, payload, caps, progress, result sql.NullString
			timeoutMs                                 int64
		)
		if err := rows.Scan(&t.ID, &t.PlanExecutionID, &t.NodeExecutionID, &executor, &status, &payload, &caps,
			&hash, &progress, &result, &timeoutMs, &created, &updated); err != nil {
			return nil, err
		}
		t.ExecutorID = executor.String
		t.Status = TaskStatus(status)
		t.CallbackTokenHash = hash
		t.Timeout = time.Duration(timeoutMs) * time.Millisecond
		t.CreatedAt = parseTime(created)
		t.UpdatedAt = parseTime(updated)
		for _, f := range []struct {
			src sql.NullString
			dst any
		}{{payload, &t.Payload}, {caps, &t.Capabilities}, {progress, &t.Progress}, {result, &t.Result}} {
			if err := unmarshalNull(f.src, f.dst); err != nil {
				return nil, fmt.Errorf("unmarshal task %s: %w", t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Triggers ---

const triggerColumns = `id, plan_id, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, last_execution_id, created_at`

func (s *SQLStore) CreateTrigger(ctx context.Context, t *Trigger) error {
	inputs, err := marshalOrNil(t.Inputs)
	if err != nil {
		return fmt.Errorf("marshal trigger inputs: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO triggers (`+triggerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PlanID, t.CronExpression, inputs, boolInt(t.Enabled),
		nullTime(t.LastRunAt), nullTime(t.NextRunAt), nullStr(t.LastRunStatus), nullStr(t.LastExecutionID),
		fmtTime(timeOrNow(t.CreatedAt)),
	)
	return err
}

func (s *SQLStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	rows, err := s.query(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	triggers, err := scanTriggers(rows)
	if err != nil {
		return nil, err
	}
	if len(triggers) == 0 {
		return nil, storeNotFound("trigger", id)
	}
	return triggers[0], nil
}

func (s *SQLStore) UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, fmtTime(*update.LastRunAt))
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, fmtTime(*update.NextRunAt))
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if update.LastExecutionID != "" {
		sets = append(sets, "last_execution_id = ?")
		args = append(args, update.LastExecutionID)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.exec(ctx, "UPDATE triggers SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger", id)
}

func (s *SQLStore) ListTriggers(ctx context.Context, filter TriggerFilter) ([]*Trigger, error) {
	var where []string
	var args []any
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.PlanID != "" {
		where = append(where, "plan_id = ?")
		args = append(args, filter.PlanID)
	}
	query := `SELECT ` + triggerColumns + ` FROM triggers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func (s *SQLStore) DeleteTrigger(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger", id)
}

func scanTriggers(rows *sql.Rows) ([]*Trigger, error) {
	var out []*Trigger
	for rows.Next() {
		t := &Trigger{}
		var (
			enabled                                      int
			created                                      string
			inputs, lastRun, nextRun, lastStatus, lastID sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.PlanID, &t.CronExpression, &inputs, &enabled,
			&lastRun, &nextRun, &lastStatus, &lastID, &created); err != nil {
			return nil, err
		}
		if err := unmarshalNull(inputs, &t.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal trigger inputs: %w", err)
		}
		t.Enabled = enabled != 0
		t.LastRunAt = parseNullTime(lastRun)
		t.NextRunAt = parseNullTime(nextRun)
		t.LastRunStatus = lastStatus.String
		t.LastExecutionID = lastID.String
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// applied interprets a conditional update: one row means applied, zero rows
// means either the record is missing (NOT_FOUND) or its status moved on.
func (s *SQLStore) applied(ctx context.Context, res sql.Result, table, resource, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = s.queryRow(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, storeNotFound(resource, id)
	}
	if err != nil {
		return false, err
	}
	return false, nil
}
