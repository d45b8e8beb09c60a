package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// MemoryStore is an in-process Store. Records are deep-copied through JSON
// on the way in and out, so callers observe the same value semantics as
// with SQLStore.
type MemoryStore struct {
	mu       sync.RWMutex
	plans    map[string][]byte
	execs    map[string][]byte
	nodes    map[string][]byte
	nodeIdx  map[string][]string
	events   map[string][]*Event
	tasks    map[string][]byte
	triggers map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:    make(map[string][]byte),
		execs:    make(map[string][]byte),
		nodes:    make(map[string][]byte),
		nodeIdx:  make(map[string][]string),
		events:   make(map[string][]*Event),
		tasks:    make(map[string][]byte),
		triggers: make(map[string][]byte),
	}
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLStore)(nil)

func encode(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func decode[T any](raw []byte) *T {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		panic(err)
	}
	return &v
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

// --- Plans ---

func (m *MemoryStore) CreatePlan(_ context.Context, plan *schema.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "plan %q already exists", plan.ID)
	}
	cp := *plan
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	m.plans[plan.ID] = encode(&cp)
	return nil
}

func (m *MemoryStore) GetPlan(_ context.Context, id string) (*schema.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.plans[id]
	if !ok {
		return nil, storeNotFound("plan", id)
	}
	return decode[schema.Plan](raw), nil
}

func (m *MemoryStore) ListPlans(_ context.Context, filter PlanFilter) ([]*schema.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.Plan
	for _, raw := range m.plans {
		p := decode[schema.Plan](raw)
		if filter.Valid != nil && p.Valid != *filter.Valid {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limit(out, filter.Limit), nil
}

// --- Plan executions ---

func (m *MemoryStore) CreatePlanExecution(_ context.Context, exec *schema.PlanExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[exec.PlanID]; !ok {
		return storeNotFound("plan", exec.PlanID)
	}
	if _, ok := m.execs[exec.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "plan execution %q already exists", exec.ID)
	}
	cp := *exec
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = timeOrNow(cp.UpdatedAt)
	m.execs[exec.ID] = encode(&cp)
	return nil
}

func (m *MemoryStore) GetPlanExecution(_ context.Context, id string) (*schema.PlanExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.execs[id]
	if !ok {
		return nil, storeNotFound("plan execution", id)
	}
	return decode[schema.PlanExecution](raw), nil
}

func (m *MemoryStore) UpdatePlanExecution(_ context.Context, id string, expected schema.ExecutionStatus, update PlanExecutionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.execs[id]
	if !ok {
		return false, storeNotFound("plan execution", id)
	}
	e := decode[schema.PlanExecution](raw)
	if e.Status != expected {
		return false, nil
	}
	if update.Status != nil {
		e.Status = *update.Status
	}
	if update.Error != nil {
		e.Error = *update.Error
	}
	if update.FailedNodePath != nil {
		e.FailedNodePath = *update.FailedNodePath
	}
	if update.StartedAt != nil {
		e.StartedAt = update.StartedAt
	}
	if update.EndedAt != nil {
		e.EndedAt = update.EndedAt
	}
	e.Version++
	e.UpdatedAt = time.Now().UTC()
	m.execs[id] = encode(e)
	return true, nil
}

func (m *MemoryStore) ListPlanExecutions(_ context.Context, filter PlanExecutionFilter) ([]*schema.PlanExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.PlanExecution
	for _, raw := range m.execs {
		e := decode[schema.PlanExecution](raw)
		if filter.PlanID != "" && e.PlanID != filter.PlanID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, e.Status) {
			continue
		}
		if filter.UpdatedBefore != nil && !e.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limit(out, filter.Limit), nil
}

// --- Node executions ---

func (m *MemoryStore) CreateNodeExecution(_ context.Context, n *schema.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.execs[n.PlanExecutionID]; !ok {
		return storeNotFound("plan execution", n.PlanExecutionID)
	}
	if _, ok := m.nodes[n.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "node execution %q already exists", n.ID)
	}
	cp := *n
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	m.nodes[n.ID] = encode(&cp)
	m.nodeIdx[n.PlanExecutionID] = append(m.nodeIdx[n.PlanExecutionID], n.ID)
	return nil
}

func (m *MemoryStore) GetNodeExecution(_ context.Context, id string) (*schema.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.nodes[id]
	if !ok {
		return nil, storeNotFound("node execution", id)
	}
	return decode[schema.NodeExecution](raw), nil
}

func (m *MemoryStore) UpdateNodeExecution(_ context.Context, id string, expected schema.NodeStatus, update NodeExecutionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.nodes[id]
	if !ok {
		return false, storeNotFound("node execution", id)
	}
	n := decode[schema.NodeExecution](raw)
	if n.Status != expected {
		return false, nil
	}
	if update.Status != nil {
		n.Status = *update.Status
	}
	if update.Mode != nil {
		n.Mode = *update.Mode
	}
	if update.ExecutableResponse != nil {
		n.ExecutableResponse = update.ExecutableResponse
	}
	if update.Outcome != nil {
		n.Outcome = update.Outcome
	}
	if update.FailureMessage != nil {
		n.FailureMessage = *update.FailureMessage
	}
	if update.StartedAt != nil {
		n.StartedAt = update.StartedAt
	}
	if update.EndedAt != nil {
		n.EndedAt = update.EndedAt
	}
	n.Version++
	m.nodes[id] = encode(n)
	return true, nil
}

// ListNodeExecutions returns node executions in creation order.
func (m *MemoryStore) ListNodeExecutions(_ context.Context, planExecutionID string) ([]*schema.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.nodeIdx[planExecutionID]
	out := make([]*schema.NodeExecution, 0, len(ids))
	for _, id := range ids {
		out = append(out, decode[schema.NodeExecution](m.nodes[id]))
	}
	return out, nil
}

// --- Events ---

func (m *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Sequence = int64(len(m.events[event.PlanExecutionID]) + 1)
	cp := *event
	m.events[event.PlanExecutionID] = append(m.events[event.PlanExecutionID], &cp)
	return nil
}

func (m *MemoryStore) GetEvents(_ context.Context, planExecutionID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for _, e := range m.events[planExecutionID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Tasks ---

func (m *MemoryStore) CreateTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "task %q already exists", t.ID)
	}
	cp := *t
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = time.Now().UTC()
	m.tasks[t.ID] = encodeTask(&cp)
	return nil
}

// Task hides its token hash from JSON, so the memory store wraps it.
type storedTask struct {
	Task
	Hash string `json:"hash"`
}

func encodeTask(t *Task) []byte {
	return encode(storedTask{Task: *t, Hash: t.CallbackTokenHash})
}

func decodeTask(raw []byte) *Task {
	st := decode[storedTask](raw)
	t := st.Task
	t.CallbackTokenHash = st.Hash
	return &t
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.tasks[id]
	if !ok {
		return nil, storeNotFound("task", id)
	}
	return decodeTask(raw), nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, id string, expected TaskStatus, update TaskUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.tasks[id]
	if !ok {
		return false, storeNotFound("task", id)
	}
	t := decodeTask(raw)
	if t.Status != expected {
		return false, nil
	}
	if update.Status != nil {
		t.Status = *update.Status
	}
	if update.ExecutorID != nil {
		t.ExecutorID = *update.ExecutorID
	}
	if update.Progress != nil {
		t.Progress = update.Progress
	}
	if update.Result != nil {
		t.Result = update.Result
	}
	t.UpdatedAt = time.Now().UTC()
	m.tasks[id] = encodeTask(t)
	return true, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Task
	for _, raw := range m.tasks {
		t := decodeTask(raw)
		if filter.PlanExecutionID != "" && t.PlanExecutionID != filter.PlanExecutionID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsTaskStatus(filter.Statuses, t.Status) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limit(out, filter.Limit), nil
}

// --- Triggers ---

func (m *MemoryStore) CreateTrigger(_ context.Context, t *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[t.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "trigger %q already exists", t.ID)
	}
	cp := *t
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	m.triggers[t.ID] = encode(&cp)
	return nil
}

func (m *MemoryStore) GetTrigger(_ context.Context, id string) (*Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.triggers[id]
	if !ok {
		return nil, storeNotFound("trigger", id)
	}
	return decode[Trigger](raw), nil
}

func (m *MemoryStore) UpdateTrigger(_ context.Context, id string, update TriggerUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.triggers[id]
	if !ok {
		return storeNotFound("trigger", id)
	}
	t := decode[Trigger](raw)
	if update.Enabled != nil {
		t.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		t.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		t.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		t.LastRunStatus = update.LastRunStatus
	}
	if update.LastExecutionID != "" {
		t.LastExecutionID = update.LastExecutionID
	}
	m.triggers[id] = encode(t)
	return nil
}

func (m *MemoryStore) ListTriggers(_ context.Context, filter TriggerFilter) ([]*Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Trigger
	for _, raw := range m.triggers {
		t := decode[Trigger](raw)
		if filter.Enabled != nil && t.Enabled != *filter.Enabled {
			continue
		}
		if filter.PlanID != "" && t.PlanID != filter.PlanID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limit(out, filter.Limit), nil
}

func (m *MemoryStore) DeleteTrigger(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[id]; !ok {
		return storeNotFound("trigger", id)
	}
	delete(m.triggers, id)
	return nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func containsStatus(list []schema.ExecutionStatus, s schema.ExecutionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsTaskStatus(list []TaskStatus, s TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
