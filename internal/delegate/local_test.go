package delegate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

type report struct {
	status store.TaskStatus
	data   map[string]any
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) Report(_ context.Context, _, _ string, status store.TaskStatus, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{status: status, data: data})
	return nil
}

func (r *recordingReporter) last() report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[len(r.reports)-1]
}

func TestLocalExecutor_Shell(t *testing.T) {
	rep := &recordingReporter{}
	x := NewLocalExecutor(LocalConfig{Reporter: rep})

	err := x.Execute(context.Background(), Task{ID: "t1", Payload: map[string]any{
		"kind":    "shell",
		"command": "echo",
		"args":    []any{`{"built":true}`},
	}})
	require.NoError(t, err)

	require.Len(t, rep.reports, 2)
	assert.Equal(t, store.TaskRunning, rep.reports[0].status)
	got := rep.last()
	assert.Equal(t, store.TaskSucceeded, got.status)
	assert.Equal(t, map[string]any{"built": true}, got.data["stdout"])
	assert.Equal(t, 0, got.data["exit_code"])
}

func TestLocalExecutor_ShellNonZeroExit(t *testing.T) {
	rep := &recordingReporter{}
	x := NewLocalExecutor(LocalConfig{Reporter: rep})

	err := x.Execute(context.Background(), Task{ID: "t1", Payload: map[string]any{
		"kind":    "shell",
		"command": "sh",
		"args":    []any{"-c", "echo broken >&2; exit 3"},
	}})
	require.NoError(t, err)

	got := rep.last()
	assert.Equal(t, store.TaskFailed, got.status)
	assert.Equal(t, 3, got.data["exit_code"])
	assert.Contains(t, got.data["stderr"], "broken")
	assert.Contains(t, got.data["error"], "command failed")
}

func TestLocalExecutor_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "yes", r.Header.Get("X-Deploy"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deployed":"v2"}`))
	}))
	defer srv.Close()

	rep := &recordingReporter{}
	x := NewLocalExecutor(LocalConfig{Reporter: rep})
	err := x.Execute(context.Background(), Task{ID: "t1", Payload: map[string]any{
		"kind":    "http",
		"method":  "post",
		"url":     srv.URL,
		"headers": map[string]any{"X-Deploy": "yes"},
		"body":    map[string]any{"version": "v2"},
	}})
	require.NoError(t, err)

	got := rep.last()
	assert.Equal(t, store.TaskSucceeded, got.status)
	assert.Equal(t, http.StatusOK, got.data["status_code"])
	assert.Equal(t, map[string]any{"deployed": "v2"}, got.data["body"])
}

func TestLocalExecutor_HTTPErrorStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rep := &recordingReporter{}
	x := NewLocalExecutor(LocalConfig{Reporter: rep})
	require.NoError(t, x.Execute(context.Background(), Task{ID: "t1", Payload: map[string]any{"kind": "http", "url": srv.URL}}))

	got := rep.last()
	assert.Equal(t, store.TaskFailed, got.status)
	assert.Equal(t, http.StatusBadGateway, got.data["status_code"])
}

func TestLocalExecutor_RejectsUnstartableTasks(t *testing.T) {
	x := NewLocalExecutor(LocalConfig{Reporter: &recordingReporter{}})
	ctx := context.Background()

	err := x.Execute(ctx, Task{Payload: map[string]any{"kind": "ftp"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = x.Execute(ctx, Task{Payload: map[string]any{"kind": "shell"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = x.Execute(ctx, Task{Payload: map[string]any{"kind": "http", "url": "ftp://nope"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = NewLocalExecutor(LocalConfig{}).Execute(ctx, Task{Payload: map[string]any{"kind": "shell", "command": "true"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}
