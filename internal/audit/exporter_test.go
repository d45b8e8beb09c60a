package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

type putCall struct {
	bucket string
	object string
	body   []byte
	opts   minio.PutObjectOptions
}

type fakePutter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{bucket: bucket, object: object, body: body, opts: opts})
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

var at = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestExport_Execution(t *testing.T) {
	fp := &fakePutter{}
	x := NewExporter(fp, "audit", "orchestrator")

	ev := engine.TerminalEvent{
		Kind:            engine.TerminalExecution,
		PlanExecutionID: "exec-1",
		PlanID:          "plan-1",
		Execution:       &schema.PlanExecution{ID: "exec-1", PlanID: "plan-1", Status: schema.ExecutionFailed},
		At:              at,
	}
	require.NoError(t, x.Observer()(context.Background(), ev))

	require.Len(t, fp.calls, 1)
	call := fp.calls[0]
	assert.Equal(t, "audit", call.bucket)
	assert.Equal(t, "orchestrator/exec-1/01772359200000000000-execution-exec-1.json", call.object)
	assert.Equal(t, "application/json", call.opts.ContentType)
	assert.Equal(t, "FAILED", call.opts.UserMetadata["status"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(call.body, &decoded))
	assert.Equal(t, "execution", decoded["kind"])
	assert.Equal(t, "plan-1", decoded["plan_id"])
}

func TestExport_NodeObjectName(t *testing.T) {
	x := NewExporter(&fakePutter{}, "audit", "")
	name := x.ObjectName(engine.TerminalEvent{
		Kind:            engine.TerminalNode,
		PlanExecutionID: "exec-1",
		Node:            &schema.NodeExecution{ID: "node-9"},
		At:              at,
	})
	assert.Equal(t, "exec-1/01772359200000000000-node-node-9.json", name)
}

func TestExport_PutError(t *testing.T) {
	x := NewExporter(&fakePutter{err: errors.New("access denied")}, "audit", "")
	err := x.Export(context.Background(), engine.TerminalEvent{Kind: engine.TerminalExecution, PlanExecutionID: "e", At: at})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestConfigValidate(t *testing.T) {
	assert.True(t, schema.HasCode(Config{}.Validate(), schema.ErrCodeConfiguration))
	assert.True(t, schema.HasCode(Config{Endpoint: "localhost:9000"}.Validate(), schema.ErrCodeConfiguration))
	assert.NoError(t, Config{Endpoint: "localhost:9000", Bucket: "audit"}.Validate())

	_, err := NewMinIOClient(Config{})
	assert.Error(t, err)
	client, err := NewMinIOClient(Config{Endpoint: "localhost:9000", Bucket: "audit"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
