package engine

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/pranay-harness/harness-core-sub060/internal/notify"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// StepInput is what a step sees when it runs.
type StepInput struct {
	Ambiance        schema.Ambiance
	Node            *schema.PlanNode
	NodeExecutionID string
	Attempt         int
	// Parameters are the node's StepParameters with ${{ }} tokens resolved.
	Parameters map[string]any
	Inputs     map[string]any
}

// Step is the unit of work a plan node names through StepType. A step
// implements one or more of the *Executable interfaces below; the node's
// Facilitator decides which one is used.
type Step interface {
	Type() string
}

// SyncExecutable runs to completion on the calling worker.
type SyncExecutable interface {
	Step
	ExecuteSync(ctx context.Context, in StepInput) (schema.StepResponse, error)
}

// AsyncExecutable starts work elsewhere and names the correlation ids whose
// resolution completes it.
type AsyncExecutable interface {
	Step
	ExecuteAsync(ctx context.Context, in StepInput) ([]string, error)
	HandleAsyncResponse(ctx context.Context, in StepInput, responses map[string]notify.Response) schema.StepResponse
}

// TaskSpec describes delegated work handed to a capability-matched executor.
type TaskSpec struct {
	Payload      map[string]any
	Capabilities []schema.Capability
	Timeout      time.Duration
}

// TaskExecutable is delegated to a remote executor through the dispatcher.
type TaskExecutable interface {
	Step
	ObtainTask(ctx context.Context, in StepInput) (*TaskSpec, error)
	HandleTaskResult(ctx context.Context, in StepInput, result notify.Response) schema.StepResponse
}

// ChildResult is the terminal state of one child of a composite node.
type ChildResult struct {
	NodeID          string            `json:"node_id"`
	NodeExecutionID string            `json:"node_execution_id"`
	Status          schema.NodeStatus `json:"status"`
	Outcome         map[string]any    `json:"outcome,omitempty"`
	FailureMessage  string            `json:"failure_message,omitempty"`
	FailedNodePath  string            `json:"failed_node_path,omitempty"`
	Ignored         bool              `json:"ignored,omitempty"`
}

// ChildExecutable lets a composite step compute its own response from its
// children. Steps without it get DeriveFromChildren.
type ChildExecutable interface {
	Step
	HandleChildResponse(ctx context.Context, in StepInput, children []ChildResult) schema.StepResponse
}

// DeriveFromChildren succeeds when every child succeeded (an ignored failure
// counts as success) and otherwise fails with the first failing child.
func DeriveFromChildren(children []ChildResult) schema.StepResponse {
	outcomes := make(map[string]any, len(children))
	for _, c := range children {
		outcomes[c.NodeID] = c.Outcome
	}
	for _, c := range children {
		if c.Status == schema.NodeSucceeded {
			continue
		}
		msg := c.FailureMessage
		if msg == "" {
			msg = fmt.Sprintf("child %s %s", c.NodeID, strings.ToLower(string(c.Status)))
		}
		resp := schema.Failed(msg)
		resp.Outcome["children"] = outcomes
		resp.Outcome["failed_node"] = c.NodeID
		if c.FailedNodePath != "" {
			resp.Outcome[failedPathKey] = c.FailedNodePath
		}
		return resp
	}
	return schema.Succeeded(map[string]any{"children": outcomes})
}

const failedPathKey = "failed_node_path"

// --- Built-in steps ---

// Built-in step types.
const (
	StepNoop     = "NOOP"
	StepFail     = "FAIL"
	StepWait     = "WAIT"
	StepShell    = "SHELL"
	StepHTTP     = "HTTP"
	StepPipeline = "PIPELINE"
	StepStage    = "STAGE"
	StepSection  = "SECTION"
)

// NoopStep succeeds immediately. Its outcome is the "outcome" parameter.
type NoopStep struct{}

func (NoopStep) Type() string { return StepNoop }

func (NoopStep) ExecuteSync(_ context.Context, in StepInput) (schema.StepResponse, error) {
	out := maps.Clone(schema.MapParam(in.Parameters, "outcome"))
	if out == nil {
		out = map[string]any{}
	}
	return schema.Succeeded(out), nil
}

// FailStep fails with the "message" parameter. With "untilAttempt" set it
// fails only while the attempt counter is below that value.
type FailStep struct{}

func (FailStep) Type() string { return StepFail }

func (FailStep) ExecuteSync(_ context.Context, in StepInput) (schema.StepResponse, error) {
	until := schema.IntParam(in.Parameters, "untilAttempt", 0)
	if until > 0 && in.Attempt >= until {
		return schema.Succeeded(map[string]any{"attempt": in.Attempt}), nil
	}
	return schema.Failed(schema.StringParam(in.Parameters, "message", "step failed")), nil
}

// WaitArmer is implemented by async steps that act once their correlation
// ids are registered with notify.
type WaitArmer interface {
	Armed(ctx context.Context, in StepInput, ids []string)
}

// Notifier resolves notify correlation ids.
type Notifier interface {
	Notify(ctx context.Context, key string, data map[string]any) bool
}

// WaitStep suspends the node until its signal key is resolved through
// notify, or until "duration" elapses when set.
type WaitStep struct {
	Notifier Notifier
}

func (WaitStep) Type() string { return StepWait }

const signalSuffix = "/signal"

// SignalKey is the correlation id a WAIT node listens on.
func SignalKey(nodeExecutionID string) string {
	return nodeExecutionID + signalSuffix
}

// IsSignalKey reports whether key was produced by SignalKey.
func IsSignalKey(key string) bool {
	return len(key) > len(signalSuffix) && strings.HasSuffix(key, signalSuffix)
}

func (WaitStep) ExecuteAsync(_ context.Context, in StepInput) ([]string, error) {
	return []string{SignalKey(in.NodeExecutionID)}, nil
}

// Armed starts the "duration" timer. It runs only after the signal key is
// registered, so an elapsed timer always finds its wait.
func (s WaitStep) Armed(_ context.Context, in StepInput, ids []string) {
	d := schema.DurationParam(in.Parameters, "duration", 0)
	if d <= 0 || s.Notifier == nil || len(ids) == 0 {
		return
	}
	key := ids[0]
	time.AfterFunc(d, func() {
		s.Notifier.Notify(context.Background(), key, map[string]any{"waited": d.String()})
	})
}

func (WaitStep) HandleAsyncResponse(_ context.Context, _ StepInput, responses map[string]notify.Response) schema.StepResponse {
	return responseToStep(responses)
}

// TaskStep delegates a payload of the given kind to an executor. The
// node's capabilities plus Extra(parameters) decide which executors qualify.
type TaskStep struct {
	StepType string
	Kind     string
	Fields   []string
	Extra    func(params map[string]any) []schema.Capability
}

func (s TaskStep) Type() string { return s.StepType }

func (s TaskStep) ObtainTask(_ context.Context, in StepInput) (*TaskSpec, error) {
	payload := map[string]any{"kind": s.Kind}
	for _, f := range s.Fields {
		if v, ok := in.Parameters[f]; ok {
			payload[f] = v
		}
	}
	caps := append([]schema.Capability(nil), in.Node.Capabilities...)
	if s.Extra != nil {
		caps = append(caps, s.Extra(in.Parameters)...)
	}
	return &TaskSpec{
		Payload:      payload,
		Capabilities: caps,
		Timeout:      schema.DurationParam(in.Parameters, "timeout", 0),
	}, nil
}

func (TaskStep) HandleTaskResult(_ context.Context, _ StepInput, result notify.Response) schema.StepResponse {
	if result.Error {
		return schema.Failed(errorMessage(result.Data, "task failed"))
	}
	return schema.Succeeded(maps.Clone(result.Data))
}

// ShellTaskStep runs a command on an executor that has the binary.
func ShellTaskStep() TaskStep {
	return TaskStep{
		StepType: StepShell,
		Kind:     "shell",
		Fields:   []string{"command", "args", "env", "cwd", "stdin", "timeout"},
		Extra: func(p map[string]any) []schema.Capability {
			cmd := schema.StringParam(p, "command", "")
			if cmd == "" {
				return nil
			}
			return []schema.Capability{{Type: schema.CapabilityBinary, Parameters: map[string]string{"name": cmd}}}
		},
	}
}

// HTTPTaskStep performs an HTTP request from an executor that can reach the URL.
func HTTPTaskStep() TaskStep {
	return TaskStep{
		StepType: StepHTTP,
		Kind:     "http",
		Fields:   []string{"method", "url", "headers", "body", "timeout"},
		Extra: func(p map[string]any) []schema.Capability {
			url := schema.StringParam(p, "url", "")
			if url == "" {
				return nil
			}
			return []schema.Capability{{Type: schema.CapabilityHTTP, Parameters: map[string]string{"url": url}}}
		},
	}
}

// SectionStep groups children (pipelines, stages) and reports the derived
// status of its CHILD or CHILD_CHAIN facilitation.
type SectionStep struct {
	StepType string
}

func (s SectionStep) Type() string { return s.StepType }

func (SectionStep) HandleChildResponse(_ context.Context, _ StepInput, children []ChildResult) schema.StepResponse {
	return DeriveFromChildren(children)
}

func responseToStep(responses map[string]notify.Response) schema.StepResponse {
	keys := make([]string, 0, len(responses))
	for k := range responses {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(responses))
	for _, k := range keys {
		r := responses[k]
		if r.Error {
			return schema.Failed(errorMessage(r.Data, fmt.Sprintf("%s resolved with error", k)))
		}
		maps.Copy(out, r.Data)
	}
	return schema.Succeeded(out)
}

func errorMessage(data map[string]any, def string) string {
	if msg := schema.StringParam(data, "error", ""); msg != "" {
		return msg
	}
	return schema.StringParam(data, "message", def)
}
