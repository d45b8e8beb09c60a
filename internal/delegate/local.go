package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pranay-harness/harness-core-sub060/internal/capability"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const (
	defaultLocalTimeout   = 30 * time.Second
	defaultMaxOutputBytes = 10 * 1024 * 1024
)

// Reporter receives executor updates. Dispatcher implements it.
type Reporter interface {
	Report(ctx context.Context, taskID, token string, status store.TaskStatus, data map[string]any) error
}

// LocalConfig configures a LocalExecutor.
type LocalConfig struct {
	ID             string
	Reporter       Reporter
	Capabilities   *capability.Registry
	HTTPClient     *http.Client
	DefaultTimeout time.Duration
	MaxOutputBytes int64
	Logger         *slog.Logger
}

// LocalExecutor runs "shell" and "http" payloads in-process.
type LocalExecutor struct {
	id       string
	reporter Reporter
	caps     *capability.Registry
	client   *http.Client
	timeout  time.Duration
	maxOut   int64
	logger   *slog.Logger
}

// NewLocalExecutor creates a LocalExecutor. Capabilities default to the
// HTTP, BINARY, SOCKET and ENV checkers.
func NewLocalExecutor(cfg LocalConfig) *LocalExecutor {
	if cfg.ID == "" {
		cfg.ID = "local"
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = capability.NewDefaultRegistry()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultLocalTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LocalExecutor{
		id:       cfg.ID,
		reporter: cfg.Reporter,
		caps:     cfg.Capabilities,
		client:   cfg.HTTPClient,
		timeout:  cfg.DefaultTimeout,
		maxOut:   cfg.MaxOutputBytes,
		logger:   cfg.Logger,
	}
}

// SetReporter wires the reporter after construction, for executors built
// before their dispatcher.
func (x *LocalExecutor) SetReporter(r Reporter) { x.reporter = r }

func (x *LocalExecutor) ID() string { return x.id }

func (x *LocalExecutor) Capabilities() *capability.Registry { return x.caps }

// Execute runs the payload and reports the result.
func (x *LocalExecutor) Execute(ctx context.Context, t Task) error {
	if x.reporter == nil {
		return schema.NewError(schema.ErrCodeConfiguration, "local executor has no reporter")
	}

	var run func(context.Context, map[string]any) (map[string]any, error)
	switch kind := schema.StringParam(t.Payload, "kind", ""); kind {
	case "shell":
		if schema.StringParam(t.Payload, "command", "") == "" {
			return schema.NewError(schema.ErrCodeValidation, "shell task requires 'command'")
		}
		run = x.runShell
	case "http":
		if err := validateURL(schema.StringParam(t.Payload, "url", "")); err != nil {
			return err
		}
		run = x.runHTTP
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "local executor cannot run task kind %q", kind)
	}

	if err := x.reporter.Report(ctx, t.ID, t.CallbackToken, store.TaskRunning, map[string]any{"executor_id": x.id}); err != nil {
		return err
	}

	timeout := schema.DurationParam(t.Payload, "timeout", x.timeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := run(runCtx, t.Payload)
	status := store.TaskSucceeded
	if err != nil {
		status = store.TaskFailed
		if data == nil {
			data = map[string]any{}
		}
		data["error"] = err.Error()
	}
	// The node may have been aborted in the meantime; the report still
	// settles the task record.
	if rerr := x.reporter.Report(context.WithoutCancel(ctx), t.ID, t.CallbackToken, status, data); rerr != nil {
		x.logger.Warn("report task result", slog.String("task_id", t.ID), slog.String("error", rerr.Error()))
	}
	return nil
}

func (x *LocalExecutor) runShell(ctx context.Context, p map[string]any) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, schema.StringParam(p, "command", ""), schema.StringsParam(p, "args")...)
	if cwd := schema.StringParam(p, "cwd", ""); cwd != "" {
		cmd.Dir = cwd
	}
	if env := schema.StringMapParam(p, "env"); len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if stdin := schema.StringParam(p, "stdin", ""); stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdout := &limitedBuffer{max: x.maxOut}
	stderr := &limitedBuffer{max: x.maxOut}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	out := map[string]any{
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   0,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if parsed, ok := parseJSON(stdout.Bytes()); ok {
		out["stdout"] = parsed
		out["stdout_raw"] = stdout.String()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out["exit_code"] = exitErr.ExitCode()
		} else {
			out["exit_code"] = -1
		}
		if ctx.Err() != nil {
			out["killed"] = true
			return out, fmt.Errorf("command timed out: %w", ctx.Err())
		}
		return out, fmt.Errorf("command failed: %w", err)
	}
	return out, nil
}

func (x *LocalExecutor) runHTTP(ctx context.Context, p map[string]any) (map[string]any, error) {
	method := strings.ToUpper(schema.StringParam(p, "method", http.MethodGet))

	var body io.Reader
	contentType := ""
	if raw, ok := p["body"]; ok && raw != nil {
		switch b := raw.(type) {
		case string:
			body = strings.NewReader(b)
			contentType = "text/plain"
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			body = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, schema.StringParam(p, "url", ""), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range schema.StringMapParam(p, "headers") {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, x.maxOut))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	var parsed any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if v, ok := parseJSON(raw); ok {
			parsed = v
		}
	}
	out := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsed,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return out, nil
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "http task has invalid url %q", raw)
	}
	return nil
}

func parseJSON(b []byte) (any, bool) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, false
	}
	return v, true
}

// limitedBuffer keeps at most max bytes and silently drops the rest.
type limitedBuffer struct {
	bytes.Buffer
	max int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.max - int64(b.Len()); room < int64(n) {
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return n, nil
	}
	b.Buffer.Write(p)
	return n, nil
}
