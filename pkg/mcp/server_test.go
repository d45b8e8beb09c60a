package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.Sessions())
	assert.Equal(t, s.mcpServer, s.MCPServer())
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 10)

	expectedTools := []string{
		"plan.create",
		"plan.get",
		"execution.start",
		"execution.rerun",
		"execution.status",
		"execution.abort",
		"execution.pause",
		"execution.resume",
		"task.report",
		"notify.resolve",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName string
		required []string
	}{
		{"plan.create", nil},
		{"plan.get", []string{"plan_id"}},
		{"execution.start", []string{"plan_id"}},
		{"execution.rerun", []string{"execution_id"}},
		{"execution.status", []string{"execution_id"}},
		{"execution.abort", []string{"execution_id"}},
		{"execution.pause", []string{"execution_id"}},
		{"execution.resume", []string{"execution_id"}},
		{"task.report", []string{"task_id", "token", "status"}},
		{"notify.resolve", []string{"key"}},
	}

	s := NewServer(ServerDeps{})
	for _, tt := range tests {
		t.Run(tt.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tt.toolName)
			require.NotNil(t, tool)
			assert.NotEmpty(t, tool.Tool.Description)
			assert.ElementsMatch(t, tt.required, tool.Tool.InputSchema.Required)
		})
	}
}

func TestSessionsForgottenOnUnregister(t *testing.T) {
	s := NewServer(ServerDeps{})
	s.Sessions().Register("exec-1", "session-a")
	s.Sessions().Register("exec-2", "session-b")

	s.Sessions().Remove("session-a")
	_, ok := s.Sessions().SessionFor("exec-1")
	assert.False(t, ok)
	_, ok = s.Sessions().SessionFor("exec-2")
	assert.True(t, ok)

	// Without a client session in ctx nothing is captured.
	s.captureSession(context.Background(), "exec-3")
	_, ok = s.Sessions().SessionFor("exec-3")
	assert.False(t, ok)
}
