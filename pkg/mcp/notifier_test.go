package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/streaming"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

func TestEventForwarder_Forward(t *testing.T) {
	sender := &mockSender{}
	sessions := NewSessionRegistry()
	sessions.Register("exec-1", "session-a")
	f := NewEventForwarder(sender, sessions, nil)

	f.Forward(streaming.ExecutionEvent{PlanExecutionID: "exec-1", EventType: schema.EventNodeStarted, NodeID: "a"})
	f.Forward(streaming.ExecutionEvent{PlanExecutionID: "exec-2", EventType: schema.EventNodeStarted})

	require.Equal(t, 1, sender.count())
	sent := sender.sent[0]
	assert.Equal(t, "session-a", sent.sessionID)
	assert.Equal(t, "notifications/message", sent.method)
	ev, ok := sent.params["data"].(streaming.ExecutionEvent)
	require.True(t, ok)
	assert.Equal(t, "a", ev.NodeID)
}

func TestEventForwarder_ForgetsEndedExecutions(t *testing.T) {
	sender := &mockSender{}
	sessions := NewSessionRegistry()
	sessions.Register("exec-1", "session-a")
	f := NewEventForwarder(sender, sessions, nil)

	f.Forward(streaming.ExecutionEvent{PlanExecutionID: "exec-1", EventType: schema.EventExecutionSucceeded})
	assert.Equal(t, 1, sender.count())
	_, ok := sessions.SessionFor("exec-1")
	assert.False(t, ok)

	f.Forward(streaming.ExecutionEvent{PlanExecutionID: "exec-1", EventType: schema.EventNodeStarted})
	assert.Equal(t, 1, sender.count())
}

func TestEventForwarder_SessionGone(t *testing.T) {
	sender := &mockSender{err: server.ErrSessionNotFound}
	sessions := NewSessionRegistry()
	sessions.Register("exec-1", "session-a")
	sessions.Register("exec-2", "session-a")
	f := NewEventForwarder(sender, sessions, nil)

	f.Forward(streaming.ExecutionEvent{PlanExecutionID: "exec-1", EventType: schema.EventNodeStarted})
	assert.Equal(t, 0, sessions.Len())
}

func TestEventForwarder_Run(t *testing.T) {
	hub := streaming.NewMemoryHub()
	sender := &mockSender{}
	sessions := NewSessionRegistry()
	sessions.Register("exec-1", "session-a")
	f := NewEventForwarder(sender, sessions, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, hub) }()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), streaming.ExecutionEvent{
		PlanExecutionID: "exec-1",
		EventType:       schema.EventExecutionStarted,
	}))
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
}
