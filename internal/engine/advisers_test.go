package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/expressions"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

func advisingEvent(status schema.NodeStatus, attempt int, params map[string]any) AdvisingEvent {
	return AdvisingEvent{
		Node:       noop("a"),
		Status:     status,
		Outcome:    map[string]any{"code": 3},
		Attempt:    attempt,
		Parameters: params,
		Scope:      expressions.NewScopeBuilder(map[string]any{"env": "prod"}, nil).Build(),
	}
}

func TestOnSuccessAdviser(t *testing.T) {
	ctx := context.Background()
	a := OnSuccessAdviser()

	adv, err := a.Advise(ctx, advisingEvent(schema.NodeSucceeded, 1, map[string]any{"nextNodeId": "b"}))
	require.NoError(t, err)
	assert.Equal(t, &schema.Advise{Type: schema.AdviseNextStep, NextNodeID: "b"}, adv)

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeFailed, 1, map[string]any{"nextNodeId": "b"}))
	require.NoError(t, err)
	assert.Nil(t, adv)

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeSucceeded, 1, nil))
	require.NoError(t, err)
	assert.Nil(t, adv, "no target means no opinion")
}

func TestOnFailAdviser(t *testing.T) {
	ctx := context.Background()
	a := OnFailAdviser()

	adv, err := a.Advise(ctx, advisingEvent(schema.NodeFailed, 1, map[string]any{"nextNodeId": "cleanup"}))
	require.NoError(t, err)
	assert.Equal(t, "cleanup", adv.NextNodeID)

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeFailed, 1, map[string]any{"endStatus": "ABORTED"}))
	require.NoError(t, err)
	assert.Equal(t, &schema.Advise{Type: schema.AdviseEndPlan, EndStatus: schema.ExecutionAborted}, adv)

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeSucceeded, 1, map[string]any{"nextNodeId": "cleanup"}))
	require.NoError(t, err)
	assert.Nil(t, adv)
}

func TestRetryAdviser(t *testing.T) {
	ctx := context.Background()
	a := RetryAdviser()
	params := map[string]any{"maxAttempts": 3, "backoff": "exponential", "delay": "100ms"}

	adv, err := a.Advise(ctx, advisingEvent(schema.NodeFailed, 1, params))
	require.NoError(t, err)
	assert.Equal(t, schema.AdviseRetry, adv.Type)
	assert.Equal(t, 100*time.Millisecond, adv.RetryAfter)

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeFailed, 2, params))
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, adv.RetryAfter)

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeFailed, 3, params))
	require.NoError(t, err)
	assert.Nil(t, adv, "attempts exhausted")

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeSucceeded, 1, params))
	require.NoError(t, err)
	assert.Nil(t, adv)

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeSucceeded, 1, map[string]any{"onStatuses": []any{"SUCCEEDED"}}))
	require.NoError(t, err)
	require.NotNil(t, adv, "onStatuses widens the trigger")
}

func TestIgnoreFailureAndEndPlanAdvisers(t *testing.T) {
	ctx := context.Background()

	adv, err := IgnoreFailureAdviser().Advise(ctx, advisingEvent(schema.NodeFailed, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, schema.AdviseIgnoreFailure, adv.Type)

	adv, err = IgnoreFailureAdviser().Advise(ctx, advisingEvent(schema.NodeSucceeded, 1, nil))
	require.NoError(t, err)
	assert.Nil(t, adv)

	adv, err = EndPlanAdviser().Advise(ctx, advisingEvent(schema.NodeSucceeded, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, schema.AdviseEndPlan, adv.Type)
	assert.Empty(t, adv.EndStatus)
}

func TestCELAdviser(t *testing.T) {
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	a := CELAdviser{CEL: cel}
	ctx := context.Background()

	params := map[string]any{
		"condition": `status == "FAILED" && inputs.env == "prod" && attempt < 2`,
		"advise":    map[string]any{"type": "RETRY", "retryAfter": "1s"},
	}
	adv, err := a.Advise(ctx, advisingEvent(schema.NodeFailed, 1, params))
	require.NoError(t, err)
	assert.Equal(t, &schema.Advise{Type: schema.AdviseRetry, RetryAfter: time.Second}, adv)

	adv, err = a.Advise(ctx, advisingEvent(schema.NodeFailed, 2, params))
	require.NoError(t, err)
	assert.Nil(t, adv)

	_, err = a.Advise(ctx, advisingEvent(schema.NodeFailed, 1, nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))

	_, err = a.Advise(ctx, advisingEvent(schema.NodeFailed, 1, map[string]any{
		"condition": "true",
		"advise":    map[string]any{"type": "TELEPORT"},
	}))
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestConditionalFacilitator(t *testing.T) {
	f := ConditionalFacilitator{Engine: expressions.NewExprEngine()}
	ctx := context.Background()
	scope := expressions.NewScopeBuilder(map[string]any{"deploy": true}, nil).Build()

	resp, err := f.Facilitate(ctx, FacilitatorInput{
		Node:       noop("a"),
		Parameters: map[string]any{"when": "inputs.deploy", "mode": "ASYNC", "wait": "2s"},
		Scope:      scope,
	})
	require.NoError(t, err)
	assert.Equal(t, &schema.FacilitatorResponse{Mode: schema.ModeAsync, Wait: 2 * time.Second}, resp)

	resp, err = f.Facilitate(ctx, FacilitatorInput{
		Node:       noop("a"),
		Parameters: map[string]any{"when": "!inputs.deploy"},
		Scope:      scope,
	})
	require.NoError(t, err)
	assert.True(t, resp.Skip)
	assert.Equal(t, schema.ModeSync, resp.Mode)

	_, err = f.Facilitate(ctx, FacilitatorInput{Node: noop("a"), Scope: scope})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestModeFacilitator(t *testing.T) {
	resp, err := ModeFacilitator(schema.ModeTask).Facilitate(context.Background(), FacilitatorInput{
		Parameters: map[string]any{"wait": 1500},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.ModeTask, resp.Mode)
	assert.Equal(t, 1500*time.Millisecond, resp.Wait)
}
