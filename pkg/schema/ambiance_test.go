package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmbiance_ExtendDoesNotAliasSiblings(t *testing.T) {
	root := NewAmbiance("exec-1", Metadata{AccountID: "acc"})
	parent := root.Extend(Level{RuntimeID: "r1", Identifier: "pipeline"})

	// Grow capacity so a naive append would share the backing array.
	parent.Levels = append(make([]Level, 0, 8), parent.Levels...)

	left := parent.Extend(Level{RuntimeID: "r2", Identifier: "build"})
	right := parent.Extend(Level{RuntimeID: "r3", Identifier: "deploy"})

	assert.Equal(t, "pipeline.build", left.FQN())
	assert.Equal(t, "pipeline.deploy", right.FQN())
	assert.Equal(t, 1, parent.Depth())
	assert.Empty(t, root.Levels)
}

func TestAmbiance_Current(t *testing.T) {
	a := NewAmbiance("exec-1", Metadata{})
	_, ok := a.Current()
	assert.False(t, ok)

	a = a.Extend(Level{Identifier: "stage", StepType: "STAGE"})
	cur, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, "STAGE", cur.StepType)
	assert.Equal(t, "exec-1", a.PlanExecutionID)
}

func TestAmbiance_FQNSkipsEmptyIdentifiers(t *testing.T) {
	a := NewAmbiance("e", Metadata{}).
		Extend(Level{Identifier: "pipeline"}).
		Extend(Level{}).
		Extend(Level{Identifier: "step"})
	assert.Equal(t, "pipeline.step", a.FQN())
}
