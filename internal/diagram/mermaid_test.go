package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

func TestRenderMermaid(t *testing.T) {
	model, err := Build(pipelinePlan(), nil)
	require.NoError(t, err)

	output := RenderMermaid(model)

	assert.Contains(t, output, "graph TD\n    %% Plan p-1\n")
	assert.Contains(t, output, `__start__(("Start"))`)
	assert.Contains(t, output, `    subgraph demo["demo (PIPELINE): CHILD_CHAIN"]`)
	assert.Contains(t, output, `        subgraph demo_build["build (STAGE): CHILD_CHAIN"]`)
	assert.Contains(t, output, `            demo_build_compile[["compile (SHELL)"]]`)
	assert.Contains(t, output, `            demo_build_test["test (NOOP)"]`)
	assert.Contains(t, output, `            demo_build_compile --> demo_build_test`)
	assert.Contains(t, output, `            demo_deploy_approve(["approve (WAIT)"])`)
	assert.Contains(t, output, `        demo_build --> demo_deploy`)
	assert.Contains(t, output, `    __start__ --> demo`)
	assert.Contains(t, output, `    demo_deploy_approve -->|ON_FAIL| rollback`)
	assert.Contains(t, output, "classDef succeeded")
	assert.NotContains(t, output, "    class ")
}

func TestRenderMermaid_StatusClasses(t *testing.T) {
	execs := []*schema.NodeExecution{
		{NodeID: "demo.build.compile", Status: schema.NodeFailed},
		{NodeID: "demo.build", Status: schema.NodeRunning},
	}
	model, err := Build(pipelinePlan(), execs)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, "    class demo_build running\n")
	assert.Contains(t, output, "    class demo_build_compile failed\n")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "a_b_c_d_e", mermaidSafeID("a.b-c d/e"))
}
