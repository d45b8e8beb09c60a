package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// CEL variable names. Advisers evaluate conditions over a finished node.
const (
	VarStatus  = "status"
	VarOutcome = "outcome"
	VarAttempt = "attempt"
	VarInputs  = "inputs"
	VarNodes   = "nodes"
)

// CELEngine evaluates adviser conditions with Google's Common Expression Language.
// Compiled programs are cached and safe for concurrent use.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine whose environment declares:
//   - status:  string, the node's terminal status
//   - outcome: map(string, dyn), the node's outcome
//   - attempt: int, 1-based attempt counter
//   - inputs:  map(string, dyn), the execution inputs
//   - nodes:   map(string, dyn), outcomes of earlier nodes keyed by node id
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable(VarStatus, cel.StringType),
		cel.Variable(VarOutcome, mapType),
		cel.Variable(VarAttempt, cel.IntType),
		cel.Variable(VarInputs, mapType),
		cel.Variable(VarNodes, mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate compiles (or reuses) expression and runs it. Missing variables
// default to their zero value so conditions never hit unbound-variable errors.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.cache.get(expression, e.compile)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, celActivation(data))
	if err != nil {
		return nil, evalErr(e.Name(), expression, err)
	}
	return out.Value(), nil
}

// Check compiles expression without running it.
func (e *CELEngine) Check(expression string) error {
	_, err := e.cache.get(expression, e.compile)
	return err
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, compileErr(e.Name(), expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, compileErr(e.Name(), expression, err)
	}
	return prg, nil
}

func celActivation(data map[string]any) map[string]any {
	act := map[string]any{
		VarStatus:  "",
		VarAttempt: int64(0),
	}
	if v, ok := data[VarStatus]; ok && v != nil {
		act[VarStatus] = fmt.Sprint(v)
	}
	switch v := data[VarAttempt].(type) {
	case int:
		act[VarAttempt] = int64(v)
	case int64:
		act[VarAttempt] = v
	case float64:
		act[VarAttempt] = int64(v)
	}
	for _, key := range []string{VarOutcome, VarInputs, VarNodes} {
		if v, ok := data[key].(map[string]any); ok && v != nil {
			act[key] = v
		} else {
			act[key] = map[string]any{}
		}
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
