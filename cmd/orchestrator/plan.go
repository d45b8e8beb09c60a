package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pranay-harness/harness-core-sub060/internal/diagram"
	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage plans",
	}

	var showDiagram bool
	create := &cobra.Command{
		Use:   "create <file>",
		Short: "Create a plan from a pipeline definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.planCreate(cmd.Context(), cmd.OutOrStdout(), args[0], showDiagram)
		},
	}
	create.Flags().BoolVar(&showDiagram, "diagram", false, "print an ASCII diagram of the plan")
	cmd.AddCommand(create)
	return cmd
}

// loadDefinition reads, parses and validates a pipeline definition file.
func loadDefinition(path string, v *pipeline.Validator) (*pipeline.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := pipeline.Parse(data)
	if err != nil {
		return nil, err
	}
	if res := v.Validate(def); !res.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid pipeline:\n  %s",
			strings.Join(res.Messages(), "\n  "))
	}
	return def, nil
}

func (a *app) planCreate(ctx context.Context, out io.Writer, path string, showDiagram bool) (err error) {
	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.close(); err == nil {
			err = closeErr
		}
	}()

	def, err := loadDefinition(path, rt.validator)
	if err != nil {
		return err
	}
	plan, err := rt.planner.CreatePlan(ctx, def)
	if err != nil {
		return err
	}
	rt.metrics.ObservePlan(plan)

	result := map[string]any{
		"plan_id":          plan.ID,
		"valid":            plan.Valid,
		"starting_node_id": plan.StartingNodeID,
		"nodes":            plan.NodeIDs(),
	}
	if !plan.Valid {
		result["errors"] = plan.Errors
	} else if len(def.Triggers) > 0 {
		triggers, trErr := rt.scheduler.RegisterDefinition(ctx, plan.ID, def)
		if trErr != nil {
			return trErr
		}
		ids := make([]string, 0, len(triggers))
		for _, t := range triggers {
			ids = append(ids, t.ID)
		}
		result["triggers"] = ids
	}

	if err := writeJSON(out, result); err != nil {
		return err
	}
	if showDiagram {
		model, err := diagram.Build(plan, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, diagram.RenderASCII(model))
	}
	if !plan.Valid {
		return schema.NewErrorf(schema.ErrCodePlanCreation, "plan %s is invalid", plan.ID)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
