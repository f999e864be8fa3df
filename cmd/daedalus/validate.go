package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Daedalus/pkg/definition"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/task"
	"github.com/wehubfusion/Daedalus/pkg/tasks/all"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.yaml>",
		Short: "Check a graph definition without running it",
		Long: `Validate a graph definition: schema, node references, control cycles, and
task resolution. Prints the execution order on success.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := definition.LoadFile(args[0])
			if err != nil {
				return withCode(ExitInvalid, err)
			}
			plan, err := graph.NewPlan(def)
			if err != nil {
				return withCode(ExitInvalid, err)
			}

			resolver := task.NewResolver(all.NewCatalog(), def)
			var problems []string
			for _, id := range plan.Order {
				if _, err := resolver.Resolve(id); err != nil {
					problems = append(problems, err.Error())
				}
			}
			if len(problems) > 0 {
				return withCode(ExitInvalid, fmt.Errorf("%d node(s) cannot be resolved:\n  %s",
					len(problems), strings.Join(problems, "\n  ")))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid: %d nodes, %d connections\n", args[0], len(def.Nodes), len(def.Connections))
			fmt.Fprintln(out, "execution order:")
			for i, id := range plan.Order {
				n, _ := def.Node(id)
				fmt.Fprintf(out, "  %2d. %-20s %s\n", i+1, id, n.Task)
			}
			entries := graph.EntryNodes(plan.Control)
			names := make([]string, len(entries))
			for i, id := range entries {
				names[i] = string(id)
			}
			fmt.Fprintf(out, "entry nodes: %s\n", strings.Join(names, ", "))
			return nil
		},
	}
}
