package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Daedalus/pkg/tasks/all"
)

func newTasksCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks [category]",
		Short: "List the built-in tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := all.NewCatalog()
			names := catalog.Names()
			if len(args) == 1 {
				names = catalog.ByCategory(args[0])
				if len(names) == 0 {
					return withCode(ExitError, fmt.Errorf("no tasks in category %q", args[0]))
				}
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
