// Package all assembles a catalog holding every built-in task.
package all

import (
	"github.com/wehubfusion/Daedalus/pkg/task"
	"github.com/wehubfusion/Daedalus/pkg/tasks/core"
	"github.com/wehubfusion/Daedalus/pkg/tasks/jsonops"
	"github.com/wehubfusion/Daedalus/pkg/tasks/jsrunner"
	"github.com/wehubfusion/Daedalus/pkg/tasks/strings"
)

// NewCatalog returns a catalog with all built-in tasks registered
func NewCatalog() *task.Catalog {
	c := task.NewCatalog()
	Register(c)
	return c
}

// Register adds all built-in tasks to an existing catalog
func Register(c *task.Catalog) {
	core.Register(c)
	strings.Register(c)
	jsonops.Register(c)
	jsrunner.Register(c)
}
