// Package task defines the unit of work a node refers to, the catalog that maps
// fully qualified task names to implementations, and the resolver the engine uses
// to turn node ids into task definitions before a run starts.
package task

import (
	"context"
	"encoding/json"
	"io"
	"strings"
)

// Definition is a resolved reference to a task plus the node's configuration.
type Definition struct {
	Ref    string          `json:"task"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Category returns the part of Ref before the first dot.
func (d Definition) Category() string {
	category, _, _ := strings.Cut(d.Ref, ".")
	return category
}

// Call carries everything one invocation may touch.
type Call struct {
	NodeID string
	Config json.RawMessage
	// Inputs holds one entry per data source. A source on the default port is
	// keyed by its node id and contributes its whole output map; a named port is
	// keyed "<node>.<port>" and contributes that single value.
	Inputs map[string]interface{}
	// State is the run's shared state. Tasks mutate it in place.
	State map[string]interface{}
	// Stdout receives the task's output lines.
	Stdout io.Writer
}

// Task is implemented by every unit of work in the catalog.
type Task interface {
	// Ref returns the fully qualified name, "category.name"
	Ref() string

	// Run executes the task. A non-nil error fails the node.
	Run(ctx context.Context, call *Call) (map[string]interface{}, error)
}

// Func adapts a function to the Task interface.
type Func struct {
	Name string
	Fn   func(ctx context.Context, call *Call) (map[string]interface{}, error)
}

// Ref implements Task
func (f Func) Ref() string { return f.Name }

// Run implements Task
func (f Func) Run(ctx context.Context, call *Call) (map[string]interface{}, error) {
	return f.Fn(ctx, call)
}

// DecodeConfig unmarshals the call configuration into v. An empty config leaves v untouched.
func (c *Call) DecodeConfig(v interface{}) error {
	if len(c.Config) == 0 || string(c.Config) == "null" {
		return nil
	}
	return json.Unmarshal(c.Config, v)
}
