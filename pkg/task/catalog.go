package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Catalog maps fully qualified task names to implementations
type Catalog struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		tasks: make(map[string]Task),
	}
}

// Register adds a task, replacing any task with the same name
func (c *Catalog) Register(t Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[t.Ref()] = t
}

// Lookup returns the task registered under ref
func (c *Catalog) Lookup(ref string) (Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[ref]
	return t, ok
}

// Has checks if a task is registered under ref
func (c *Catalog) Has(ref string) bool {
	_, ok := c.Lookup(ref)
	return ok
}

// Run executes the task named by the definition
func (c *Catalog) Run(ctx context.Context, def Definition, call *Call) (map[string]interface{}, error) {
	t, ok := c.Lookup(def.Ref)
	if !ok {
		return nil, fmt.Errorf("no task registered for %q", def.Ref)
	}
	if call.Config == nil {
		call.Config = def.Config
	}
	return t.Run(ctx, call)
}

// Names returns all registered task names, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tasks))
	for name := range c.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByCategory returns the sorted names of the tasks in one category
func (c *Catalog) ByCategory(category string) []string {
	var names []string
	for _, name := range c.Names() {
		if (Definition{Ref: name}).Category() == category {
			names = append(names, name)
		}
	}
	return names
}
