// Package jsonops provides JSON query and update tasks backed by gjson and sjson.
package jsonops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wehubfusion/Daedalus/pkg/task"
)

// QueryConfig configures json.query
type QueryConfig struct {
	// Path is a gjson path evaluated against the JSON encoding of the node inputs.
	// Slash separated paths and * wildcards are accepted too.
	Path     string      `json:"path"`
	Default  interface{} `json:"default,omitempty"`
	Required bool        `json:"required,omitempty"`
}

// SetConfig configures json.set
type SetConfig struct {
	// Document is the object to update. When empty the first input in sorted
	// source order is used.
	Document map[string]interface{} `json:"document,omitempty"`
	Path     string                 `json:"path"`
	Value    interface{}            `json:"value"`
	Delete   bool                   `json:"delete,omitempty"`
}

// Register adds the JSON tasks to the catalog
func Register(c *task.Catalog) {
	c.Register(task.Func{Name: "json.query", Fn: query})
	c.Register(task.Func{Name: "json.set", Fn: set})
}

func query(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg QueryConfig
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid json.query config: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	doc, err := json.Marshal(call.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inputs: %w", err)
	}

	res := gjson.GetBytes(doc, normalizePath(cfg.Path))
	if !res.Exists() {
		if cfg.Required {
			return nil, fmt.Errorf("path %q not found", cfg.Path)
		}
		return map[string]interface{}{"value": cfg.Default, "found": false}, nil
	}
	return map[string]interface{}{"value": res.Value(), "found": true}, nil
}

func set(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg SetConfig
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid json.set config: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	source := interface{}(cfg.Document)
	if cfg.Document == nil {
		source = firstInput(call.Inputs)
	}
	doc, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if string(doc) == "null" {
		doc = []byte("{}")
	}

	path := normalizePath(cfg.Path)
	if cfg.Delete {
		doc, err = sjson.DeleteBytes(doc, path)
	} else {
		doc, err = sjson.SetBytes(doc, path, cfg.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update path %q: %w", cfg.Path, err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	return out, nil
}

// normalizePath converts slash separated paths to gjson dot paths and * to #
func normalizePath(path string) string {
	path = strings.Trim(path, "/")
	path = strings.ReplaceAll(path, "/", ".")
	return strings.ReplaceAll(path, "*", "#")
}

func firstInput(inputs map[string]interface{}) interface{} {
	first := ""
	for k := range inputs {
		if first == "" || k < first {
			first = k
		}
	}
	if first == "" {
		return nil
	}
	return inputs[first]
}
