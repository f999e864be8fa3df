// Package core provides the basic building-block tasks: constants, printing,
// deliberate failures, delays, and shared state access.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/task"
)

// Register adds every task of this package to the catalog
func Register(c *task.Catalog) {
	c.Register(task.Func{Name: "core.constant", Fn: constant})
	c.Register(task.Func{Name: "core.print", Fn: printTask})
	c.Register(task.Func{Name: "core.forward", Fn: forward})
	c.Register(task.Func{Name: "core.fail", Fn: fail})
	c.Register(task.Func{Name: "core.sleep", Fn: sleep})
	c.Register(task.Func{Name: "core.crash", Fn: crash})
	c.Register(task.Func{Name: "core.panic", Fn: panicTask})
	c.Register(task.Func{Name: "state.set", Fn: stateSet})
	c.Register(task.Func{Name: "state.get", Fn: stateGet})
}

func constant(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg struct {
		Value map[string]interface{} `json:"value"`
	}
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid constant config: %w", err)
	}
	if cfg.Value == nil {
		return map[string]interface{}{}, nil
	}
	return cfg.Value, nil
}

// forward returns the output map of one upstream input unchanged. The input
// is config.from, or the only input when from is unset.
func forward(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg struct {
		From string `json:"from"`
	}
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid forward config: %w", err)
	}
	key := cfg.From
	if key == "" {
		if len(call.Inputs) != 1 {
			return nil, fmt.Errorf("forward needs config.from with %d inputs", len(call.Inputs))
		}
		for k := range call.Inputs {
			key = k
		}
	}
	value, ok := call.Inputs[key]
	if !ok {
		return nil, fmt.Errorf("input %q not found", key)
	}
	out, ok := value.(map[string]interface{})
	if !ok {
		return map[string]interface{}{"value": value}, nil
	}
	return out, nil
}

// printTask writes its message and every input as lines, then passes the inputs through.
func printTask(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg struct {
		Message string `json:"message"`
	}
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid print config: %w", err)
	}
	if cfg.Message != "" {
		fmt.Fprintln(call.Stdout, cfg.Message)
	}

	keys := make([]string, 0, len(call.Inputs))
	for k := range call.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(call.Inputs))
	for _, k := range keys {
		data, err := json.Marshal(call.Inputs[k])
		if err != nil {
			return nil, fmt.Errorf("input %s is not printable: %w", k, err)
		}
		fmt.Fprintf(call.Stdout, "%s: %s\n", k, data)
		out[k] = call.Inputs[k]
	}
	return out, nil
}

func fail(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg struct {
		Message string `json:"message"`
	}
	_ = call.DecodeConfig(&cfg)
	if cfg.Message == "" {
		cfg.Message = "node failed"
	}
	return nil, fmt.Errorf("%s", cfg.Message)
}

func sleep(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg struct {
		Duration string `json:"duration"`
	}
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid sleep config: %w", err)
	}
	d, err := time.ParseDuration(cfg.Duration)
	if err != nil {
		return nil, fmt.Errorf("invalid sleep duration %q: %w", cfg.Duration, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]interface{}{"slept": d.String()}, nil
	}
}

// crash terminates the hosting process without producing a result.
func crash(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	cfg := struct {
		ExitCode int `json:"exit_code"`
	}{ExitCode: 3}
	_ = call.DecodeConfig(&cfg)
	fmt.Fprintln(call.Stdout, "crashing")
	os.Exit(cfg.ExitCode)
	return nil, nil
}

func panicTask(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	panic(fmt.Sprintf("panic in node %s", call.NodeID))
}

func stateSet(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg struct {
		Values map[string]interface{} `json:"values"`
	}
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid state.set config: %w", err)
	}
	for k, v := range cfg.Values {
		call.State[k] = v
	}
	return map[string]interface{}{"written": len(cfg.Values)}, nil
}

func stateGet(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
	var cfg struct {
		Keys []string `json:"keys"`
	}
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid state.get config: %w", err)
	}
	out := make(map[string]interface{}, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if v, ok := call.State[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}
