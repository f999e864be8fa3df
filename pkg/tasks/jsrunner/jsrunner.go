// Package jsrunner runs user supplied JavaScript inside a goja VM.
package jsrunner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/wehubfusion/Daedalus/pkg/task"
)

// Ref is the catalog name of the script task
const Ref = "js.run"

// Executor implements task.Task for JavaScript execution
type Executor struct{}

// NewExecutor creates a new JavaScript executor
func NewExecutor() *Executor {
	return &Executor{}
}

// Register adds the script task to the catalog
func Register(c *task.Catalog) {
	c.Register(NewExecutor())
}

// Ref implements task.Task
func (e *Executor) Ref() string { return Ref }

// Run executes the configured script. The script body receives inputs and state
// as arguments, can call print(...) to emit output lines, and may mutate state in
// place.
func (e *Executor) Run(ctx context.Context, call *task.Call) (result map[string]interface{}, err error) {
	var cfg Config
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := NewSandbox(cfg.SecurityLevel).Apply(vm); err != nil {
		return nil, err
	}

	state := call.State
	if state == nil {
		state = map[string]interface{}{}
	}
	inputs := call.Inputs
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	if err := vm.Set("print", func(fc goja.FunctionCall) goja.Value {
		parts := make([]string, len(fc.Arguments))
		for i, a := range fc.Arguments {
			parts[i] = a.String()
		}
		if call.Stdout != nil {
			fmt.Fprintln(call.Stdout, strings.Join(parts, " "))
		}
		return goja.Undefined()
	}); err != nil {
		return nil, fmt.Errorf("failed to bind print: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	stop := context.AfterFunc(timeoutCtx, func() {
		vm.Interrupt(fmt.Sprintf("script interrupted after %s", cfg.Timeout()))
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during script execution: %v", r)
		}
	}()

	fnVal, err := vm.RunString("(function(inputs, state) {\n" + cfg.Script + "\n})")
	if err != nil {
		return nil, scriptError(err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("script did not compile to a function")
	}

	value, err := fn(goja.Undefined(), vm.ToValue(inputs), vm.ToValue(state))
	if err != nil {
		return nil, scriptError(err)
	}

	return exportResult(value), nil
}

func exportResult(value goja.Value) map[string]interface{} {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return map[string]interface{}{}
	}
	if m, ok := value.Export().(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"result": value.Export()}
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("script timeout: %v", interrupted.Value())
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("script error: %s", exception.Value().String())
	}
	return fmt.Errorf("script error: %w", err)
}
