package jsrunner

import (
	"fmt"

	"github.com/dop251/goja"
)

// Sandbox manages security restrictions for a VM
type Sandbox struct {
	securityLevel string
}

// NewSandbox creates a sandbox for the given security level
func NewSandbox(securityLevel string) *Sandbox {
	return &Sandbox{securityLevel: securityLevel}
}

// Apply removes host globals and, above permissive level, freezes the builtins
func (s *Sandbox) Apply(vm *goja.Runtime) error {
	for _, name := range []string{
		"require",
		"module",
		"exports",
		"process",
		"global",
		"Buffer",
		"setImmediate",
		"clearImmediate",
	} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if s.securityLevel == SecurityLevelStrict {
		err := vm.Set("eval", func(goja.FunctionCall) goja.Value {
			panic(vm.NewTypeError("eval is not allowed in strict security mode"))
		})
		if err != nil {
			return fmt.Errorf("failed to restrict eval: %w", err)
		}
	}

	if s.securityLevel == SecurityLevelPermissive {
		return nil
	}
	return s.freezeBuiltins(vm)
}

func (s *Sandbox) freezeBuiltins(vm *goja.Runtime) error {
	val, err := vm.RunString(`(function(obj) {
		if (obj) {
			Object.freeze(obj);
			if (obj.prototype) { Object.freeze(obj.prototype); }
		}
	})`)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	freeze, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}

	for _, name := range []string{"Object", "Array", "Function", "String", "Number", "Boolean", "Date", "RegExp", "Error", "Math", "JSON"} {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		// best effort
		_, _ = freeze(goja.Undefined(), obj)
	}
	return nil
}
