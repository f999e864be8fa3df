package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/debug"
	"github.com/wehubfusion/Daedalus/pkg/engine"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/isolation"
	"github.com/wehubfusion/Daedalus/pkg/tasks/all"
)

func TestMain(m *testing.M) {
	isolation.ServeIfWorker(all.NewCatalog())
	os.Exit(m.Run())
}

const incrementGraph = `
name: increment
nodes:
  - {id: A, task: core.constant, config: {value: {v: 1}}}
  - {id: B, task: js.run, config: {script: "return {v: inputs.A.v + 1};"}}
  - {id: C, task: core.print, config: {message: done}}
connections:
  - {from: A, to: B}
  - {from: B, to: C}
  - {from: A, to: B, kind: data}
  - {from: B, to: C, kind: data}
`

const failingGraph = `
nodes:
  A: {task: core.fail, config: {message: boom}}
  B: {task: core.constant}
  C: {task: core.print}
connections:
  - {from: A, to: B}
  - {from: A, to: C}
  - {from: A, to: C, kind: data}
`

func writeGraph(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	a := &app{stdin: strings.NewReader(stdin)}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	if err != nil {
		out.WriteString("Error: " + err.Error() + "\n")
	}
	return exitCodeOf(err), out.String()
}

func TestTasksCommand(t *testing.T) {
	code, out := runCLI(t, "", "tasks")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "core.constant\n")
	assert.Contains(t, out, "js.run\n")

	code, out = runCLI(t, "", "tasks", "state")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "state.get\nstate.set\n", out)

	code, _ = runCLI(t, "", "tasks", "nothing")
	assert.Equal(t, ExitError, code)
}

func TestValidateCommand(t *testing.T) {
	code, out := runCLI(t, "", "validate", writeGraph(t, incrementGraph))
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "3 nodes, 4 connections")
	assert.Contains(t, out, "entry nodes: A")

	cycle := "nodes:\n  A: {task: core.print}\n  B: {task: core.print}\nconnections:\n  - {from: A, to: B}\n  - {from: B, to: A}\n"
	code, out = runCLI(t, "", "validate", writeGraph(t, cycle))
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, out, "cycle detected")

	unresolved := "nodes:\n  A: {task: nope.missing}\n"
	code, out = runCLI(t, "", "validate", writeGraph(t, unresolved))
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, out, "nope.missing")

	code, _ = runCLI(t, "", "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ExitInvalid, code)
}

func TestRunCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	code, out := runCLI(t, "", "run", writeGraph(t, incrementGraph))
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "C | done")
	assert.Contains(t, out, `C | B: {"v":2}`)
	assert.Contains(t, out, "node C succeeded")
	assert.Contains(t, out, "completed: 3 succeeded, 0 failed, 0 skipped")
}

func TestRunCommandPrintsEveryOutputLine(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	const lines = 20000
	doc := fmt.Sprintf(`
nodes:
  - {id: B, task: js.run, config: {script: "for (var i = 0; i < %d; i++) { print('line ' + i); } return {};", timeout_ms: 60000}}
`, lines)
	code, out := runCLI(t, "", "run", writeGraph(t, doc))
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, lines, strings.Count(out, "  B | line "))
	assert.Contains(t, out, fmt.Sprintf("  B | line %d\n", lines-1))
}

func TestRunCommandReportsFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	code, out := runCLI(t, "", "run", writeGraph(t, failingGraph))
	assert.Equal(t, ExitRunFailed, code)
	assert.Contains(t, out, "node A failed: boom")
	assert.Contains(t, out, "node C skipped: upstream A failed")
	assert.Contains(t, out, "completed: 1 succeeded, 1 failed, 1 skipped")
}

func TestRunCommandInteractive(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	code, out := runCLI(t, "help\nbreak ghost\nresume\n", "run", "--paused", writeGraph(t, incrementGraph))
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "interactive mode")
	assert.Contains(t, out, "step           run one node")
	assert.Contains(t, out, `error: unknown node "ghost"`)
	assert.Contains(t, out, "completed: 3 succeeded")
}

func TestRunCommandRejectsInvalidGraph(t *testing.T) {
	code, _ := runCLI(t, "", "run", writeGraph(t, "nodes:\n  A: {task: nope.missing}\n"))
	assert.Equal(t, ExitInvalid, code)

	code, _ = runCLI(t, "", "run", "--archive", writeGraph(t, incrementGraph))
	assert.Equal(t, ExitError, code)
}

type fakeRun struct {
	calls       []string
	breakpoints map[graph.NodeID]bool
}

func (f *fakeRun) Order() graph.ExecutionOrder { return graph.ExecutionOrder{"A", "B"} }
func (f *fakeRun) Phase() engine.Phase         { return engine.PhasePaused }
func (f *fakeRun) Pause() error                { f.calls = append(f.calls, "pause"); return nil }
func (f *fakeRun) Resume() error               { f.calls = append(f.calls, "resume"); return nil }
func (f *fakeRun) Step() error                 { f.calls = append(f.calls, "step"); return nil }
func (f *fakeRun) Abort() error                { return errors.New("run is not active") }
func (f *fakeRun) ToggleBreakpoint(id graph.NodeID) bool {
	f.breakpoints[id] = !f.breakpoints[id]
	return f.breakpoints[id]
}
func (f *fakeRun) Breakpoints() []graph.NodeID {
	var out []graph.NodeID
	for id, on := range f.breakpoints {
		if on {
			out = append(out, id)
		}
	}
	return out
}
func (f *fakeRun) NodeStatus(id graph.NodeID) (engine.Status, bool) {
	switch id {
	case "A":
		return engine.Failed, true
	case "B":
		return engine.NotStarted, true
	}
	return "", false
}
func (f *fakeRun) NodeReason(id graph.NodeID) string {
	if id == "A" {
		return "boom"
	}
	return ""
}
func (f *fakeRun) DebugFrames() []debug.Frame {
	return []debug.Frame{{NodeID: "A", Status: "failed", Error: "boom"}}
}

func TestConsoleCommands(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out)
	run := &fakeRun{breakpoints: map[graph.NodeID]bool{}}

	require.NoError(t, c.handle(run, "pause"))
	require.NoError(t, c.handle(run, "  n  "))
	require.NoError(t, c.handle(run, "continue"))
	require.NoError(t, c.handle(run, ""))
	assert.Equal(t, []string{"pause", "step", "resume"}, run.calls)

	require.NoError(t, c.handle(run, "break B"))
	assert.Contains(t, out.String(), "breakpoint set on B")
	require.NoError(t, c.handle(run, "status"))
	assert.Contains(t, out.String(), "phase: paused")
	assert.Contains(t, out.String(), "(boom)")
	assert.Contains(t, out.String(), " * B")
	require.NoError(t, c.handle(run, "b B"))
	assert.Contains(t, out.String(), "breakpoint cleared on B")

	require.NoError(t, c.handle(run, "frames"))
	assert.Contains(t, out.String(), `"error": "boom"`)

	assert.Error(t, c.handle(run, "break"))
	assert.Error(t, c.handle(run, "break ghost"))
	assert.Error(t, c.handle(run, "dance"))
	assert.Error(t, c.handle(run, "abort"))
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitSuccess, exitCodeOf(nil))
	assert.Equal(t, ExitError, exitCodeOf(errors.New("x")))
	assert.Equal(t, ExitInvalid, exitCodeOf(withCode(ExitInvalid, errors.New("x"))))
	assert.Nil(t, withCode(ExitInvalid, nil))
}
