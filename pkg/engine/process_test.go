package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/isolation"
	"github.com/wehubfusion/Daedalus/pkg/task"
	"github.com/wehubfusion/Daedalus/pkg/tasks/all"
)

func TestMain(m *testing.M) {
	isolation.ServeIfWorker(all.NewCatalog())
	os.Exit(m.Run())
}

func processEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg := isolation.DefaultProcessConfig()
	cfg.AbortGrace = 100 * time.Millisecond
	inv, err := isolation.NewProcessInvoker(cfg, zap.NewNop())
	require.NoError(t, err)
	return New(inv, opts...)
}

func TestProcessRunScriptChain(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	catalog := all.NewCatalog()
	sink := &recorder{}
	def := &graph.Definition{
		Nodes: []graph.Node{
			node("A", "core.constant", `{"value":{"v":1}}`),
			node("B", "js.run", `{"script":"print('adding'); state.seen = true; return {v: inputs.A.v + 1};"}`),
			node("C", "core.print", ""),
			node("D", "core.crash", `{"exit_code":9}`),
			node("E", "state.get", `{"keys":["seen"]}`),
		},
		Connections: []graph.Connection{
			ctrl("A", "B"), ctrl("B", "C"), ctrl("C", "D"), ctrl("D", "E"),
			data("A", "B"), data("B", "C"),
		},
	}

	run, err := processEngine(t, WithSink(sink)).Start(context.Background(), def, task.NewResolver(catalog, def))
	require.NoError(t, err)
	summary := wait(t, run)

	out, ok := run.Output("C")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"B": map[string]interface{}{"v": float64(2)}}, out)

	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, run.NodeReason("D"), "9")

	// the crash does not take the shared state with it
	seen, ok := run.Output("E")
	require.True(t, ok)
	assert.Equal(t, true, seen["seen"])

	var lines []string
	for _, e := range sink.ofType(events.OutputLine) {
		lines = append(lines, e.Line)
	}
	assert.Contains(t, lines, "adding")
	assert.Contains(t, lines, `B: {"v":2}`)
	assert.Contains(t, lines, "crashing")
}

func TestProcessAbortKillsWorker(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	catalog := all.NewCatalog()
	def := &graph.Definition{
		Nodes:       []graph.Node{node("A", "core.sleep", `{"duration":"30s"}`), node("B", "core.constant", "")},
		Connections: []graph.Connection{ctrl("A", "B")},
	}

	run, err := processEngine(t).Start(context.Background(), def, task.NewResolver(catalog, def))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := run.NodeStatus("A")
		return s == Running
	}, 5*time.Second, 5*time.Millisecond)

	started := time.Now()
	require.NoError(t, run.Abort())
	summary := wait(t, run)

	assert.Less(t, time.Since(started), 10*time.Second)
	assert.Equal(t, string(PhaseAborted), summary.Outcome)
	assert.Equal(t, 1, summary.NotStarted)
}
