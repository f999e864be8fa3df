package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

func echo(name string) Task {
	return Func{Name: name, Fn: func(ctx context.Context, call *Call) (map[string]interface{}, error) {
		var cfg struct {
			Value string `json:"value"`
		}
		if err := call.DecodeConfig(&cfg); err != nil {
			return nil, err
		}
		return map[string]interface{}{"value": cfg.Value}, nil
	}}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	c.Register(echo("core.echo"))
	c.Register(echo("text.upper"))
	c.Register(echo("core.alpha"))

	assert.True(t, c.Has("core.echo"))
	assert.False(t, c.Has("core.missing"))
	assert.Equal(t, []string{"core.alpha", "core.echo", "text.upper"}, c.Names())
	assert.Equal(t, []string{"core.alpha", "core.echo"}, c.ByCategory("core"))
	assert.Empty(t, c.ByCategory("net"))

	out, err := c.Run(context.Background(), Definition{Ref: "core.echo", Config: json.RawMessage(`{"value":"hi"}`)}, &Call{})
	require.NoError(t, err)
	assert.Equal(t, "hi", out["value"])

	_, err = c.Run(context.Background(), Definition{Ref: "core.missing"}, &Call{})
	assert.Error(t, err)
}

func TestDefinitionCategory(t *testing.T) {
	assert.Equal(t, "strings", Definition{Ref: "strings.upper"}.Category())
	assert.Equal(t, "plain", Definition{Ref: "plain"}.Category())
}

func TestResolver(t *testing.T) {
	c := NewCatalog()
	c.Register(echo("core.echo"))

	def := &graph.Definition{Nodes: []graph.Node{
		{ID: "ok", Task: "core.echo", Config: json.RawMessage(`{"value":"x"}`)},
		{ID: "unregistered", Task: "core.nope"},
		{ID: "blank"},
	}}
	r := NewResolver(c, def)

	got, err := r.Resolve("ok")
	require.NoError(t, err)
	assert.Equal(t, "core.echo", got.Ref)
	assert.JSONEq(t, `{"value":"x"}`, string(got.Config))

	for _, id := range []graph.NodeID{"unregistered", "blank", "ghost"} {
		t.Run(string(id), func(t *testing.T) {
			_, err := r.Resolve(id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, sdkerrors.ErrUnresolvedNode))

			var unresolved *UnresolvedNodeError
			require.True(t, errors.As(err, &unresolved))
			assert.Equal(t, id, unresolved.Node)
		})
	}
}
