package strings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/task"
)

func TestOperations(t *testing.T) {
	c := task.NewCatalog()
	Register(c)

	tests := []struct {
		name   string
		ref    string
		config string
		inputs map[string]interface{}
		want   interface{}
	}{
		{name: "upper", ref: "strings.upper", config: `{"string":"hello"}`, want: "HELLO"},
		{name: "lower", ref: "strings.lower", config: `{"string":"HeLLo"}`, want: "hello"},
		{name: "title", ref: "strings.title", config: `{"string":"hello wide world"}`, want: "Hello Wide World"},
		{name: "turkish upper", ref: "strings.upper", config: `{"string":"i","language":"tr"}`, want: "İ"},
		{name: "capitalize", ref: "strings.capitalize", config: `{"string":"élan"}`, want: "Élan"},
		{name: "trim space", ref: "strings.trim", config: `{"string":"  x  "}`, want: "x"},
		{name: "trim cutset", ref: "strings.trim", config: `{"string":"--x--","cutset":"-"}`, want: "x"},
		{name: "concat", ref: "strings.concat", config: `{"string":"a","parts":["b","c"],"separator":"-"}`, want: "a-b-c"},
		{name: "split", ref: "strings.split", config: `{"string":"a,b","separator":","}`, want: []string{"a", "b"}},
		{name: "length", ref: "strings.length", config: `{"string":"héllo"}`, want: 5},
		{name: "replace", ref: "strings.replace", config: `{"string":"aaa","old":"a","new":"b","count":2}`, want: "bba"},
		{name: "regex replace", ref: "strings.replace", config: `{"string":"a1b22","old":"[0-9]+","new":"#","use_regex":true}`, want: "a#b#"},
		{name: "regex replace count", ref: "strings.replace", config: `{"string":"x1y2","old":"([0-9])","new":"<$1>","use_regex":true,"count":1}`, want: "x<1>y2"},
		{
			name:   "from input path",
			ref:    "strings.upper",
			config: `{"from":"A.name"}`,
			inputs: map[string]interface{}{"A": map[string]interface{}{"name": "ada"}},
			want:   "ADA",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := c.Run(context.Background(), task.Definition{Ref: tt.ref, Config: json.RawMessage(tt.config)}, &task.Call{NodeID: "s", Inputs: tt.inputs})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["result"])
		})
	}
}

func TestErrors(t *testing.T) {
	c := task.NewCatalog()
	Register(c)

	_, err := c.Run(context.Background(), task.Definition{Ref: "strings.upper", Config: json.RawMessage(`{"from":"A.missing"}`)}, &task.Call{NodeID: "s"})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "from", cfgErr.Field)

	_, err = c.Run(context.Background(), task.Definition{Ref: "strings.replace", Config: json.RawMessage(`{"string":"x","old":"(","use_regex":true}`)}, &task.Call{NodeID: "s"})
	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "replace", opErr.Operation)
}
