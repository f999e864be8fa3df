// Package definition loads graph definition documents written in YAML or JSON
// and converts them into graph.Definition values.
//
// A document is validated against an embedded JSON schema before conversion.
// Nodes may be given as a sequence:
//
//	nodes:
//	  - id: fetch
//	    task: core.constant
//	    config: {value: {v: 1}}
//
// or as a mapping keyed by node id, in which case the mapping order becomes the
// node insertion order:
//
//	nodes:
//	  fetch:
//	    category: core
//	    function: constant
package definition

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "graph.schema.json"

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("failed to add graph schema: %v", err))
	}
	return compiler.MustCompile(schemaURL)
}

// Error reports a document that cannot be turned into a definition
type Error struct {
	Source   string
	Problems []string
}

func (e *Error) Error() string {
	prefix := "invalid graph definition"
	if e.Source != "" {
		prefix += " " + e.Source
	}
	if len(e.Problems) == 1 {
		return prefix + ": " + e.Problems[0]
	}
	return prefix + ":\n  - " + strings.Join(e.Problems, "\n  - ")
}

func (e *Error) Unwrap() error {
	return sdkerrors.ErrInvalidDefinition
}

type document struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Nodes       yaml.Node       `yaml:"nodes"`
	Connections []rawConnection `yaml:"connections"`
}

type rawNode struct {
	ID       string      `yaml:"id"`
	Task     string      `yaml:"task"`
	Category string      `yaml:"category"`
	Function string      `yaml:"function"`
	Config   interface{} `yaml:"config"`
}

type rawConnection struct {
	From           string `yaml:"from"`
	To             string `yaml:"to"`
	Kind           string `yaml:"kind"`
	SourcePortType string `yaml:"source_port_type"`
	FromPort       string `yaml:"from_port"`
	ToPort         string `yaml:"to_port"`
}

// LoadFile reads and parses the definition at path
func LoadFile(path string) (*graph.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph definition: %w", err)
	}
	def, err := parse(data, path)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// Parse converts a YAML or JSON document into a definition
func Parse(data []byte) (*graph.Definition, error) {
	return parse(data, "")
}

func parse(data []byte, source string) (*graph.Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &Error{Source: source, Problems: []string{"document is empty"}}
	}

	if problems := validateDocument(data); len(problems) > 0 {
		return nil, &Error{Source: source, Problems: problems}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Source: source, Problems: []string{err.Error()}}
	}

	nodes, err := convertNodes(&doc.Nodes)
	if err != nil {
		return nil, &Error{Source: source, Problems: []string{err.Error()}}
	}

	conns := make([]graph.Connection, 0, len(doc.Connections))
	for i, rc := range doc.Connections {
		c, err := rc.convert()
		if err != nil {
			return nil, &Error{Source: source, Problems: []string{fmt.Sprintf("connection %d: %v", i, err)}}
		}
		conns = append(conns, c)
	}

	return &graph.Definition{Name: doc.Name, Nodes: nodes, Connections: conns}, nil
}

// validateDocument checks data against the schema. YAML is decoded and
// re-encoded as JSON so the validator sees JSON types only.
func validateDocument(data []byte) []string {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return []string{err.Error()}
	}
	encoded, err := json.Marshal(generic)
	if err != nil {
		return []string{fmt.Sprintf("document is not representable as JSON: %v", err)}
	}
	var instance interface{}
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return []string{err.Error()}
	}

	if err := compiledSchema.Validate(instance); err != nil {
		return validationProblems(err)
	}
	return nil
}

func validationProblems(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	for _, leaf := range leaves(verr) {
		location := leaf.InstanceLocation
		if location == "" {
			location = "/"
		}
		out = append(out, fmt.Sprintf("at '%s': %s", location, leaf.Message))
	}
	if len(out) == 0 {
		out = append(out, verr.Error())
	}
	return out
}

func leaves(err *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jsonschema.ValidationError{err}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range err.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}

func convertNodes(n *yaml.Node) ([]graph.Node, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		var raw []rawNode
		if err := n.Decode(&raw); err != nil {
			return nil, err
		}
		nodes := make([]graph.Node, 0, len(raw))
		for _, rn := range raw {
			gn, err := rn.convert()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, gn)
		}
		return nodes, nil

	case yaml.MappingNode:
		nodes := make([]graph.Node, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var rn rawNode
			if err := n.Content[i+1].Decode(&rn); err != nil {
				return nil, err
			}
			key := n.Content[i].Value
			if rn.ID != "" && rn.ID != key {
				return nil, fmt.Errorf("node %q declares a different id %q", key, rn.ID)
			}
			rn.ID = key
			gn, err := rn.convert()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, gn)
		}
		return nodes, nil

	default:
		return nil, fmt.Errorf("nodes must be a sequence or a mapping")
	}
}

func (rn rawNode) convert() (graph.Node, error) {
	ref := rn.Task
	if ref == "" {
		ref = rn.Category + "." + rn.Function
	}
	node := graph.Node{ID: graph.NodeID(rn.ID), Task: ref}
	if rn.Config != nil {
		config, err := json.Marshal(rn.Config)
		if err != nil {
			return graph.Node{}, fmt.Errorf("node %q config: %w", rn.ID, err)
		}
		node.Config = config
	}
	return node, nil
}

// convert maps a raw connection onto the graph model. A connection without a
// kind orders execution only.
func (rc rawConnection) convert() (graph.Connection, error) {
	c := graph.Connection{
		From:     graph.NodeID(rc.From),
		To:       graph.NodeID(rc.To),
		FromPort: rc.FromPort,
		ToPort:   rc.ToPort,
		Kind:     graph.Control,
	}
	kind := rc.Kind
	if kind == "" {
		kind = rc.SourcePortType
	}
	if kind != "" {
		parsed, err := graph.ParseKind(kind)
		if err != nil {
			return graph.Connection{}, err
		}
		c.Kind = parsed
	}
	if c.Kind == graph.Data && c.FromPort == "" {
		c.FromPort = graph.DefaultPort
	}
	return c, nil
}
