// Package strings provides text manipulation tasks.
package strings

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	stdstrings "strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Daedalus/pkg/task"
)

// Config is shared by every string task. The subject string is Config.String or,
// when From is set, the value found at that path in the node inputs (for example
// "A.name" reads field name of node A's output).
type Config struct {
	String    string   `json:"string,omitempty"`
	From      string   `json:"from,omitempty"`
	Separator string   `json:"separator,omitempty"`
	Parts     []string `json:"parts,omitempty"`
	Cutset    string   `json:"cutset,omitempty"`
	Old       string   `json:"old,omitempty"`
	New       string   `json:"new,omitempty"`
	Count     *int     `json:"count,omitempty"`
	UseRegex  bool     `json:"use_regex,omitempty"`
	Language  string   `json:"language,omitempty"`
}

type operation func(nodeID string, cfg *Config, subject string) (interface{}, error)

var operations = map[string]operation{
	"upper": func(_ string, cfg *Config, s string) (interface{}, error) {
		return cases.Upper(tag(cfg)).String(s), nil
	},
	"lower": func(_ string, cfg *Config, s string) (interface{}, error) {
		return cases.Lower(tag(cfg)).String(s), nil
	},
	"title": func(_ string, cfg *Config, s string) (interface{}, error) {
		return cases.Title(tag(cfg)).String(s), nil
	},
	"capitalize": func(_ string, _ *Config, s string) (interface{}, error) {
		if s == "" {
			return s, nil
		}
		r, size := utf8.DecodeRuneInString(s)
		return stdstrings.ToUpper(string(r)) + s[size:], nil
	},
	"trim": func(_ string, cfg *Config, s string) (interface{}, error) {
		if cfg.Cutset == "" {
			return stdstrings.TrimSpace(s), nil
		}
		return stdstrings.Trim(s, cfg.Cutset), nil
	},
	"concat": func(_ string, cfg *Config, s string) (interface{}, error) {
		parts := cfg.Parts
		if s != "" {
			parts = append([]string{s}, parts...)
		}
		return stdstrings.Join(parts, cfg.Separator), nil
	},
	"split": func(_ string, cfg *Config, s string) (interface{}, error) {
		if s == "" {
			return []string{}, nil
		}
		return stdstrings.Split(s, cfg.Separator), nil
	},
	"length": func(_ string, _ *Config, s string) (interface{}, error) {
		return utf8.RuneCountInString(s), nil
	},
	"replace": replace,
}

// Register adds every string task to the catalog
func Register(c *task.Catalog) {
	for name, op := range operations {
		name, op := name, op
		c.Register(task.Func{
			Name: "strings." + name,
			Fn: func(ctx context.Context, call *task.Call) (map[string]interface{}, error) {
				return execute(call, name, op)
			},
		})
	}
}

func execute(call *task.Call, name string, op operation) (map[string]interface{}, error) {
	var cfg Config
	if err := call.DecodeConfig(&cfg); err != nil {
		return nil, NewConfigError(call.NodeID, "", "invalid configuration", err)
	}

	subject := cfg.String
	if cfg.From != "" {
		inputs, err := json.Marshal(call.Inputs)
		if err != nil {
			return nil, NewConfigError(call.NodeID, "from", "inputs are not JSON encodable", err)
		}
		res := gjson.GetBytes(inputs, cfg.From)
		if !res.Exists() {
			return nil, NewConfigError(call.NodeID, "from", fmt.Sprintf("path %q not found in inputs", cfg.From), nil)
		}
		subject = res.String()
	}

	result, err := op(call.NodeID, &cfg, subject)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"result": result}, nil
}

func replace(nodeID string, cfg *Config, s string) (interface{}, error) {
	count := -1
	if cfg.Count != nil {
		count = *cfg.Count
	}
	if !cfg.UseRegex {
		return stdstrings.Replace(s, cfg.Old, cfg.New, count), nil
	}

	re, err := regexp.Compile(cfg.Old)
	if err != nil {
		return nil, NewOperationError(nodeID, "replace", "invalid pattern", err)
	}
	if count < 0 {
		return re.ReplaceAllString(s, cfg.New), nil
	}

	var b stdstrings.Builder
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(s, count) {
		b.WriteString(s[last:loc[0]])
		b.Write(re.ExpandString(nil, cfg.New, s, loc))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func tag(cfg *Config) language.Tag {
	if cfg.Language == "" {
		return language.Und
	}
	t, err := language.Parse(cfg.Language)
	if err != nil {
		return language.Und
	}
	return t
}
