// Package isolation runs one task invocation in a separate process so that a
// crash, a hang, or corrupted memory in the task cannot affect the caller.
//
// The parent re-executes a worker binary with WorkerEnv set. The request travels
// as JSON on the child's stdin, the child's stdout and stderr share one pipe that
// the parent reads line by line, and the response is written as JSON to a
// dedicated result pipe (file descriptor 3 in the child). The exit status decides
// success.
package isolation

import (
	"encoding/json"

	"github.com/wehubfusion/Daedalus/pkg/task"
)

// WorkerEnv marks a process as an isolation worker
const WorkerEnv = "DAEDALUS_ISOLATION_WORKER"

// Worker exit codes
const (
	ExitOK            = 0
	ExitTaskError     = 1
	ExitProtocolError = 2
	ExitPanic         = 3
)

// Request is the serialized invocation sent to the worker
type Request struct {
	NodeID string                 `json:"node_id"`
	Task   string                 `json:"task"`
	Config json.RawMessage        `json:"config,omitempty"`
	Inputs map[string]interface{} `json:"inputs"`
	State  map[string]interface{} `json:"state"`
}

// Response is the serialized result returned by the worker
type Response struct {
	Output map[string]interface{} `json:"output,omitempty"`
	State  map[string]interface{} `json:"state,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Definition returns the task definition carried by the request
func (r *Request) Definition() task.Definition {
	return task.Definition{Ref: r.Task, Config: r.Config}
}
