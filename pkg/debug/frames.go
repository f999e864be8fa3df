package debug

import (
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// Frame is a snapshot of one node taken right after it finished. Frames handed
// out by FrameLog are private copies.
type Frame struct {
	NodeID      graph.NodeID           `json:"node_id"`
	Status      string                 `json:"status"`
	Inputs      map[string]interface{} `json:"inputs"`
	SharedState map[string]interface{} `json:"shared_state"`
	Output      map[string]interface{} `json:"output"`
	Error       string                 `json:"error,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// FrameLog is an append-only, concurrency safe frame history
type FrameLog struct {
	mu     sync.RWMutex
	frames []Frame
}

// NewFrameLog creates an empty log
func NewFrameLog() *FrameLog {
	return &FrameLog{}
}

// Append stores a deep copy of f
func (l *FrameLog) Append(f Frame) {
	stored := f.clone()
	l.mu.Lock()
	l.frames = append(l.frames, stored)
	l.mu.Unlock()
}

// All returns copies of every frame in capture order
func (l *FrameLog) All() []Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Frame, len(l.frames))
	for i, f := range l.frames {
		out[i] = f.clone()
	}
	return out
}

// Len returns the number of frames
func (l *FrameLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.frames)
}

// Latest returns a copy of the most recent frame for id
func (l *FrameLog) Latest(id graph.NodeID) (Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.frames) - 1; i >= 0; i-- {
		if l.frames[i].NodeID == id {
			return l.frames[i].clone(), true
		}
	}
	return Frame{}, false
}

func (f Frame) clone() Frame {
	f.Inputs = CopyMap(f.Inputs)
	f.SharedState = CopyMap(f.SharedState)
	f.Output = CopyMap(f.Output)
	return f
}

// CopyMap deep copies a JSON-shaped map. A nil map copies to an empty map.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
