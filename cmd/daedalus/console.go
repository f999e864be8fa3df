package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/debug"
	"github.com/wehubfusion/Daedalus/pkg/engine"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// runControls is the part of *engine.Run the console drives
type runControls interface {
	Order() graph.ExecutionOrder
	Phase() engine.Phase
	Pause() error
	Resume() error
	Step() error
	Abort() error
	ToggleBreakpoint(id graph.NodeID) bool
	Breakpoints() []graph.NodeID
	NodeStatus(id graph.NodeID) (engine.Status, bool)
	NodeReason(id graph.NodeID) string
	DebugFrames() []debug.Frame
}

const consoleHelp = `commands:
  pause          pause before the next node
  resume         continue a paused run
  step           run one node, then pause
  break <id>     toggle a breakpoint
  abort          stop the run
  status         show node statuses
  frames         dump debug frames as JSON
  help           show this text`

// console writes events and command replies to one writer
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// follow prints events until ch is closed
func (c *console) follow(ch <-chan events.Event) {
	for e := range ch {
		c.printEvent(e)
	}
}

func (c *console) printEvent(e events.Event) {
	switch e.Type {
	case events.OutputLine:
		c.printf("  %s | %s\n", e.NodeID, e.Line)
	case events.RunFinished:
		// printSummary reports the outcome after the run returns
	default:
		c.printf("%s %s\n", e.Time.Format("15:04:05.000"), e.String())
	}
}

func (c *console) printSummary(s engine.Summary) {
	c.printf("\nrun %s %s in %s\n", s.RunID, s, s.Duration.Round(time.Millisecond))
}

// interact reads commands from in until EOF, ctx ends, or the run finishes
func (c *console) interact(ctx context.Context, run runControls, in io.Reader, done <-chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	c.printf("interactive mode, type 'help' for commands\n")
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.handle(run, line); err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

// handle executes one console command
func (c *console) handle(run runControls, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "pause", "p":
		return run.Pause()
	case "resume", "r", "continue", "c":
		return run.Resume()
	case "step", "s", "next", "n":
		return run.Step()
	case "abort", "q", "quit":
		return run.Abort()
	case "break", "b":
		if len(fields) != 2 {
			return fmt.Errorf("usage: break <node id>")
		}
		id := graph.NodeID(fields[1])
		if _, ok := run.NodeStatus(id); !ok {
			return fmt.Errorf("unknown node %q", id)
		}
		if run.ToggleBreakpoint(id) {
			c.printf("breakpoint set on %s\n", id)
		} else {
			c.printf("breakpoint cleared on %s\n", id)
		}
		return nil
	case "status":
		c.printStatus(run)
		return nil
	case "frames":
		data, err := json.MarshalIndent(run.DebugFrames(), "", "  ")
		if err != nil {
			return err
		}
		c.printf("%s\n", data)
		return nil
	case "help", "h", "?":
		c.printf("%s\n", consoleHelp)
		return nil
	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
}

func (c *console) printStatus(run runControls) {
	var b strings.Builder
	fmt.Fprintf(&b, "phase: %s\n", run.Phase())
	breakpoints := make(map[graph.NodeID]bool)
	for _, id := range run.Breakpoints() {
		breakpoints[id] = true
	}
	for _, id := range run.Order() {
		status, _ := run.NodeStatus(id)
		marker := " "
		if breakpoints[id] {
			marker = "*"
		}
		fmt.Fprintf(&b, " %s %-20s %s", marker, id, status)
		if reason := run.NodeReason(id); reason != "" {
			fmt.Fprintf(&b, " (%s)", reason)
		}
		b.WriteByte('\n')
	}
	c.printf("%s", b.String())
}
