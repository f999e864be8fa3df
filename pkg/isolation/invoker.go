package isolation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/task"
)

// Invocation describes one task run inside an isolated context
type Invocation struct {
	NodeID string
	Task   task.Definition
	Inputs map[string]interface{}
	State  map[string]interface{}

	// Timeout kills the context after this long. Zero disables it.
	Timeout time.Duration

	// OnLine receives each output line as soon as the worker produces it.
	// It is called from a separate goroutine.
	OnLine func(line string)
}

// Result is the outcome of a successful invocation
type Result struct {
	Output   map[string]interface{}
	State    map[string]interface{}
	Duration time.Duration
}

// Invoker runs invocations. A returned error means the node failed; its text is
// the failure reason.
type Invoker interface {
	Invoke(ctx context.Context, inv *Invocation) (*Result, error)
}

// ProcessConfig configures the process invoker
type ProcessConfig struct {
	// Command starts the worker. Defaults to the current executable.
	Command []string

	// Env is added to the inherited environment of the worker
	Env []string

	// Dir is the worker working directory
	Dir string

	// AbortGrace is how long an in-flight worker may keep running after the
	// invocation context is cancelled before it is killed
	AbortGrace time.Duration
}

// DefaultProcessConfig returns a configuration that re-executes the running binary
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		AbortGrace: 5 * time.Second,
	}
}

// ProcessInvoker runs each invocation in a fresh worker process
type ProcessInvoker struct {
	config ProcessConfig
	logger *zap.Logger
}

// NewProcessInvoker creates a process invoker
func NewProcessInvoker(config ProcessConfig, logger *zap.Logger) (*ProcessInvoker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.Command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker executable: %w", err)
		}
		config.Command = []string{exe}
	}
	if config.AbortGrace < 0 {
		return nil, fmt.Errorf("abort grace cannot be negative")
	}
	return &ProcessInvoker{config: config, logger: logger}, nil
}

// Invoke implements Invoker. Cancelling ctx aborts the invocation: the worker
// gets the configured grace period to finish, then its process group is killed.
func (p *ProcessInvoker) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	payload, err := json.Marshal(&Request{
		NodeID: inv.NodeID,
		Task:   inv.Task.Ref,
		Config: inv.Task.Config,
		Inputs: nonNil(inv.Inputs),
		State:  nonNil(inv.State),
	})
	if err != nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeIsolation, "failed to encode request", err)
	}

	cmd := exec.Command(p.config.Command[0], p.config.Command[1:]...)
	cmd.Dir = p.config.Dir
	cmd.Env = append(append(os.Environ(), p.config.Env...), WorkerEnv+"=1")
	cmd.Stdin = bytes.NewReader(payload)
	setProcessGroup(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeIsolation, "failed to create output pipe", err)
	}
	defer outR.Close()
	resR, resW, err := os.Pipe()
	if err != nil {
		outW.Close()
		return nil, sdkerrors.NewError(sdkerrors.CodeIsolation, "failed to create result pipe", err)
	}
	defer resR.Close()

	cmd.Stdout = outW
	cmd.Stderr = outW
	cmd.ExtraFiles = []*os.File{resW}

	start := time.Now()
	err = cmd.Start()
	outW.Close()
	resW.Close()
	if err != nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeIsolation, "failed to start worker", err)
	}

	logger := p.logger.With(zap.String("node_id", inv.NodeID), zap.String("task", inv.Task.Ref), zap.Int("pid", cmd.Process.Pid))
	logger.Debug("Worker started")

	linesDone := make(chan struct{})
	go func() {
		defer close(linesDone)
		streamLines(outR, inv.OnLine)
	}()

	resultCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(resR)
		resultCh <- data
	}()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if inv.Timeout > 0 {
		timer := time.NewTimer(inv.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var (
		waitErr  error
		timedOut bool
		aborted  bool
		killed   bool
		grace    <-chan time.Time
		cancelCh = ctx.Done()
	)

wait:
	for {
		select {
		case waitErr = <-waitCh:
			break wait
		case <-timeout:
			timedOut, killed = true, true
			logger.Warn("Worker timed out, killing process group", zap.Duration("timeout", inv.Timeout))
			_ = killProcessGroup(cmd.Process)
			timeout = nil
		case <-cancelCh:
			aborted = true
			cancelCh = nil
			if p.config.AbortGrace == 0 {
				killed = true
				_ = killProcessGroup(cmd.Process)
				continue
			}
			graceTimer := time.NewTimer(p.config.AbortGrace)
			defer graceTimer.Stop()
			grace = graceTimer.C
			logger.Info("Abort requested, waiting for worker", zap.Duration("grace", p.config.AbortGrace))
		case <-grace:
			killed = true
			grace = nil
			logger.Warn("Abort grace period elapsed, killing process group")
			_ = killProcessGroup(cmd.Process)
		}
	}

	// Reap anything the worker left behind in its group so the output pipe closes.
	_ = killProcessGroup(cmd.Process)
	<-linesDone
	resultData := <-resultCh
	duration := time.Since(start)

	logger.Debug("Worker exited",
		zap.String("state", cmd.ProcessState.String()),
		zap.Duration("duration", duration))

	switch {
	case timedOut:
		return nil, fmt.Errorf("timed out after %s: %w", inv.Timeout, sdkerrors.ErrTimeout)
	case aborted && killed:
		return nil, fmt.Errorf("terminated during abort: %w", sdkerrors.ErrAborted)
	}

	var resp *Response
	if len(bytes.TrimSpace(resultData)) > 0 {
		resp = &Response{}
		if err := json.Unmarshal(resultData, resp); err != nil {
			resp = nil
			if waitErr == nil {
				return nil, fmt.Errorf("worker returned a malformed result: %w", err)
			}
		}
	}

	if waitErr != nil {
		if resp != nil && resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("worker %s", exitErr.ProcessState.String())
		}
		return nil, fmt.Errorf("worker failed: %w", waitErr)
	}

	result := &Result{Duration: duration, State: inv.State}
	if resp != nil {
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		result.Output = resp.Output
		if resp.State != nil {
			result.State = resp.State
		}
	}
	if result.Output == nil {
		result.Output = map[string]interface{}{}
	}
	return result, nil
}

// streamLines forwards each line of r to fn, including a final unterminated line
func streamLines(r io.Reader, fn func(string)) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && fn != nil {
			fn(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
