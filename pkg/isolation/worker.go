package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/wehubfusion/Daedalus/pkg/task"
)

// ServeIfWorker turns the current process into an isolation worker when it was
// started by a ProcessInvoker. It must run before anything else in main or
// TestMain. In a worker it never returns.
func ServeIfWorker(catalog *task.Catalog) {
	if os.Getenv(WorkerEnv) == "" {
		return
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			fmt.Fprintf(os.Stderr, "sentry init failed: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result := os.NewFile(3, "result")
	code := Serve(ctx, catalog, os.Stdin, os.Stdout, result)
	stop()
	if result != nil {
		result.Close()
	}
	os.Exit(code)
}

// Serve reads one request from in, runs it against the catalog with task output
// going to stdout, writes the response to result, and returns the exit code.
func Serve(ctx context.Context, catalog *task.Catalog, in io.Reader, stdout io.Writer, result io.Writer) (code int) {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		writeResponse(result, &Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return ExitProtocolError
	}
	if req.State == nil {
		req.State = map[string]interface{}{}
	}

	defer func() {
		if r := recover(); r != nil {
			reportPanic(r)
			writeResponse(result, &Response{Error: fmt.Sprintf("panic: %v", r)})
			code = ExitPanic
		}
	}()

	call := &task.Call{
		NodeID: req.NodeID,
		Config: req.Config,
		Inputs: req.Inputs,
		State:  req.State,
		Stdout: stdout,
	}
	output, err := catalog.Run(ctx, req.Definition(), call)
	if err != nil {
		writeResponse(result, &Response{Error: err.Error()})
		return ExitTaskError
	}
	if output == nil {
		output = map[string]interface{}{}
	}

	if !writeResponse(result, &Response{Output: output, State: req.State}) {
		return ExitProtocolError
	}
	return ExitOK
}

func writeResponse(w io.Writer, resp *Response) bool {
	if w == nil {
		return false
	}
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(&Response{Error: fmt.Sprintf("unencodable result: %v", err)})
		_, _ = w.Write(data)
		return false
	}
	_, err = w.Write(data)
	return err == nil
}

func reportPanic(r interface{}) {
	hub := sentry.CurrentHub()
	if hub.Client() == nil {
		return
	}
	hub.Recover(r)
	sentry.Flush(2 * time.Second)
}
