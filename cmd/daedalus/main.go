// Command daedalus runs, validates, and inspects workflow graphs.
package main

import (
	"context"
	"os"

	"github.com/wehubfusion/Daedalus/pkg/config"
	"github.com/wehubfusion/Daedalus/pkg/isolation"
	"github.com/wehubfusion/Daedalus/pkg/tasks/all"
)

func main() {
	// Worker processes spawned for node isolation exit inside this call.
	isolation.ServeIfWorker(all.NewCatalog())

	undo := config.InitializeRuntime(nil)
	code := Execute(context.Background(), os.Args[1:])
	undo()
	os.Exit(code)
}
