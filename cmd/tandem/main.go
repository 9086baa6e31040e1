package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/tandem-cli/cmd"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
  tandem %s
  Ask about the sandbox; "exit" or Ctrl+D quits.

`

// Function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	execute     = cmd.Execute
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(run(ctx, os.Args[1:]))
}

// run executes the command line and maps the outcome to an exit code. Without
// arguments it opens the interactive question prompt.
func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Printf(banner, cmd.Version)
		args = []string{"ask"}
	}
	if err := execute(ctx, args); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		return 1
	}
	return 0
}

// handlePanic records an unrecovered panic in panic.log and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(1)
		return
	}
	fmt.Fprintf(os.Stderr, "tandem crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
