package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tandem-cli/cmd"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
	execute = cmd.Execute
}

func TestRun(t *testing.T) {
	defer resetMocks()

	var gotArgs []string
	stub := func(err error) func(context.Context, []string) error {
		return func(_ context.Context, args []string) error {
			gotArgs = args
			return err
		}
	}

	t.Run("NoArgsOpensThePrompt", func(t *testing.T) {
		execute = stub(nil)
		assert.Equal(t, 0, run(context.Background(), nil))
		assert.Equal(t, []string{"ask"}, gotArgs)
	})

	t.Run("ArgsPassThrough", func(t *testing.T) {
		execute = stub(nil)
		assert.Equal(t, 0, run(context.Background(), []string{"tree", "--depth", "2"}))
		assert.Equal(t, []string{"tree", "--depth", "2"}, gotArgs)
	})

	t.Run("FailureExitsNonZero", func(t *testing.T) {
		execute = stub(errors.New("boom"))
		assert.Equal(t, 1, run(context.Background(), []string{"ask", "q"}))
	})

	t.Run("CancellationExitsCleanly", func(t *testing.T) {
		execute = stub(context.Canceled)
		assert.Equal(t, 0, run(context.Background(), []string{"ask", "q"}))
	})
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	var written string
	var code int
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		written = string(data)
		return nil
	}
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("engine exploded")
	}()

	require.Contains(t, written, "panic: engine exploded")
	assert.Equal(t, 2, code)

	t.Run("WriteFailure", func(t *testing.T) {
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		func() {
			defer handlePanic()
			panic("again")
		}()
		assert.Equal(t, 1, code)
	})
}
