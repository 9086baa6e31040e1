package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/sandbox"
)

// -- Test Setup Helpers --

type fixture struct {
	reg     *Registry
	backend *sandbox.Backend
}

func setupFixture(t *testing.T, files map[string]string) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	backend := sandbox.NewMemory("/sandbox", logger)
	for name, content := range files {
		require.NoError(t, afero.WriteFile(backend.Fs(), "/"+name, []byte(content), 0o644))
	}
	reg := NewRegistry(logger, 5*time.Second)
	require.NoError(t, RegisterBuiltins(reg, backend, BuiltinOptions{SearchMaxHits: 3}))
	return fixture{reg: reg, backend: backend}
}

func (f fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := afero.ReadFile(f.backend.Fs(), "/"+rel)
	require.NoError(t, err)
	return string(data)
}

func echo(name string, kind schemas.CapabilityKind) Capability {
	return Capability{
		CapabilityDescriptor: schemas.CapabilityDescriptor{Name: name, Kind: kind},
		Invoke: func(ctx context.Context, args Args) (string, error) {
			return name + ":" + args.Get("x"), nil
		},
	}
}

// -- Test Cases: Registry --

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), 0)
	require.NoError(t, reg.Register(echo("a", schemas.KindRead)))

	err := reg.Register(echo("a", schemas.KindWrite))
	assert.ErrorIs(t, err, schemas.ErrDuplicateCapability)

	_, err = reg.Resolve("missing")
	assert.ErrorIs(t, err, schemas.ErrUnknownCapability)

	c, err := reg.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, schemas.KindRead, c.Kind, "a rejected registration must not replace the original")

	assert.ErrorIs(t, reg.Register(Capability{CapabilityDescriptor: schemas.CapabilityDescriptor{Name: "b", Kind: "BOGUS"}, Invoke: c.Invoke}), schemas.ErrInvalidArguments)
	assert.ErrorIs(t, reg.Register(Capability{CapabilityDescriptor: schemas.CapabilityDescriptor{Name: "b", Kind: schemas.KindRead}}), schemas.ErrInvalidArguments)
}

func TestRegistry_SubsetAndSelect(t *testing.T) {
	f := setupFixture(t, nil)

	_, err := f.reg.Subset(ReadFile, "nope")
	assert.ErrorIs(t, err, schemas.ErrUnknownCapability)

	set, err := f.reg.Subset(ReadFile, ListDirectory, ReadFile)
	require.NoError(t, err)
	assert.Equal(t, []string{ListDirectory, ReadFile}, set.Names())

	ro := f.reg.Select(ReadOnly)
	assert.Equal(t, []string{FindFile, ListDirectory, ReadFile, SearchFiles}, ro.Names())
	for _, d := range ro.Descriptors() {
		assert.False(t, d.Kind.Mutates(), d.Name)
	}

	assert.Equal(t, 8, f.reg.Select(Direct).Len())
}

func TestSet_InvokeOutsideSetIsNotPermitted(t *testing.T) {
	f := setupFixture(t, map[string]string{"notes.txt": "keep"})
	ro := f.reg.Select(ReadOnly)

	var calls []Call
	f.reg.Observe(func(c Call) { calls = append(calls, c) })

	_, err := ro.Invoke(context.Background(), DeleteFile, Args{"path": "notes.txt"})
	assert.ErrorIs(t, err, schemas.ErrCapabilityNotPermitted)
	assert.Empty(t, calls, "a refused call must never reach the registry")
	assert.Equal(t, "keep", f.read(t, "notes.txt"))
}

func TestRegistry_TimeoutAndCallerTagging(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), 20*time.Millisecond)
	require.NoError(t, reg.Register(Capability{
		CapabilityDescriptor: schemas.CapabilityDescriptor{Name: "slow", Kind: schemas.KindRead},
		Invoke: func(ctx context.Context, _ Args) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))

	var mu sync.Mutex
	var seen []Call
	reg.Observe(func(c Call) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c)
	})

	ctx := WithCallID(WithCaller(context.Background(), "restricted"), "call-1")
	_, err := reg.Invoke(ctx, "slow", nil)
	assert.ErrorIs(t, err, schemas.ErrTimeout)
	assert.Equal(t, schemas.CodeTimeout, schemas.CodeFor(err))

	require.Len(t, seen, 1)
	assert.Equal(t, "restricted", seen[0].Caller)
	assert.Equal(t, "call-1", seen[0].CallID)
	assert.Equal(t, schemas.KindRead, seen[0].Kind)
	assert.Error(t, seen[0].Err)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = reg.Invoke(canceled, "slow", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, schemas.ErrTimeout)
}

func TestRegistry_MissingRequiredArgument(t *testing.T) {
	f := setupFixture(t, nil)
	_, err := f.reg.Invoke(context.Background(), WriteFile, Args{"path": "a.txt"})
	assert.ErrorIs(t, err, schemas.ErrInvalidArguments)
	assert.Contains(t, err.Error(), "content")
}

// -- Test Cases: Built-ins --

func TestBuiltins_ReadAndList(t *testing.T) {
	f := setupFixture(t, map[string]string{
		"docs/agent.md": "# Agent",
		"docs/b.md":     "b",
	})
	ctx := context.Background()

	out, err := f.reg.Invoke(ctx, ReadFile, Args{"path": "docs/agent.md"})
	require.NoError(t, err)
	assert.Equal(t, "# Agent", out)

	out, err = f.reg.Invoke(ctx, ListDirectory, Args{})
	require.NoError(t, err)
	assert.Equal(t, "docs/", out)

	out, err = f.reg.Invoke(ctx, ListDirectory, Args{"path": "docs"})
	require.NoError(t, err)
	assert.Equal(t, "agent.md (7 bytes)\nb.md (1 bytes)", out)

	_, err = f.reg.Invoke(ctx, ReadFile, Args{"path": "../etc/passwd"})
	assert.ErrorIs(t, err, schemas.ErrPathEscape)

	_, err = f.reg.Invoke(ctx, ReadFile, Args{"path": "docs/missing.md"})
	assert.ErrorIs(t, err, schemas.ErrNotFound)
}

func TestBuiltins_ListHidesStagingFiles(t *testing.T) {
	f := setupFixture(t, map[string]string{
		"inbox/.tandem-4821": "half written",
		"mixed/.tandem-77":   "x",
		"mixed/a.md":         "a",
	})
	ctx := context.Background()

	out, err := f.reg.Invoke(ctx, ListDirectory, Args{"path": "inbox"})
	require.NoError(t, err)
	assert.Equal(t, "(empty directory)", out)

	out, err = f.reg.Invoke(ctx, ListDirectory, Args{"path": "mixed"})
	require.NoError(t, err)
	assert.Equal(t, "a.md (1 bytes)", out)
}

func TestBuiltins_SearchCapsHits(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("notes/%d.txt", i)] = "line one\nneedle here\n"
	}
	f := setupFixture(t, files)

	out, err := f.reg.Invoke(context.Background(), SearchFiles, Args{"pattern": "needle"})
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "notes/0.txt:2: needle here", lines[0])
	assert.Equal(t, "... (results truncated at 3 hits)", lines[3])

	out, err = f.reg.Invoke(context.Background(), SearchFiles, Args{"pattern": "absent"})
	require.NoError(t, err)
	assert.Equal(t, `no matches for "absent"`, out)
}

func TestBuiltins_FindFile(t *testing.T) {
	f := setupFixture(t, map[string]string{
		"z/agent.md":            "later",
		"nodes/en/ai/agent.md":  "first",
		"nodes/en/ai/other.txt": "x",
	})
	ctx := context.Background()

	out, err := f.reg.Invoke(ctx, FindFile, Args{"name": "agent.md"})
	require.NoError(t, err)
	assert.Equal(t, "nodes/en/ai/agent.md", out)

	out, err = f.reg.Invoke(ctx, FindFile, Args{"name": "missing.md"})
	require.NoError(t, err)
	assert.Equal(t, "not found: missing.md", out)

	_, err = f.reg.Invoke(ctx, FindFile, Args{"name": "../agent.md"})
	assert.ErrorIs(t, err, schemas.ErrInvalidArguments)
}

func TestBuiltins_Mutations(t *testing.T) {
	f := setupFixture(t, map[string]string{"notes.txt": "alpha beta beta"})
	ctx := context.Background()

	out, err := f.reg.Invoke(ctx, WriteFile, Args{"path": "test.txt", "content": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "wrote 5 bytes to test.txt", out)
	assert.Equal(t, "hello", f.read(t, "test.txt"))

	_, err = f.reg.Invoke(ctx, EditFile, Args{"path": "notes.txt", "old": "beta", "new": "gamma"})
	assert.ErrorIs(t, err, schemas.ErrInvalidArguments)
	assert.Equal(t, "alpha beta beta", f.read(t, "notes.txt"))

	_, err = f.reg.Invoke(ctx, EditFile, Args{"path": "notes.txt", "old": "alpha", "new": "omega"})
	require.NoError(t, err)
	assert.Equal(t, "omega beta beta", f.read(t, "notes.txt"))

	_, err = f.reg.Invoke(ctx, RenameFile, Args{"from": "test.txt", "to": "archive/test.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", f.read(t, "archive/test.txt"))

	_, err = f.reg.Invoke(ctx, DeleteFile, Args{"path": "archive/test.txt"})
	require.NoError(t, err)
	_, err = f.backend.Stat(ctx, "archive/test.txt")
	assert.ErrorIs(t, err, schemas.ErrNotFound)

	_, err = f.reg.Invoke(ctx, WriteFile, Args{"path": "/tmp/evil.txt", "content": "x"})
	assert.ErrorIs(t, err, schemas.ErrPathEscape)
}

// -- Test Cases: Args --

func TestArgsFromMap(t *testing.T) {
	args := ArgsFromMap(map[string]any{
		"path":  "docs/a.md",
		"count": 3.0,
		"flag":  true,
		"none":  nil,
	})
	assert.Equal(t, Args{"path": "docs/a.md", "count": "3", "flag": "true", "none": ""}, args)

	decoded, err := DecodeArgs([]byte(`{"task":"Write 'hello' to test.txt"}`))
	require.NoError(t, err)
	assert.Equal(t, "Write 'hello' to test.txt", decoded.Get("task"))

	_, err = DecodeArgs([]byte(`[1,2]`))
	assert.ErrorIs(t, err, schemas.ErrInvalidArguments)
}
