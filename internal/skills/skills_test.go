package skills

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibrary_Builtins(t *testing.T) {
	l := NewLibrary()
	assert.Equal(t, []string{FileFinder, NodeLookup, SensitiveData}, l.IDs())

	s, ok := l.Lookup(FileFinder)
	require.True(t, ok)
	assert.Contains(t, s.Instructions, "find_file")

	_, ok = l.Lookup("missing")
	assert.False(t, ok)
}

func TestLibrary_Instructions(t *testing.T) {
	l := NewLibrary()
	text, err := l.Instructions(NodeLookup, FileFinder)
	require.NoError(t, err)
	assert.Less(t, strings.Index(text, "Skill: node-lookup"), strings.Index(text, "Skill: file-finder"))

	_, err = l.Instructions("nope")
	assert.ErrorContains(t, err, `unknown skill "nope"`)

	text, err = l.Instructions()
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestLibrary_LoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/tandem/skills.yaml", []byte(`
skills:
  - id: pharmacy
    description: Cross-check medication notes.
    instructions: |
      Read every file under medical/ before answering.
  - id: file-finder
    instructions: Only use find_file.
`), 0o644))

	l := NewLibrary()
	require.NoError(t, l.LoadFile(fs, "/etc/tandem/skills.yaml"))

	s, ok := l.Lookup("pharmacy")
	require.True(t, ok)
	assert.Equal(t, "Cross-check medication notes.", s.Description)

	s, _ = l.Lookup(FileFinder)
	assert.Equal(t, "Only use find_file.", s.Instructions)

	assert.Error(t, l.LoadFile(fs, "/missing.yaml"))

	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("skills:\n  - description: no id\n"), 0o644))
	assert.ErrorContains(t, l.LoadFile(fs, "/bad.yaml"), "has no id")
}

func TestRedact(t *testing.T) {
	in := "The customer's email is john@example.com and the order number is 12345. CC: a.b+c@mail.example.org"
	out := Redact(in)
	assert.Equal(t, "The customer's email is [EMAIL REDACTED] and the order number is 12345. CC: [EMAIL REDACTED]", out)
	assert.Equal(t, "no addresses here", Redact("no addresses here"))
}
