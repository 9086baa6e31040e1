package capability

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/sandbox"
)

// Built-in capability names.
const (
	ReadFile      = "read_file"
	ListDirectory = "list_directory"
	SearchFiles   = "search_files"
	FindFile      = "find_file"
	WriteFile     = "write_file"
	EditFile      = "edit_file"
	DeleteFile    = "delete_file"
	RenameFile    = "rename_file"
)

// BuiltinOptions bound the output of the built-in capabilities.
type BuiltinOptions struct {
	SearchMaxHits int
	ReadMaxBytes  int64
}

func (o BuiltinOptions) withDefaults() BuiltinOptions {
	if o.SearchMaxHits <= 0 {
		o.SearchMaxHits = 50
	}
	if o.ReadMaxBytes <= 0 {
		o.ReadMaxBytes = 256 * 1024
	}
	return o
}

var errStopWalk = errors.New("stop walk")

// RegisterBuiltins registers the filesystem capabilities over backend.
func RegisterBuiltins(reg *Registry, backend *sandbox.Backend, opts BuiltinOptions) error {
	b := builtins{backend: backend, opts: opts.withDefaults()}
	for _, c := range b.capabilities() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	backend *sandbox.Backend
	opts    BuiltinOptions
}

func param(name, desc string, required bool) schemas.ParameterSpec {
	return schemas.ParameterSpec{Name: name, Description: desc, Required: required}
}

func (b builtins) capabilities() []Capability {
	return []Capability{
		{
			CapabilityDescriptor: schemas.CapabilityDescriptor{
				Name: ReadFile, Kind: schemas.KindRead,
				Description: "Read a text file. Paths are relative to the sandbox root.",
				Parameters:  []schemas.ParameterSpec{param("path", "Relative path of the file.", true)},
			},
			Invoke: b.readFile,
		},
		{
			CapabilityDescriptor: schemas.CapabilityDescriptor{
				Name: ListDirectory, Kind: schemas.KindList,
				Description: "List the entries of a directory. Use \".\" for the sandbox root.",
				Parameters:  []schemas.ParameterSpec{param("path", "Relative path of the directory.", false)},
			},
			Invoke: b.listDirectory,
		},
		{
			CapabilityDescriptor: schemas.CapabilityDescriptor{
				Name: SearchFiles, Kind: schemas.KindSearch,
				Description: fmt.Sprintf("Search file contents for a literal substring. Returns up to %d matching lines.", b.opts.SearchMaxHits),
				Parameters: []schemas.ParameterSpec{
					param("pattern", "Text to look for.", true),
					param("path", "Directory to search below. Defaults to the sandbox root.", false),
				},
			},
			Invoke: b.searchFiles,
		},
		{
			CapabilityDescriptor: schemas.CapabilityDescriptor{
				Name: FindFile, Kind: schemas.KindFindByName,
				Description: "Find a file by its exact base name anywhere in the sandbox and return its relative path.",
				Parameters:  []schemas.ParameterSpec{param("name", "Base name of the file, e.g. agent.md.", true)},
			},
			Invoke: b.findFile,
		},
		{
			CapabilityDescriptor: schemas.CapabilityDescriptor{
				Name: WriteFile, Kind: schemas.KindWrite,
				Description: "Create or overwrite a file with the given content. Parent directories are created.",
				Parameters: []schemas.ParameterSpec{
					param("path", "Relative path of the file.", true),
					param("content", "Full new content of the file.", true),
				},
			},
			Invoke: b.writeFile,
		},
		{
			CapabilityDescriptor: schemas.CapabilityDescriptor{
				Name: EditFile, Kind: schemas.KindEdit,
				Description: "Replace exactly one occurrence of old with new in a file.",
				Parameters: []schemas.ParameterSpec{
					param("path", "Relative path of the file.", true),
					param("old", "Text to replace. Must occur exactly once.", true),
					param("new", "Replacement text.", true),
				},
			},
			Invoke: b.editFile,
		},
		{
			CapabilityDescriptor: schemas.CapabilityDescriptor{
				Name: DeleteFile, Kind: schemas.KindDelete,
				Description: "Delete a file or an empty directory.",
				Parameters:  []schemas.ParameterSpec{param("path", "Relative path to delete.", true)},
			},
			Invoke: b.deleteFile,
		},
		{
			CapabilityDescriptor: schemas.CapabilityDescriptor{
				Name: RenameFile, Kind: schemas.KindRename,
				Description: "Move or rename a file. The destination must not exist.",
				Parameters: []schemas.ParameterSpec{
					param("from", "Current relative path.", true),
					param("to", "New relative path.", true),
				},
			},
			Invoke: b.renameFile,
		},
	}
}

func (b builtins) readFile(ctx context.Context, args Args) (string, error) {
	data, truncated, err := b.backend.Read(ctx, args.Get("path"), b.opts.ReadMaxBytes)
	if err != nil {
		return "", err
	}
	out := string(data)
	if truncated {
		out += fmt.Sprintf("\n[truncated after %d bytes]", b.opts.ReadMaxBytes)
	}
	return out, nil
}

func (b builtins) listDirectory(ctx context.Context, args Args) (string, error) {
	dir := args.GetOr("path", ".")
	entries, err := b.backend.List(ctx, dir)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, e := range entries {
		// Staging files of in-flight atomic writes.
		if strings.HasPrefix(e.Name, ".tandem-") {
			continue
		}
		if e.IsDir {
			fmt.Fprintf(&sb, "%s/\n", e.Name)
		} else {
			fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
		}
	}
	if sb.Len() == 0 {
		return "(empty directory)", nil
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b builtins) searchFiles(ctx context.Context, args Args) (string, error) {
	pattern := args.Get("pattern")
	if pattern == "" {
		return "", fmt.Errorf("%w: pattern must not be empty", schemas.ErrInvalidArguments)
	}
	var hits []string
	capped := false
	err := b.backend.Walk(ctx, args.GetOr("path", "."), func(rel string, info fs.FileInfo) error {
		if info.IsDir() {
			return nil
		}
		data, _, err := b.backend.Read(ctx, rel, b.opts.ReadMaxBytes)
		if err != nil {
			return nil
		}
		if !bytes.Contains(data, []byte(pattern)) {
			return nil
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), int(b.opts.ReadMaxBytes)+1)
		for n := 1; sc.Scan(); n++ {
			line := sc.Text()
			if !strings.Contains(line, pattern) {
				continue
			}
			if len(hits) == b.opts.SearchMaxHits {
				capped = true
				return errStopWalk
			}
			hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, n, strings.TrimSpace(line)))
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", err
	}
	if len(hits) == 0 {
		return fmt.Sprintf("no matches for %q", pattern), nil
	}
	out := strings.Join(hits, "\n")
	if capped {
		out += fmt.Sprintf("\n... (results truncated at %d hits)", b.opts.SearchMaxHits)
	}
	return out, nil
}

func (b builtins) findFile(ctx context.Context, args Args) (string, error) {
	name := strings.TrimSpace(args.Get("name"))
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: name must be a base name", schemas.ErrInvalidArguments)
	}
	var found string
	err := b.backend.Walk(ctx, ".", func(rel string, info fs.FileInfo) error {
		if !info.IsDir() && path.Base(rel) == name {
			found = rel
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", err
	}
	if found == "" {
		return "not found: " + name, nil
	}
	return found, nil
}

func (b builtins) writeFile(ctx context.Context, args Args) (string, error) {
	content := args.Get("content")
	if err := b.backend.Write(ctx, args.Get("path"), []byte(content)); err != nil {
		return "", err
	}
	clean, _ := sandbox.Clean(args.Get("path"))
	return fmt.Sprintf("wrote %d bytes to %s", len(content), clean), nil
}

func (b builtins) editFile(ctx context.Context, args Args) (string, error) {
	old := args.Get("old")
	if old == "" {
		return "", fmt.Errorf("%w: old must not be empty", schemas.ErrInvalidArguments)
	}
	data, _, err := b.backend.Read(ctx, args.Get("path"), 0)
	if err != nil {
		return "", err
	}
	content := string(data)
	switch n := strings.Count(content, old); n {
	case 1:
	case 0:
		return "", fmt.Errorf("%w: old text not found in %s", schemas.ErrInvalidArguments, args.Get("path"))
	default:
		return "", fmt.Errorf("%w: old text matches %d times in %s, it must match exactly once", schemas.ErrInvalidArguments, n, args.Get("path"))
	}
	updated := strings.Replace(content, old, args.Get("new"), 1)
	if err := b.backend.Write(ctx, args.Get("path"), []byte(updated)); err != nil {
		return "", err
	}
	clean, _ := sandbox.Clean(args.Get("path"))
	return "edited " + clean, nil
}

func (b builtins) deleteFile(ctx context.Context, args Args) (string, error) {
	if err := b.backend.Remove(ctx, args.Get("path")); err != nil {
		return "", err
	}
	clean, _ := sandbox.Clean(args.Get("path"))
	return "deleted " + clean, nil
}

func (b builtins) renameFile(ctx context.Context, args Args) (string, error) {
	if err := b.backend.Rename(ctx, args.Get("from"), args.Get("to")); err != nil {
		return "", err
	}
	from, _ := sandbox.Clean(args.Get("from"))
	to, _ := sandbox.Clean(args.Get("to"))
	return fmt.Sprintf("renamed %s to %s", from, to), nil
}
