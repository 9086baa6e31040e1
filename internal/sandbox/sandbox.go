// Package sandbox is the filesystem both agents share. Every path is relative to
// a fixed root; anything that could leave the root is rejected before the
// filesystem is touched.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// Entry is one directory listing row.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// WalkFunc is called for every entry below the walk root with its
// sandbox-relative, slash-separated path.
type WalkFunc func(rel string, info fs.FileInfo) error

// Backend performs filesystem primitives inside the sandbox root. It holds no
// per-call state, so one Backend is shared by all agents and sessions.
type Backend struct {
	fs     afero.Fs
	root   string
	onDisk bool
	logger *zap.Logger

	// protected host files, such as the audit log, that agents may not touch
	// even when they sit under root.
	protected []string
}

// NewOS returns a Backend over the directory root on the local disk.
func NewOS(root string, logger *zap.Logger) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox root unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", abs)
	}
	return &Backend{
		fs:     afero.NewBasePathFs(afero.NewOsFs(), abs),
		root:   abs,
		onDisk: true,
		logger: logger.Named("sandbox"),
	}, nil
}

// NewMemory returns a Backend over an in-memory filesystem. root is only used
// for display.
func NewMemory(root string, logger *zap.Logger) *Backend {
	return New(afero.NewMemMapFs(), root, logger)
}

// New wraps an arbitrary afero filesystem whose "/" is the sandbox root.
func New(fsys afero.Fs, root string, logger *zap.Logger) *Backend {
	return &Backend{fs: fsys, root: root, logger: logger.Named("sandbox")}
}

// Root returns the sandbox root used for display and audit banners.
func (b *Backend) Root() string { return b.root }

// Fs exposes the underlying filesystem, for seeding tests and dry runs.
func (b *Backend) Fs() afero.Fs { return b.fs }

// Protect makes the host files in paths unreachable through the backend.
// Operations on one of them, or on one of its rotated backups, fail with
// ErrPathEscape. It only affects on-disk backends and must be called before
// the backend is shared.
func (b *Backend) Protect(paths ...string) {
	if !b.onDisk {
		return
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		b.protected = append(b.protected, abs)
		b.logger.Debug("Protecting host file", zap.String("path", abs))
	}
}

// isProtected reports whether host is a protected file or a lumberjack backup
// of one (name-<timestamp>.ext, optionally gzipped).
func (b *Backend) isProtected(host string) bool {
	for _, p := range b.protected {
		if host == p {
			return true
		}
		if filepath.Dir(host) != filepath.Dir(p) {
			continue
		}
		ext := filepath.Ext(p)
		stem := strings.TrimSuffix(filepath.Base(p), ext)
		base := strings.TrimSuffix(filepath.Base(host), ".gz")
		if strings.HasPrefix(base, stem+"-") && strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

// holdsProtected reports whether the directory host contains a protected file.
func (b *Backend) holdsProtected(host string) bool {
	for _, p := range b.protected {
		if strings.HasPrefix(p, host+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Clean validates a sandbox-relative path and returns its normalized,
// slash-separated form ("." for the root). Absolute paths, home-relative paths,
// drive letters and any ".." segment fail with ErrPathEscape.
func Clean(rel string) (string, error) {
	p := strings.TrimSpace(rel)
	if p == "" || p == "." || p == "./" {
		return ".", nil
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "~") || filepath.VolumeName(p) != "" || hasDriveLetter(p) {
		return "", fmt.Errorf("%w: %q is not relative to the sandbox root", schemas.ErrPathEscape, rel)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q contains a parent segment", schemas.ErrPathEscape, rel)
		}
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q contains a NUL byte", schemas.ErrPathEscape, rel)
	}
	return path.Clean(p), nil
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

// resolve turns a validated relative path into the name used on b.fs. On disk,
// symlinks are resolved with securejoin so a link can never lead out of root.
func (b *Backend) resolve(rel string) (string, string, error) {
	clean, err := Clean(rel)
	if err != nil {
		return "", "", err
	}
	if !b.onDisk {
		if clean == "." {
			return clean, "/", nil
		}
		return clean, "/" + clean, nil
	}

	joined, err := securejoin.SecureJoin(b.root, filepath.FromSlash(clean))
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", schemas.ErrPathEscape, rel, err)
	}
	inner, err := filepath.Rel(b.root, joined)
	if err != nil || inner == ".." || strings.HasPrefix(inner, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q", schemas.ErrPathEscape, rel)
	}
	if b.isProtected(joined) {
		return "", "", fmt.Errorf("%w: %q is reserved for logs", schemas.ErrPathEscape, rel)
	}
	if inner == "." {
		return clean, "/", nil
	}
	return clean, "/" + filepath.ToSlash(inner), nil
}

func notFound(rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", schemas.ErrNotFound, rel)
	}
	return err
}

// Stat returns file info for rel.
func (b *Backend) Stat(ctx context.Context, rel string) (fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, name, err := b.resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := b.fs.Stat(name)
	if err != nil {
		return nil, notFound(clean, err)
	}
	return info, nil
}

// Read returns at most limit bytes of the file at rel (limit <= 0 reads all)
// and whether the content was cut short.
func (b *Backend) Read(ctx context.Context, rel string, limit int64) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	clean, name, err := b.resolve(rel)
	if err != nil {
		return nil, false, err
	}
	info, err := b.fs.Stat(name)
	if err != nil {
		return nil, false, notFound(clean, err)
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("%s is a directory", clean)
	}

	f, err := b.fs.Open(name)
	if err != nil {
		return nil, false, notFound(clean, err)
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", clean, err)
	}
	return data, limit > 0 && info.Size() > limit, nil
}

// List returns the entries of the directory at rel, directories first, each
// group sorted by name.
func (b *Backend) List(ctx context.Context, rel string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, name, err := b.resolve(rel)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(b.fs, name)
	if err != nil {
		if _, statErr := b.fs.Stat(name); statErr != nil {
			return nil, notFound(clean, statErr)
		}
		return nil, fmt.Errorf("failed to list %s: %w", clean, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{Name: info.Name(), IsDir: info.IsDir(), Size: info.Size()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Write replaces the file at rel with data. The content is written to a
// temporary sibling and renamed into place, so readers never observe a partial
// file and a canceled write leaves nothing behind.
func (b *Backend) Write(ctx context.Context, rel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, name, err := b.resolve(rel)
	if err != nil {
		return err
	}
	if clean == "." {
		return fmt.Errorf("%w: cannot write to the sandbox root", schemas.ErrInvalidArguments)
	}
	if info, err := b.fs.Stat(name); err == nil && info.IsDir() {
		return fmt.Errorf("%s is a directory", clean)
	}

	dir := path.Dir(name)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", clean, err)
	}

	tmp, err := afero.TempFile(b.fs, dir, ".tandem-*")
	if err != nil {
		return fmt.Errorf("failed to stage write for %s: %w", clean, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = b.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", clean, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.fs.Rename(tmpName, name); err != nil {
		return fmt.Errorf("failed to commit %s: %w", clean, err)
	}
	committed = true
	b.logger.Debug("Wrote file", zap.String("path", clean), zap.Int("bytes", len(data)))
	return nil
}

// Remove deletes the file or empty directory at rel.
func (b *Backend) Remove(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, name, err := b.resolve(rel)
	if err != nil {
		return err
	}
	if clean == "." {
		return fmt.Errorf("%w: cannot delete the sandbox root", schemas.ErrInvalidArguments)
	}
	if _, err := b.fs.Stat(name); err != nil {
		return notFound(clean, err)
	}
	if err := b.fs.Remove(name); err != nil {
		return fmt.Errorf("failed to delete %s: %w", clean, err)
	}
	b.logger.Debug("Deleted path", zap.String("path", clean))
	return nil
}

// Rename moves from to to. The destination must not exist.
func (b *Backend) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanFrom, src, err := b.resolve(from)
	if err != nil {
		return err
	}
	cleanTo, dst, err := b.resolve(to)
	if err != nil {
		return err
	}
	if cleanFrom == "." || cleanTo == "." {
		return fmt.Errorf("%w: cannot rename the sandbox root", schemas.ErrInvalidArguments)
	}
	if b.onDisk && b.holdsProtected(filepath.Join(b.root, filepath.FromSlash(src))) {
		return fmt.Errorf("%w: %q holds files reserved for logs", schemas.ErrPathEscape, from)
	}
	if _, err := b.fs.Stat(src); err != nil {
		return notFound(cleanFrom, err)
	}
	if _, err := b.fs.Stat(dst); err == nil {
		return fmt.Errorf("%w: destination %s already exists", schemas.ErrInvalidArguments, cleanTo)
	}
	if err := b.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", cleanTo, err)
	}
	if err := b.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", cleanFrom, cleanTo, err)
	}
	b.logger.Debug("Renamed path", zap.String("from", cleanFrom), zap.String("to", cleanTo))
	return nil
}

// Walk visits rel and everything below it in lexical order. It stops with
// ctx.Err() as soon as the context is done.
func (b *Backend) Walk(ctx context.Context, rel string, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, name, err := b.resolve(rel)
	if err != nil {
		return err
	}
	if _, err := b.fs.Stat(name); err != nil {
		return notFound(clean, err)
	}

	return afero.Walk(b.fs, name, func(p string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return err
		}
		relPath := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if relPath == "" {
			relPath = "."
		}
		if strings.HasPrefix(path.Base(relPath), ".tandem-") {
			return nil
		}
		return fn(relPath, info)
	})
}
