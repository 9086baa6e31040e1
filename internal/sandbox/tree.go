package sandbox

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Tree renders the directory structure below the sandbox root, at most
// maxDepth levels deep and maxFiles files per directory.
func (b *Backend) Tree(ctx context.Context, maxDepth, maxFiles int) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Directory structure (up to depth %d):\n", maxDepth)
	if err := b.treeLevel(ctx, &sb, ".", 0, maxDepth, maxFiles); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (b *Backend) treeLevel(ctx context.Context, sb *strings.Builder, dir string, level, maxDepth, maxFiles int) error {
	entries, err := b.List(ctx, dir)
	if err != nil {
		return err
	}

	if level == 0 {
		sb.WriteString("./\n")
	} else {
		sb.WriteString(strings.Repeat("│   ", level-1) + "├── " + path.Base(dir) + "/\n")
	}

	subIndent := strings.Repeat("│   ", level) + "├── "
	var dirs []string
	files := 0
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e.Name)
			continue
		}
		if strings.HasPrefix(e.Name, ".tandem-") {
			continue
		}
		files++
		if maxFiles <= 0 || files <= maxFiles {
			sb.WriteString(subIndent + e.Name + "\n")
		}
	}
	if maxFiles > 0 && files > maxFiles {
		fmt.Fprintf(sb, "%s... (+%d more)\n", subIndent, files-maxFiles)
	}

	if level >= maxDepth {
		if len(dirs) > 0 {
			sb.WriteString(strings.Repeat("│   ", level) + "└── ... (deeper folders omitted)\n")
		}
		return nil
	}
	for _, d := range dirs {
		child := d
		if dir != "." {
			child = dir + "/" + d
		}
		if err := b.treeLevel(ctx, sb, child, level+1, maxDepth, maxFiles); err != nil {
			return err
		}
	}
	return nil
}
