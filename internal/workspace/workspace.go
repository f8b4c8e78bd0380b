// Package workspace confines all file access to the session's project
// directory. Every path from a tool call or UI message passes through
// ValidatePath before anything touches the filesystem.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrOutsideRoot is wrapped by validation failures for escaping paths.
var ErrOutsideRoot = errors.New("path resolves outside the project directory")

// Workspace is a read-only view over one project directory.
type Workspace struct {
	root string
}

// New creates a workspace rooted at dir. dir must exist; symlinks in it
// are resolved once so later containment checks compare real paths.
func New(dir string) (*Workspace, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("project directory must be absolute: %s", dir)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path is not a directory: %s", dir)
	}
	return &Workspace{root: resolved}, nil
}

// Root returns the resolved project directory.
func (w *Workspace) Root() string { return w.root }

// ValidatePath resolves a workspace-relative (or absolute) path and
// guarantees the result stays inside the root. Traversal components are
// allowed as long as the cleaned path does not escape.
func (w *Workspace) ValidatePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if strings.ContainsRune(path, 0) {
		return "", errors.New("path contains NUL byte")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, abs)
	}
	abs = filepath.Clean(abs)

	if !w.contains(abs) {
		return "", fmt.Errorf("%q: %w", path, ErrOutsideRoot)
	}

	// A symlink inside the tree may still point out of it.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		if !w.contains(resolved) {
			return "", fmt.Errorf("%q: %w", path, ErrOutsideRoot)
		}
		abs = resolved
	}
	return abs, nil
}

func (w *Workspace) contains(abs string) bool {
	return abs == w.root || strings.HasPrefix(abs, w.root+string(filepath.Separator))
}

// ReadFile returns the on-disk content of a validated path.
func (w *Workspace) ReadFile(path string) (string, error) {
	abs, err := w.ValidatePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Rel converts a validated absolute path back to workspace-relative form.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// ignoredDirs are skipped when walking the tree.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".next":        true,
	"dist":         true,
	"__pycache__":  true,
}

// TreeNode is one entry in the project file tree sent to the UI.
type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"` // file | directory
	Children []*TreeNode `json:"children,omitempty"`
}

// Tree walks the project and returns its file tree, directories first,
// names sorted, ignored directories pruned.
func (w *Workspace) Tree() (*TreeNode, error) {
	return w.buildTree(w.root)
}

func (w *Workspace) buildTree(dir string) (*TreeNode, error) {
	node := &TreeNode{
		Name: filepath.Base(dir),
		Path: w.Rel(dir),
		Type: "directory",
	}
	if dir == w.root {
		node.Path = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			if ignoredDirs[entry.Name()] || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			child, err := w.buildTree(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			node.Children = append(node.Children, child)
			continue
		}
		node.Children = append(node.Children, &TreeNode{
			Name: entry.Name(),
			Path: w.Rel(filepath.Join(dir, entry.Name())),
			Type: "file",
		})
	}
	return node, nil
}

// ListFiles returns workspace-relative file paths under a validated
// directory, non-recursive when recurse is false.
func (w *Workspace) ListFiles(path string, recurse bool) ([]string, error) {
	abs, err := w.ValidatePath(path)
	if err != nil {
		return nil, err
	}

	var files []string
	if !recurse {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			files = append(files, w.Rel(filepath.Join(abs, entry.Name())))
		}
		sort.Strings(files)
		return files, nil
	}

	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] || (strings.HasPrefix(d.Name(), ".") && p != abs) {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, w.Rel(p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
