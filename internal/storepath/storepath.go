// Package storepath resolves the on-disk layout under an .epicenter/
// directory (spec.md §4.6, §6). AbsPath is a branded absolute-path type,
// the way the teacher prefers small typed wrappers (session.Session's
// tagged fields) over bare strings passed around by convention.
package storepath

import (
	"fmt"
	"os"
	"path/filepath"
)

// AbsPath is a validated absolute filesystem path.
type AbsPath struct {
	path string
}

// NewAbsPath validates and wraps p as an AbsPath, resolving it against
// the process working directory if relative.
func NewAbsPath(p string) (AbsPath, error) {
	if p == "" {
		wd, err := os.Getwd()
		if err != nil {
			return AbsPath{}, fmt.Errorf("resolve working directory: %w", err)
		}
		p = wd
	}
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return AbsPath{}, fmt.Errorf("resolve absolute path for %q: %w", p, err)
		}
		p = abs
	}
	return AbsPath{path: filepath.Clean(p)}, nil
}

// String returns the underlying path.
func (a AbsPath) String() string { return a.path }

// Join appends path segments, mirroring filepath.Join.
func (a AbsPath) Join(segments ...string) AbsPath {
	return AbsPath{path: filepath.Join(append([]string{a.path}, segments...)...)}
}

// Layout resolves the fixed set of paths under one storage directory's
// .epicenter/ subtree (spec.md §6).
type Layout struct {
	root AbsPath
}

// NewLayout roots a Layout at storageDir (default: process cwd), creating
// the .epicenter/ directory if it doesn't already exist.
func NewLayout(storageDir string) (*Layout, error) {
	base, err := NewAbsPath(storageDir)
	if err != nil {
		return nil, err
	}
	root := base.Join(".epicenter")
	if err := os.MkdirAll(root.String(), 0o755); err != nil {
		return nil, fmt.Errorf("create epicenter dir: %w", err)
	}
	return &Layout{root: root}, nil
}

// Root returns the .epicenter/ directory itself.
func (l *Layout) Root() AbsPath { return l.root }

// PersistenceFile returns <epicenter-dir>/<workspace-id>.crdt.
func (l *Layout) PersistenceFile(workspaceID string) AbsPath {
	return l.root.Join(workspaceID + ".crdt")
}

// SQLFile returns <epicenter-dir>/<workspace-id>.db.
func (l *Layout) SQLFile(workspaceID string) AbsPath {
	return l.root.Join(workspaceID + ".db")
}

// MarkdownRoot returns <epicenter-dir>/<workspace-id>/, the markdown
// index's directory for one workspace.
func (l *Layout) MarkdownRoot(workspaceID string) AbsPath {
	return l.root.Join(workspaceID)
}

// MarkdownTableDir returns <epicenter-dir>/<workspace-id>/<table>/.
func (l *Layout) MarkdownTableDir(workspaceID, table string) AbsPath {
	return l.MarkdownRoot(workspaceID).Join(table)
}

// MarkdownLogFile returns <epicenter-dir>/markdown/<workspace-id>.log.
func (l *Layout) MarkdownLogFile(workspaceID string) AbsPath {
	return l.root.Join("markdown", workspaceID+".log")
}

// MarkdownDiagnosticsFile returns
// <epicenter-dir>/markdown/<workspace-id>-diagnostics.json.
func (l *Layout) MarkdownDiagnosticsFile(workspaceID string) AbsPath {
	return l.root.Join("markdown", workspaceID+"-diagnostics.json")
}
