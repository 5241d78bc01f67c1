// Package mdindex implements the bidirectional markdown sync of
// spec.md §4.4 — the hardest subsystem in the spec. It maintains a
// row-id<->filename map per table, runs one fsnotify watcher across every
// table directory, and guards against sync loops: a processingFileChange
// flag for the synchronous file-import-to-CRDT direction, and a per-path
// pending-write counter for the asynchronously-echoed CRDT-to-file
// direction, per spec.md §4.4/§5.
package mdindex

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the {frontmatter, body, filename} shape a serialize function
// produces and a deserialize function consumes.
type File struct {
	Frontmatter map[string]any
	Body        string
	Filename    string
}

const delimiter = "---"

// parseFile splits raw markdown file content into frontmatter and body.
// Content without a leading "---\n" is treated as body-only with empty
// frontmatter, per spec.md §6.
func parseFile(data []byte, filename string) (File, error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") {
		return File{Frontmatter: map[string]any{}, Body: text, Filename: filename}, nil
	}

	rest := text[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter+"\n")
	if end == -1 {
		return File{}, fmt.Errorf("missing closing frontmatter delimiter")
	}

	rawFrontmatter := rest[:end]
	body := rest[end+len(delimiter)+2:]

	fm := map[string]any{}
	if strings.TrimSpace(rawFrontmatter) != "" {
		if err := yaml.Unmarshal([]byte(rawFrontmatter), &fm); err != nil {
			return File{}, fmt.Errorf("parse frontmatter: %w", err)
		}
	}
	return File{Frontmatter: fm, Body: body, Filename: filename}, nil
}

// render encodes a File back to the on-disk "---\nYAML\n---\nbody" shape.
func render(f File) ([]byte, error) {
	fmBytes, err := yaml.Marshal(f.Frontmatter)
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(delimiter)
	buf.WriteString("\n")
	buf.Write(fmBytes)
	buf.WriteString(delimiter)
	buf.WriteString("\n")
	buf.WriteString(f.Body)
	return buf.Bytes(), nil
}

// writeFileAtomic writes f to path via temp-file-and-rename so readers
// (including the fsnotify watcher on other directories) never observe a
// half-written file.
func writeFileAtomic(path string, f File) error {
	data, err := render(f)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mdindex-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// validFilename rejects path separators, per spec.md §4.4's filename
// invariant: every filename produced by serialize must be a plain name.
func validFilename(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && name != "." && name != ".."
}
