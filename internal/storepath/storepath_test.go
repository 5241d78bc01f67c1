package storepath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayout_ResolvesWorkspacePaths(t *testing.T) {
	dir := t.TempDir()
	layout, err := NewLayout(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, ".epicenter"), layout.Root().String())
	assert.Equal(t, filepath.Join(dir, ".epicenter", "notes.crdt"), layout.PersistenceFile("notes").String())
	assert.Equal(t, filepath.Join(dir, ".epicenter", "notes.db"), layout.SQLFile("notes").String())
	assert.Equal(t, filepath.Join(dir, ".epicenter", "notes", "posts"), layout.MarkdownTableDir("notes", "posts").String())
	assert.Equal(t, filepath.Join(dir, ".epicenter", "markdown", "notes.log"), layout.MarkdownLogFile("notes").String())
	assert.Equal(t, filepath.Join(dir, ".epicenter", "markdown", "notes-diagnostics.json"), layout.MarkdownDiagnosticsFile("notes").String())
}
