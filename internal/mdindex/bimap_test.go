package mdindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBiMap_SetAndLookupBothDirections(t *testing.T) {
	m := newBiMap()
	m.set("row-1", "a.md")

	filename, ok := m.filenameFor("row-1")
	require.True(t, ok)
	require.Equal(t, "a.md", filename)

	rowID, ok := m.rowFor("a.md")
	require.True(t, ok)
	require.Equal(t, "row-1", rowID)
}

func TestBiMap_SetEvictsStaleReverseEntries(t *testing.T) {
	m := newBiMap()
	m.set("row-1", "a.md")
	m.set("row-1", "b.md") // row-1 renamed a.md -> b.md

	_, ok := m.rowFor("a.md")
	require.False(t, ok)

	rowID, ok := m.rowFor("b.md")
	require.True(t, ok)
	require.Equal(t, "row-1", rowID)
}

func TestBiMap_DeleteByRowClearsBothDirections(t *testing.T) {
	m := newBiMap()
	m.set("row-1", "a.md")

	filename, ok := m.deleteByRow("row-1")
	require.True(t, ok)
	require.Equal(t, "a.md", filename)

	_, ok = m.filenameFor("row-1")
	require.False(t, ok)
	_, ok = m.rowFor("a.md")
	require.False(t, ok)
}

func TestBiMap_DeleteByFilenameClearsBothDirections(t *testing.T) {
	m := newBiMap()
	m.set("row-1", "a.md")

	rowID, ok := m.deleteByFilename("a.md")
	require.True(t, ok)
	require.Equal(t, "row-1", rowID)

	_, ok = m.filenameFor("row-1")
	require.False(t, ok)
}

func TestBiMap_Clear(t *testing.T) {
	m := newBiMap()
	m.set("row-1", "a.md")
	m.set("row-2", "b.md")

	m.clear()

	_, ok := m.filenameFor("row-1")
	require.False(t, ok)
	_, ok = m.rowFor("b.md")
	require.False(t, ok)
}
