package crdtdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRichText_ReplaceAllPreservesNoStaleRuns(t *testing.T) {
	rt := NewRichText("node-a", "Original content")
	rt = rt.ReplaceAll("node-a", 1, "Updated content via file")

	assert.Equal(t, "Updated content via file", rt.String())
}

func TestMergeRichText_UnionsConcurrentEdits(t *testing.T) {
	base := NewRichText("node-a", "hello")

	a := base.ReplaceAll("node-a", 1, "hello world")
	b := base
	b.Runs = append(append([]TextRun(nil), b.Runs...), TextRun{
		ID:    RunID{NodeID: "node-b", Counter: 1},
		Seq:   1,
		Value: "!",
	})

	merged := MergeRichText(a, b)

	// The base run is tombstoned by a's replace; b's appended run
	// survives because neither side deleted it.
	assert.Contains(t, merged.Runs, TextRun{ID: RunID{NodeID: "node-b", Counter: 1}, Seq: 1, Value: "!"})
}

func TestRow_ToSerialized_FlattensRichText(t *testing.T) {
	row := Row{
		Fields: map[string]any{"title": "Bidirectional Sync Test"},
		RichText: map[string]RichText{
			"content": NewRichText("node-a", "Original content"),
		},
	}

	serialized := row.ToSerialized()

	assert.Equal(t, "Bidirectional Sync Test", serialized["title"])
	assert.Equal(t, "Original content", serialized["content"])
}
