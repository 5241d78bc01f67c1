package crdtdoc

import (
	"sort"
	"strings"
)

// RunID identifies one edit run by its originating node and that node's
// local edit counter, the way brunoga/deep's example CRDT package
// identifies text runs by (NodeID, WallTime/Logical) pairs.
type RunID struct {
	NodeID  string
	Counter int64
}

// TextRun is one contiguous span of rich text contributed by a single
// edit. Runs are never mutated in place once created; an edit either
// appends a new run or tombstones an existing one, so concurrent edits
// from different replicas merge by union instead of clobbering.
type TextRun struct {
	ID      RunID
	Seq     int64
	Value   string
	Deleted bool
}

// RichText is an ordered, mergeable text value: the CRDT representation
// of a spec.md RichText field. Preserving run identity across updates is
// what lets concurrent edits to different parts of the text merge
// instead of one full-string overwrite clobbering the other.
type RichText struct {
	Runs []TextRun
}

// NewRichText seeds a RichText with a single run holding the full value.
func NewRichText(nodeID, text string) RichText {
	return RichText{Runs: []TextRun{{ID: RunID{NodeID: nodeID, Counter: 0}, Seq: 0, Value: text}}}
}

// String reconstructs the live text by concatenating non-deleted runs in
// sequence order.
func (r RichText) String() string {
	sorted := append([]TextRun(nil), r.Runs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var b strings.Builder
	for _, run := range sorted {
		if !run.Deleted {
			b.WriteString(run.Value)
		}
	}
	return b.String()
}

func (r RichText) nextSeq() int64 {
	var max int64 = -1
	for _, run := range r.Runs {
		if run.Seq > max {
			max = run.Seq
		}
	}
	return max + 1
}

// ReplaceAll tombstones every existing run and appends one new run
// holding the replacement text. Used when an update's source text is a
// whole-field replacement (the common case for frontmatter edits) rather
// than an incremental delta.
func (r RichText) ReplaceAll(nodeID string, counter int64, text string) RichText {
	out := make([]TextRun, 0, len(r.Runs)+1)
	for _, run := range r.Runs {
		run.Deleted = true
		out = append(out, run)
	}
	out = append(out, TextRun{
		ID:    RunID{NodeID: nodeID, Counter: counter},
		Seq:   r.nextSeq(),
		Value: text,
	})
	return RichText{Runs: out}
}

// MergeRichText unions two replicas' runs by ID, with tombstones sticky:
// if either side deleted a run, the merged result keeps it deleted. This
// mirrors the run-union strategy in brunoga/deep's example CRDT text
// merge (mergeTextRuns), simplified from split-and-rejoin to plain
// append-only runs since Epicenter never splits a run mid-span.
func MergeRichText(a, b RichText) RichText {
	combined := make(map[RunID]TextRun, len(a.Runs)+len(b.Runs))
	for _, run := range a.Runs {
		combined[run.ID] = run
	}
	for _, run := range b.Runs {
		if existing, ok := combined[run.ID]; ok {
			if run.Deleted {
				existing.Deleted = true
			}
			combined[run.ID] = existing
		} else {
			combined[run.ID] = run
		}
	}

	out := make([]TextRun, 0, len(combined))
	for _, run := range combined {
		out = append(out, run)
	}
	return RichText{Runs: out}
}
