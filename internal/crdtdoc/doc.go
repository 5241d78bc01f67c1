// Package crdtdoc wraps a single CRDT document — one per workspace — that
// backs every table in that workspace (spec.md §4.1). The document itself
// is treated as an abstract collaborator per spec.md §1/§6; this package
// is the thin adapter between that abstraction and github.com/brunoga/deep/v3's
// generic CRDT[T] (diff-based patches, HLC clocks, LWW/state resolvers),
// grounded on other_examples/5bccb194_brunoga-deep__crdt-crdt.go.go.
package crdtdoc

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	crdtlib "github.com/brunoga/deep/v3/crdt"

	"github.com/epicenter-run/epicenter/internal/schema"
)

// Row is the CRDT-replicated representation of one record. Scalar and
// select fields live in Fields directly (diffed and merged
// last-writer-wins by the underlying library); rich-text and
// multi-select fields are kept out of Fields, in RichText (run
// identity) and MultiSelect (add-tags), per the field-level update
// algorithm of spec.md §4.1.
type Row struct {
	Fields      schema.Row
	RichText    map[string]RichText
	MultiSelect map[string]MultiSelect
}

// ToSerialized flattens a Row into the plain-value SerializedRow shape
// used by disk, network, and relational storage (spec.md's toJSON()).
func (r Row) ToSerialized() schema.Row {
	out := make(schema.Row, len(r.Fields)+len(r.RichText)+len(r.MultiSelect))
	for k, v := range r.Fields {
		out[k] = v
	}
	for k, v := range r.RichText {
		out[k] = v.String()
	}
	for k, v := range r.MultiSelect {
		out[k] = v.Values()
	}
	return out
}

// DocState is the value type replicated by the CRDT: every table's rows,
// keyed by table name then row id.
type DocState struct {
	Tables map[string]map[string]Row
}

// Document owns one CRDT document for one workspace.
type Document struct {
	nodeID string
	mu     sync.Mutex
	crdt   *crdtlib.CRDT[DocState]
	seq    atomic.Int64
}

// New constructs an empty document identified by nodeID, the replica
// identity used for HLC timestamps and rich-text run ids.
func New(nodeID string) *Document {
	return &Document{
		nodeID: nodeID,
		crdt:   crdtlib.NewCRDT(DocState{Tables: map[string]map[string]Row{}}, nodeID),
	}
}

// NodeID returns this document's replica identity.
func (d *Document) NodeID() string { return d.nodeID }

// NextCounter returns a monotonically increasing counter local to this
// document, used to stamp new rich-text runs and multi-select add-tags.
// Backed by an atomic rather than d.mu so it can be called from inside an
// Edit closure without deadlocking against the transaction lock.
func (d *Document) NextCounter() int64 {
	return d.seq.Add(1)
}

// EnsureTable registers an empty row bucket for table if one doesn't
// already exist. Safe to call repeatedly.
func (d *Document) EnsureTable(table string) {
	d.Edit(func(s *DocState) {
		if s.Tables == nil {
			s.Tables = map[string]map[string]Row{}
		}
		if _, ok := s.Tables[table]; !ok {
			s.Tables[table] = map[string]Row{}
		}
	})
}

// Edit runs fn inside an atomic transaction over the whole document.
// Only one Edit runs at a time per document (spec.md's "atomic
// transaction" requirement); fn must not retain *DocState beyond its call.
func (d *Document) Edit(fn func(*DocState)) crdtlib.Delta[DocState] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crdt.Edit(fn)
}

// View returns a deep copy of the current document state.
func (d *Document) View() DocState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crdt.View()
}

// Table returns a read-only snapshot of one table's rows. A missing
// table returns an empty, non-nil map.
func (d *Document) Table(table string) map[string]Row {
	state := d.View()
	if rows, ok := state.Tables[table]; ok {
		return rows
	}
	return map[string]Row{}
}

// ApplyDelta merges a remote delta using last-writer-wins resolution,
// for a future multi-replica extension; the core spec (§1 Non-goals)
// does not require multi-node consensus, but the underlying library
// supports it and nothing stops a caller from replicating deltas today.
func (d *Document) ApplyDelta(delta crdtlib.Delta[DocState]) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crdt.ApplyDelta(delta)
}

// Encode returns the byte-level document state for persistence
// (spec.md §4.2's "CRDT byte-state").
func (d *Document) Encode() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(d.crdt)
}

// Decode replaces the document's state from previously-Encode'd bytes.
func (d *Document) Decode(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Unmarshal(data, d.crdt)
}
