// Package table implements the per-table helper of spec.md §4.1: schema
// enforcement on entry, CRDT-backed storage, and observer fan-out.
package table

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/epicenter-run/epicenter/internal/crdtdoc"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

// Table is a named, schema-validated collection of rows inside one
// workspace's CRDT document.
type Table struct {
	doc     *crdtdoc.Document
	name    string
	schema  schema.TableSchema
	idField string
	log     zerolog.Logger

	mu        sync.Mutex
	observers map[int]Observer
	nextObsID int
}

// New wraps table `name` of doc, validating rows against s. The schema
// must declare exactly one Id field.
func New(doc *crdtdoc.Document, name string, s schema.TableSchema, log zerolog.Logger) *Table {
	doc.EnsureTable(name)
	idField, _ := s.IDField()
	return &Table{
		doc:       doc,
		name:      name,
		schema:    s,
		idField:   idField,
		log:       log,
		observers: map[int]Observer{},
	}
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// Schema returns the table's schema.
func (t *Table) Schema() schema.TableSchema { return t.schema }

// Observe registers o for add/update/delete notifications and returns a
// handle to cancel the registration. Callbacks registered after a
// mutation has already fired do not see that mutation.
func (t *Table) Observe(o Observer) Cancel {
	t.mu.Lock()
	id := t.nextObsID
	t.nextObsID++
	t.observers[id] = o
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

func (t *Table) snapshotObservers() []Observer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Observer, 0, len(t.observers))
	for _, o := range t.observers {
		out = append(out, o)
	}
	return out
}

func (t *Table) dispatchAdd(row schema.Row) {
	for _, o := range t.snapshotObservers() {
		o.OnAdd(row)
	}
}

func (t *Table) dispatchUpdate(row schema.Row) {
	for _, o := range t.snapshotObservers() {
		o.OnUpdate(row)
	}
}

func (t *Table) dispatchDelete(id string) {
	for _, o := range t.snapshotObservers() {
		o.OnDelete(id)
	}
}

// Insert adds a new row, failing with DuplicateId if id already exists.
func (t *Table) Insert(input schema.Row) xerrors.Result[schema.Row] {
	validated := schema.Validate(t.schema, input)
	if !validated.Valid {
		return xerrors.Fail[schema.Row](xerrors.New(xerrors.KindValidation, "row failed validation",
			map[string]any{"table": t.name, "errors": validated.Errors}))
	}
	id, _ := validated.Row[t.idField].(string)

	var duplicate bool
	t.doc.Edit(func(s *crdtdoc.DocState) {
		rows := t.rowsLocked(s)
		if _, exists := rows[id]; exists {
			duplicate = true
			return
		}
		rows[id] = t.toCRDTRow(validated.Row, nil)
	})
	if duplicate {
		return xerrors.Fail[schema.Row](xerrors.New(xerrors.KindDuplicateID, "row already exists",
			map[string]any{"table": t.name, "id": id}))
	}

	t.dispatchAdd(validated.Row)
	return xerrors.Ok(validated.Row)
}

// Upsert inserts if absent, or fully replaces the row if present.
func (t *Table) Upsert(input schema.Row) xerrors.Result[schema.Row] {
	validated := schema.Validate(t.schema, input)
	if !validated.Valid {
		return xerrors.Fail[schema.Row](xerrors.New(xerrors.KindValidation, "row failed validation",
			map[string]any{"table": t.name, "errors": validated.Errors}))
	}
	id, _ := validated.Row[t.idField].(string)

	var existed bool
	t.doc.Edit(func(s *crdtdoc.DocState) {
		rows := t.rowsLocked(s)
		prev, existedLocal := rows[id]
		existed = existedLocal
		if existedLocal {
			rows[id] = t.toCRDTRow(validated.Row, &prev)
		} else {
			rows[id] = t.toCRDTRow(validated.Row, nil)
		}
	})

	if existed {
		t.dispatchUpdate(validated.Row)
	} else {
		t.dispatchAdd(validated.Row)
	}
	return xerrors.Ok(validated.Row)
}

// Update applies a partial, field-level diff to the existing row id.
// It returns NotFound if no such row exists, or ValidationError if the
// merged row fails the schema.
func (t *Table) Update(id string, partial schema.Row) xerrors.Result[schema.Row] {
	var (
		notFound bool
		merged   schema.Row
	)

	t.doc.Edit(func(s *crdtdoc.DocState) {
		rows := t.rowsLocked(s)
		prev, exists := rows[id]
		if !exists {
			notFound = true
			return
		}

		current := prev.ToSerialized()
		for k, v := range partial {
			current[k] = v
		}
		current[t.idField] = id

		validated := schema.Validate(t.schema, current)
		if !validated.Valid {
			merged = nil
			return
		}
		merged = validated.Row
		rows[id] = t.toCRDTRow(validated.Row, &prev)
	})

	if notFound {
		return xerrors.Fail[schema.Row](xerrors.New(xerrors.KindNotFound, "row not found",
			map[string]any{"table": t.name, "id": id}))
	}
	if merged == nil {
		return xerrors.Fail[schema.Row](xerrors.New(xerrors.KindValidation, "row failed validation after update",
			map[string]any{"table": t.name, "id": id}))
	}

	t.dispatchUpdate(merged)
	return xerrors.Ok(merged)
}

// Delete removes a row. No error if the id is absent.
func (t *Table) Delete(id string) xerrors.Result[struct{}] {
	var existed bool
	t.doc.Edit(func(s *crdtdoc.DocState) {
		rows := t.rowsLocked(s)
		if _, ok := rows[id]; ok {
			existed = true
			delete(rows, id)
		}
	})
	if existed {
		t.dispatchDelete(id)
	}
	return xerrors.Ok(struct{}{})
}

// Clear removes every row in one transaction, firing one onDelete per
// row in ascending id order.
func (t *Table) Clear() {
	var ids []string
	t.doc.Edit(func(s *crdtdoc.DocState) {
		rows := t.rowsLocked(s)
		for id := range rows {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			delete(rows, id)
		}
	})
	for _, id := range ids {
		t.dispatchDelete(id)
	}
}

// Get returns the current value of one row.
func (t *Table) Get(id string) xerrors.Result[schema.Row] {
	rows := t.doc.Table(t.name)
	row, ok := rows[id]
	if !ok {
		return xerrors.Fail[schema.Row](xerrors.New(xerrors.KindNotFound, "row not found",
			map[string]any{"table": t.name, "id": id}))
	}
	return xerrors.Ok(row.ToSerialized())
}

// Has reports whether id exists in the table.
func (t *Table) Has(id string) bool {
	_, ok := t.doc.Table(t.name)[id]
	return ok
}

// GetAll returns every row currently in the table.
func (t *Table) GetAll() []schema.Row {
	rows := t.doc.Table(t.name)
	out := make([]schema.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToSerialized())
	}
	return out
}

func (t *Table) rowsLocked(s *crdtdoc.DocState) map[string]crdtdoc.Row {
	if s.Tables == nil {
		s.Tables = map[string]map[string]crdtdoc.Row{}
	}
	rows, ok := s.Tables[t.name]
	if !ok {
		rows = map[string]crdtdoc.Row{}
		s.Tables[t.name] = rows
	}
	return rows
}

// toCRDTRow splits a flat, validated schema.Row into the CRDT
// representation, merging rich-text and multi-select fields against the
// previous value (if any) so their identity/history survives the write,
// per spec.md §4.1's field-level update algorithm.
func (t *Table) toCRDTRow(flat schema.Row, prev *crdtdoc.Row) crdtdoc.Row {
	fields := make(schema.Row, len(flat))
	richText := make(map[string]crdtdoc.RichText)
	multi := make(map[string]crdtdoc.MultiSelect)

	for name, f := range t.schema {
		v := flat[name]
		switch f.Kind {
		case schema.KindRichText:
			text, _ := v.(string)
			counter := t.doc.NextCounter()
			if prev != nil {
				if existing, ok := prev.RichText[name]; ok {
					richText[name] = existing.ReplaceAll(t.doc.NodeID(), counter, text)
					continue
				}
			}
			richText[name] = crdtdoc.NewRichText(t.doc.NodeID(), text)
		case schema.KindMultiSelect:
			values, _ := v.([]string)
			counter := t.doc.NextCounter()
			if prev != nil {
				if existing, ok := prev.MultiSelect[name]; ok {
					multi[name] = existing.ApplyDiff(values, t.doc.NodeID(), counter)
					continue
				}
			}
			multi[name] = crdtdoc.NewMultiSelect(values, t.doc.NodeID(), counter)
		default:
			fields[name] = v
		}
	}

	return crdtdoc.Row{Fields: fields, RichText: richText, MultiSelect: multi}
}
