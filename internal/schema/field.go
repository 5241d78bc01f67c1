// Package schema declares table field descriptors and the row validator
// that enforces them (spec.md §3, §4.1).
package schema

// FieldKind is the declared type of a field descriptor.
type FieldKind string

const (
	KindID          FieldKind = "id"
	KindText        FieldKind = "text"
	KindRichText    FieldKind = "richtext"
	KindInteger     FieldKind = "integer"
	KindReal        FieldKind = "real"
	KindBoolean     FieldKind = "boolean"
	KindTimestamp   FieldKind = "timestamp"
	KindSelect      FieldKind = "select"
	KindMultiSelect FieldKind = "multiselect"
)

// Field describes one column of a table schema.
type Field struct {
	Kind FieldKind

	// Nullable permits the field to be absent or explicitly null.
	Nullable bool

	// Default is applied when the field is absent from an input row.
	Default any

	// Options enumerates the allowed values for Select/MultiSelect.
	Options []string

	// AutoGenerate marks the Id field as eligible for server-side
	// uuid.New() generation when omitted from an insert/upsert input
	// (a SPEC_FULL addition — see SPEC_FULL.md §3).
	AutoGenerate bool
}

// TableSchema maps field name to descriptor. Exactly one field must have
// Kind == KindID.
type TableSchema map[string]Field

// IDField returns the name of the schema's primary-key field.
func (s TableSchema) IDField() (string, bool) {
	for name, f := range s {
		if f.Kind == KindID {
			return name, true
		}
	}
	return "", false
}

// Omit returns a copy of the schema with the given fields removed,
// satisfying the external Validator.omit contract of spec.md §6.
func (s TableSchema) Omit(fields ...string) TableSchema {
	drop := make(map[string]bool, len(fields))
	for _, f := range fields {
		drop[f] = true
	}
	out := make(TableSchema, len(s))
	for name, f := range s {
		if drop[name] {
			continue
		}
		out[name] = f
	}
	return out
}

// Clone returns a shallow copy of the schema.
func (s TableSchema) Clone() TableSchema {
	out := make(TableSchema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
