package table

import "github.com/epicenter-run/epicenter/internal/schema"

// Observer receives validated row events from a Table, fired synchronously
// after the owning Document.Edit transaction commits (spec.md §4.1's
// observer ordering contract).
type Observer interface {
	OnAdd(row schema.Row)
	OnUpdate(row schema.Row)
	OnDelete(id string)
}

// Funcs adapts plain functions to the Observer interface, the way the
// teacher's core.ModuleManager.OnChange takes a bare func(event string)
// rather than requiring callers to define a named type.
type Funcs struct {
	OnAddFunc    func(schema.Row)
	OnUpdateFunc func(schema.Row)
	OnDeleteFunc func(id string)
}

func (f Funcs) OnAdd(row schema.Row) {
	if f.OnAddFunc != nil {
		f.OnAddFunc(row)
	}
}

func (f Funcs) OnUpdate(row schema.Row) {
	if f.OnUpdateFunc != nil {
		f.OnUpdateFunc(row)
	}
}

func (f Funcs) OnDelete(id string) {
	if f.OnDeleteFunc != nil {
		f.OnDeleteFunc(id)
	}
}

// Cancel unregisters an observer previously returned by Table.Observe.
type Cancel func()
