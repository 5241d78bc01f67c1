// Package action implements the thin Query/Mutation descriptors of
// spec.md §4.7: named, optionally-validated handlers that a workspace's
// exports factory assembles into its callable surface.
package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

// Handler is the signature every Query/Mutation wraps.
type Handler func(ctx context.Context, input map[string]any) xerrors.Result[map[string]any]

// Query is a read descriptor: a name, optional description, optional
// input schema, and a handler.
type Query struct {
	Name        string
	Description string
	Input       schema.TableSchema
	Handler     Handler
}

// Mutation is a write descriptor with the same shape as Query — spec.md
// §4.7 draws no structural distinction between the two beyond intent.
type Mutation struct {
	Name        string
	Description string
	Input       schema.TableSchema
	Handler     Handler
}

// Call validates input against q.Input (if set), invokes the handler
// with panic/error recovery, and tags any failure with the right Kind.
func (q Query) Call(ctx context.Context, input map[string]any) (result xerrors.Result[map[string]any]) {
	return call(q.Name, q.Input, q.Handler, ctx, input)
}

// Call validates input against m.Input (if set), invokes the handler
// with panic/error recovery, and tags any failure with the right Kind.
func (m Mutation) Call(ctx context.Context, input map[string]any) (result xerrors.Result[map[string]any]) {
	return call(m.Name, m.Input, m.Handler, ctx, input)
}

func call(name string, inputSchema schema.TableSchema, handler Handler, ctx context.Context, input map[string]any) (result xerrors.Result[map[string]any]) {
	if inputSchema != nil {
		validated := schema.Validate(inputSchema, schema.Row(input))
		if !validated.Valid {
			return xerrors.Fail[map[string]any](xerrors.New(xerrors.KindValidation, "action input failed validation",
				map[string]any{"action": name, "errors": validated.Errors}))
		}
		input = validated.Row
	}

	defer func() {
		if r := recover(); r != nil {
			result = xerrors.Fail[map[string]any](xerrors.New(xerrors.KindHandler, fmt.Sprintf("action %s panicked: %v", name, r),
				map[string]any{"action": name}))
		}
	}()

	result = handler(ctx, input)
	if !result.IsOk() && result.Err.Kind == "" {
		result.Err.Kind = xerrors.KindHandler
	}
	return result
}

// Namespace groups queries and mutations under nested "/"-joined name
// segments, per spec §6 (e.g. "posts/create", "markdown/pullToMarkdown").
type Namespace struct {
	segments  []string
	queries   map[string]Query
	mutations map[string]Mutation
	children  map[string]*Namespace
}

// NewNamespace builds a root namespace, or a child namespace when a
// parent's Child method is used instead.
func NewNamespace(segments ...string) *Namespace {
	return &Namespace{
		segments:  segments,
		queries:   map[string]Query{},
		mutations: map[string]Mutation{},
		children:  map[string]*Namespace{},
	}
}

// Child returns (creating if absent) the nested namespace at name.
func (n *Namespace) Child(name string) *Namespace {
	if child, ok := n.children[name]; ok {
		return child
	}
	child := NewNamespace(append(append([]string{}, n.segments...), name)...)
	n.children[name] = child
	return child
}

// AddQuery registers q under its own Name within this namespace.
func (n *Namespace) AddQuery(q Query) { n.queries[q.Name] = q }

// AddMutation registers m under its own Name within this namespace.
func (n *Namespace) AddMutation(m Mutation) { n.mutations[m.Name] = m }

// Path returns the namespace's full "/"-joined name path.
func (n *Namespace) Path() string { return strings.Join(n.segments, "/") }

// Resolve looks up a "/"-separated path (e.g. "posts/create") against
// this namespace's queries, mutations, and children.
func (n *Namespace) Resolve(path string) (Query, Mutation, bool, bool) {
	parts := strings.Split(path, "/")
	return n.resolveParts(parts)
}

func (n *Namespace) resolveParts(parts []string) (Query, Mutation, bool, bool) {
	if len(parts) == 0 {
		return Query{}, Mutation{}, false, false
	}
	if len(parts) == 1 {
		name := parts[0]
		if q, ok := n.queries[name]; ok {
			return q, Mutation{}, true, false
		}
		if m, ok := n.mutations[name]; ok {
			return Query{}, m, false, true
		}
		return Query{}, Mutation{}, false, false
	}
	child, ok := n.children[parts[0]]
	if !ok {
		return Query{}, Mutation{}, false, false
	}
	return child.resolveParts(parts[1:])
}

// Queries returns every query registered directly on this namespace.
func (n *Namespace) Queries() map[string]Query { return n.queries }

// Mutations returns every mutation registered directly on this namespace.
func (n *Namespace) Mutations() map[string]Mutation { return n.mutations }

// Children returns every direct child namespace.
func (n *Namespace) Children() map[string]*Namespace { return n.children }
