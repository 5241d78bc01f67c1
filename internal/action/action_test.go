package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

func echoMutation() Mutation {
	return Mutation{
		Name: "echo",
		Input: schema.TableSchema{
			"id":      {Kind: schema.KindID},
			"message": {Kind: schema.KindText},
		},
		Handler: func(ctx context.Context, input map[string]any) xerrors.Result[map[string]any] {
			return xerrors.Ok(input)
		},
	}
}

func TestMutation_Call_ValidInput(t *testing.T) {
	m := echoMutation()
	result := m.Call(context.Background(), map[string]any{"id": "a", "message": "hi"})
	require.True(t, result.IsOk())
	require.Equal(t, "hi", result.Value["message"])
}

func TestMutation_Call_InvalidInputIsValidationError(t *testing.T) {
	m := echoMutation()
	result := m.Call(context.Background(), map[string]any{"id": "a"})
	require.False(t, result.IsOk())
	require.Equal(t, xerrors.KindValidation, result.Err.Kind)
}

func TestMutation_Call_PanicBecomesHandlerError(t *testing.T) {
	m := Mutation{
		Name: "boom",
		Handler: func(ctx context.Context, input map[string]any) xerrors.Result[map[string]any] {
			panic("kaboom")
		},
	}
	result := m.Call(context.Background(), map[string]any{})
	require.False(t, result.IsOk())
	require.Equal(t, xerrors.KindHandler, result.Err.Kind)
}

func TestNamespace_NestedResolve(t *testing.T) {
	root := NewNamespace()
	posts := root.Child("posts")
	posts.AddMutation(echoMutation())

	q, m, isQuery, isMutation := root.Resolve("posts/echo")
	require.False(t, isQuery)
	require.True(t, isMutation)
	require.Equal(t, "echo", m.Name)
	_ = q
}

func TestNamespace_ResolveMissingPath(t *testing.T) {
	root := NewNamespace()
	_, _, isQuery, isMutation := root.Resolve("nope/nothing")
	require.False(t, isQuery)
	require.False(t, isMutation)
}
