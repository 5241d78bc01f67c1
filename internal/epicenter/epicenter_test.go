package epicenter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epicenter-run/epicenter/internal/persistence"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/storepath"
	"github.com/epicenter-run/epicenter/internal/workspace"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

func fileProvider(layout *storepath.Layout, workspaceID string) (persistence.Provider, error) {
	return persistence.NewFileProvider(layout.PersistenceFile(workspaceID).String()), nil
}

func notesConfig(id string) workspace.Config {
	return workspace.Config{
		ID: id,
		Schemas: map[string]schema.TableSchema{
			"notes": {"id": {Kind: schema.KindID, AutoGenerate: true}, "title": {Kind: schema.KindText}},
		},
		Providers: []workspace.ProviderFactory{fileProvider},
	}
}

func TestNew_BuildsInDependencyOrder(t *testing.T) {
	opts := Options{
		StorageDir: t.TempDir(),
		Workspaces: map[string]Definition{
			"a": {Config: notesConfig("a")},
			"b": {Config: notesConfig("b"), Depends: []string{"a"}},
			"c": {Config: notesConfig("c"), Depends: []string{"b"}},
		},
	}

	client, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer client.Destroy()

	require.Equal(t, []string{"a", "b", "c"}, client.order)
}

func TestNew_MissingDependencyErrors(t *testing.T) {
	opts := Options{
		StorageDir: t.TempDir(),
		Workspaces: map[string]Definition{
			"a": {Config: notesConfig("a"), Depends: []string{"ghost"}},
		},
	}

	_, err := New(context.Background(), opts)
	require.True(t, xerrors.IsKind(err, xerrors.KindMissingDependency))
}

func TestNew_CycleErrors(t *testing.T) {
	opts := Options{
		StorageDir: t.TempDir(),
		Workspaces: map[string]Definition{
			"a": {Config: notesConfig("a"), Depends: []string{"b"}},
			"b": {Config: notesConfig("b"), Depends: []string{"a"}},
		},
	}

	_, err := New(context.Background(), opts)
	require.True(t, xerrors.IsKind(err, xerrors.KindDependencyCycle))
}
