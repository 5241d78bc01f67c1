package workspace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epicenter-run/epicenter/internal/action"
	"github.com/epicenter-run/epicenter/internal/persistence"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/storepath"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

func postsSchema() schema.TableSchema {
	return schema.TableSchema{
		"id":    {Kind: schema.KindID, AutoGenerate: true},
		"title": {Kind: schema.KindText},
	}
}

func fileProviderFactory(layout *storepath.Layout, workspaceID string) (persistence.Provider, error) {
	return persistence.NewFileProvider(layout.PersistenceFile(workspaceID).String()), nil
}

func TestBuild_CreatesTablesAndExports(t *testing.T) {
	layout, err := storepath.NewLayout(t.TempDir())
	require.NoError(t, err)

	cfg := Config{
		ID:        "ws1",
		Schemas:   map[string]schema.TableSchema{"posts": postsSchema()},
		Providers: []ProviderFactory{fileProviderFactory},
		EnableSQL: true,
		Exports: func(deps ExportDeps) *action.Namespace {
			ns := action.NewNamespace()
			ns.AddMutation(action.Mutation{
				Name: "createPost",
				Handler: func(ctx context.Context, input map[string]any) xerrors.Result[map[string]any] {
					result := deps.Tables["posts"].Insert(input)
					if !result.IsOk() {
						return xerrors.Fail[map[string]any](result.Err)
					}
					return xerrors.Ok[map[string]any](result.Value)
				},
			})
			return ns
		},
	}

	client, err := Build(context.Background(), layout, cfg, nil)
	require.NoError(t, err)
	defer client.Destroy()

	require.Contains(t, client.Tables, "posts")
	require.NotNil(t, client.SQL())

	_, _, _, isMutation := client.Exports.Resolve("createPost")
	require.True(t, isMutation)
}

func TestBuild_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	layout, err := storepath.NewLayout(dir)
	require.NoError(t, err)

	cfg := Config{
		ID:        "ws1",
		Schemas:   map[string]schema.TableSchema{"posts": postsSchema()},
		Providers: []ProviderFactory{fileProviderFactory},
	}

	client, err := Build(context.Background(), layout, cfg, nil)
	require.NoError(t, err)
	client.Tables["posts"].Insert(schema.Row{"id": "a", "title": "hello"})
	client.Destroy()

	layout2, err := storepath.NewLayout(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Clean(layout.Root().String()), filepath.Clean(layout2.Root().String()))

	client2, err := Build(context.Background(), layout2, cfg, nil)
	require.NoError(t, err)
	defer client2.Destroy()

	result := client2.Tables["posts"].Get("a")
	require.True(t, result.IsOk())
	require.Equal(t, "hello", result.Value["title"])
}
