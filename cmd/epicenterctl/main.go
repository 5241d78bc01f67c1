// epicenterctl is a small demo binary that wires one workspace end to
// end: a "notes" table, a file persistence provider, a SQL index, and a
// markdown index, then reports whether its notes/create action is
// registered and how many notes the table holds. It invokes no action.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/epicenter-run/epicenter/internal/action"
	"github.com/epicenter-run/epicenter/internal/elog"
	"github.com/epicenter-run/epicenter/internal/persistence"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/storepath"
	"github.com/epicenter-run/epicenter/internal/workspace"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

const version = "0.1.0"

func notesSchema() schema.TableSchema {
	return schema.TableSchema{
		"id":    {Kind: schema.KindID, AutoGenerate: true},
		"title": {Kind: schema.KindText},
		"body":  {Kind: schema.KindRichText},
	}
}

func exports(deps workspace.ExportDeps) *action.Namespace {
	ns := action.NewNamespace()
	notes := ns.Child("notes")
	notes.AddMutation(action.Mutation{
		Name: "create",
		Handler: func(ctx context.Context, input map[string]any) xerrors.Result[map[string]any] {
			result := deps.Tables["notes"].Insert(input)
			if !result.IsOk() {
				return xerrors.Fail[map[string]any](result.Err)
			}
			return xerrors.Ok[map[string]any](result.Value)
		},
	})
	notes.AddQuery(action.Query{
		Name: "list",
		Handler: func(ctx context.Context, input map[string]any) xerrors.Result[map[string]any] {
			rows := deps.Tables["notes"].GetAll()
			out := make([]any, len(rows))
			for i, r := range rows {
				out[i] = r
			}
			return xerrors.Ok(map[string]any{"rows": out})
		},
	})
	return ns
}

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version")
		storageDir  = flag.String("storage", "", "Storage directory (default: current directory)")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `epicenterctl v%s - demo workspace runtime

Usage: epicenterctl [options]

Options:
`, version)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("epicenterctl v%s\n", version)
		return
	}

	if *debug {
		elog.Init(elog.Config{Level: elog.DebugLevel, JSONOutput: false, Output: os.Stderr})
	}

	layout, err := storepath.NewLayout(*storageDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := workspace.Config{
		ID:      "demo",
		Schemas: map[string]schema.TableSchema{"notes": notesSchema()},
		Providers: []workspace.ProviderFactory{
			func(layout *storepath.Layout, workspaceID string) (persistence.Provider, error) {
				return persistence.NewFileProvider(layout.PersistenceFile(workspaceID).String()), nil
			},
		},
		EnableSQL:      true,
		EnableMarkdown: true,
		Exports:        exports,
	}

	client, err := workspace.Build(context.Background(), layout, cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Destroy()

	_, _, _, isMutation := client.Exports.Resolve("notes/create")
	fmt.Printf("workspace %q attached, notes/create registered: %v\n", client.ID, isMutation)

	rows := client.Tables["notes"].GetAll()
	fmt.Printf("%d note(s) currently on disk\n", len(rows))
}
