// Package epicenter implements the multi-workspace composition layer of
// spec.md §4.6: dependency verification, topological ordering, and
// ordered build/destroy of every workspace in a collection.
package epicenter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/epicenter-run/epicenter/internal/elog"
	"github.com/epicenter-run/epicenter/internal/storepath"
	"github.com/epicenter-run/epicenter/internal/workspace"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

// Definition pairs one workspace's Config with the ids of workspaces it
// depends on. A dependency's already-built *workspace.Client is handed
// to workspace.Build before the dependent workspace is built.
type Definition struct {
	Config  workspace.Config
	Depends []string
}

// Options configures one Epicenter composition.
type Options struct {
	StorageDir  string
	Workspaces  map[string]Definition
}

// Client owns every workspace in a composition plus their build order,
// so Destroy can unwind in the exact reverse order.
type Client struct {
	Workspaces map[string]*workspace.Client
	order      []string
	log        zerolog.Logger
	once       sync.Once
}

// New verifies the dependency graph, topologically sorts it, and builds
// every workspace in that order, handing each workspace.Build its
// already-built dependency clients per spec §4.6.
func New(ctx context.Context, opts Options) (*Client, error) {
	layout, err := storepath.NewLayout(opts.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("epicenter: resolve storage layout: %w", err)
	}

	if err := verifyDependencies(opts.Workspaces); err != nil {
		return nil, err
	}

	order, err := topologicalSort(opts.Workspaces)
	if err != nil {
		return nil, err
	}

	built := map[string]*workspace.Client{}
	for _, id := range order {
		def := opts.Workspaces[id]
		deps := make(map[string]*workspace.Client, len(def.Depends))
		for _, dep := range def.Depends {
			deps[dep] = built[dep]
		}

		client, err := workspace.Build(ctx, layout, def.Config, deps)
		if err != nil {
			destroyBuilt(built, order)
			return nil, fmt.Errorf("epicenter: build workspace %s: %w", id, err)
		}
		built[id] = client
	}

	return &Client{
		Workspaces: built,
		order:      order,
		log:        elog.Logger.With().Str("component", "epicenter").Logger(),
	}, nil
}

// verifyDependencies reports xerrors.KindMissingDependency for any
// Depends entry naming a workspace id absent from the set.
func verifyDependencies(defs map[string]Definition) error {
	for id, def := range defs {
		for _, dep := range def.Depends {
			if _, ok := defs[dep]; !ok {
				return xerrors.New(xerrors.KindMissingDependency, "workspace depends on an undefined workspace",
					map[string]any{"workspace": id, "missing": dep})
			}
		}
	}
	return nil
}

// topologicalSort runs Kahn's algorithm over the dependency graph,
// returning xerrors.KindDependencyCycle if any cycle remains.
func topologicalSort(defs map[string]Definition) ([]string, error) {
	inDegree := make(map[string]int, len(defs))
	dependents := make(map[string][]string, len(defs))
	for id := range defs {
		inDegree[id] = 0
	}
	for id, def := range defs {
		inDegree[id] = len(def.Depends)
		for _, dep := range def.Depends {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id := range defs {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var freed []string
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
	}

	if len(order) != len(defs) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, xerrors.New(xerrors.KindDependencyCycle, "workspace dependency graph has a cycle",
			map[string]any{"workspaces": stuck})
	}
	return order, nil
}

func destroyBuilt(built map[string]*workspace.Client, order []string) {
	for i := len(order) - 1; i >= 0; i-- {
		if c, ok := built[order[i]]; ok {
			c.Destroy()
		}
	}
}

// Destroy unwinds every workspace in reverse topological order, so a
// workspace is always destroyed before the dependencies it relies on.
// Safe to call more than once.
func (c *Client) Destroy() {
	c.once.Do(func() {
		destroyBuilt(c.Workspaces, c.order)
	})
}
