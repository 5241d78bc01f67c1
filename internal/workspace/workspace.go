// Package workspace implements the per-workspace runtime of spec.md
// §4.5: the ordered construction of one CRDT document, its persistence
// providers, its table helpers, its indexes, and the action namespace
// those pieces are exported through.
package workspace

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/epicenter-run/epicenter/internal/action"
	"github.com/epicenter-run/epicenter/internal/crdtdoc"
	"github.com/epicenter-run/epicenter/internal/elog"
	"github.com/epicenter-run/epicenter/internal/mdindex"
	"github.com/epicenter-run/epicenter/internal/persistence"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/sqlindex"
	"github.com/epicenter-run/epicenter/internal/storepath"
	"github.com/epicenter-run/epicenter/internal/table"
)

// ProviderFactory builds one persistence provider for a workspace, given
// the shared storage layout. Config.Providers is ordered: each is
// attached in turn, so a workspace using both a flat file and a bolt
// bucket controls which one is authoritative on conflicting loads.
type ProviderFactory func(layout *storepath.Layout, workspaceID string) (persistence.Provider, error)

// ExportDeps is everything an ExportsFactory needs to build the
// workspace's callable action.Namespace.
type ExportDeps struct {
	Tables       map[string]*table.Table
	SQL          *sqlindex.Index
	Markdown     *mdindex.Index
	Dependencies map[string]*Client
}

// ExportsFactory builds the action surface for a workspace once every
// other component is ready.
type ExportsFactory func(ExportDeps) *action.Namespace

// Config describes one workspace's construction, per spec §4.5/§6.
type Config struct {
	ID     string
	NodeID string

	Schemas map[string]schema.TableSchema

	Providers []ProviderFactory

	EnableSQL      bool
	EnableMarkdown bool
	MarkdownTables map[string]mdindex.TableConfig

	Exports ExportsFactory
}

// Client is one built workspace: its document, tables, providers,
// indexes, and exported action namespace.
type Client struct {
	ID      string
	Doc     *crdtdoc.Document
	Tables  map[string]*table.Table
	Exports *action.Namespace

	providers []persistence.Provider
	sql       *sqlindex.Index
	markdown  *mdindex.Index

	log  zerolog.Logger
	once sync.Once
}

// Build runs the six-step construction of spec §4.5: CRDT document,
// persistence providers (loaded in order), table helpers, indexes,
// exports factory, then the Client wrapping all of it with an ordered
// destroy sequence. deps carries already-built dependency clients from
// an owning epicenter.Client, keyed by workspace id.
func Build(ctx context.Context, layout *storepath.Layout, cfg Config, deps map[string]*Client) (*Client, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("workspace: Config.ID is required")
	}
	log := elog.WithWorkspace(cfg.ID)

	// Step 1: the CRDT document.
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = cfg.ID
	}
	doc := crdtdoc.New(nodeID)

	// Step 2: persistence providers, attached in order.
	providers := make([]persistence.Provider, 0, len(cfg.Providers))
	for _, factory := range cfg.Providers {
		p, err := factory(layout, cfg.ID)
		if err != nil {
			return nil, fmt.Errorf("workspace %s: build provider: %w", cfg.ID, err)
		}
		if err := p.Attach(doc); err != nil {
			return nil, fmt.Errorf("workspace %s: attach provider: %w", cfg.ID, err)
		}
		providers = append(providers, p)
	}

	// Step 3: table helpers, one per declared schema, with observers
	// wired to save every attached provider on each committed mutation
	// (Document exposes no single global update hook, so persistence is
	// driven per table instead).
	names := make([]string, 0, len(cfg.Schemas))
	for name := range cfg.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make(map[string]*table.Table, len(names))
	for _, name := range names {
		tbl := table.New(doc, name, cfg.Schemas[name], elog.WithTable(cfg.ID, name))
		tables[name] = tbl

		for _, p := range providers {
			p := p
			tbl.Observe(table.Funcs{
				OnAddFunc:    func(schema.Row) { p.Save(doc) },
				OnUpdateFunc: func(schema.Row) { p.Save(doc) },
				OnDeleteFunc: func(string) { p.Save(doc) },
			})
		}
	}

	// Step 4: indexes.
	var sqlIdx *sqlindex.Index
	if cfg.EnableSQL {
		ordered := make([]*table.Table, 0, len(names))
		for _, name := range names {
			ordered = append(ordered, tables[name])
		}
		idx, err := sqlindex.Attach(layout.SQLFile(cfg.ID).String(), cfg.ID, ordered)
		if err != nil {
			return nil, fmt.Errorf("workspace %s: attach sql index: %w", cfg.ID, err)
		}
		sqlIdx = idx
	}

	var mdIdx *mdindex.Index
	if cfg.EnableMarkdown {
		ordered := make([]*table.Table, 0, len(names))
		for _, name := range names {
			ordered = append(ordered, tables[name])
		}
		idx, err := mdindex.Attach(layout, cfg.ID, ordered, cfg.MarkdownTables)
		if err != nil {
			if sqlIdx != nil {
				sqlIdx.Destroy()
			}
			return nil, fmt.Errorf("workspace %s: attach markdown index: %w", cfg.ID, err)
		}
		mdIdx = idx
	}

	// Step 5: the exports factory.
	var exports *action.Namespace
	if cfg.Exports != nil {
		exports = cfg.Exports(ExportDeps{Tables: tables, SQL: sqlIdx, Markdown: mdIdx, Dependencies: deps})
	} else {
		exports = action.NewNamespace()
	}

	// Step 6: the Client.
	return &Client{
		ID:        cfg.ID,
		Doc:       doc,
		Tables:    tables,
		Exports:   exports,
		providers: providers,
		sql:       sqlIdx,
		markdown:  mdIdx,
		log:       log,
	}, nil
}

// SQL returns the workspace's SQL projection, or nil if not enabled.
func (c *Client) SQL() *sqlindex.Index { return c.sql }

// Markdown returns the workspace's markdown index, or nil if not enabled.
func (c *Client) Markdown() *mdindex.Index { return c.markdown }

// Destroy unwinds the workspace leaf-to-root: indexes first, then each
// persistence provider (saved once more, then destroyed). The document
// itself needs no teardown. Safe to call more than once.
func (c *Client) Destroy() {
	c.once.Do(func() {
		if c.markdown != nil {
			if err := c.markdown.Destroy(); err != nil {
				c.log.Warn().Err(err).Msg("markdown index destroy failed")
			}
		}
		if c.sql != nil {
			c.sql.Destroy()
		}
		for _, p := range c.providers {
			p.Save(c.Doc)
			p.Destroy()
		}
	})
}
