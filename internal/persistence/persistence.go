// Package persistence implements the two persistence-provider variants of
// spec.md §4.2: a flat file (server/desktop) and a key-value database
// (the "browser storage" analogue, backed here by bbolt since this
// runtime targets server/desktop processes rather than an actual
// browser).
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
	"github.com/rs/zerolog"

	"github.com/epicenter-run/epicenter/internal/crdtdoc"
	"github.com/epicenter-run/epicenter/internal/elog"
)

// Provider loads a document's byte-state on attach and saves it whenever
// Save is called, per the contract of spec.md §4.2.
type Provider interface {
	// Attach loads prior state (if any) into doc. It does not subscribe
	// to doc: the owner calls Save after each committed update
	// (workspace.Build does this through table observers). Must be
	// called before any other observer sees events from doc, per
	// spec.md §4.5 step 2.
	Attach(doc *crdtdoc.Document) error

	// Save persists the document's current state immediately.
	Save(doc *crdtdoc.Document)

	// Destroy waits for any in-flight Save to finish, then releases the
	// provider.
	Destroy()
}

// FileProvider persists a document's encoded byte-state to a single file
// on disk, grounded on the teacher's core.NewEngine flat-file session
// database convention (os.MkdirAll + a single data file per session).
type FileProvider struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	destroy bool
}

// NewFileProvider returns a provider that persists to path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, log: elog.Logger.With().Str("provider", "file").Logger()}
}

func (p *FileProvider) Attach(doc *crdtdoc.Document) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn().Err(err).Str("path", p.path).Msg("load failed, starting with empty document")
		}
		return nil
	}
	if err := doc.Decode(data); err != nil {
		p.log.Warn().Err(err).Str("path", p.path).Msg("corrupt persistence file, starting with empty document")
		return nil
	}
	return nil
}

func (p *FileProvider) Save(doc *crdtdoc.Document) {
	p.mu.Lock()
	if p.destroy {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	data, err := doc.Encode()
	if err != nil {
		p.log.Warn().Err(err).Msg("encode failed")
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		p.log.Warn().Err(err).Msg("create persistence directory failed")
		return
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		p.log.Warn().Err(err).Msg("write failed")
		return
	}
	if err := os.Rename(tmp, p.path); err != nil {
		p.log.Warn().Err(err).Msg("rename failed")
	}
}

func (p *FileProvider) Destroy() {
	p.mu.Lock()
	p.destroy = true
	p.mu.Unlock()
	p.wg.Wait()
}

// BoltProvider persists a document's byte-state into a single-bucket
// bbolt database, grounded on cuemby-warren/pkg/storage/boltdb.go's
// bucket-per-resource pattern (one bucket per workspace, key "state").
type BoltProvider struct {
	db          *bolt.DB
	workspaceID string
	log         zerolog.Logger

	mu sync.WaitGroup
}

var stateKey = []byte("state")

// NewBoltProvider opens (or creates) a bbolt database at path and returns
// a provider scoped to workspaceID's bucket within it.
func NewBoltProvider(path, workspaceID string) (*BoltProvider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(workspaceID))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create workspace bucket: %w", err)
	}
	return &BoltProvider{
		db:          db,
		workspaceID: workspaceID,
		log:         elog.Logger.With().Str("provider", "bolt").Logger(),
	}, nil
}

func (p *BoltProvider) Attach(doc *crdtdoc.Document) error {
	var data []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(p.workspaceID))
		if v := b.Get(stateKey); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("load failed, starting with empty document")
		return nil
	}
	if data == nil {
		return nil
	}
	if err := doc.Decode(data); err != nil {
		p.log.Warn().Err(err).Msg("corrupt persistence state, starting with empty document")
	}
	return nil
}

func (p *BoltProvider) Save(doc *crdtdoc.Document) {
	p.mu.Add(1)
	defer p.mu.Done()

	data, err := doc.Encode()
	if err != nil {
		p.log.Warn().Err(err).Msg("encode failed")
		return
	}
	err = p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(p.workspaceID))
		return b.Put(stateKey, data)
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("save failed")
	}
}

func (p *BoltProvider) Destroy() {
	p.mu.Wait()
	if err := p.db.Close(); err != nil {
		p.log.Warn().Err(err).Msg("close failed")
	}
}
