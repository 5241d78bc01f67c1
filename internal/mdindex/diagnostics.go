package mdindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/epicenter-run/epicenter/internal/elog"
)

// DiagError is the {kind, message, context} shape of spec.md §6's
// diagnostics/error-log error field.
type DiagError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

// Entry is one diagnostics record: a currently-invalid markdown file.
type Entry struct {
	FilePath  string    `json:"filePath"`
	TableName string    `json:"tableName"`
	Filename  string    `json:"filename"`
	Error     DiagError `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Diagnostics is the in-memory, JSON-persisted set of currently-invalid
// markdown files (spec.md §4.4's "diagnostics manager"). Writes mutate
// memory synchronously and enqueue a background save; a single-writer
// queue means a later write can never race an earlier one.
type Diagnostics struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]Entry

	queue chan diagWrite
	wg    sync.WaitGroup
}

type diagWrite struct {
	data []byte
	ack  chan struct{}
}

// NewDiagnostics opens (or starts empty, if corrupt/absent) the
// diagnostics file at path and starts its background writer.
func NewDiagnostics(path string) *Diagnostics {
	d := &Diagnostics{
		path:    path,
		log:     elog.Logger.With().Str("component", "mdindex.diagnostics").Logger(),
		entries: map[string]Entry{},
		queue:   make(chan diagWrite, 64),
	}
	d.load()
	d.wg.Add(1)
	go d.drain()
	return d
}

func (d *Diagnostics) load() {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return // absent is fine; starts empty
	}
	var stored map[string]Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		d.log.Warn().Err(err).Str("path", d.path).Msg("corrupt diagnostics file, starting empty")
		return
	}
	d.entries = stored
}

func (d *Diagnostics) drain() {
	defer d.wg.Done()
	for w := range d.queue {
		if w.data == nil {
			if w.ack != nil {
				close(w.ack)
			}
			continue // a flush sentinel; nothing to write
		}
		if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
			d.log.Warn().Err(err).Msg("create diagnostics directory failed")
			continue
		}
		if err := os.WriteFile(d.path, w.data, 0o644); err != nil {
			d.log.Warn().Err(err).Msg("write diagnostics failed")
		}
	}
}

func (d *Diagnostics) enqueueSave() {
	d.mu.Lock()
	data, err := json.MarshalIndent(d.entries, "", "  ")
	d.mu.Unlock()
	if err != nil {
		d.log.Warn().Err(err).Msg("marshal diagnostics failed")
		return
	}
	d.queue <- diagWrite{data: data}
}

// Add records (or replaces) the diagnostics entry for a failing file.
func (d *Diagnostics) Add(e Entry) {
	d.mu.Lock()
	d.entries[e.FilePath] = e
	d.mu.Unlock()
	d.enqueueSave()
}

// Remove clears the diagnostics entry for path, if present.
func (d *Diagnostics) Remove(path string) {
	d.mu.Lock()
	_, existed := d.entries[path]
	delete(d.entries, path)
	d.mu.Unlock()
	if existed {
		d.enqueueSave()
	}
}

// Clear removes every diagnostics entry, across all tables. Neither
// Index.PushFromMarkdown nor Index.ScanForErrors calls it; both update
// entries per file or per table.
func (d *Diagnostics) Clear() {
	d.mu.Lock()
	d.entries = map[string]Entry{}
	d.mu.Unlock()
	d.enqueueSave()
}

// Has reports whether path currently has a diagnostics entry.
func (d *Diagnostics) Has(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[path]
	return ok
}

// Count returns the current number of diagnostics entries.
func (d *Diagnostics) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// GetAll returns every current diagnostics entry.
func (d *Diagnostics) GetAll() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	return out
}

// Flush waits for every previously enqueued write to complete.
func (d *Diagnostics) Flush() {
	ack := make(chan struct{})
	d.queue <- diagWrite{ack: ack}
	<-ack
}

// Close stops the background writer after draining pending writes.
func (d *Diagnostics) Close() {
	close(d.queue)
	d.wg.Wait()
}
