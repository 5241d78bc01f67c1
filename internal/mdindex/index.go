package mdindex

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/epicenter-run/epicenter/internal/elog"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/storepath"
	"github.com/epicenter-run/epicenter/internal/table"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

// tableSync is the per-table state of the bidirectional sync: its
// directory, its serialize/deserialize pair, and its row-id<->filename
// map.
type tableSync struct {
	tbl    *table.Table
	dir    storepath.AbsPath
	config TableConfig
	bimap  *biMap
	cancel table.Cancel
}

// Index is the markdown projection of one workspace, per spec.md §4.4.
// It mirrors every row of every attached table to a markdown file and
// mirrors edits to those files back into the CRDT document.
//
// Two mechanisms guard against feedback loops. processingFileChange is
// a simple flag: a file import (handleWrite, importFile) calls the
// table's Insert/Update synchronously, and the resulting observer
// dispatch runs on the same goroutine before the call returns, so a
// boolean set-around-the-call is race-free for that direction.
//
// The other direction is not: a CRDT write triggers writeRow, which
// writes a file, but the matching fsnotify event for that write is
// delivered asynchronously on watchLoop's goroutine, typically after
// writeRow has already returned. A flag cleared on return of writeRow
// is clear by the time the event arrives. spec.md §4.4/§5 permits a
// threaded implementation to replace the flag with "a mutex or atomic
// counter" as long as it preserves the same suppression semantics;
// pendingSelfWrites is that counter, keyed per path so it stays
// armed until the specific echoed event is actually consumed.
type Index struct {
	workspaceID string
	log         zerolog.Logger

	diagnostics *Diagnostics
	errorLog    *ErrorLog

	mu     sync.Mutex
	tables map[string]*tableSync
	dirs   map[string]string // watched directory -> table name

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	processingFileChange atomic.Bool

	pendingMu         sync.Mutex
	pendingSelfWrites map[string]int // absolute path -> outstanding self-originated fs events
}

// Attach builds the markdown index for workspaceID, rooted under
// layout.MarkdownRoot(workspaceID). It runs the full startup recovery
// sequence (spec.md §4.4 steps 1-4): validate every existing markdown
// file (diagnostics only, no CRDT mutation), populate the bidirectional
// map from the rows already in the CRDT, and backfill any row missing
// its file. Only once every table has been reconciled does it register
// observers and start watching (step 5).
func Attach(layout *storepath.Layout, workspaceID string, tables []*table.Table, configs map[string]TableConfig) (*Index, error) {
	idx := &Index{
		workspaceID:       workspaceID,
		log:               elog.Logger.With().Str("component", "mdindex").Str("workspace", workspaceID).Logger(),
		diagnostics:       NewDiagnostics(layout.MarkdownDiagnosticsFile(workspaceID).String()),
		errorLog:          NewErrorLog(layout.MarkdownLogFile(workspaceID).String()),
		tables:            map[string]*tableSync{},
		dirs:              map[string]string{},
		done:              make(chan struct{}),
		pendingSelfWrites: map[string]int{},
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindMarkdown, "create fsnotify watcher", err, nil)
	}
	idx.watcher = watcher

	var built []*tableSync
	for _, tbl := range tables {
		name := tbl.Name()
		cfg, ok := configs[name]
		if !ok {
			cfg = DefaultTableConfig(tbl.Schema())
		}
		dir := layout.MarkdownTableDir(workspaceID, name)
		if err := os.MkdirAll(dir.String(), 0o755); err != nil {
			watcher.Close()
			return nil, xerrors.Wrap(xerrors.KindMarkdown, "create table directory", err, map[string]any{"table": name})
		}

		ts := &tableSync{tbl: tbl, dir: dir, config: cfg, bimap: newBiMap()}
		idx.tables[name] = ts
		idx.dirs[dir.String()] = name

		if err := idx.reconcileStartup(ts); err != nil {
			watcher.Close()
			return nil, err
		}
		built = append(built, ts)
	}

	for _, ts := range built {
		ts.cancel = ts.tbl.Observe(table.Funcs{
			OnAddFunc:    func(row schema.Row) { idx.onCRDTUpsert(ts, row) },
			OnUpdateFunc: func(row schema.Row) { idx.onCRDTUpsert(ts, row) },
			OnDeleteFunc: func(id string) { idx.onCRDTDelete(ts, id) },
		})
		if err := watcher.Add(ts.dir.String()); err != nil {
			watcher.Close()
			return nil, xerrors.Wrap(xerrors.KindMarkdown, "watch table directory", err, map[string]any{"table": ts.tbl.Name()})
		}
	}

	idx.wg.Add(1)
	go idx.watchLoop()

	return idx, nil
}

// isMarkdownFile gates every directory scan and every watcher dispatch
// on the ".md" extension, per spec.md §4.4's "ignore non-.md files".
func isMarkdownFile(name string) bool {
	return strings.HasSuffix(name, ".md")
}

// reconcileStartup implements startup steps 3-4 for one table: validate
// every existing ".md" file without mutating the CRDT (diagnostics and
// the error log only), then populate the bidirectional map from the
// rows already in the CRDT and write out any row whose file is missing.
func (idx *Index) reconcileStartup(ts *tableSync) error {
	entries, err := os.ReadDir(ts.dir.String())
	if err != nil {
		return xerrors.Wrap(xerrors.KindMarkdown, "read table directory", err, map[string]any{"table": ts.tbl.Name()})
	}

	for _, entry := range entries {
		if entry.IsDir() || !isMarkdownFile(entry.Name()) {
			continue
		}
		idx.validateFile(ts, entry.Name())
	}

	idField, _ := ts.tbl.Schema().IDField()
	for _, row := range ts.tbl.GetAll() {
		id, _ := row[idField].(string)

		file, err := ts.config.Serialize(row)
		if err != nil {
			idx.log.Warn().Err(err).Str("table", ts.tbl.Name()).Str("id", id).Msg("serialize row failed during startup")
			continue
		}
		if !validFilename(file.Filename) {
			idx.log.Warn().Str("table", ts.tbl.Name()).Str("filename", file.Filename).Msg("invalid filename from serialize")
			continue
		}
		ts.bimap.set(id, file.Filename)

		path := filepath.Join(ts.dir.String(), file.Filename)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := writeFileAtomic(path, file); err != nil {
				idx.log.Warn().Err(err).Str("file", path).Msg("backfill markdown file failed")
			}
		}
	}

	return nil
}

// validateFile reads and deserializes one on-disk file purely to check
// it still parses, recording or clearing a diagnostics entry. It never
// touches the CRDT or the bidirectional map; spec.md §4.4 step 3
// requires the startup scan to be read-only.
func (idx *Index) validateFile(ts *tableSync, filename string) {
	_, _ = idx.readAndDeserialize(ts, filename)
}

// readAndDeserialize reads, parses, and deserializes one on-disk file.
// On any failure it records a diagnostics/error-log entry and returns
// an error; on success it clears any stale diagnostics entry for the
// file and returns the row.
func (idx *Index) readAndDeserialize(ts *tableSync, filename string) (schema.Row, error) {
	path := filepath.Join(ts.dir.String(), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		idx.recordError(ts, path, filename, "ReadError", err.Error())
		return nil, err
	}
	file, err := parseFile(data, filename)
	if err != nil {
		idx.recordError(ts, path, filename, "ParseError", err.Error())
		return nil, err
	}
	row, err := ts.config.Deserialize(file, ts.tbl.Name(), ts.tbl.Schema())
	if err != nil {
		idx.recordError(ts, path, filename, "ValidationError", err.Error())
		return nil, err
	}
	idx.diagnostics.Remove(path)
	return row, nil
}

// importFile deserializes one on-disk file and mutates the CRDT
// accordingly (update if the row id already exists, insert otherwise),
// per spec.md §4.4's inbound algorithm. Used by the runtime watcher
// and by the manual pushFromMarkdown operation — never by startup.
func (idx *Index) importFile(ts *tableSync, filename string) {
	row, err := idx.readAndDeserialize(ts, filename)
	if err != nil {
		return
	}

	idField, _ := ts.tbl.Schema().IDField()
	id, _ := row[idField].(string)
	ts.bimap.set(id, filename)

	idx.processingFileChange.Store(true)
	defer idx.processingFileChange.Store(false)

	if ts.tbl.Has(id) {
		ts.tbl.Update(id, row)
	} else {
		ts.tbl.Insert(row)
	}
}

func (idx *Index) recordError(ts *tableSync, path, filename, kind, message string) {
	now := idx.now()
	entry := Entry{
		FilePath:  path,
		TableName: ts.tbl.Name(),
		Filename:  filename,
		Error:     DiagError{Kind: kind, Message: message},
		Timestamp: now,
	}
	idx.diagnostics.Add(entry)
	idx.errorLog.Append(Record(entry))
	idx.log.Warn().Str("file", path).Str("kind", kind).Msg(message)
}

// now returns the wall-clock time stamped on diagnostics and error-log
// entries.
func (idx *Index) now() time.Time { return time.Now() }

// onCRDTUpsert mirrors a committed row to disk, skipping the write if
// this change originated from an in-flight file import.
func (idx *Index) onCRDTUpsert(ts *tableSync, row schema.Row) {
	if idx.processingFileChange.Load() {
		return
	}
	idx.writeRow(ts, row)
}

func (idx *Index) onCRDTDelete(ts *tableSync, id string) {
	if idx.processingFileChange.Load() {
		return
	}
	filename, ok := ts.bimap.deleteByRow(id)
	if !ok {
		return
	}

	path := filepath.Join(ts.dir.String(), filename)
	idx.markPendingSelfWrite(path)
	if err := os.Remove(path); err != nil {
		idx.unmarkPendingSelfWrite(path) // no event will arrive for a failed/no-op remove
		if !os.IsNotExist(err) {
			idx.log.Warn().Err(err).Str("file", path).Msg("remove markdown file failed")
		}
	}
	idx.diagnostics.Remove(path)
}

// writeRow serializes row to disk. Every path this write touches is
// marked pending before the write so the echoed fsnotify event — which
// arrives asynchronously on watchLoop's goroutine, possibly well after
// this call returns — is suppressed exactly once in handleEvent rather
// than racing a flag that this function would otherwise have already
// cleared.
//
// Filename collisions are not deduplicated: if two rows serialize to
// the same filename, the later write wins on disk and bimap.set points
// that filename at the later row, dropping the earlier row's entry.
func (idx *Index) writeRow(ts *tableSync, row schema.Row) {
	file, err := ts.config.Serialize(row)
	if err != nil {
		idx.log.Warn().Err(err).Str("table", ts.tbl.Name()).Msg("serialize row failed")
		return
	}
	if !validFilename(file.Filename) {
		idx.log.Warn().Str("table", ts.tbl.Name()).Str("filename", file.Filename).Msg("invalid filename from serialize")
		return
	}

	idField, _ := ts.tbl.Schema().IDField()
	id, _ := row[idField].(string)

	if oldFilename, ok := ts.bimap.filenameFor(id); ok && oldFilename != file.Filename {
		oldPath := filepath.Join(ts.dir.String(), oldFilename)
		idx.markPendingSelfWrite(oldPath)
		if err := os.Remove(oldPath); err != nil {
			idx.unmarkPendingSelfWrite(oldPath)
		}
	}
	ts.bimap.set(id, file.Filename)

	path := filepath.Join(ts.dir.String(), file.Filename)
	idx.markPendingSelfWrite(path)
	if err := writeFileAtomic(path, file); err != nil {
		idx.unmarkPendingSelfWrite(path) // the write failed, so no event will arrive for it
		idx.log.Warn().Err(err).Str("file", path).Msg("write markdown file failed")
	}
}

// markPendingSelfWrite records that the next fsnotify event observed
// for path originated from this process, not an external edit.
func (idx *Index) markPendingSelfWrite(path string) {
	idx.pendingMu.Lock()
	idx.pendingSelfWrites[path]++
	idx.pendingMu.Unlock()
}

// unmarkPendingSelfWrite retracts a pending mark when the write/remove
// that set it failed outright, since no fsnotify event will arrive to
// consume it.
func (idx *Index) unmarkPendingSelfWrite(path string) {
	idx.pendingMu.Lock()
	idx.decrementPendingLocked(path)
	idx.pendingMu.Unlock()
}

// consumePendingSelfWrite drains one outstanding mark for path, if any,
// reporting whether the caller should treat this event as self-caused
// and suppress it.
func (idx *Index) consumePendingSelfWrite(path string) bool {
	idx.pendingMu.Lock()
	defer idx.pendingMu.Unlock()
	if idx.pendingSelfWrites[path] <= 0 {
		return false
	}
	idx.decrementPendingLocked(path)
	return true
}

func (idx *Index) decrementPendingLocked(path string) {
	n, ok := idx.pendingSelfWrites[path]
	if !ok || n <= 1 {
		delete(idx.pendingSelfWrites, path)
		return
	}
	idx.pendingSelfWrites[path] = n - 1
}

// watchLoop is the single fsnotify consumer across every table
// directory, mirroring the teacher's Engine.WatchFile loop shape
// generalized from one file to many directories.
func (idx *Index) watchLoop() {
	defer idx.wg.Done()
	for {
		select {
		case <-idx.done:
			return
		case event, ok := <-idx.watcher.Events:
			if !ok {
				return
			}
			idx.handleEvent(event)
		case err, ok := <-idx.watcher.Errors:
			if !ok {
				return
			}
			idx.log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

func (idx *Index) handleEvent(event fsnotify.Event) {
	filename := filepath.Base(event.Name)
	if !isMarkdownFile(filename) {
		return
	}
	if idx.consumePendingSelfWrite(event.Name) {
		return
	}

	dir := filepath.Dir(event.Name)
	idx.mu.Lock()
	tableName, ok := idx.dirs[dir]
	idx.mu.Unlock()
	if !ok {
		return
	}
	ts := idx.tables[tableName]

	switch {
	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		idx.handleDelete(ts, filename)
	case event.Op&fsnotify.Write == fsnotify.Write, event.Op&fsnotify.Create == fsnotify.Create:
		idx.handleWrite(ts, filename)
	}
}

func (idx *Index) handleDelete(ts *tableSync, filename string) {
	idx.diagnostics.Remove(filepath.Join(ts.dir.String(), filename))
	id, ok := ts.bimap.deleteByFilename(filename)
	if !ok {
		return
	}
	idx.processingFileChange.Store(true)
	defer idx.processingFileChange.Store(false)
	ts.tbl.Delete(id)
}

func (idx *Index) handleWrite(ts *tableSync, filename string) {
	idx.importFile(ts, filename)
}

// PullToMarkdown force-rewrites every row of a table to disk, overriding
// whatever currently sits in those files. A manual recovery operation
// for when the markdown tree has drifted and the CRDT should win.
func (idx *Index) PullToMarkdown(tableName string) xerrors.Result[struct{}] {
	ts, ok := idx.tables[tableName]
	if !ok {
		return xerrors.Fail[struct{}](xerrors.New(xerrors.KindNotFound, "no such table attached", map[string]any{"table": tableName}))
	}
	for _, row := range ts.tbl.GetAll() {
		idx.writeRow(ts, row)
	}
	return xerrors.Ok(struct{}{})
}

// PushFromMarkdown re-imports every ".md" file in a table's directory
// into the CRDT, overriding whatever the CRDT currently holds for those
// ids. A manual recovery operation for when disk should win.
func (idx *Index) PushFromMarkdown(tableName string) xerrors.Result[struct{}] {
	ts, ok := idx.tables[tableName]
	if !ok {
		return xerrors.Fail[struct{}](xerrors.New(xerrors.KindNotFound, "no such table attached", map[string]any{"table": tableName}))
	}
	entries, err := os.ReadDir(ts.dir.String())
	if err != nil {
		return xerrors.Fail[struct{}](xerrors.Wrap(xerrors.KindMarkdown, "read table directory", err, map[string]any{"table": tableName}))
	}
	for _, entry := range entries {
		if entry.IsDir() || !isMarkdownFile(entry.Name()) {
			continue
		}
		idx.importFile(ts, entry.Name())
	}
	return xerrors.Ok(struct{}{})
}

// ScanForErrors re-validates every ".md" file currently on disk for a
// table without mutating the CRDT or rewriting any file. It drops the
// table's existing diagnostics entries and rebuilds them from this scan,
// so they match the table's present on-disk state; each failure is also
// appended to the error log.
func (idx *Index) ScanForErrors(tableName string) xerrors.Result[[]Entry] {
	ts, ok := idx.tables[tableName]
	if !ok {
		return xerrors.Fail[[]Entry](xerrors.New(xerrors.KindNotFound, "no such table attached", map[string]any{"table": tableName}))
	}
	entries, err := os.ReadDir(ts.dir.String())
	if err != nil {
		return xerrors.Fail[[]Entry](xerrors.Wrap(xerrors.KindMarkdown, "read table directory", err, map[string]any{"table": tableName}))
	}

	for _, e := range idx.diagnostics.GetAll() {
		if e.TableName == tableName {
			idx.diagnostics.Remove(e.FilePath)
		}
	}

	var found []Entry
	for _, entry := range entries {
		if entry.IsDir() || !isMarkdownFile(entry.Name()) {
			continue
		}
		filename := entry.Name()
		if _, err := idx.readAndDeserialize(ts, filename); err != nil {
			found = append(found, Entry{FilePath: filepath.Join(ts.dir.String(), filename), TableName: tableName, Filename: filename})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Filename < found[j].Filename })
	return xerrors.Ok(found)
}

// Diagnostics returns every currently-invalid-file entry across all
// tables attached to this index.
func (idx *Index) Diagnostics() []Entry { return idx.diagnostics.GetAll() }

// Destroy stops the watcher, cancels every table observer, and closes
// the diagnostics and error-log writers, in that leaf-to-root order.
func (idx *Index) Destroy() error {
	close(idx.done)
	idx.watcher.Close()
	idx.wg.Wait()

	for _, ts := range idx.tables {
		if ts.cancel != nil {
			ts.cancel()
		}
	}

	idx.diagnostics.Close()
	idx.errorLog.Close()
	return nil
}
