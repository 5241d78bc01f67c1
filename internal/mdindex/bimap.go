package mdindex

import "sync"

// biMap is the per-table bidirectional row-id<->filename map of
// spec.md §4.4, kept on the workspace task queue so no locking would
// strictly be required — a mutex is used anyway since the fsnotify
// watcher callback and the CRDT observer callback can run on different
// goroutines in this implementation (spec.md §5's note: "if an
// implementation chooses threads, a mutex ... must preserve these
// semantics").
type biMap struct {
	mu        sync.Mutex
	rowToFile map[string]string
	fileToRow map[string]string
}

func newBiMap() *biMap {
	return &biMap{rowToFile: map[string]string{}, fileToRow: map[string]string{}}
}

// set updates both directions, evicting any stale reverse entry.
func (m *biMap) set(rowID, filename string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if oldFilename, ok := m.rowToFile[rowID]; ok && oldFilename != filename {
		delete(m.fileToRow, oldFilename)
	}
	if oldRowID, ok := m.fileToRow[filename]; ok && oldRowID != rowID {
		delete(m.rowToFile, oldRowID)
	}
	m.rowToFile[rowID] = filename
	m.fileToRow[filename] = rowID
}

func (m *biMap) deleteByRow(rowID string) (filename string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filename, ok = m.rowToFile[rowID]
	if ok {
		delete(m.rowToFile, rowID)
		delete(m.fileToRow, filename)
	}
	return
}

func (m *biMap) deleteByFilename(filename string) (rowID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rowID, ok = m.fileToRow[filename]
	if ok {
		delete(m.fileToRow, filename)
		delete(m.rowToFile, rowID)
	}
	return
}

func (m *biMap) filenameFor(rowID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.rowToFile[rowID]
	return f, ok
}

func (m *biMap) rowFor(filename string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.fileToRow[filename]
	return r, ok
}

func (m *biMap) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rowToFile = map[string]string{}
	m.fileToRow = map[string]string{}
}
