package mdindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/epicenter-run/epicenter/internal/crdtdoc"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/storepath"
	"github.com/epicenter-run/epicenter/internal/table"
)

func fsnotifyCreateEvent(path string) fsnotify.Event {
	return fsnotify.Event{Name: path, Op: fsnotify.Create}
}

func notesSchema() schema.TableSchema {
	return schema.TableSchema{
		"id":    {Kind: schema.KindID, AutoGenerate: true},
		"title": {Kind: schema.KindText},
	}
}

func newAttachedIndex(t *testing.T) (*Index, *table.Table) {
	t.Helper()
	layout, err := storepath.NewLayout(t.TempDir())
	require.NoError(t, err)

	doc := crdtdoc.New("node-test")
	tbl := table.New(doc, "notes", notesSchema(), zerolog.Nop())
	tbl.Insert(schema.Row{"id": "a", "title": "first"})

	idx, err := Attach(layout, "ws", []*table.Table{tbl}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Destroy() })
	return idx, tbl
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Fail(t, "condition not met in time")
}

func TestAttach_BackfillsExistingRowToDisk(t *testing.T) {
	idx, _ := newAttachedIndex(t)
	ts := idx.tables["notes"]

	filename, ok := ts.bimap.filenameFor("a")
	require.True(t, ok)

	data, err := os.ReadFile(filepath.Join(ts.dir.String(), filename))
	require.NoError(t, err)
	require.Contains(t, string(data), "first")
}

func TestOnCRDTUpsert_WritesFileForNewRow(t *testing.T) {
	idx, tbl := newAttachedIndex(t)
	tbl.Insert(schema.Row{"id": "b", "title": "second"})

	ts := idx.tables["notes"]
	var filename string
	waitFor(t, func() bool {
		f, ok := ts.bimap.filenameFor("b")
		filename = f
		return ok
	})

	data, err := os.ReadFile(filepath.Join(ts.dir.String(), filename))
	require.NoError(t, err)
	require.Contains(t, string(data), "second")
}

func TestHandleWrite_ImportsEditedFileIntoCRDT(t *testing.T) {
	idx, tbl := newAttachedIndex(t)
	ts := idx.tables["notes"]
	filename, _ := ts.bimap.filenameFor("a")
	path := filepath.Join(ts.dir.String(), filename)

	updated := File{Frontmatter: map[string]any{"title": "edited"}, Body: "", Filename: filename}
	require.NoError(t, writeFileAtomic(path, updated))
	idx.handleWrite(ts, filename)

	waitFor(t, func() bool {
		row := tbl.Get("a")
		return row.IsOk() && row.Value["title"] == "edited"
	})
}

func TestHandleWrite_InvalidFileRecordsDiagnostics(t *testing.T) {
	idx, _ := newAttachedIndex(t)
	ts := idx.tables["notes"]

	path := filepath.Join(ts.dir.String(), "bad.md")
	require.NoError(t, os.WriteFile(path, []byte("not frontmatter at all, just text"), 0o644))

	idx.handleWrite(ts, "bad.md")

	require.True(t, idx.diagnostics.Has(path))
}

func TestHandleDelete_RemovesRowFromCRDT(t *testing.T) {
	idx, tbl := newAttachedIndex(t)
	ts := idx.tables["notes"]
	filename, _ := ts.bimap.filenameFor("a")

	idx.handleDelete(ts, filename)

	require.False(t, tbl.Has("a"))
}

func TestPullToMarkdown_RewritesFileFromCRDT(t *testing.T) {
	idx, tbl := newAttachedIndex(t)
	tbl.Update("a", schema.Row{"title": "changed-in-memory"})

	result := idx.PullToMarkdown("notes")
	require.True(t, result.IsOk())

	ts := idx.tables["notes"]
	filename, _ := ts.bimap.filenameFor("a")
	data, err := os.ReadFile(filepath.Join(ts.dir.String(), filename))
	require.NoError(t, err)
	require.Contains(t, string(data), "changed-in-memory")
}

func TestScanForErrors_ReportsInvalidFilesWithoutMutating(t *testing.T) {
	idx, tbl := newAttachedIndex(t)
	ts := idx.tables["notes"]
	require.NoError(t, os.WriteFile(filepath.Join(ts.dir.String(), "broken.md"), []byte("---\nnotclosed"), 0o644))

	result := idx.ScanForErrors("notes")
	require.True(t, result.IsOk())
	require.Len(t, result.Value, 1)
	require.Equal(t, "broken.md", result.Value[0].Filename)
	require.False(t, tbl.Has("broken"))
}

func TestReconcileStartup_DoesNotMutateCRDTForStaleFile(t *testing.T) {
	layout, err := storepath.NewLayout(t.TempDir())
	require.NoError(t, err)

	doc := crdtdoc.New("node-test")
	tbl := table.New(doc, "notes", notesSchema(), zerolog.Nop())
	tbl.Insert(schema.Row{"id": "a", "title": "authoritative"})

	idx, err := Attach(layout, "ws", []*table.Table{tbl}, nil)
	require.NoError(t, err)
	ts := idx.tables["notes"]
	filename, _ := ts.bimap.filenameFor("a")
	path := filepath.Join(ts.dir.String(), filename)
	idx.Destroy()

	stale := File{Frontmatter: map[string]any{"title": "stale-on-disk"}, Body: "", Filename: filename}
	require.NoError(t, writeFileAtomic(path, stale))

	doc2 := crdtdoc.New("node-test")
	tbl2 := table.New(doc2, "notes", notesSchema(), zerolog.Nop())
	tbl2.Insert(schema.Row{"id": "a", "title": "authoritative"})

	idx2, err := Attach(layout, "ws", []*table.Table{tbl2}, nil)
	require.NoError(t, err)
	defer idx2.Destroy()

	row := tbl2.Get("a")
	require.True(t, row.IsOk())
	require.Equal(t, "authoritative", row.Value["title"])
}

func TestReconcileStartup_IgnoresNonMarkdownFiles(t *testing.T) {
	layout, err := storepath.NewLayout(t.TempDir())
	require.NoError(t, err)

	doc := crdtdoc.New("node-test")
	tbl := table.New(doc, "notes", notesSchema(), zerolog.Nop())

	dir := layout.MarkdownTableDir("ws", "notes")
	require.NoError(t, os.MkdirAll(dir.String(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir.String(), ".mdindex-abc.tmp"), []byte("garbage"), 0o644))

	idx, err := Attach(layout, "ws", []*table.Table{tbl}, nil)
	require.NoError(t, err)
	defer idx.Destroy()

	require.Empty(t, idx.Diagnostics())
	require.Equal(t, 0, len(tbl.GetAll()))
}

func TestHandleEvent_IgnoresNonMarkdownFiles(t *testing.T) {
	idx, tbl := newAttachedIndex(t)
	ts := idx.tables["notes"]
	path := filepath.Join(ts.dir.String(), ".mdindex-xyz.tmp")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	idx.handleEvent(fsnotifyCreateEvent(path))

	require.Equal(t, 1, len(tbl.GetAll()))
	require.Empty(t, idx.Diagnostics())
}

func TestWriteRow_SuppressesEchoedWatcherEvent(t *testing.T) {
	idx, tbl := newAttachedIndex(t)
	ts := idx.tables["notes"]
	filename, _ := ts.bimap.filenameFor("a")
	path := filepath.Join(ts.dir.String(), filename)

	tbl.Update("a", schema.Row{"title": "updated-from-crdt"})
	waitFor(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "updated-from-crdt")
	})

	// Simulate the asynchronous fsnotify echo of the write above arriving
	// on the watcher goroutine after writeRow has already returned.
	idx.handleEvent(fsnotifyCreateEvent(path))

	row := tbl.Get("a")
	require.True(t, row.IsOk())
	require.Equal(t, "updated-from-crdt", row.Value["title"])
}
