package sqlindex

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/epicenter-run/epicenter/internal/crdtdoc"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/table"
)

func newPostsTable() *table.Table {
	doc := crdtdoc.New("node-test")
	s := schema.TableSchema{
		"id":       {Kind: schema.KindID, AutoGenerate: true},
		"title":    {Kind: schema.KindText},
		"category": {Kind: schema.KindSelect, Options: []string{"tech", "personal"}},
	}
	return table.New(doc, "posts", s, zerolog.Nop())
}

func TestIndex_BackfillAndProjection(t *testing.T) {
	posts := newPostsTable()
	posts.Insert(schema.Row{"id": "a", "title": "one", "category": "tech"})
	posts.Insert(schema.Row{"id": "b", "title": "two", "category": "tech"})
	posts.Insert(schema.Row{"id": "c", "title": "three", "category": "personal"})

	dbPath := filepath.Join(t.TempDir(), "posts.db")
	idx, err := Attach(dbPath, "notes", []*table.Table{posts})
	require.NoError(t, err)
	defer idx.Destroy()

	var count int
	require.NoError(t, idx.DB().QueryRow(`SELECT count(*) FROM "posts"`).Scan(&count))
	require.Equal(t, 3, count)

	posts.Delete("b")
	require.NoError(t, idx.DB().QueryRow(`SELECT count(*) FROM "posts"`).Scan(&count))
	require.Equal(t, 2, count)

	posts.Update("a", schema.Row{"title": "one-updated"})
	var title string
	require.NoError(t, idx.DB().QueryRow(`SELECT title FROM "posts" WHERE id = ?`, "a").Scan(&title))
	require.Equal(t, "one-updated", title)
}
