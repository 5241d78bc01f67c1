package mdindex

import (
	"fmt"

	"github.com/epicenter-run/epicenter/internal/schema"
)

// TableConfig supplies the per-table serialize/deserialize functions of
// spec.md §4.4.
type TableConfig struct {
	Serialize   func(row schema.Row) (File, error)
	Deserialize func(file File, tableName string, s schema.TableSchema) (schema.Row, error)
}

// DefaultTableConfig builds the spec-prescribed defaults: all fields
// minus id go to frontmatter, body is empty, filename is "<id>.md", and
// deserialization takes id from the basename and validates the rest of
// the frontmatter against the schema.
func DefaultTableConfig(s schema.TableSchema) TableConfig {
	idField, _ := s.IDField()
	return TableConfig{
		Serialize: func(row schema.Row) (File, error) {
			id, _ := row[idField].(string)
			fm := make(map[string]any, len(row))
			for k, v := range row {
				if k == idField {
					continue
				}
				fm[k] = v
			}
			return File{Frontmatter: fm, Body: "", Filename: id + ".md"}, nil
		},
		Deserialize: func(file File, tableName string, s schema.TableSchema) (schema.Row, error) {
			id := file.Filename
			if len(id) > 3 && id[len(id)-3:] == ".md" {
				id = id[:len(id)-3]
			}
			input := make(schema.Row, len(file.Frontmatter)+1)
			for k, v := range file.Frontmatter {
				input[k] = v
			}
			input[idField] = id

			result := schema.Validate(s, input)
			if !result.Valid {
				return nil, fmt.Errorf("%s/%s: %v", tableName, file.Filename, result.Errors)
			}
			return result.Row, nil
		},
	}
}
