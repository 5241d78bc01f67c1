package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postsSchema() TableSchema {
	return TableSchema{
		"id":      {Kind: KindID, AutoGenerate: true},
		"title":   {Kind: KindText},
		"content": {Kind: KindText, Default: ""},
		"category": {
			Kind:    KindSelect,
			Options: []string{"tech", "personal", "tutorial"},
		},
	}
}

func TestValidate_AppliesDefaultsAndGeneratesID(t *testing.T) {
	result := Validate(postsSchema(), Row{
		"title":    "Bidirectional Sync Test",
		"category": "tech",
	})

	require.True(t, result.Valid, "expected valid result, got errors: %v", result.Errors)
	assert.NotEmpty(t, result.Row["id"])
	assert.Equal(t, "", result.Row["content"])
	assert.Equal(t, "tech", result.Row["category"])
}

func TestValidate_RejectsMissingRequiredField(t *testing.T) {
	result := Validate(postsSchema(), Row{"category": "tech"})

	require.False(t, result.Valid)
	assert.Contains(t, []FieldError{{Field: "title", Message: "required field missing"}}, result.Errors[0])
}

func TestValidate_RejectsUnknownOption(t *testing.T) {
	result := Validate(postsSchema(), Row{
		"title":    "x",
		"category": "nonsense",
	})

	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "category", result.Errors[0].Field)
}

func TestValidate_RejectsUnknownField(t *testing.T) {
	result := Validate(postsSchema(), Row{
		"title":    "x",
		"category": "tech",
		"bogus":    "y",
	})

	require.False(t, result.Valid)
	assert.Equal(t, "bogus", result.Errors[0].Field)
}

func TestSchema_Omit(t *testing.T) {
	s := postsSchema()
	minusID := s.Omit("id")

	_, hasID := minusID["id"]
	assert.False(t, hasID)
	assert.Len(t, minusID, len(s)-1)
}

func TestTableSchema_IDField(t *testing.T) {
	name, ok := postsSchema().IDField()
	require.True(t, ok)
	assert.Equal(t, "id", name)
}
