package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Row is the plain-value shape of a record: scalars/arrays suitable for
// disk, network, and relational storage (spec.md's "serialized row").
type Row map[string]any

// FieldError describes one field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

// ValidationResult is {status: valid, row} | {status: invalid, errors}.
type ValidationResult struct {
	Valid  bool
	Row    Row
	Errors []FieldError
}

// Validate checks input against schema, applying defaults and generating
// an id when the schema allows it and the caller omitted one.
func Validate(s TableSchema, input Row) ValidationResult {
	idField, hasID := s.IDField()
	out := make(Row, len(s))
	var errs []FieldError

	for name, f := range s {
		v, present := input[name]

		if !present {
			switch {
			case f.Kind == KindID && hasID && name == idField && f.AutoGenerate:
				v = uuid.New().String()
				present = true
			case f.Default != nil:
				v = f.Default
				present = true
			case f.Nullable:
				out[name] = nil
				continue
			default:
				errs = append(errs, FieldError{Field: name, Message: "required field missing"})
				continue
			}
		}

		if v == nil {
			if f.Nullable {
				out[name] = nil
				continue
			}
			errs = append(errs, FieldError{Field: name, Message: "field cannot be null"})
			continue
		}

		coerced, err := coerce(f, v)
		if err != nil {
			errs = append(errs, FieldError{Field: name, Message: err.Error()})
			continue
		}
		out[name] = coerced
	}

	for name := range input {
		if _, declared := s[name]; !declared {
			errs = append(errs, FieldError{Field: name, Message: "unknown field"})
		}
	}

	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true, Row: out}
}

func coerce(f Field, v any) (any, error) {
	switch f.Kind {
	case KindID, KindText, KindRichText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
	case KindReal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("expected real number, got %T", v)
		}
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case KindTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp: %w", err)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("expected timestamp, got %T", v)
		}
	case KindSelect:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		if !contains(f.Options, s) {
			return nil, fmt.Errorf("value %q not in options %v", s, f.Options)
		}
		return s, nil
	case KindMultiSelect:
		raw, ok := toStringSlice(v)
		if !ok {
			return nil, fmt.Errorf("expected string array, got %T", v)
		}
		for _, s := range raw {
			if !contains(f.Options, s) {
				return nil, fmt.Errorf("value %q not in options %v", s, f.Options)
			}
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown field kind %q", f.Kind)
	}
}

func contains(opts []string, v string) bool {
	for _, o := range opts {
		if o == v {
			return true
		}
	}
	return false
}

func toStringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
