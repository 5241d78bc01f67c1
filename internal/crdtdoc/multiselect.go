package crdtdoc

import (
	"fmt"
	"sort"
)

// MultiSelect is an observed-remove set over a field's option vocabulary,
// grounded on other_examples' go-pluto ORSet (each addition tagged with a
// unique id; removal deletes the tag rather than rewriting the whole set)
// so that two replicas adding different options concurrently both survive
// a merge instead of one writer's full-set replace clobbering the other.
type MultiSelect struct {
	// Elements maps a member value to the unique tag of the add that
	// introduced it. A value is a current member iff present here.
	Elements map[string]string
}

// NewMultiSelect seeds a MultiSelect with the given initial values.
func NewMultiSelect(values []string, nodeID string, counter int64) MultiSelect {
	el := make(map[string]string, len(values))
	for i, v := range values {
		el[v] = fmt.Sprintf("%s-%d-%d", nodeID, counter, i)
	}
	return MultiSelect{Elements: el}
}

// Values returns the current members, sorted for deterministic output.
func (m MultiSelect) Values() []string {
	out := make([]string, 0, len(m.Elements))
	for v := range m.Elements {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ApplyDiff computes the set difference against target and applies only
// the additions/removals (spec.md §4.1's field-level update algorithm for
// multi-select), preserving the add-tag of members that are unchanged.
func (m MultiSelect) ApplyDiff(target []string, nodeID string, counter int64) MultiSelect {
	want := make(map[string]bool, len(target))
	for _, v := range target {
		want[v] = true
	}

	out := make(map[string]string, len(want))
	for v, tag := range m.Elements {
		if want[v] {
			out[v] = tag
		}
	}
	i := 0
	for v := range want {
		if _, kept := out[v]; !kept {
			out[v] = fmt.Sprintf("%s-%d-%d", nodeID, counter, i)
			i++
		}
	}
	return MultiSelect{Elements: out}
}

// MergeMultiSelect unions two replicas' membership, keeping whichever
// add-tag is already recorded locally on overlap.
func MergeMultiSelect(a, b MultiSelect) MultiSelect {
	out := make(map[string]string, len(a.Elements)+len(b.Elements))
	for v, tag := range a.Elements {
		out[v] = tag
	}
	for v, tag := range b.Elements {
		if _, ok := out[v]; !ok {
			out[v] = tag
		}
	}
	return MultiSelect{Elements: out}
}
