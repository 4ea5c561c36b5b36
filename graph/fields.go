package graph

import (
	"slices"
	"strings"
)

// FieldSet is the static write-set a node declares when it is registered.
//
// A FieldSet names the state fields a node is allowed to change. The engine
// passes it to the Reducer with every delta so the reducer can copy exactly
// those fields, and Compile uses it to reject graphs in which two branches of
// the same fan-out could write the same field.
//
// The zero value is an empty set. FieldSets are kept sorted and free of
// duplicates so that comparisons and error messages are stable.
type FieldSet []string

// Fields builds a FieldSet from the given names, dropping empties and duplicates.
func Fields(names ...string) FieldSet {
	fs := make(FieldSet, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		fs = append(fs, n)
	}
	slices.Sort(fs)
	return slices.Compact(fs)
}

// Has reports whether field is part of the set.
func (fs FieldSet) Has(field string) bool {
	_, found := slices.BinarySearch(fs, field)
	return found
}

// Overlap returns the fields present in both sets, in sorted order.
func (fs FieldSet) Overlap(other FieldSet) []string {
	var common []string
	i, j := 0, 0
	for i < len(fs) && j < len(other) {
		switch {
		case fs[i] == other[j]:
			common = append(common, fs[i])
			i++
			j++
		case fs[i] < other[j]:
			i++
		default:
			j++
		}
	}
	return common
}

// Union returns a new set holding every field of fs and other.
func (fs FieldSet) Union(other FieldSet) FieldSet {
	merged := make([]string, 0, len(fs)+len(other))
	merged = append(merged, fs...)
	merged = append(merged, other...)
	return Fields(merged...)
}

func (fs FieldSet) String() string {
	return "{" + strings.Join(fs, ", ") + "}"
}
