package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFields(t *testing.T) {
	fs := Fields("b", " a ", "", "b", "c")
	if diff := cmp.Diff(FieldSet{"a", "b", "c"}, fs); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}
	if !fs.Has("b") || fs.Has("z") {
		t.Errorf("Has misbehaves on %v", fs)
	}
	if got := fs.String(); got != "{a, b, c}" {
		t.Errorf("String() = %q", got)
	}
}

func TestFieldSetOverlapAndUnion(t *testing.T) {
	x := Fields("ranking", "evidence", "depth")
	y := Fields("evidence", "judgements")

	if diff := cmp.Diff([]string{"evidence"}, x.Overlap(y)); diff != "" {
		t.Errorf("Overlap mismatch (-want +got):\n%s", diff)
	}
	if got := x.Overlap(Fields("other")); len(got) != 0 {
		t.Errorf("disjoint Overlap = %v", got)
	}
	if diff := cmp.Diff(FieldSet{"depth", "evidence", "judgements", "ranking"}, x.Union(y)); diff != "" {
		t.Errorf("Union mismatch (-want +got):\n%s", diff)
	}
}
