package evidence

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func item(url, disease string) Item {
	return Item{Title: "t " + url, URL: url, Content: "c", DiseaseName: disease}
}

func TestSet_AddDeduplicatesByURL(t *testing.T) {
	var s Set
	if !s.Add(item("https://a", "Marfan syndrome")) {
		t.Fatal("first add rejected")
	}
	if s.Add(Item{URL: " https://a ", DiseaseName: "Other"}) {
		t.Error("duplicate URL accepted")
	}
	if s.Add(Item{URL: "", Title: "no source"}) {
		t.Error("empty URL accepted")
	}
	if !s.Add(item("https://b", "Marfan syndrome")) {
		t.Error("distinct URL rejected")
	}
	if s.Len() != 2 || !s.Contains("https://b") || s.Contains("https://c") {
		t.Errorf("set = %+v", s.Items())
	}
}

func TestSet_AcrossIterations(t *testing.T) {
	var state Set
	sizes := []int{}

	for _, batch := range [][]Item{
		{item("https://pubmed/1", "X"), item("https://wiki/X", "X")},
		{item("https://pubmed/1", "X"), item("https://pubmed/2", "X")},
	} {
		var delta Set
		for _, it := range batch {
			delta.Add(it)
		}
		state = state.Union(delta)
		sizes = append(sizes, state.Len())
	}

	if diff := cmp.Diff([]int{2, 3}, sizes); diff != "" {
		t.Errorf("sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestSet_FilterByCandidate(t *testing.T) {
	var s Set
	s.Add(item("u1", "A"))
	s.Add(item("u2", "B"))
	s.Add(item("u3", "A"))

	type cited struct {
		Pos int
		URL string
	}
	collect := func() []cited {
		var out []cited
		for pos, it := range s.FilterByCandidate("A") {
			out = append(out, cited{pos, it.URL})
		}
		return out
	}

	want := []cited{{1, "u1"}, {3, "u3"}}
	if diff := cmp.Diff(want, collect()); diff != "" {
		t.Errorf("first pass mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, collect()); diff != "" {
		t.Errorf("sequence not restartable (-want +got):\n%s", diff)
	}

	for range s.FilterByCandidate("nobody") {
		t.Error("unexpected item for unknown candidate")
	}

	n := 0
	for range s.FilterByCandidate("A") {
		n++
		break
	}
	if n != 1 {
		t.Errorf("early break yielded %d items", n)
	}
}

func TestSet_UnionDoesNotMutateInputs(t *testing.T) {
	var a, b Set
	a.Add(item("u1", "A"))
	b.Add(item("u1", "A"))
	b.Add(item("u2", "A"))

	u := a.Union(b)
	if u.Len() != 2 || a.Len() != 1 || b.Len() != 2 {
		t.Errorf("lens: union=%d a=%d b=%d", u.Len(), a.Len(), b.Len())
	}

	c := a.Clone()
	c.Add(item("u9", "A"))
	if a.Contains("u9") {
		t.Error("Clone shares storage with the original")
	}
}

func TestSet_CopiesEvolveIndependently(t *testing.T) {
	var base Set
	base.Add(item("u1", "A"))
	base.Add(item("u2", "A"))

	left, right := base, base
	left.Add(item("u3", "A"))
	right.Add(item("u4", "B"))

	if diff := cmp.Diff([]string{"u1", "u2", "u3"}, urls(left)); diff != "" {
		t.Errorf("left (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"u1", "u2", "u4"}, urls(right)); diff != "" {
		t.Errorf("right (-want +got):\n%s", diff)
	}
	if base.Len() != 2 || base.Contains("u3") || base.Contains("u4") {
		t.Errorf("base changed: %v", urls(base))
	}
	if !right.Add(item("u3", "B")) {
		t.Error("right sees an item only added to left")
	}
}

func urls(s Set) []string {
	var out []string
	for _, it := range s.All() {
		out = append(out, it.URL)
	}
	return out
}

func TestSet_JSONRoundTrip(t *testing.T) {
	var s Set
	s.Add(item("u2", "B"))
	s.Add(item("u1", "A"))

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var back Set
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(s.Items(), back.Items()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if back.Add(item("u1", "A")) {
		t.Error("index not rebuilt after unmarshal")
	}

	empty, _ := json.Marshal(Set{})
	if string(empty) != "[]" {
		t.Errorf("empty set encodes as %s", empty)
	}
}
