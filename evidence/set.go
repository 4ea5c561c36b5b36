// Package evidence accumulates retrieved supporting material across the
// cycles of a diagnostic run.
//
// A Set is keyed by source URL and append-only: once an item is in, it stays,
// and a second item with the same URL is ignored. Arrival order is preserved
// because later stages cite evidence by its position in the set.
package evidence

import (
	"encoding/json"
	"iter"
	"strings"
)

// Item is one piece of retrieved material tied to a candidate name.
type Item struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	DiseaseName string `json:"disease_name"`
}

// Set is a URL-deduplicating, order-preserving collection of Items.
//
// The zero value is an empty set ready to use. A Set behaves as a value:
// Add never writes to storage another copy can see, so copies of a Set
// evolve independently. A single Set is not safe for concurrent mutation;
// in a workflow it is only changed through the reducer, which the engine
// serializes.
type Set struct {
	items []Item
	index map[string]struct{}
}

// Add appends item unless its URL is empty or already present.
// It reports whether the item was added.
func (s *Set) Add(item Item) bool {
	url := strings.TrimSpace(item.URL)
	if url == "" || s.Contains(url) {
		return false
	}
	item.URL = url
	*s = build(s.items, []Item{item})
	return true
}

// build returns a set with fresh storage holding the items of each group
// in order, skipping empty and repeated URLs.
func build(groups ...[]Item) Set {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := Set{items: make([]Item, 0, n), index: make(map[string]struct{}, n)}
	for _, g := range groups {
		for _, it := range g {
			it.URL = strings.TrimSpace(it.URL)
			if it.URL == "" {
				continue
			}
			if _, dup := out.index[it.URL]; dup {
				continue
			}
			out.index[it.URL] = struct{}{}
			out.items = append(out.items, it)
		}
	}
	return out
}

// Contains reports whether an item with url is in the set.
func (s Set) Contains(url string) bool {
	url = strings.TrimSpace(url)
	if s.index != nil {
		_, ok := s.index[url]
		return ok
	}
	for _, it := range s.items {
		if it.URL == url {
			return true
		}
	}
	return false
}

// Len returns the number of items.
func (s Set) Len() int {
	return len(s.items)
}

// Items returns a copy of the items in accumulation order.
func (s Set) Items() []Item {
	return append([]Item(nil), s.items...)
}

// All yields every item with its 1-based position.
func (s Set) All() iter.Seq2[int, Item] {
	return func(yield func(int, Item) bool) {
		for i, it := range s.items {
			if !yield(i+1, it) {
				return
			}
		}
	}
}

// FilterByCandidate yields the items recorded for name, in accumulation
// order, each with its 1-based position in the whole set. Positions are the
// citation numbers shown to the judgement step, so they stay global rather
// than restarting per candidate.
//
// The sequence is lazy and can be ranged over any number of times.
func (s Set) FilterByCandidate(name string) iter.Seq2[int, Item] {
	items := s.items
	return func(yield func(int, Item) bool) {
		for i, it := range items {
			if it.DiseaseName != name {
				continue
			}
			if !yield(i+1, it) {
				return
			}
		}
	}
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	return Set{}.Union(s)
}

// Union returns a new set holding the items of s followed by the items of
// other that s does not already contain. Neither input is modified.
func (s Set) Union(other Set) Set {
	return build(s.items, other.items)
}

// MarshalJSON encodes the set as an ordered array of items.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.items)
}

// UnmarshalJSON decodes an array of items, applying the usual dedup rule.
func (s *Set) UnmarshalJSON(data []byte) error {
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = build(items)
	return nil
}
