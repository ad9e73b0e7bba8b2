// Package override implements the insertion-ordered pattern registry used to
// override category defaults for individual detectors.
package override

import (
	"strings"

	"ddsim/internal/sd"
)

// Entry is one pattern and its value.
type Entry[V any] struct {
	Pattern string
	Value   V
}

// Registry maps substring patterns to values, keeping insertion order.
// The zero value is an empty registry ready to use.
type Registry[V any] struct {
	entries []Entry[V]
	index   map[string]int
}

// New returns an empty registry.
func New[V any]() *Registry[V] {
	return &Registry[V]{}
}

// Set inserts pattern or replaces its value in place. Replacing keeps the
// entry's original position.
func (r *Registry[V]) Set(pattern string, value V) error {
	if pattern == "" {
		return sd.Configf("override pattern must not be empty")
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[pattern]; ok {
		r.entries[i].Value = value
		return nil
	}
	r.index[pattern] = len(r.entries)
	r.entries = append(r.entries, Entry[V]{Pattern: pattern, Value: value})
	return nil
}

// Get returns the value stored under exactly pattern.
func (r *Registry[V]) Get(pattern string) (V, bool) {
	if i, ok := r.index[pattern]; ok {
		return r.entries[i].Value, true
	}
	var zero V
	return zero, false
}

// Delete removes pattern, preserving the order of the remaining entries.
func (r *Registry[V]) Delete(pattern string) bool {
	i, ok := r.index[pattern]
	if !ok {
		return false
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	delete(r.index, pattern)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].Pattern] = j
	}
	return true
}

// Clear empties the registry.
func (r *Registry[V]) Clear() {
	r.entries = nil
	r.index = nil
}

// Len reports the number of entries.
func (r *Registry[V]) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns a copy of the entries in insertion order.
func (r *Registry[V]) Entries() []Entry[V] {
	if r == nil {
		return nil
	}
	out := make([]Entry[V], len(r.entries))
	copy(out, r.entries)
	return out
}

// Patterns returns the patterns in insertion order.
func (r *Registry[V]) Patterns() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Pattern
	}
	return out
}

// Resolve returns the value of the first-inserted pattern that is a
// case-insensitive substring of name. The boolean is false when nothing
// matches; a matched entry whose value is "none" still reports true.
func (r *Registry[V]) Resolve(name string) (V, bool) {
	e, ok := r.Match(name)
	return e.Value, ok
}

// Match is Resolve that also reports which pattern matched.
func (r *Registry[V]) Match(name string) (Entry[V], bool) {
	if r == nil {
		return Entry[V]{}, false
	}
	lower := strings.ToLower(name)
	for _, e := range r.entries {
		if strings.Contains(lower, strings.ToLower(e.Pattern)) {
			return e, true
		}
	}
	return Entry[V]{}, false
}
