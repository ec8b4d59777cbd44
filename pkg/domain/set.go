package domain

import "sort"

type Set[T comparable] map[T]struct{}

// NewSet creates a new set from a slice of elements.
func NewSet[T comparable](elements ...T) Set[T] {
	s := make(Set[T])
	s.Add(elements...)
	return s
}

// Add adds elements to the set.
func (s Set[T]) Add(elements ...T) {
	for _, element := range elements {
		s[element] = struct{}{}
	}
}

// Has checks if an element exists in the set.
func (s Set[T]) Has(element T) bool {
	_, found := s[element]
	return found
}

// Size returns the number of elements in the set.
func (s Set[T]) Size() int {
	return len(s)
}

// ToSlice converts the set to a slice of its elements.
func (s Set[T]) ToSlice() []T {
	slice := make([]T, 0, len(s))
	for element := range s {
		slice = append(slice, element)
	}
	return slice
}

// Diff returns the elements present in s but absent from other, sorted.
// Used for schema-drift diagnostics and orphan-key detection.
func Diff(s, other Set[string]) []string {
	var out []string
	for element := range s {
		if !other.Has(element) {
			out = append(out, element)
		}
	}
	sort.Strings(out)
	return out
}

// HasDuplicates reports whether the slice contains a repeated element and
// returns the first repeated value found.
func HasDuplicates[T comparable](elements []T) (T, bool) {
	seen := make(Set[T], len(elements))
	for _, element := range elements {
		if seen.Has(element) {
			return element, true
		}
		seen.Add(element)
	}
	var zero T
	return zero, false
}
