// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implements a generic set on top of a map.
package sets

// Set of comparable values. The zero value is a nil map: use Make before inserting.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set. The optional size reserves space for that many elements.
func Make[T comparable](size ...int) Set[T] {
	if len(size) > 0 {
		return make(Set[T], size[0])
	}
	return make(Set[T])
}

// Has reports whether key is in the set.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert adds keys to the set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}
