// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package interval provides sorted lists of non-overlapping half-open
// intervals over uint64.
package interval

type (
	// List is the interface to an object that can be used as an interval list
	// by the algorithms in this package.
	List interface {
		// Length returns the number of intervals in the list.
		Length() int
		// GetSpan returns the span of the interval at index.
		GetSpan(index int) U64Span
	}

	// MutableList is a List that can be resized and reordered in place.
	MutableList interface {
		List
		// Copy moves count intervals from the index from to the index to.
		Copy(to, from, count int)
		// Resize adjusts the length of the list.
		Resize(length int)
		// New sets the interval at index to a fresh entry covering span.
		New(index int, span U64Span)
	}

	// Predicate is used as the condition for a search.
	Predicate func(test U64Span) bool
)

// IndexOf returns the index of the interval in l that contains value, or -1.
func IndexOf(l List, value uint64) int {
	return findSpanFor(l, value)
}

// Contains returns true if value is inside one of the intervals of l.
func Contains(l List, value uint64) bool {
	return findSpanFor(l, value) >= 0
}

// Search returns the index of the first interval for which t is true.
// The list must be ordered such that t is false for a prefix of the list and
// true for the rest. If no interval matches, the length of l is returned.
func Search(l List, t Predicate) int {
	return search(l, t)
}

// Overlaps returns the index of the first interval in l that shares at least
// one value with span. Empty spans never overlap anything.
func Overlaps(l List, span U64Span) (int, bool) {
	if span.Empty() {
		return -1, false
	}
	i := search(l, func(test U64Span) bool { return span.Start < test.End })
	for ; i < l.Length(); i++ {
		test := l.GetSpan(i)
		if test.Empty() {
			continue
		}
		if test.Start >= span.End {
			break
		}
		return i, true
	}
	return -1, false
}

// Insert adds span to l keeping the list ordered by start. Unlike a merge, an
// insertion that would overlap an existing interval is refused, returning
// the index of the conflicting interval and false. Empty spans are refused
// with an index of -1, as they would break the containment search.
func Insert(l MutableList, span U64Span) (int, bool) {
	if span.Empty() {
		return -1, false
	}
	if i, overlap := Overlaps(l, span); overlap {
		return i, false
	}
	at := search(l, func(test U64Span) bool { return span.Start < test.Start })
	adjust(l, at, 1)
	l.New(at, span)
	return at, true
}

// RemoveAt removes the interval at index from l.
func RemoveAt(l MutableList, index int) {
	adjust(l, index+1, -1)
}
