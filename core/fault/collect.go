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

package fault

import "strings"

// List is the type for a list of errors.
type List []error

// First returns the first error added to it.
func (l *List) First() error {
	if len(*l) <= 0 {
		return nil
	}
	return (*l)[0]
}

// Collect adds an error to the list.
func (l *List) Collect(err error) {
	*l = append(*l, err)
}

// Err returns nil for an empty list, the sole error for a list of one, and an
// error joining every message otherwise.
func (l List) Err() error {
	switch len(l) {
	case 0:
		return nil
	case 1:
		return l[0]
	}
	return l
}

// Error implements error for List by joining the messages of each error.
func (l List) Error() string {
	msgs := make([]string, len(l))
	for i, err := range l {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
