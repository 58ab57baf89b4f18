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

package replay

import "sync"

// Sink receives reconstruction calls in execution order.
type Sink interface {
	Append(calls ...Call)
}

// Queue is an in-memory Sink. It is safe for concurrent use, though calls
// from separate appenders may interleave.
type Queue struct {
	mutex sync.Mutex
	calls []Call
}

// Append adds calls to the end of the queue.
func (q *Queue) Append(calls ...Call) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.calls = append(q.calls, calls...)
}

// Calls returns a copy of the queued calls.
func (q *Queue) Calls() []Call {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]Call(nil), q.calls...)
}

// Len returns the number of queued calls.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.calls)
}

// Reset empties the queue and returns what it held.
func (q *Queue) Reset() []Call {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	out := q.calls
	q.calls = nil
	return out
}

// Filter is a Sink that forwards only the calls for one context.
type Filter struct {
	Context uint64
	To      Sink
}

// Append forwards the calls that match f.Context.
func (f Filter) Append(calls ...Call) {
	for _, c := range calls {
		if c.Context == f.Context {
			f.To.Append(c)
		}
	}
}
