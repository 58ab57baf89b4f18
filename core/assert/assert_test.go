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

package assert_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gfxsync/gfxsync/core/assert"
)

type recorder struct {
	errors, fatals, logs int
}

func (r *recorder) Fatal(args ...interface{}) { r.fatals++ }
func (r *recorder) Error(args ...interface{}) { r.errors++ }
func (r *recorder) Log(args ...interface{})   { r.logs++ }

func TestFailuresAreReported(t *testing.T) {
	r := &recorder{}
	ctx := assert.To(r)
	ctx.For("int").ThatInteger(3).Equals(4)
	ctx.For("slice").ThatSlice([]int{1, 2}).Equals([]int{1, 2, 3})
	ctx.For("error").ThatError(nil).Failed()
	ctx.For("float").ThatFloat(1.0).Equals(1.5, 0.1)
	ctx.For("critical").Critical().ThatBoolean(false).IsTrue()
	if r.errors != 4 || r.fatals != 1 {
		t.Errorf("Got %d errors and %d fatals, expected 4 and 1", r.errors, r.fatals)
	}
}

func TestPassesAreSilent(t *testing.T) {
	r := &recorder{}
	ctx := assert.To(r)
	cause := errors.New("cause")
	ctx.For("int").ThatInteger(3).Equals(3)
	ctx.For("string").ThatString("0x9050").HasPrefix("0x")
	ctx.For("deep").That([]uint64{1, 2}).DeepEquals([]uint64{1, 2})
	ctx.For("wrapped").ThatError(fmt.Errorf("wrap: %w", cause)).Failed()
	ctx.For("float").ThatFloat(0.1+0.2).Equals(0.3, 1e-9)
	if r.errors != 0 || r.fatals != 0 {
		t.Errorf("Got %d errors and %d fatals, expected none", r.errors, r.fatals)
	}
}
