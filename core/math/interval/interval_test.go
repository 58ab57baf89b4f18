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

package interval_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gfxsync/gfxsync/core/assert"
	"github.com/gfxsync/gfxsync/core/math/interval"
)

func str(l interval.U64SpanList) string {
	s := make([]string, len(l))
	for i, v := range l {
		s[i] = fmt.Sprintf("%d:%d", v.Start, v.End)
	}
	return "[" + strings.Join(s, ",") + "]"
}

func TestInsert(t *testing.T) {
	ctx := assert.To(t)
	for _, test := range []struct {
		name     string
		list     interval.U64SpanList
		with     interval.U64Span
		expected interval.U64SpanList
		ok       bool
	}{
		{"Empty list",
			interval.U64SpanList{},
			interval.U64Span{0, 10},
			interval.U64SpanList{{0, 10}},
			true,
		},
		{"Empty span",
			interval.U64SpanList{{0, 10}},
			interval.U64Span{5, 5},
			interval.U64SpanList{{0, 10}},
			false,
		},
		{"between",
			interval.U64SpanList{{0, 10}, {40, 50}},
			interval.U64Span{20, 30},
			interval.U64SpanList{{0, 10}, {20, 30}, {40, 50}},
			true,
		},
		{"before",
			interval.U64SpanList{{10, 20}},
			interval.U64Span{0, 5},
			interval.U64SpanList{{0, 5}, {10, 20}},
			true,
		},
		{"after",
			interval.U64SpanList{{0, 5}},
			interval.U64Span{10, 20},
			interval.U64SpanList{{0, 5}, {10, 20}},
			true,
		},
		{"touch before",
			interval.U64SpanList{{3, 5}},
			interval.U64Span{0, 3},
			interval.U64SpanList{{0, 3}, {3, 5}},
			true,
		},
		{"touch after",
			interval.U64SpanList{{3, 5}},
			interval.U64Span{5, 7},
			interval.U64SpanList{{3, 5}, {5, 7}},
			true,
		},
		{"overlap start",
			interval.U64SpanList{{3, 5}},
			interval.U64Span{0, 4},
			interval.U64SpanList{{3, 5}},
			false,
		},
		{"overlap end",
			interval.U64SpanList{{3, 5}},
			interval.U64Span{4, 7},
			interval.U64SpanList{{3, 5}},
			false,
		},
		{"inside",
			interval.U64SpanList{{0, 10}},
			interval.U64Span{2, 3},
			interval.U64SpanList{{0, 10}},
			false,
		},
		{"surrounds",
			interval.U64SpanList{{10, 20}, {30, 40}},
			interval.U64Span{25, 50},
			interval.U64SpanList{{10, 20}, {30, 40}},
			false,
		},
	} {
		l := append(interval.U64SpanList{}, test.list...)
		_, ok := interval.Insert(&l, test.with)
		ctx.For("%s inserted", test.name).ThatBoolean(ok).Equals(test.ok)
		ctx.For("%s list", test.name).ThatString(str(l)).Equals(str(test.expected))
	}
}

func TestRemoveAt(t *testing.T) {
	l := interval.U64SpanList{{0, 1}, {2, 3}, {4, 5}}
	interval.RemoveAt(&l, 1)
	assert.For(t, "middle").ThatString(str(l)).Equals("[0:1,4:5]")
	interval.RemoveAt(&l, 1)
	assert.For(t, "last").ThatString(str(l)).Equals("[0:1]")
	interval.RemoveAt(&l, 0)
	assert.For(t, "first").ThatString(str(l)).Equals("[]")
}

func TestIndexOf(t *testing.T) {
	ctx := assert.To(t)
	l := interval.U64SpanList{{0x1000, 0x1100}, {0x2000, 0x2010}}
	for _, test := range []struct {
		value    uint64
		expected int
	}{
		{0x0fff, -1},
		{0x1000, 0},
		{0x1050, 0},
		{0x10ff, 0},
		{0x1100, -1},
		{0x2000, 1},
		{0x200f, 1},
		{0x2010, -1},
	} {
		ctx.For("IndexOf(%#x)", test.value).ThatInteger(interval.IndexOf(&l, test.value)).Equals(test.expected)
	}
}

func TestOverlaps(t *testing.T) {
	ctx := assert.To(t)
	l := interval.U64SpanList{{10, 20}, {30, 40}}
	i, ok := interval.Overlaps(&l, interval.U64Span{15, 35})
	ctx.For("overlap").ThatBoolean(ok).IsTrue()
	ctx.For("first overlap").ThatInteger(i).Equals(0)
	_, ok = interval.Overlaps(&l, interval.U64Span{20, 30})
	ctx.For("gap").ThatBoolean(ok).IsFalse()
	_, ok = interval.Overlaps(&l, interval.U64Span{12, 12})
	ctx.For("empty").ThatBoolean(ok).IsFalse()
}
