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

package log

// The built-in styles, from least to most verbose.
var (
	// Raw prints only the message text.
	Raw = Style{Name: "raw"}
	// Brief adds the short severity.
	Brief = Style{Name: "brief", Severity: SeverityShort}
	// Normal adds the timestamp, tag, trace and process.
	Normal = Style{Name: "normal", Timestamp: true, Tag: true, Trace: true, Process: true, Severity: SeverityShort}
	// Detailed prints the long severity and one value per line.
	Detailed = Style{Name: "detailed", Timestamp: true, Tag: true, Trace: true, Process: true, Severity: SeverityLong, Values: ValuesMultiLine}
)

func init() {
	for _, s := range []Style{Raw, Brief, Normal, Detailed} {
		RegisterStyle(s)
	}
}
