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

// Severity defines the severity of a logging message.
type Severity int32

const (
	// Verbose indicates extremely verbose level messages.
	Verbose Severity = iota
	// Debug indicates debug-level messages.
	Debug
	// Info indicates minor informational messages that should generally be ignored.
	Info
	// Warning indicates issues that might affect performance or compatibility, but could be ignored.
	Warning
	// Error indicates non terminal failure conditions that may have an effect on results.
	Error
	// Fatal indicates a fatal error.
	Fatal
)

var severityNames = [...]string{"Verbose", "Debug", "Info", "Warning", "Error", "Fatal"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "Unknown"
	}
	return severityNames[s]
}

// Short returns the single character abbreviation of the severity.
func (s Severity) Short() string {
	switch s {
	case Verbose:
		return "V"
	case Debug:
		return "D"
	case Info:
		return "I"
	case Warning:
		return "W"
	case Error:
		return "E"
	case Fatal:
		return "F"
	default:
		return "?"
	}
}
