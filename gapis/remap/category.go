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

// Package remap converts capture-time resource identifiers and GPU addresses
// into their replay-time equivalents.
//
// Identifiers are remapped by exact match within a Category. Address ranges
// (descriptor heaps, tables, buffer device addresses) are remapped by interval
// containment: an address resolves through the range that contains it.
//
// All lookups return an explicit ok flag. A missing mapping means the object
// has not been created (or observed) yet, never an error.
package remap

import "fmt"

// Category partitions identifiers so that the same numeric id can name
// unrelated objects of different kinds.
type Category uint32

const (
	Unknown Category = iota
	Device
	Queue
	QueueFamily
	MemoryType
	DeviceMemory
	Buffer
	Texture
	Renderbuffer
	Framebuffer
	Sampler
	Shader
	Program
	VertexArray
	Heap
	DescriptorTable
	Context

	categoryCount
)

var categoryNames = [categoryCount]string{
	Unknown:         "Unknown",
	Device:          "Device",
	Queue:           "Queue",
	QueueFamily:     "QueueFamily",
	MemoryType:      "MemoryType",
	DeviceMemory:    "DeviceMemory",
	Buffer:          "Buffer",
	Texture:         "Texture",
	Renderbuffer:    "Renderbuffer",
	Framebuffer:     "Framebuffer",
	Sampler:         "Sampler",
	Shader:          "Shader",
	Program:         "Program",
	VertexArray:     "VertexArray",
	Heap:            "Heap",
	DescriptorTable: "DescriptorTable",
	Context:         "Context",
}

func (c Category) String() string {
	if c < categoryCount {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint32(c))
}

// Categories returns every known category, in declaration order.
func Categories() []Category {
	out := make([]Category, 0, categoryCount)
	for c := Unknown; c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

// CaptureID is an identifier assigned at capture time.
type CaptureID uint64

// ReplayID is an identifier assigned by the replay driver.
type ReplayID uint64

// Key identifies a single capture-time object.
type Key struct {
	Category Category
	ID       CaptureID
}

func (k Key) String() string { return fmt.Sprintf("%v<%#x>", k.Category, uint64(k.ID)) }
