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

// Package database implements the content-addressed blob store used for
// state payloads too large to keep inline.
package database

import (
	"context"

	"github.com/gfxsync/gfxsync/core/data/id"
	"github.com/gfxsync/gfxsync/core/fault"
)

// ErrBlobNotFound is returned by Get when the id has no stored blob.
const ErrBlobNotFound = fault.Const("blob not found")

// Store is the interface to a content-addressed blob store.
type Store interface {
	// Put stores data, returning the content identifier. Storing the same
	// content twice returns the same identifier.
	Put(ctx context.Context, data []byte) (id.ID, error)
	// Get returns the data previously stored with the given identifier.
	Get(ctx context.Context, id id.ID) ([]byte, error)
	// Contains returns true if the store has an entry for the identifier.
	Contains(ctx context.Context, id id.ID) bool
}

type databaseKeyTy string

const databaseKey = databaseKeyTy("database")

// Get returns the Store attached to the given context, or nil.
func Get(ctx context.Context) Store {
	out, _ := ctx.Value(databaseKey).(Store)
	return out
}

// Put amends a Context by attaching a Store reference to it.
func Put(ctx context.Context, s Store) context.Context {
	if val := ctx.Value(databaseKey); val != nil {
		panic("Context already holds database")
	}
	return context.WithValue(ctx, databaseKey, s)
}
