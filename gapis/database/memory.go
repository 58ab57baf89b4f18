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

package database

import (
	"context"
	"sync"

	"github.com/gfxsync/gfxsync/core/data/id"
	"github.com/pkg/errors"
)

// NewInMemory builds a new in memory blob store.
func NewInMemory() Store {
	return &memory{records: map[id.ID][]byte{}}
}

type memory struct {
	mutex   sync.RWMutex
	records map[id.ID][]byte
}

func (m *memory) Put(ctx context.Context, data []byte) (id.ID, error) {
	key := id.OfBytes(data)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, found := m.records[key]; !found {
		m.records[key] = append([]byte{}, data...)
	}
	return key, nil
}

func (m *memory) Get(ctx context.Context, key id.ID) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	data, found := m.records[key]
	if !found {
		return nil, errors.Wrapf(ErrBlobNotFound, "id %v", key)
	}
	return append([]byte{}, data...), nil
}

func (m *memory) Contains(ctx context.Context, key id.ID) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, found := m.records[key]
	return found
}
