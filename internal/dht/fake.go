// Copyright 2024 The kadfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dht

import (
	"context"
	"sync"
)

// Fake is an in-memory Client, standing in for the libp2p-backed overlay in
// tests the way internal/storage/fake stands in for GCS in gcsfuse.
type Fake struct {
	mu          sync.Mutex
	values      map[Key][]byte
	under       map[Key]map[Key][]byte
	versions    map[Key][]string
	versionData map[string][]byte
	peerCount   int
	onChange    func(int)
}

var _ Client = &Fake{}

func NewFake() *Fake {
	return &Fake{
		values:      make(map[Key][]byte),
		under:       make(map[Key]map[Key][]byte),
		versions:    make(map[Key][]string),
		versionData: make(map[string][]byte),
		peerCount:   1,
	}
}

func (f *Fake) Put(_ context.Context, key Key, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.values[key] = cp
	return nil
}

func (f *Fake) Get(_ context.Context, key Key) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.values[key]
	return data, ok, nil
}

func (f *Fake) Remove(_ context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *Fake) PutUnder(_ context.Context, location, key Key, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	set, ok := f.under[location]
	if !ok {
		set = make(map[Key][]byte)
		f.under[location] = set
	}
	set[key] = cp
	return nil
}

func (f *Fake) RemoveUnder(_ context.Context, location, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.under[location]; ok {
		delete(set, key)
	}
	return nil
}

func (f *Fake) GetAllUnder(_ context.Context, location Key) (map[Key][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[Key][]byte, len(f.under[location]))
	for k, v := range f.under[location] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func versionStoreKey(key Key, versionID string) string {
	return string(key[:]) + "\x00" + versionID
}

func (f *Fake) PutVersioned(_ context.Context, key Key, versionID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionData[versionStoreKey(key, versionID)] = append([]byte(nil), data...)
	f.versions[key] = append(f.versions[key], versionID)
	return nil
}

func (f *Fake) GetVersioned(_ context.Context, key Key, versionID string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.versionData[versionStoreKey(key, versionID)]
	return data, ok, nil
}

func (f *Fake) RemoveVersioned(_ context.Context, key Key, versionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.versionData, versionStoreKey(key, versionID))
	remaining := f.versions[key][:0]
	for _, v := range f.versions[key] {
		if v != versionID {
			remaining = append(remaining, v)
		}
	}
	f.versions[key] = remaining
	return nil
}

func (f *Fake) GetVersions(_ context.Context, key Key) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.versions[key]))
	copy(out, f.versions[key])
	return out, nil
}

func (f *Fake) OnPeerMapChange(cb func(peerCount int)) {
	f.mu.Lock()
	f.onChange = cb
	f.mu.Unlock()
}

// SetPeerCount lets tests simulate peers joining/leaving, firing the
// registered OnPeerMapChange callback (used to exercise C8's resize logic).
func (f *Fake) SetPeerCount(n int) {
	f.mu.Lock()
	f.peerCount = n
	cb := f.onChange
	f.mu.Unlock()
	if cb != nil {
		cb(n)
	}
}

func (f *Fake) LocalIP() (string, error) { return "127.0.0.1", nil }

func (f *Fake) Shutdown(context.Context) error { return nil }
