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

// Package dht is component C1: the key/value and versioned key/value facade
// over the Kademlia overlay. Everything below this package (the raw
// get/put/remove/get_versions transport and peer-map change notifications)
// is out of scope per the spec; this package is the thin, in-scope adapter
// that the rest of kadfs is written against.
package dht

import (
	"context"
	"crypto/sha256"
)

// Key is a content-addressed DHT key: the SHA-256 digest of whatever the
// caller hashed to produce it (a path string, a "keys" location literal,
// and so on). It is a fixed-size array so it can be used as a map key.
type Key [32]byte

// KeyOf hashes an arbitrary byte string into a Key. Content keys (K_c) and
// the path-index location (K_keys) are both derived this way.
func KeyOf(b []byte) Key {
	return sha256.Sum256(b)
}

// ContentKey returns K_c(p), the key under which a path's file bytes live.
func ContentKey(path string) Key {
	return KeyOf([]byte(path))
}

// KeysLocation returns K_keys = hash("keys"), the enumerable location under
// which every currently-stored path is indexed by its content key.
func KeysLocation() Key {
	return KeyOf([]byte("keys"))
}

// Client is the DHT boundary described in spec §6. A concrete
// implementation (see kademlia.go) backs it with a real Kademlia overlay; a
// fake implementation (see fake.go) backs tests.
type Client interface {
	// Put/Get/Remove address the flat key space.
	Put(ctx context.Context, key Key, data []byte) error
	Get(ctx context.Context, key Key) (data []byte, found bool, err error)
	Remove(ctx context.Context, key Key) error

	// PutUnder/RemoveUnder/GetAllUnder address the "location" enumeration
	// space used for the path index (K_keys).
	PutUnder(ctx context.Context, location, key Key, data []byte) error
	RemoveUnder(ctx context.Context, location, key Key) error
	GetAllUnder(ctx context.Context, location Key) (map[Key][]byte, error)

	// PutVersioned/GetVersioned/RemoveVersioned and GetVersions back the
	// version chain (component C2).
	PutVersioned(ctx context.Context, key Key, versionID string, data []byte) error
	GetVersioned(ctx context.Context, key Key, versionID string) (data []byte, found bool, err error)
	RemoveVersioned(ctx context.Context, key Key, versionID string) error
	GetVersions(ctx context.Context, key Key) ([]string, error)

	// OnPeerMapChange registers a callback invoked with the current peer
	// count whenever the overlay's peer map changes. Used by C8 to resize
	// reported capacity.
	OnPeerMapChange(cb func(peerCount int))

	// LocalIP returns this peer's externally-reachable address, used when
	// registering with the bootstrap rendezvous.
	LocalIP() (string, error)

	// Shutdown tears down the overlay connection. Best-effort; errors are
	// logged by the caller, never propagated past unmount (§7).
	Shutdown(ctx context.Context) error
}
