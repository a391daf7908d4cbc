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

// Package archiver is component C2: the per-path chain of historical
// content blobs in the DHT, mirrored onto a companion on-mount version
// directory so history is readable without going back out to the overlay.
package archiver

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/ipfs/go-datastore"
	dsquery "github.com/ipfs/go-datastore/query"

	"github.com/kadfs/kadfs/internal/dht"
)

// versionsDirName names the on-mount directory holding a path's historical
// versions, e.g. "/a/b/c.txt" -> "/a/b/.versions/c.txt/".
const versionsDirName = ".versions"

// Archiver maintains the version chain for every path that has ever been
// overwritten. Chain entries are stored in the DHT under the versioned API
// (dht.Client.PutVersioned) and mirrored into ds, a local datastore rooted
// at the mount point, so version_folder(p) can be read straight off disk.
type Archiver struct {
	client dht.Client
	ds     datastore.Datastore
	root   string // local filesystem path the version folders are materialized under

	mu     sync.Mutex
	chains map[string][]string // path -> ordered list of version ids (oldest first)
}

func New(client dht.Client, ds datastore.Datastore, root string) *Archiver {
	return &Archiver{
		client: client,
		ds:     ds,
		root:   root,
		chains: make(map[string][]string),
	}
}

// VersionFolder derives V(p) from p: a stable, collision-free directory
// name alongside the original path.
func (a *Archiver) VersionFolder(p string) string {
	dir, name := path.Split(strings.TrimPrefix(p, "/"))
	return path.Join("/", dir, versionsDirName, name)
}

// IsVersionFolder reports whether p falls under some path's version folder,
// so the mirror and syncer can avoid recursively versioning versions (§4.1).
func IsVersionFolder(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == versionsDirName {
			return true
		}
	}
	return false
}

// Archive appends oldBlob to p's version chain and materializes it as a new
// file inside V(p) named by the chain index. Per §4.3 policy, callers only
// invoke this when oldBlob is non-empty and p is not a directory.
func (a *Archiver) Archive(ctx context.Context, p string, oldBlob []byte) error {
	versionID := uuid.NewString()
	key := dht.ContentKey(p)

	if err := a.client.PutVersioned(ctx, key, versionID, oldBlob); err != nil {
		return fmt.Errorf("archiving %s to DHT: %w", p, err)
	}

	a.mu.Lock()
	index := len(a.chains[p])
	a.chains[p] = append(a.chains[p], versionID)
	a.mu.Unlock()

	if err := a.ds.Put(ctx, datastore.NewKey(path.Join(p, strconv.Itoa(index))), oldBlob); err != nil {
		return fmt.Errorf("indexing archived version: %w", err)
	}

	if a.root != "" {
		dir := path.Join(a.root, a.VersionFolder(p))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating version folder %s: %w", dir, err)
		}
		dst := path.Join(dir, strconv.Itoa(index))
		if err := renameio.WriteFile(dst, oldBlob, 0o644); err != nil {
			return fmt.Errorf("materializing version file: %w", err)
		}
	}
	return nil
}

// RemoveVersions deletes every chain entry for p and removes V(p). Called
// before a file is unlinked so later deletion of p cannot orphan history.
func (a *Archiver) RemoveVersions(ctx context.Context, p string) error {
	key := dht.ContentKey(p)

	a.mu.Lock()
	ids := a.chains[p]
	delete(a.chains, p)
	a.mu.Unlock()

	for _, id := range ids {
		if err := a.client.RemoveVersioned(ctx, key, id); err != nil {
			return fmt.Errorf("removing version %s of %s: %w", id, p, err)
		}
	}

	results, err := a.ds.Query(ctx, dsquery.Query{Prefix: p})
	if err != nil {
		return fmt.Errorf("listing local versions of %s: %w", p, err)
	}
	entries, err := results.Rest()
	if err != nil {
		return fmt.Errorf("draining local versions of %s: %w", p, err)
	}
	for _, e := range entries {
		if err := a.ds.Delete(ctx, datastore.NewKey(e.Key)); err != nil {
			return fmt.Errorf("removing local version entry %s: %w", e.Key, err)
		}
	}

	if a.root != "" {
		dir := path.Join(a.root, a.VersionFolder(p))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing version folder %s: %w", dir, err)
		}
	}
	return nil
}

// ChainLength reports how many prior versions are on record for p. Used by
// the testable-property that the chain length equals the number of
// CompleteWrites with a non-empty prior blob (spec §8, property 6).
func (a *Archiver) ChainLength(p string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chains[p])
}
