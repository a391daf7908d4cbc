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

package archiver

import (
	"context"
	"os"
	"path"
	"testing"

	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadfs/kadfs/internal/dht"
)

func TestArchiveMaterializesVersionFileOnDisk(t *testing.T) {
	root := t.TempDir()
	a := New(dht.NewFake(), datastore.NewMapDatastore(), root)

	require.NoError(t, a.Archive(context.Background(), "/a.txt", []byte("old")))

	data, err := os.ReadFile(path.Join(root, a.VersionFolder("/a.txt"), "0"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), data)
}

func TestRemoveVersionsDeletesOnDiskVersionFolder(t *testing.T) {
	root := t.TempDir()
	a := New(dht.NewFake(), datastore.NewMapDatastore(), root)
	ctx := context.Background()

	require.NoError(t, a.Archive(ctx, "/a.txt", []byte("v1")))
	require.NoError(t, a.Archive(ctx, "/a.txt", []byte("v2")))

	dir := path.Join(root, a.VersionFolder("/a.txt"))
	_, err := os.Stat(dir)
	require.NoError(t, err, "version folder should exist after archiving")

	require.NoError(t, a.RemoveVersions(ctx, "/a.txt"))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "version folder should be gone after RemoveVersions")
	assert.Equal(t, 0, a.ChainLength("/a.txt"))
}

func TestRemoveVersionsWithoutLocalRootClearsChain(t *testing.T) {
	a := New(dht.NewFake(), datastore.NewMapDatastore(), "")
	ctx := context.Background()

	require.NoError(t, a.Archive(ctx, "/a.txt", []byte("v1")))
	require.NoError(t, a.RemoveVersions(ctx, "/a.txt"))
	assert.Equal(t, 0, a.ChainLength("/a.txt"))
}

func TestIsVersionFolder(t *testing.T) {
	assert.True(t, IsVersionFolder("/a/.versions/b.txt/0"))
	assert.False(t, IsVersionFolder("/a/b.txt"))
}
