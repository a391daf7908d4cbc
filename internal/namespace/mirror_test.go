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

package namespace

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadfs/kadfs/clock"
	"github.com/kadfs/kadfs/internal/archiver"
	"github.com/kadfs/kadfs/internal/dht"
)

func newTestMirror(t *testing.T) (*Mirror, *dht.Fake) {
	t.Helper()
	fake := dht.NewFake()
	arch := archiver.New(fake, datastore.NewMapDatastore(), "")
	c := clock.NewSimulatedClock(time.Unix(0, 0))
	return New(c, fake, arch), fake
}

func TestLooksLikeFileHeuristic(t *testing.T) {
	assert.True(t, looksLikeFile("a.txt"))
	assert.False(t, looksLikeFile("dirname"))
	assert.False(t, looksLikeFile("a"))
	assert.Equal(t, looksLikeFile("x"), LooksLikeFile("x"))
}

func TestCreateAndFind(t *testing.T) {
	m, _ := newTestMirror(t)

	n, err := m.Create("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, KindFile, n.Kind())

	found, err := m.Find("/hello.txt")
	require.NoError(t, err)
	assert.Same(t, n, found)

	_, err = m.Find("/missing.txt")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.MkDir("/d")
	require.NoError(t, err)
	_, err = m.MkDir("/d")
	assert.ErrorIs(t, err, ErrExist)
}

// S1: write then read returns the last-written bytes (invariant 1).
func TestWriteThenReadReturnsLastWrittenBytes(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.MkFile("/hello.txt")
	require.NoError(t, err)

	n, _, err := m.Write("/hello.txt", []byte("hi"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	buf := make([]byte, 2)
	got, err := m.Read("/hello.txt", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, []byte{0x68, 0x69}, buf)
}

// Invariant 2: unlink followed by getattr returns ENOENT.
func TestDeleteThenGetattrIsNotExist(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.MkFile("/a.txt")
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), "/a.txt"))

	_, err = m.Getattr("/a.txt")
	assert.ErrorIs(t, err, ErrNotExist)
}

// S5 (mirror layer): rename moves attrs/content from old path to new path.
func TestRenamePreservesContentUnderNewPath(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.MkFile("/a.txt")
	require.NoError(t, err)
	_, _, err = m.Write("/a.txt", []byte("abc"), 0)
	require.NoError(t, err)

	require.NoError(t, m.Rename(context.Background(), "/a.txt", "/b.txt"))

	_, err = m.Getattr("/a.txt")
	assert.ErrorIs(t, err, ErrNotExist)

	attrs, err := m.Getattr("/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), attrs.Size)

	buf := make([]byte, 3)
	n, err := m.Read("/b.txt", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}

// S4: rmdir on a non-empty directory fails ENOTEMPTY.
func TestRmdirNonEmptyFails(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.MkDir("/d")
	require.NoError(t, err)
	_, err = m.MkFile("/d/f.txt")
	require.NoError(t, err)

	err = m.Delete(context.Background(), "/d")
	assert.ErrorIs(t, err, ErrNotEmpty)
}

// rmdir of an empty directory leaves the mirror in its pre-mkdir state.
func TestMkdirRmdirRoundTrip(t *testing.T) {
	m, _ := newTestMirror(t)
	before, err := m.ReadDir("/")
	require.NoError(t, err)

	_, err = m.MkDir("/d")
	require.NoError(t, err)
	require.NoError(t, m.Delete(context.Background(), "/d"))

	after, err := m.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReadDirReturnsSortedNames(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.MkFile("/b.txt")
	require.NoError(t, err)
	_, err = m.MkFile("/a.txt")
	require.NoError(t, err)

	names, err := m.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestNeedsLazyLoadAndInstallContent(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.EnsurePath("/remote.txt", KindFile)
	require.NoError(t, err)

	needs, err := m.NeedsLazyLoad("/remote.txt")
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, m.InstallContent("/remote.txt", []byte("payload")))

	needs, err = m.NeedsLazyLoad("/remote.txt")
	require.NoError(t, err)
	assert.False(t, needs)

	buf := make([]byte, len("payload"))
	n, err := m.Read("/remote.txt", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestEnsurePathMaterializesIntermediateDirectories(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.EnsurePath("/a/b/c.txt", KindFile)
	require.NoError(t, err)

	assert.True(t, m.Exists("/a"))
	assert.True(t, m.Exists("/a/b"))
	assert.True(t, m.Exists("/a/b/c.txt"))
}

func TestCheckInvariantsOnHealthyTree(t *testing.T) {
	m, _ := newTestMirror(t)
	_, err := m.MkDir("/d")
	require.NoError(t, err)
	_, err = m.MkFile("/d/f.txt")
	require.NoError(t, err)

	assert.NoError(t, m.CheckInvariants())
}

func TestDeleteRemovesDHTEntries(t *testing.T) {
	m, fake := newTestMirror(t)
	_, err := m.MkFile("/a.txt")
	require.NoError(t, err)
	_, _, err = m.Write("/a.txt", []byte("x"), 0)
	require.NoError(t, err)

	key := dht.ContentKey("/a.txt")
	require.NoError(t, fake.Put(context.Background(), key, []byte("x")))

	require.NoError(t, m.Delete(context.Background(), "/a.txt"))

	_, found, err := fake.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, found)
}
