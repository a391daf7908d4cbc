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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Invariant 7: storing data at K_c(p) then reading it back yields data.
func TestPutGetRoundTrip(t *testing.T) {
	f := NewFake()
	key := ContentKey("/hello.txt")

	require.NoError(t, f.Put(context.Background(), key, []byte("hi")))

	data, found, err := f.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("hi"), data)
}

func TestGetMissingKeyIsAbsentNotError(t *testing.T) {
	f := NewFake()
	_, found, err := f.Get(context.Background(), ContentKey("/missing"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveDeletesValue(t *testing.T) {
	f := NewFake()
	key := ContentKey("/a.txt")
	require.NoError(t, f.Put(context.Background(), key, []byte("x")))
	require.NoError(t, f.Remove(context.Background(), key))

	_, found, err := f.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutUnderAndGetAllUnder(t *testing.T) {
	f := NewFake()
	loc := KeysLocation()
	k1 := ContentKey("/a.txt")
	k2 := ContentKey("/b.txt")

	require.NoError(t, f.PutUnder(context.Background(), loc, k1, []byte("/a.txt")))
	require.NoError(t, f.PutUnder(context.Background(), loc, k2, []byte("/b.txt")))

	all, err := f.GetAllUnder(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, map[Key][]byte{k1: []byte("/a.txt"), k2: []byte("/b.txt")}, all)

	require.NoError(t, f.RemoveUnder(context.Background(), loc, k1))
	all, err = f.GetAllUnder(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, map[Key][]byte{k2: []byte("/b.txt")}, all)
}

func TestVersionedRoundTripAndRemoval(t *testing.T) {
	f := NewFake()
	key := ContentKey("/v.txt")

	require.NoError(t, f.PutVersioned(context.Background(), key, "v1", []byte("old")))
	data, found, err := f.GetVersioned(context.Background(), key, "v1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("old"), data)

	versions, err := f.GetVersions(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, versions)

	require.NoError(t, f.RemoveVersioned(context.Background(), key, "v1"))
	versions, err = f.GetVersions(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestSetPeerCountFiresCallback(t *testing.T) {
	f := NewFake()
	var got int
	f.OnPeerMapChange(func(n int) { got = n })
	f.SetPeerCount(3)
	assert.Equal(t, 3, got)
}

func TestKeyOfIsDeterministic(t *testing.T) {
	assert.Equal(t, ContentKey("/a.txt"), ContentKey("/a.txt"))
	assert.NotEqual(t, ContentKey("/a.txt"), ContentKey("/b.txt"))
}
