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

package listener

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
	"github.com/kadfs/kadfs/internal/eventbus"
	"github.com/kadfs/kadfs/internal/namespace"
)

func newHarness(t *testing.T) (*dht.Fake, *archiver.Archiver, *namespace.Mirror) {
	t.Helper()
	fake := dht.NewFake()
	arch := archiver.New(fake, datastore.NewMapDatastore(), "")
	mirror := namespace.New(clock.NewSimulatedClock(time.Unix(0, 0)), fake, arch)
	return fake, arch, mirror
}

func TestWriterPersistsNewContent(t *testing.T) {
	fake, arch, mirror := newHarness(t)
	_, err := mirror.MkFile("/a.txt")
	require.NoError(t, err)

	w := NewWriter(fake, arch, mirror)
	w.persist(context.Background(), eventbus.CompleteWrite{Path: "/a.txt", Content: []byte("hello")})

	data, found, err := fake.Get(context.Background(), dht.ContentKey("/a.txt"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("hello"), data)

	under, err := fake.GetAllUnder(context.Background(), dht.KeysLocation())
	require.NoError(t, err)
	assert.Equal(t, []byte("/a.txt"), under[dht.ContentKey("/a.txt")])
}

func TestWriterArchivesPriorContent(t *testing.T) {
	fake, arch, mirror := newHarness(t)
	_, err := mirror.MkFile("/a.txt")
	require.NoError(t, err)

	w := NewWriter(fake, arch, mirror)
	w.persist(context.Background(), eventbus.CompleteWrite{Path: "/a.txt", Content: []byte("v1")})
	w.persist(context.Background(), eventbus.CompleteWrite{Path: "/a.txt", Content: []byte("v2")})

	assert.Equal(t, 1, arch.ChainLength("/a.txt"))

	data, _, _ := fake.Get(context.Background(), dht.ContentKey("/a.txt"))
	assert.Equal(t, []byte("v2"), data)
}

func TestWriterSkipsArchivingForDirectories(t *testing.T) {
	fake, arch, mirror := newHarness(t)
	_, err := mirror.MkDir("/sub")
	require.NoError(t, err)

	w := NewWriter(fake, arch, mirror)
	w.persist(context.Background(), eventbus.CompleteWrite{Path: "/sub", Content: []byte{}})

	assert.Equal(t, 0, arch.ChainLength("/sub"))
}

func TestWriterHandleIsAsynchronous(t *testing.T) {
	fake, arch, mirror := newHarness(t)
	_, err := mirror.MkFile("/a.txt")
	require.NoError(t, err)

	w := NewWriter(fake, arch, mirror)
	w.Handle(eventbus.CompleteWrite{Path: "/a.txt", Content: []byte("hello")})

	require.Eventually(t, func() bool {
		_, found, _ := fake.Get(context.Background(), dht.ContentKey("/a.txt"))
		return found
	}, time.Second, time.Millisecond)
}
