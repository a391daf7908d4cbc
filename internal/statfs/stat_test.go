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

package statfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitialCapacityCoversPeerPlusSelf(t *testing.T) {
	s := New(4000, 100, 10, 1)
	info := s.Info()
	assert.Equal(t, uint64(110), info.Blocks)
	assert.Equal(t, uint32(4000), info.Bsize)
}

func TestCapacityGrowsMonotonicallyOnPeerJoin(t *testing.T) {
	s := New(4000, 100, 10, 1)
	before := s.Info().Blocks

	s.OnPeerMapChange(2)
	after := s.Info().Blocks

	assert.Greater(t, after, before)
}

func TestCapacityNeverShrinksOnPeerLeave(t *testing.T) {
	s := New(4000, 100, 10, 3)
	grown := s.Info().Blocks

	s.OnPeerMapChange(0)
	assert.Equal(t, grown, s.Info().Blocks)
}

func TestUseNeverExceedsBlocks(t *testing.T) {
	s := New(4000, 10, 0, 0)
	s.Use(1_000_000)
	info := s.Info()
	assert.Equal(t, uint64(0), info.Bfree)
	assert.GreaterOrEqual(t, info.Blocks, uint64(250))
}

func TestFileCountAffectsFfree(t *testing.T) {
	s := New(4000, 100, 10, 1)
	s.SetFileCount(5)
	info := s.Info()
	assert.Equal(t, uint64(maxFiles-5), info.Ffree)
}

func TestAdjustFileCountIncrementsAndDecrements(t *testing.T) {
	s := New(4000, 100, 10, 1)
	s.AdjustFileCount(1)
	s.AdjustFileCount(1)
	s.AdjustFileCount(-1)
	assert.Equal(t, uint64(maxFiles-1), s.Info().Ffree)
}

func TestAdjustFileCountNeverGoesNegative(t *testing.T) {
	s := New(4000, 100, 10, 1)
	s.AdjustFileCount(-1)
	assert.Equal(t, uint64(maxFiles), s.Info().Ffree)
}
