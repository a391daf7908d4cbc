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

// Package statfs is component C8: the statfs()-reported capacity, resized
// proportionally to the DHT's peer map instead of to real local disk usage
// (there is none — the backing store is the overlay). The "global state" of
// §9 ("the FS stat configuration is a process-wide singleton in the source")
// is expressed here as an explicit *Stat collaborator rather than a package
// level variable, the same way gcsfuse threads its inode.Attributes clock
// and generation-number state through an explicit struct rather than globals.
package statfs

import "sync"

// Info is what statfs(path) returns, filled in by the VFS Adapter.
type Info struct {
	Bsize  uint32
	Blocks uint64
	Bfree  uint64
	Bavail uint64
	Files  uint64
	Ffree  uint64
}

// Stat tracks reported block capacity and resizes it as the peer map
// changes (§4.7). "used" blocks only ever grow, via Use driven by the VFS
// Adapter's write path; capacity never drops below it.
type Stat struct {
	mu sync.Mutex

	bsize         uint32
	initialBlocks uint64
	perPeerBlocks uint64

	blocks uint64
	used   uint64
	files  uint64
}

// New builds a Stat and sets capacity from initial_size(peer_count + 1), per
// §4.7's initialization rule.
func New(bsize uint32, initialBlocks, perPeerBlocks uint64, peerCount int) *Stat {
	s := &Stat{
		bsize:         bsize,
		initialBlocks: initialBlocks,
		perPeerBlocks: perPeerBlocks,
	}
	s.blocks = s.capacityFor(peerCount)
	return s
}

func (s *Stat) capacityFor(peerCount int) uint64 {
	n := peerCount + 1
	if n < 1 {
		n = 1
	}
	return s.initialBlocks + uint64(n-1)*s.perPeerBlocks
}

// OnPeerMapChange is registered with dht.Client.OnPeerMapChange: capacity is
// recomputed as a linear function of peer count and never decreases below
// whatever is already reported, even if the peer count drops (§4.7: "grows
// capacity ... never decreasing below the current used count" is the
// stated floor; this additionally never shrinks the advertised ceiling,
// since the source treats capacity growth as monotonic).
func (s *Stat) OnPeerMapChange(peerCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.capacityFor(peerCount)
	if next > s.blocks {
		s.blocks = next
	}
}

// Use records size additional blocks consumed by newly written content,
// rounding up to whole blocks. It never lets used exceed blocks; a write
// that would overrun simply grows blocks to match, since kadfs has no real
// backing disk to run out of.
func (s *Stat) Use(byteDelta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = addBlocks(s.used, byteDelta, s.bsize)
	if s.used > s.blocks {
		s.blocks = s.used
	}
}

// SetFileCount records how many nodes currently exist, for the files/ffree
// fields of statfs.
func (s *Stat) SetFileCount(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = n
}

// AdjustFileCount changes the tracked node count by delta, for the VFS
// Adapter to call with +1 on every successful create (file, directory,
// symlink) and -1 on every successful unlink/rmdir.
func (s *Stat) AdjustFileCount(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := int64(s.files) + delta
	if next < 0 {
		next = 0
	}
	s.files = uint64(next)
}

func addBlocks(used uint64, byteDelta int64, bsize uint32) uint64 {
	if byteDelta <= 0 {
		return used
	}
	blocks := uint64(byteDelta) / uint64(bsize)
	if uint64(byteDelta)%uint64(bsize) != 0 {
		blocks++
	}
	return used + blocks
}

// maxFiles bounds ffree's denominator; kadfs does not track inode exhaustion
// the way a real filesystem does, so this is a generous constant rather
// than a resource genuinely in short supply.
const maxFiles = 1 << 20

// Info renders the current counters into a statfs(2)-shaped reply.
func (s *Stat) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	free := s.blocks - s.used
	return Info{
		Bsize:  s.bsize,
		Blocks: s.blocks,
		Bfree:  free,
		Bavail: free,
		Files:  maxFiles,
		Ffree:  maxFiles - s.files,
	}
}
