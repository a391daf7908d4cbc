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
	"time"

	"github.com/kadfs/kadfs/clock"
	"github.com/kadfs/kadfs/internal/archiver"
	"github.com/kadfs/kadfs/internal/dht"
	"github.com/kadfs/kadfs/internal/logger"
	"github.com/kadfs/kadfs/internal/namespace"
)

// Syncer implements component C7: a periodic, off-thread reconciliation
// loop. It is not an eventbus.Listener — it runs on its own clock-driven
// schedule rather than reacting to CompleteWrite — but it lives alongside
// Writer because both are the two consumers of the DHT boundary that
// mutate the Namespace Mirror from outside a VFS callback.
type Syncer struct {
	client dht.Client
	mirror *namespace.Mirror

	interval time.Duration
	clock    clock.Clock

	stop chan struct{}
	done chan struct{}
}

func NewSyncer(client dht.Client, mirror *namespace.Mirror, interval time.Duration, c clock.Clock) *Syncer {
	return &Syncer{
		client:   client,
		mirror:   mirror,
		interval: interval,
		clock:    c,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run loops until Terminate is called, reconciling once per interval.
func (s *Syncer) Run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.clock.After(s.interval):
			s.Reconcile(context.Background())
		}
	}
}

func (s *Syncer) Terminate() {
	close(s.stop)
	<-s.done
}

// Reconcile runs one pass of §4.5's three steps. It is exported so the VFS
// Adapter can also trigger it on a configurable manual trigger, not only on
// the timer.
func (s *Syncer) Reconcile(ctx context.Context) {
	entries, err := s.client.GetAllUnder(ctx, dht.KeysLocation())
	if err != nil {
		logger.Warnf("syncer: enumerating keys: %v", err)
		return
	}

	for _, raw := range entries {
		p := string(raw)
		if p == "" || archiver.IsVersionFolder(p) {
			continue
		}
		if s.mirror.Exists(p) {
			continue
		}
		s.materialize(ctx, p)
	}

	s.fillLazy(ctx, "/")
}

// materialize implements step 2: a remote path not present locally is
// created (directory by default, file by the same extension heuristic
// create() uses) and, for files, its content is fetched and installed
// without going back through the Monitor — InstallContent never calls
// Monitor.Add, so this can never loop back into a spurious CompleteWrite.
func (s *Syncer) materialize(ctx context.Context, p string) {
	kind := namespace.KindDirectory
	if last := lastComponent(p); namespace.LooksLikeFile(last) {
		kind = namespace.KindFile
	}

	n, err := s.mirror.EnsurePath(p, kind)
	if err != nil {
		logger.Warnf("syncer: materializing %s: %v", p, err)
		return
	}
	if n.Kind() != namespace.KindFile {
		return
	}

	data, found, err := s.client.Get(ctx, dht.ContentKey(p))
	if err != nil {
		logger.Warnf("syncer: fetching content for %s: %v", p, err)
		return
	}
	if !found {
		return
	}
	if err := s.mirror.InstallContent(p, data); err != nil {
		logger.Warnf("syncer: installing content for %s: %v", p, err)
	}
}

// fillLazy implements step 3: any local file whose buffer was never loaded
// (capacity() == 0 in the spec's terms, Mirror.NeedsLazyLoad here) gets
// fetched from the DHT if content is actually present there.
func (s *Syncer) fillLazy(ctx context.Context, dir string) {
	names, err := s.mirror.ReadDir(dir)
	if err != nil {
		return
	}
	for _, name := range names {
		p := join(dir, name)
		if archiver.IsVersionFolder(p) {
			continue
		}
		needsLoad, err := s.mirror.NeedsLazyLoad(p)
		if err != nil {
			continue
		}
		if needsLoad {
			data, found, err := s.client.Get(ctx, dht.ContentKey(p))
			if err != nil {
				logger.Warnf("syncer: lazy-fetching %s: %v", p, err)
				continue
			}
			if found {
				if err := s.mirror.InstallContent(p, data); err != nil {
					logger.Warnf("syncer: lazy-installing %s: %v", p, err)
				}
			}
			continue
		}
		// Recurse into subdirectories. NeedsLazyLoad returns false, nil for
		// directories (it only special-cases *File), so this also covers
		// the directory case without a separate Getattr round-trip.
		if attrs, err := s.mirror.Getattr(p); err == nil && attrs.Mode == namespace.KindDirectory {
			s.fillLazy(ctx, p)
		}
	}
}

func lastComponent(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
