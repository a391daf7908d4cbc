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

// Package listener holds the Writer (C6), the eventbus.Listener wired to
// component C5 that persists a settled write to the DHT, and the Syncer
// (C7), a timer-driven loop that pulls remote paths back into the Namespace
// Mirror. Both are described in §4.4 and §4.5.
package listener

import (
	"context"

	"github.com/kadfs/kadfs/internal/archiver"
	"github.com/kadfs/kadfs/internal/dht"
	"github.com/kadfs/kadfs/internal/eventbus"
	"github.com/kadfs/kadfs/internal/logger"
	"github.com/kadfs/kadfs/internal/namespace"
)

// Writer implements component C6. Per §5's suspension-point rule, the
// Monitor's tick loop calls eventbus.Bus.Publish synchronously, so Handle
// must not itself block on a DHT round-trip — it hands the event to its own
// goroutine and returns immediately.
type Writer struct {
	client dht.Client
	arch   *archiver.Archiver
	mirror *namespace.Mirror
}

func NewWriter(client dht.Client, arch *archiver.Archiver, mirror *namespace.Mirror) *Writer {
	return &Writer{client: client, arch: arch, mirror: mirror}
}

func (w *Writer) Handles() string { return eventbus.CompleteWriteName }

func (w *Writer) Handle(e eventbus.Event) {
	cw, ok := e.(eventbus.CompleteWrite)
	if !ok {
		return
	}
	go w.persist(context.Background(), cw)
}

// persist implements §4.4's three steps. Any DHT error is logged and
// swallowed — the source considers the local write already successful, and
// nothing here is allowed to surface back to a VFS caller that has long
// since returned.
func (w *Writer) persist(ctx context.Context, cw eventbus.CompleteWrite) {
	key := dht.ContentKey(cw.Path)

	isDir := false
	if n, err := w.mirror.Find(cw.Path); err == nil {
		isDir = n.Kind() == namespace.KindDirectory
	}

	if !isDir {
		prior, found, err := w.client.Get(ctx, key)
		if err != nil {
			logger.Warnf("writer: fetching prior content of %s: %v", cw.Path, err)
		} else if found && len(prior) > 0 {
			if err := w.arch.Archive(ctx, cw.Path, prior); err != nil {
				logger.Warnf("writer: archiving %s: %v", cw.Path, err)
			}
		}
	}

	if err := w.client.Put(ctx, key, cw.Content); err != nil {
		logger.Warnf("writer: storing content for %s: %v", cw.Path, err)
		return
	}
	if err := w.client.PutUnder(ctx, dht.KeysLocation(), key, []byte(cw.Path)); err != nil {
		logger.Warnf("writer: indexing path %s: %v", cw.Path, err)
	}
}
