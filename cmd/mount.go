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

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/syncutil"
	"github.com/libp2p/go-libp2p"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kadfs/kadfs/cfg"
	"github.com/kadfs/kadfs/clock"
	"github.com/kadfs/kadfs/fs"
	"github.com/kadfs/kadfs/internal/archiver"
	"github.com/kadfs/kadfs/internal/bootstrap"
	"github.com/kadfs/kadfs/internal/config"
	"github.com/kadfs/kadfs/internal/dht"
	"github.com/kadfs/kadfs/internal/eventbus"
	"github.com/kadfs/kadfs/internal/listener"
	"github.com/kadfs/kadfs/internal/logger"
	"github.com/kadfs/kadfs/internal/monitor"
	"github.com/kadfs/kadfs/internal/namespace"
	"github.com/kadfs/kadfs/internal/statfs"
)

// runMount wires the nine components together and blocks until the mount
// is torn down, mirroring the shape of gcsfuse's mountWithStorageHandle
// without the bucket-handle plumbing kadfs has no use for.
func runMount(ctx context.Context, c *cfg.Config) error {
	initLogging(c)
	if dump, err := c.Dump(); err == nil {
		logger.Tracef("resolved configuration:\n%s", dump)
	}

	if err := os.MkdirAll(c.Mount.MountPoint, 0o755); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}

	client, h, err := dialOverlay(ctx, c)
	if err != nil {
		return fmt.Errorf("joining overlay: %w", err)
	}

	boot := bootstrap.New(c.Bootstrap.RendezvousURL, selfPeer(client, c))
	peers, err := boot.ListPeers(ctx)
	if err != nil {
		if !c.Bootstrap.StartWithBootstrap {
			return fmt.Errorf("bootstrap rendezvous unreachable: %w", err)
		}
		logger.Warnf("bootstrap rendezvous unreachable, starting as our own bootstrap peer: %v", err)
	}
	dialPeers(ctx, h, peers)
	if err := boot.Keepalive(ctx); err != nil {
		logger.Warnf("registering with bootstrap rendezvous: %v", err)
	}

	realClock := clock.RealClock{}
	arch := archiver.New(client, datastore.NewMapDatastore(), c.Mount.MountPoint)
	mirror := namespace.New(realClock, client, arch)
	bus := eventbus.New()
	mon := monitor.New(c.Monitor.InitialCountdown, c.Monitor.IdleEviction, c.Monitor.TickInterval, realClock, bus)
	bus.Subscribe(listener.NewWriter(client, arch, mirror))
	syncer := listener.NewSyncer(client, mirror, c.Monitor.SyncInterval, realClock)
	stat := statfs.New(c.Stat.BlockSize, c.Stat.InitialBlocks, c.Stat.PerPeerBlocks, len(h.Network().Peers()))
	client.OnPeerMapChange(stat.OnPeerMapChange)

	// Run the Monitor tick loop, the Syncer reconciliation loop and the
	// bootstrap keep-alive loop as a bundle: each has its own stop
	// mechanism (Terminate, or cancelling keepaliveCtx), and the bundle's
	// Join at the bottom of this function gives shutdown a single place to
	// wait for all three to actually exit.
	keepaliveCtx, stopKeepalive := context.WithCancel(ctx)
	background := syncutil.NewBundle(keepaliveCtx)
	background.Add(func(context.Context) error {
		mon.Run()
		return nil
	})
	background.Add(func(context.Context) error {
		syncer.Run()
		return nil
	})
	background.Add(func(ctx context.Context) error {
		boot.KeepaliveLoop(ctx, c.Bootstrap.KeepaliveInterval)
		return nil
	})

	server := fs.NewServer(fs.Config{
		Mirror:          mirror,
		Monitor:         mon,
		Archiver:        arch,
		Syncer:          syncer,
		Stat:            stat,
		Uid:             uint32(os.Getuid()),
		Gid:             uint32(os.Getgid()),
		FileMode:        0o644,
		DirMode:         0o755,
		CheckInvariants: c.Debug.ExitOnInvariantViolation,
	})

	mountCfg := &fuse.MountConfig{
		FSName:     "kadfs",
		Subtype:    "kadfs",
		VolumeName: "kadfs",
	}
	logger.Infof("mounting kadfs at %s", c.Mount.MountPoint)
	mfs, err := fuse.Mount(c.Mount.MountPoint, server, mountCfg)
	if err != nil {
		stopKeepalive()
		mon.Terminate()
		syncer.Terminate()
		return fmt.Errorf("mount: %w", err)
	}

	if c.Mount.StartCLI {
		go runREPL(mirror, syncer)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("unmounting kadfs at %s", c.Mount.MountPoint)
		if err := fuse.Unmount(c.Mount.MountPoint); err != nil {
			logger.Warnf("unmount: %v", err)
		}
	}()

	joinErr := mfs.Join(ctx)

	stopKeepalive()
	mon.Terminate()
	syncer.Terminate()
	if err := background.Join(); err != nil {
		logger.Warnf("background loops: %v", err)
	}
	boot.Deregister(ctx)
	if err := client.Shutdown(ctx); err != nil {
		logger.Warnf("shutting down overlay client: %v", err)
	}

	if err := os.RemoveAll(c.Mount.MountPoint); err != nil {
		logger.Warnf("removing mount point %s: %v", c.Mount.MountPoint, err)
	}

	return joinErr
}

// dialOverlay builds a libp2p host listening on cfg.Mount.Port and a
// Kademlia DHT node over it, wrapping both in a dht.KademliaClient.
func dialOverlay(ctx context.Context, c *cfg.Config) (*dht.KademliaClient, host.Host, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", c.Mount.Port),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("starting libp2p host: %w", err)
	}

	kdht, err := kaddht.New(ctx, h)
	if err != nil {
		h.Close()
		return nil, nil, fmt.Errorf("starting kademlia dht: %w", err)
	}

	return dht.NewKademliaClient(h, kdht), h, nil
}

// selfPeer reports the endpoint this peer registers with the bootstrap
// rendezvous, reusing dht.Client.LocalIP rather than re-deriving it from
// the host directly.
func selfPeer(client dht.Client, c *cfg.Config) bootstrap.Peer {
	addr, err := client.LocalIP()
	if err != nil {
		logger.Warnf("determining local listen address: %v", err)
	}
	return bootstrap.Peer{Address: addr, Port: strconv.Itoa(c.Mount.Port)}
}

// dialPeers best-effort connects to every peer the rendezvous returned.
// A rendezvous entry is expected to be a full multiaddr carrying a
// /p2p/<peer id> component; libp2p's transport security requires the
// remote's public key identity before a connection can be authenticated,
// so entries without one are skipped rather than guessed at.
func dialPeers(ctx context.Context, h host.Host, peers []bootstrap.Peer) {
	for _, p := range peers {
		maddr, err := ma.NewMultiaddr(p.Address)
		if err != nil {
			logger.Warnf("peer %s:%s is not a routable multiaddr: %v", p.Address, p.Port, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			logger.Warnf("peer %s has no /p2p/ identity component: %v", p.Address, err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warnf("dialing peer %s: %v", info.ID, err)
		}
	}
}

func initLogging(c *cfg.Config) {
	var w io.Writer = os.Stderr
	if c.Debug.LogFile != "" {
		w = &lumberjack.Logger{Filename: c.Debug.LogFile, MaxSize: 100, MaxBackups: 5}
	}
	severity := c.Debug.LogSeverity
	if severity == "" {
		severity = config.INFO
	}
	logger.Init(c.Debug.LogFormat, severity, w)
}

// runREPL is the start_cli debugging console: a line-oriented loop driven
// directly against the Namespace Mirror, per §"Supplemented features".
func runREPL(mirror *namespace.Mirror, syncer *listener.Syncer) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return
		case "sync":
			syncer.Reconcile(context.Background())
			fmt.Println("ok")
		case "stat":
			if len(fields) < 2 {
				fmt.Println("usage: stat <path>")
				continue
			}
			replStat(mirror, fields[1])
		case "ls":
			if len(fields) < 2 {
				fmt.Println("usage: ls <path>")
				continue
			}
			replLS(mirror, fields[1])
		case "cat":
			if len(fields) < 2 {
				fmt.Println("usage: cat <path>")
				continue
			}
			replCat(mirror, fields[1])
		default:
			fmt.Printf("unknown command %q (ls, cat, stat, sync, quit)\n", fields[0])
		}
	}
}

func replStat(mirror *namespace.Mirror, p string) {
	a, err := mirror.Getattr(p)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("size=%d mtime=%s\n", a.Size, a.Mtime.Format(time.RFC3339))
}

func replLS(mirror *namespace.Mirror, p string) {
	entries, err := mirror.ReadDir(p)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, e := range entries {
		fmt.Println(e)
	}
}

func replCat(mirror *namespace.Mirror, p string) {
	a, err := mirror.Getattr(p)
	if err != nil {
		fmt.Println(err)
		return
	}
	buf := make([]byte, a.Size)
	n, err := mirror.Read(p, buf, 0)
	if err != nil {
		fmt.Println(err)
		return
	}
	os.Stdout.Write(buf[:n])
	fmt.Println()
}
