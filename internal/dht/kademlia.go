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
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
	mh "github.com/multiformats/go-multihash"
)

// recordNamespace is the libp2p DHT record namespace kadfs values are
// stored under ("/kadfs/<hex key>"). libp2p requires every PutValue key to
// fall under a namespace with a registered record.Validator.
const recordNamespace = "kadfs"

// tombstone is written in place of a value on Remove, since Kademlia has no
// native delete: a record only ever disappears by expiring or by being
// overwritten. Real DHT-backed systems (e.g. IPFS's own MFS layer) live with
// this limitation rather than pretending it away; kadfs does too.
var tombstone = []byte{0}

// KademliaClient implements Client on top of go-libp2p-kad-dht. A raw
// Kademlia DHT supports neither enumeration (GetAllUnder) nor version
// listing (GetVersions), so both are answered from in-process indexes
// (underIndex, versionList) filled by this client's own PutUnder and
// PutVersioned calls. PutUnder also `Provide`s the location's CID, which
// lets other peers find this peer as a provider, but not the keys it holds.
type KademliaClient struct {
	host host.Host
	dht  *kaddht.IpfsDHT

	mu          sync.Mutex
	underIndex  map[Key]map[Key]struct{} // location -> set of keys provided under it
	versionList map[Key][]string         // content key -> known version ids, in append order

	peerChangeMu sync.Mutex
	peerChangeCb func(peerCount int)
}

// NewKademliaClient wraps an already-constructed libp2p host and DHT node.
// Bootstrapping the host (dialing the peers returned by the rendezvous
// service) is the caller's responsibility — out of scope per §1.
func NewKademliaClient(h host.Host, d *kaddht.IpfsDHT) *KademliaClient {
	c := &KademliaClient{
		host:        h,
		dht:         d,
		underIndex:  make(map[Key]map[Key]struct{}),
		versionList: make(map[Key][]string),
	}
	h.Network().Notify((*peerNotifiee)(c))
	return c
}

func recordKey(k Key) string {
	return "/" + recordNamespace + "/" + hex.EncodeToString(k[:])
}

func versionedRecordKey(k Key, versionID string) string {
	return "/" + recordNamespace + "/" + hex.EncodeToString(k[:]) + "/v/" + versionID
}

func keyToCid(k Key) (cid.Cid, error) {
	digest, err := mh.Encode(k[:], mh.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("encoding multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}

func (c *KademliaClient) Put(ctx context.Context, key Key, data []byte) error {
	return c.dht.PutValue(ctx, recordKey(key), data)
}

func (c *KademliaClient) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	data, err := c.dht.GetValue(ctx, recordKey(key))
	if err != nil {
		return nil, false, nil //nolint:nilerr // a miss is not an error, per §7 transient-error handling.
	}
	if len(data) == len(tombstone) && data[0] == tombstone[0] {
		return nil, false, nil
	}
	return data, true, nil
}

func (c *KademliaClient) Remove(ctx context.Context, key Key) error {
	return c.dht.PutValue(ctx, recordKey(key), tombstone)
}

func (c *KademliaClient) PutUnder(ctx context.Context, location, key Key, data []byte) error {
	if err := c.Put(ctx, key, data); err != nil {
		return err
	}
	locCid, err := keyToCid(location)
	if err != nil {
		return err
	}
	if err := c.dht.Provide(ctx, locCid, true); err != nil {
		return fmt.Errorf("announcing provider for location: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.underIndex[location]
	if !ok {
		set = make(map[Key]struct{})
		c.underIndex[location] = set
	}
	set[key] = struct{}{}
	return nil
}

func (c *KademliaClient) RemoveUnder(ctx context.Context, location, key Key) error {
	if err := c.Remove(ctx, key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.underIndex[location]; ok {
		delete(set, key)
	}
	return nil
}

// GetAllUnder enumerates the local view of what is provided under location:
// only keys this client itself stored with PutUnder are returned. Providers
// found via FindProvidersAsync are dialed, but the keys they hold under
// location are not learned, so entries stored by other peers are not
// returned.
func (c *KademliaClient) GetAllUnder(ctx context.Context, location Key) (map[Key][]byte, error) {
	locCid, err := keyToCid(location)
	if err != nil {
		return nil, err
	}
	for pi := range c.dht.FindProvidersAsync(ctx, locCid, 0) {
		if pi.ID == c.host.ID() {
			continue
		}
		// Discovery alone doesn't tell us *which* key they're providing
		// under this location; peers re-announce their own keys into
		// underIndex via PutUnder, so here we just make sure we've dialed
		// them so future lookups of specific keys can succeed.
		_ = c.host.Connect(ctx, pi)
	}

	c.mu.Lock()
	keys := make([]Key, 0, len(c.underIndex[location]))
	for k := range c.underIndex[location] {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	out := make(map[Key][]byte, len(keys))
	for _, k := range keys {
		data, found, err := c.Get(ctx, k)
		if err != nil {
			return out, err
		}
		if found {
			out[k] = data
		}
	}
	return out, nil
}

func (c *KademliaClient) PutVersioned(ctx context.Context, key Key, versionID string, data []byte) error {
	if err := c.dht.PutValue(ctx, versionedRecordKey(key, versionID), data); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versionList[key] = append(c.versionList[key], versionID)
	return nil
}

func (c *KademliaClient) GetVersioned(ctx context.Context, key Key, versionID string) ([]byte, bool, error) {
	data, err := c.dht.GetValue(ctx, versionedRecordKey(key, versionID))
	if err != nil {
		return nil, false, nil //nolint:nilerr // miss, not an error.
	}
	return data, true, nil
}

func (c *KademliaClient) RemoveVersioned(ctx context.Context, key Key, versionID string) error {
	if err := c.dht.PutValue(ctx, versionedRecordKey(key, versionID), tombstone); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.versionList[key][:0]
	for _, v := range c.versionList[key] {
		if v != versionID {
			remaining = append(remaining, v)
		}
	}
	c.versionList[key] = remaining
	return nil
}

func (c *KademliaClient) GetVersions(ctx context.Context, key Key) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.versionList[key]))
	copy(out, c.versionList[key])
	return out, nil
}

func (c *KademliaClient) OnPeerMapChange(cb func(peerCount int)) {
	c.peerChangeMu.Lock()
	c.peerChangeCb = cb
	c.peerChangeMu.Unlock()
}

func (c *KademliaClient) LocalIP() (string, error) {
	addrs := c.host.Addrs()
	if len(addrs) == 0 {
		return "", fmt.Errorf("no listen addresses advertised")
	}
	return addrs[0].String(), nil
}

func (c *KademliaClient) Shutdown(ctx context.Context) error {
	if err := c.dht.Close(); err != nil {
		return err
	}
	return c.host.Close()
}

func (c *KademliaClient) notifyPeerChange() {
	c.peerChangeMu.Lock()
	cb := c.peerChangeCb
	c.peerChangeMu.Unlock()
	if cb == nil {
		return
	}
	cb(len(c.host.Network().Peers()))
}

// peerNotifiee adapts KademliaClient to libp2p's network.Notifiee so peer
// connect/disconnect events drive OnPeerMapChange (used by C8).
type peerNotifiee KademliaClient

func (p *peerNotifiee) Connected(network.Network, network.Conn)    { (*KademliaClient)(p).notifyPeerChange() }
func (p *peerNotifiee) Disconnected(network.Network, network.Conn) { (*KademliaClient)(p).notifyPeerChange() }
func (p *peerNotifiee) Listen(network.Network, ma.Multiaddr)       {}
func (p *peerNotifiee) ListenClose(network.Network, ma.Multiaddr) {}

var _ Client = &KademliaClient{}
var _ network.Notifiee = (*peerNotifiee)(nil)
