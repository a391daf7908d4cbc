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

// Package bootstrap is the HTTP rendezvous client described in §6: a tiny
// directory service peers register with on startup, refresh with periodic
// keep-alives, and deregister from on exit. None of the pack's examples
// pull in a dedicated HTTP client library for a surface this small (a
// handful of JSON gets/posts), so this is built directly on net/http.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kadfs/kadfs/internal/logger"
)

// Peer is one rendezvous entry, the shape GET /ips returns a list of.
type Peer struct {
	Address string `json:"address"`
	Port    string `json:"port"`
}

// Client talks to a single rendezvous server.
type Client struct {
	baseURL string
	http    *http.Client
	self    Peer
}

// New builds a Client without contacting the server. self is this peer's
// own advertised endpoint, registered and refreshed by Keepalive.
func New(baseURL string, self Peer) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		self:    self,
	}
}

// ListPeers implements GET /ips.
func (c *Client) ListPeers(ctx context.Context) ([]Peer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ips", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bootstrap: GET /ips: unexpected status %d", resp.StatusCode)
	}
	var peers []Peer
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		return nil, fmt.Errorf("bootstrap: decoding peer list: %w", err)
	}
	return peers, nil
}

// Keepalive implements POST /keepalive, refreshing this peer's own entry.
func (c *Client) Keepalive(ctx context.Context) error {
	return c.post(ctx, "/keepalive")
}

// Deregister implements the exit hook of §5: best-effort removal of this
// peer's rendezvous entry. Errors are logged, never propagated — by the
// time this runs the process is already tearing down.
func (c *Client) Deregister(ctx context.Context) {
	if err := c.post(ctx, "/deregister"); err != nil {
		logger.Warnf("bootstrap: deregister: %v", err)
	}
}

func (c *Client) post(ctx context.Context, path string) error {
	body, err := json.Marshal(c.self)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("bootstrap: POST %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// KeepaliveLoop runs Keepalive on interval until ctx is cancelled. Startup
// bootstrap failure (no reachable rendezvous at all) is fatal per §7 and is
// handled by the caller around the first ListPeers call, not here; this
// loop only logs steady-state keep-alive failures and keeps retrying.
func (c *Client) KeepaliveLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Keepalive(ctx); err != nil {
				logger.Warnf("bootstrap: keepalive: %v", err)
			}
		}
	}
}
