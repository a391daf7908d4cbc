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

package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ips", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]Peer{{Address: "10.0.0.1", Port: "4001"}})
	}))
	defer srv.Close()

	c := New(srv.URL, Peer{Address: "10.0.0.2", Port: "4001"})
	peers, err := c.ListPeers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Peer{{Address: "10.0.0.1", Port: "4001"}}, peers)
}

func TestKeepalivePostsSelf(t *testing.T) {
	var got Peer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/keepalive", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, Peer{Address: "10.0.0.2", Port: "4001"})
	require.NoError(t, c.Keepalive(context.Background()))
	assert.Equal(t, Peer{Address: "10.0.0.2", Port: "4001"}, got)
}

func TestDeregisterNeverPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, Peer{Address: "10.0.0.2", Port: "4001"})
	assert.NotPanics(t, func() {
		c.Deregister(context.Background())
	})
}

func TestListPeersUnreachableServer(t *testing.T) {
	c := New("http://127.0.0.1:1", Peer{})
	_, err := c.ListPeers(context.Background())
	assert.Error(t, err)
}
