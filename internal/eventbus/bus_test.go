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

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingListener struct {
	name string
	seen []Event
}

func (r *recordingListener) Handles() string { return r.name }
func (r *recordingListener) Handle(e Event)  { r.seen = append(r.seen, e) }

func TestPublishDispatchesToMatchingListeners(t *testing.T) {
	b := New()
	a := &recordingListener{name: CompleteWriteName}
	other := &recordingListener{name: "SomethingElse"}
	b.Subscribe(a)
	b.Subscribe(other)

	b.Publish(CompleteWrite{Path: "/x", Content: []byte("y")})

	assert.Len(t, a.seen, 1)
	assert.Empty(t, other.seen)
}

func TestPublishDispatchesInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []string
	first := &orderedListener{name: CompleteWriteName, onHandle: func() { order = append(order, "first") }}
	second := &orderedListener{name: CompleteWriteName, onHandle: func() { order = append(order, "second") }}
	b.Subscribe(first)
	b.Subscribe(second)

	b.Publish(CompleteWrite{Path: "/x"})

	assert.Equal(t, []string{"first", "second"}, order)
}

type orderedListener struct {
	name     string
	onHandle func()
}

func (o *orderedListener) Handles() string { return o.name }
func (o *orderedListener) Handle(Event)    { o.onHandle() }

func TestPublishWithNoListenersIsNoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.Publish(CompleteWrite{Path: "/x"})
	})
}

func TestCompleteWriteName(t *testing.T) {
	assert.Equal(t, CompleteWriteName, CompleteWrite{}.Name())
}
