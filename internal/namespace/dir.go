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

package namespace

import "time"

// Directory is a set of child nodes keyed by name. Names are unique
// within a directory (invariant 2). The root directory has name "/" and a
// nil parent.
type Directory struct {
	header

	// children is keyed by name. Mutation and lookup are both serialized by
	// the owning Mirror's lock; Directory itself holds no lock of its own.
	children map[string]Node
}

var _ Node = &Directory{}

// newRootDirectory creates the "/" node with no parent.
func newRootDirectory(now time.Time) *Directory {
	d := &Directory{
		children: make(map[string]Node),
	}
	d.name = "/"
	d.atime = now
	d.mtime = now
	return d
}

func newDirectory(name string, parent *Directory, now time.Time) *Directory {
	d := &Directory{
		children: make(map[string]Node),
	}
	d.name = name
	d.parent = parent
	d.atime = now
	d.mtime = now
	return d
}

func (d *Directory) Kind() Kind { return KindDirectory }

func (d *Directory) Attrs() Attrs {
	return Attrs{
		Mode:  KindDirectory,
		Size:  int64(len(d.children)),
		Atime: d.atime,
		Mtime: d.mtime,
	}
}

// child looks up a direct child by name.
func (d *Directory) child(name string) (Node, bool) {
	n, ok := d.children[name]
	return n, ok
}

// addChild inserts n under name, failing if the name is already taken.
func (d *Directory) addChild(name string, n Node) error {
	if _, exists := d.children[name]; exists {
		return ErrExist
	}
	n.setName(name)
	n.setParent(d)
	d.children[name] = n
	return nil
}

// removeChild detaches the child named name, if present.
func (d *Directory) removeChild(name string) {
	delete(d.children, name)
}

// names returns the child names in no particular order; callers needing a
// stable order sort it themselves (readdir does).
func (d *Directory) names() []string {
	out := make([]string, 0, len(d.children))
	for name := range d.children {
		out = append(out, name)
	}
	return out
}

func (d *Directory) empty() bool { return len(d.children) == 0 }
