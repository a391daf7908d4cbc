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

// Symlink holds the target path (per §9, only the last path component is
// retained, so cross-directory symlinks are not fully supported — this is
// preserved from the source for compatibility, not fixed) plus a reference
// to the node it aliases, if that node currently exists in the mirror.
type Symlink struct {
	header

	target  string
	aliased Node
}

var _ Node = &Symlink{}

func newSymlink(name string, parent *Directory, target string, aliased Node, now time.Time) *Symlink {
	s := &Symlink{
		target:  target,
		aliased: aliased,
	}
	s.name = name
	s.parent = parent
	s.atime = now
	s.mtime = now
	return s
}

func (s *Symlink) Kind() Kind { return KindSymlink }

func (s *Symlink) Attrs() Attrs {
	return Attrs{
		Mode:  KindSymlink,
		Size:  int64(len(s.target)),
		Atime: s.atime,
		Mtime: s.mtime,
	}
}

// Target returns the last path component the link was created against.
func (s *Symlink) Target() string { return s.target }

// Aliased returns the node the symlink pointed at when created, which may no
// longer be present in the mirror.
func (s *Symlink) Aliased() Node { return s.aliased }
