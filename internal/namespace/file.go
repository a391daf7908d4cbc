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

// File owns a byte buffer and the attributes common to all nodes.
//
// The spec's capacity() == 0 means "not yet loaded from the DHT" test does
// not translate cleanly to a Go slice, so loaded records it explicitly
// instead of overloading slice capacity: a new file starts unloaded, and a
// write, truncate or installed DHT fetch marks it loaded.
type File struct {
	header

	content []byte
	loaded  bool
}

var _ Node = &File{}

func newFile(name string, parent *Directory, now time.Time) *File {
	f := &File{
		content: nil,
		loaded:  false, // empty until a write, truncate or DHT fetch fills it.
	}
	f.name = name
	f.parent = parent
	f.atime = now
	f.mtime = now
	return f
}

func (f *File) Kind() Kind { return KindFile }

func (f *File) Attrs() Attrs {
	return Attrs{
		Mode:  KindFile,
		Size:  int64(len(f.content)),
		Atime: f.atime,
		Mtime: f.mtime,
	}
}

// Loaded reports whether the content buffer has been materialized from the
// DHT (or from a local write) yet. A false value is what drives the lazy
// read in §4.1.
func (f *File) Loaded() bool { return f.loaded }

// snapshot returns the current content buffer reference. Per §5, the Monitor
// aliases this same slice and captures it at emission time, so writers must
// replace f.content wholesale on mutation rather than mutating in place
// past the length the Monitor last observed.
func (f *File) snapshot() []byte { return f.content }

// setContent installs buf as the file's content, marking it loaded.
func (f *File) setContent(buf []byte) {
	f.content = buf
	f.loaded = true
}

// truncate resizes the buffer to size bytes, zero-filling any extension.
func (f *File) truncate(size int64) {
	switch {
	case size == int64(len(f.content)):
		// no-op
	case size < int64(len(f.content)):
		f.content = f.content[:size]
	default:
		grown := make([]byte, size)
		copy(grown, f.content)
		f.content = grown
	}
	f.loaded = true
}

// writeAt copies buf into the content at offset, growing the buffer as
// needed, and returns the number of bytes written.
func (f *File) writeAt(buf []byte, offset int64) int {
	end := offset + int64(len(buf))
	if end > int64(len(f.content)) {
		grown := make([]byte, end)
		copy(grown, f.content)
		f.content = grown
	}
	f.loaded = true
	return copy(f.content[offset:], buf)
}

// readAt copies up to len(buf) bytes starting at offset into buf, returning
// the number of bytes copied.
func (f *File) readAt(buf []byte, offset int64) int {
	if offset >= int64(len(f.content)) {
		return 0
	}
	return copy(buf, f.content[offset:])
}
