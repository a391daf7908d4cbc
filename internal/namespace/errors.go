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

import "errors"

// Sentinel errors translated to POSIX errno values at the fs package
// boundary (§4.6). Kept here, rather than as raw syscall.Errno, so the
// mirror package stays importable without pulling in golang.org/x/sys/unix.
var (
	ErrNotExist = errors.New("namespace: no such file or directory")
	ErrExist    = errors.New("namespace: file exists")
	ErrNotDir   = errors.New("namespace: not a directory")
	ErrIsDir    = errors.New("namespace: is a directory")
	ErrNotEmpty = errors.New("namespace: directory not empty")
	ErrInvalid  = errors.New("namespace: invalid argument")
)
