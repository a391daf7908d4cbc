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

// Package fs is component C9, the VFS Adapter: it sits on the jacobsa/fuse
// kernel boundary (out of scope per the spec, since it is the real kernel
// protocol plumbing) and translates fuseops callbacks into operations on the
// Namespace Mirror, File Monitor and FS Stat collaborators, returning
// negative errno on failure per §4.6.
//
// gcsfuse's fs.fileSystem keys everything off a map[fuseops.InodeID]inode.Inode
// of per-object inodes with their own locks, because a GCS object's identity
// (generation number) can change independently underneath an inode. kadfs's
// backing store is the Namespace Mirror, which already is the single source
// of truth for a path's identity and already serializes every mutation
// itself (see internal/namespace). So this adapter only needs a much
// thinner table: inode ID <-> path, minted lazily as the kernel asks about
// paths, the same "mint on first LookUpInode, drop on ForgetInode" shape
// gcsfuse uses, just without a second layer of per-inode locking.
package fs

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"

	"github.com/kadfs/kadfs/internal/archiver"
	"github.com/kadfs/kadfs/internal/listener"
	"github.com/kadfs/kadfs/internal/logger"
	"github.com/kadfs/kadfs/internal/monitor"
	"github.com/kadfs/kadfs/internal/namespace"
	"github.com/kadfs/kadfs/internal/statfs"
)

// Config bundles the C3/C4/C2/C8 collaborators the adapter translates
// kernel callbacks into.
type Config struct {
	Mirror   *namespace.Mirror
	Monitor  *monitor.Monitor
	Archiver *archiver.Archiver
	Syncer   *listener.Syncer
	Stat     *statfs.Stat

	Uid, Gid          uint32
	FileMode, DirMode os.FileMode

	// CheckInvariants enables the --debug_invariants code path: every
	// mutating operation re-validates the Namespace Mirror's tree
	// afterwards and exits the process if it finds a violation, mirroring
	// jacobsa/syncutil's InvariantMutex panic-on-violation behavior.
	CheckInvariants bool
}

// FileSystem implements fuseutil.FileSystem. Unimplemented operations
// (xattrs, hard links, fallocate) fall back to NotImplementedFileSystem's
// ENOSYS stubs, matching gcsfuse's own embedding of that type.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	mirror          *namespace.Mirror
	mon             *monitor.Monitor
	arch            *archiver.Archiver
	syncer          *listener.Syncer
	stat            *statfs.Stat
	uid, gid        uint32
	fileMode        os.FileMode
	dirMode         os.FileMode
	checkInvariants bool

	mu          sync.Mutex
	nextInodeID fuseops.InodeID
	pathOf      map[fuseops.InodeID]string
	idOf        map[string]fuseops.InodeID

	nextHandleID fuseops.HandleID
	dirHandles   map[fuseops.HandleID][]fuseutil.Dirent
}

// New builds a FileSystem rooted at "/".
func New(cfg Config) *FileSystem {
	return &FileSystem{
		mirror:          cfg.Mirror,
		mon:             cfg.Monitor,
		arch:            cfg.Archiver,
		syncer:          cfg.Syncer,
		stat:            cfg.Stat,
		uid:             cfg.Uid,
		gid:             cfg.Gid,
		fileMode:        cfg.FileMode,
		dirMode:         cfg.DirMode,
		checkInvariants: cfg.CheckInvariants,
		nextInodeID:     fuseops.RootInodeID + 1,
		pathOf:          map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
		idOf:            map[string]fuseops.InodeID{"/": fuseops.RootInodeID},
		dirHandles:      make(map[fuseops.HandleID][]fuseutil.Dirent),
	}
}

// NewServer adapts a FileSystem into the fuse.Server jacobsa/fuse mounts.
func NewServer(cfg Config) fuse.Server {
	return fuseutil.NewFileSystemServer(New(cfg))
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// idForPathLocked mints a fresh inode ID for p if one isn't already
// assigned. Callers must hold fs.mu.
func (fs *FileSystem) idForPathLocked(p string) fuseops.InodeID {
	if id, ok := fs.idOf[p]; ok {
		return id
	}
	id := fs.nextInodeID
	fs.nextInodeID++
	fs.idOf[p] = id
	fs.pathOf[id] = p
	return id
}

func (fs *FileSystem) pathForID(id fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, ok := fs.pathOf[id]
	return p, ok
}

// errnoFor maps the namespace package's sentinel errors to the negative
// errno fuseutil.FileSystem methods are expected to return (§4.6).
func errnoFor(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, namespace.ErrNotExist):
		return fuse.ENOENT
	case errors.Is(err, namespace.ErrExist):
		return fuse.EEXIST
	case errors.Is(err, namespace.ErrNotDir):
		return fuse.ENOTDIR
	case errors.Is(err, namespace.ErrIsDir):
		return fuse.EISDIR
	case errors.Is(err, namespace.ErrNotEmpty):
		return fuse.ENOTEMPTY
	case errors.Is(err, namespace.ErrInvalid):
		return fuse.EINVAL
	default:
		return err
	}
}

// maybeCheckInvariants runs the Namespace Mirror's invariant walk after a
// mutating operation when --debug_invariants is set, exiting the process on
// a violation rather than letting a corrupted tree keep serving requests.
func (fs *FileSystem) maybeCheckInvariants() {
	if !fs.checkInvariants {
		return
	}
	if err := fs.mirror.CheckInvariants(); err != nil {
		logger.Errorf("invariant violation: %v", err)
		os.Exit(1)
	}
}

func (fs *FileSystem) attrsFor(a namespace.Attrs) fuseops.InodeAttributes {
	mode := fs.fileMode
	if a.Mode == namespace.KindDirectory {
		mode = fs.dirMode | os.ModeDir
	} else if a.Mode == namespace.KindSymlink {
		mode = os.ModeSymlink | 0o777
	}
	return fuseops.InodeAttributes{
		Size:  uint64(a.Size),
		Nlink: 1,
		Mode:  mode,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Mtime,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}
}

func (fs *FileSystem) Init(op *fuseops.InitOp) error {
	warnIfOpenFileLimitLow()
	return nil
}

// warnIfOpenFileLimitLow logs a warning when the process's open-file limit
// looks too small for a long-running mount: every open directory handle and
// every version-folder entry the Syncer materializes holds one descriptor.
func warnIfOpenFileLimitLow() {
	const reasonableLimit = 1 << 10

	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Warnf("querying RLIMIT_NOFILE: %v", err)
		return
	}
	if rlimit.Cur < reasonableLimit {
		logger.Warnf("RLIMIT_NOFILE is %d, below the recommended %d for a long-running mount", rlimit.Cur, reasonableLimit)
	}
}

// StatFS implements statfs(path), filled from C8 (§4.7).
func (fs *FileSystem) StatFS(op *fuseops.StatFSOp) error {
	info := fs.stat.Info()
	op.BlockSize = info.Bsize
	op.Blocks = info.Blocks
	op.BlocksFree = info.Bfree
	op.BlocksAvailable = info.Bavail
	op.Inodes = info.Files
	op.InodesFree = info.Ffree
	return nil
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parentPath, ok := fs.pathForID(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	childPath := joinPath(parentPath, op.Name)

	attrs, err := fs.mirror.Getattr(childPath)
	if err != nil {
		return errnoFor(err)
	}

	fs.mu.Lock()
	op.Entry.Child = fs.idForPathLocked(childPath)
	fs.mu.Unlock()
	op.Entry.Attributes = fs.attrsFor(attrs)
	return nil
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	p, ok := fs.pathForID(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	attrs, err := fs.mirror.Getattr(p)
	if err != nil {
		return errnoFor(err)
	}
	op.Attributes = fs.attrsFor(attrs)
	return nil
}

// SetInodeAttributes serves truncate(path, off) and, as no-ops that still
// report success, chmod/chown/utimens (§4.6, §9: "permissions are not
// persisted ... keep them as no-ops").
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	p, ok := fs.pathForID(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if op.Size != nil {
		if err := fs.mirror.Truncate(p, int64(*op.Size)); err != nil {
			return errnoFor(err)
		}
		fs.mon.Add(p, fs.readBackForMonitor(p))
		fs.maybeCheckInvariants()
	}
	attrs, err := fs.mirror.Getattr(p)
	if err != nil {
		return errnoFor(err)
	}
	op.Attributes = fs.attrsFor(attrs)
	return nil
}

// readBackForMonitor re-reads a file's full content so the Monitor's
// snapshot after a truncate matches what Read/write would now observe. It
// is only ever called for files (SetInodeAttributes.Size is file-only), so
// ErrIsDir cannot occur here.
func (fs *FileSystem) readBackForMonitor(p string) []byte {
	buf := make([]byte, fs.sizeOf(p))
	n, err := fs.mirror.Read(p, buf, 0)
	if err != nil {
		return nil
	}
	return buf[:n]
}

func (fs *FileSystem) sizeOf(p string) int64 {
	attrs, err := fs.mirror.Getattr(p)
	if err != nil {
		return 0
	}
	return attrs.Size
}

func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if p, ok := fs.pathOf[op.Inode]; ok {
		delete(fs.pathOf, op.Inode)
		delete(fs.idOf, p)
	}
	return nil
}

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) error {
	parentPath, ok := fs.pathForID(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	childPath := joinPath(parentPath, op.Name)

	dir, err := fs.mirror.MkDir(childPath)
	if err != nil {
		return errnoFor(err)
	}
	fs.mon.Add(childPath, nil)
	fs.stat.AdjustFileCount(1)
	fs.maybeCheckInvariants()

	fs.mu.Lock()
	op.Entry.Child = fs.idForPathLocked(childPath)
	fs.mu.Unlock()
	op.Entry.Attributes = fs.attrsFor(dir.Attrs())
	return nil
}

// CreateFile implements create(path, mode). Per §4.1's parent-path
// resolution, the file-vs-directory decision is actually made by the
// create() heuristic on the last path component, not by the kernel's
// O_CREAT intent — preserved here rather than forcing a file node, per the
// documented idiosyncrasy in internal/namespace.
func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	parentPath, ok := fs.pathForID(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	childPath := joinPath(parentPath, op.Name)

	n, err := fs.mirror.Create(childPath)
	if err != nil {
		return errnoFor(err)
	}
	if n.Kind() == namespace.KindFile {
		fs.mon.Add(childPath, nil)
	}
	fs.stat.AdjustFileCount(1)
	fs.maybeCheckInvariants()

	fs.mu.Lock()
	op.Entry.Child = fs.idForPathLocked(childPath)
	fs.mu.Unlock()
	op.Entry.Attributes = fs.attrsFor(n.Attrs())
	return nil
}

func (fs *FileSystem) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	parentPath, ok := fs.pathForID(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	childPath := joinPath(parentPath, op.Name)

	s, err := fs.mirror.Symlink(childPath, op.Target)
	if err != nil {
		return errnoFor(err)
	}
	fs.stat.AdjustFileCount(1)
	fs.maybeCheckInvariants()

	fs.mu.Lock()
	op.Entry.Child = fs.idForPathLocked(childPath)
	fs.mu.Unlock()
	op.Entry.Attributes = fs.attrsFor(s.Attrs())
	return nil
}

func (fs *FileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	p, ok := fs.pathForID(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	n, err := fs.mirror.Find(p)
	if err != nil {
		return errnoFor(err)
	}
	s, ok := n.(*namespace.Symlink)
	if !ok {
		return fuse.EINVAL
	}
	op.Target = s.Target()
	return nil
}

func (fs *FileSystem) Rename(op *fuseops.RenameOp) error {
	oldParent, ok := fs.pathForID(op.OldParent)
	if !ok {
		return fuse.ENOENT
	}
	newParent, ok := fs.pathForID(op.NewParent)
	if !ok {
		return fuse.ENOENT
	}
	oldPath := joinPath(oldParent, op.OldName)
	newPath := joinPath(newParent, op.NewName)

	if err := fs.mirror.Rename(op.Context(), oldPath, newPath); err != nil {
		return errnoFor(err)
	}

	// §2's data flow: Rename itself does not touch the Monitor; the adapter
	// does, transplanting any in-flight debounce record to the new path.
	if content, ok := fs.mon.Get(oldPath); ok {
		fs.mon.Remove(oldPath)
		fs.mon.Add(newPath, content)
	}

	fs.mu.Lock()
	if id, ok := fs.idOf[oldPath]; ok {
		delete(fs.idOf, oldPath)
		fs.idOf[newPath] = id
		fs.pathOf[id] = newPath
	}
	fs.mu.Unlock()
	fs.maybeCheckInvariants()
	return nil
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) error {
	parentPath, ok := fs.pathForID(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	childPath := joinPath(parentPath, op.Name)
	if err := fs.mirror.Delete(op.Context(), childPath); err != nil {
		return errnoFor(err)
	}
	fs.stat.AdjustFileCount(-1)
	fs.forgetPath(childPath)
	fs.maybeCheckInvariants()
	return nil
}

// Unlink implements unlink(path): §4.3's policy removes the version chain
// and on-disk version folder first, then deletes the path itself, so a
// later re-creation of the same path can never inherit stale history.
func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) error {
	parentPath, ok := fs.pathForID(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	childPath := joinPath(parentPath, op.Name)

	if err := fs.arch.RemoveVersions(op.Context(), childPath); err != nil {
		logger.Warnf("unlink: removing versions for %s: %v", childPath, err)
	}
	if err := fs.mirror.Delete(op.Context(), childPath); err != nil {
		return errnoFor(err)
	}
	fs.stat.AdjustFileCount(-1)
	fs.mon.Remove(childPath)
	fs.forgetPath(childPath)
	fs.maybeCheckInvariants()
	return nil
}

func (fs *FileSystem) forgetPath(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if id, ok := fs.idOf[p]; ok {
		delete(fs.idOf, p)
		delete(fs.pathOf, id)
	}
}

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	p, ok := fs.pathForID(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	names, err := fs.mirror.ReadDir(p)
	if err != nil {
		return errnoFor(err)
	}
	sort.Strings(names)

	entries := make([]fuseutil.Dirent, 0, len(names))
	for i, name := range names {
		childPath := joinPath(p, name)
		attrs, err := fs.mirror.Getattr(childPath)
		if err != nil {
			continue
		}
		fs.mu.Lock()
		id := fs.idForPathLocked(childPath)
		fs.mu.Unlock()
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  id,
			Name:   name,
			Type:   direntType(attrs.Mode),
		})
	}

	fs.mu.Lock()
	handleID := fs.nextHandleID
	fs.nextHandleID++
	fs.dirHandles[handleID] = entries
	fs.mu.Unlock()

	op.Handle = handleID
	return nil
}

func direntType(k namespace.Kind) fuseutil.DirentType {
	switch k {
	case namespace.KindDirectory:
		return fuseutil.DT_Directory
	case namespace.KindSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	entries := fs.dirHandles[op.Handle]
	fs.mu.Unlock()

	if int(op.Offset) > len(entries) {
		return nil
	}
	n := 0
	for _, e := range entries[op.Offset:] {
		written := fuseutil.WriteDirent(op.Dst[n:], e)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirHandles, op.Handle)
	return nil
}

// OpenFile implements open(path): if the node's buffer has never been
// materialized (§4.1) it reads a large prefix through the Mirror. Mirror.Read
// serves only the local buffer and does not contact the DHT, so this read
// does not fetch content; an unloaded file is filled in by the Syncer's
// next lazy-load pass.
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	p, ok := fs.pathForID(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	needsLoad, err := fs.mirror.NeedsLazyLoad(p)
	if err != nil {
		return errnoFor(err)
	}
	if needsLoad {
		const lazyLoadPrefix = 1 << 20
		buf := make([]byte, lazyLoadPrefix)
		if _, err := fs.mirror.Read(p, buf, 0); err != nil {
			return errnoFor(err)
		}
	}
	return nil
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	p, ok := fs.pathForID(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	if content, found := fs.mon.Get(p); found {
		op.BytesRead = copyFromOffset(op.Dst, content, op.Offset)
		return nil
	}

	n, err := fs.mirror.Read(p, op.Dst, op.Offset)
	if err != nil {
		return errnoFor(err)
	}
	op.BytesRead = n
	return nil
}

func copyFromOffset(dst, src []byte, offset int64) int {
	if offset >= int64(len(src)) {
		return 0
	}
	return copy(dst, src[offset:])
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	p, ok := fs.pathForID(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	before := fs.sizeOf(p)
	_, snapshot, err := fs.mirror.Write(p, op.Data, op.Offset)
	if err != nil {
		return errnoFor(err)
	}
	if growth := int64(len(snapshot)) - before; growth > 0 {
		fs.stat.Use(growth)
	}
	fs.mon.Add(p, snapshot)
	return nil
}

// SyncFile and FlushFile both just need the Monitor's countdown to still be
// running; kadfs's durability story is debounced persistence to the DHT,
// not a per-handle fsync, so both are no-ops that report success.
func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) error   { return nil }
func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) error { return nil }

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error { return nil }

func (fs *FileSystem) Destroy() {}

var _ fuseutil.FileSystem = &FileSystem{}

// TriggerSync lets a manual reconciliation trigger run a Syncer pass
// without waiting for its timer, per the "configurable triggers" language
// of §4.5. (The CLI REPL's "sync" command calls Syncer.Reconcile directly.)
func (fs *FileSystem) TriggerSync() {
	if fs.syncer == nil {
		return
	}
	fs.syncer.Reconcile(context.Background())
}
