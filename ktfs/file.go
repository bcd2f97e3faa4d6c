package ktfs

import (
	"kos/ioobj"
	"kos/status"
)

// File is an open KTFS file handle.
type File struct {
	fs    *FileSystem
	inode uint16
	name  string
}

// Open scans the root directory for name and, on a hit, returns a seekable
// I/O endpoint over the matching file. A miss returns NOENT.
func (fs *FileSystem) Open(name string) (*ioobj.Endpoint, status.Status) {
	fs.mu.Lock()
	root, st := fs.readInode(fs.sb.RootDirInode)
	if !st.Ok() {
		fs.mu.Unlock()
		return nil, st
	}
	de, _, found, st := fs.findByName(&root, name)
	fs.mu.Unlock()
	if !st.Ok() {
		return nil, st
	}
	if !found {
		return nil, status.NOENT
	}

	f := &File{fs: fs, inode: de.Inode, name: de.Name}
	fs.mu.Lock()
	fs.openCount[f.inode]++
	fs.mu.Unlock()

	raw := ioobj.New(ioobj.Dispatch{
		ReadAt:  f.readAt,
		WriteAt: f.writeAt,
		Ctrl:    f.ctrl,
		Close:   f.close,
	})
	return ioobj.NewSeekable(raw), status.OK
}

func (f *File) readAt(buf []byte, pos int64) (int, status.Status) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	inode, st := f.fs.readInode(f.inode)
	if !st.Ok() {
		return 0, st
	}
	return f.fs.readAt(&inode, inode.Size, buf, pos)
}

func (f *File) writeAt(buf []byte, pos int64) (int, status.Status) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	inode, st := f.fs.readInode(f.inode)
	if !st.Ok() {
		return 0, st
	}
	return f.fs.writeAt(&inode, inode.Size, buf, pos)
}

func (f *File) ctrl(cmd ioobj.Cmd, arg int64) (int64, status.Status) {
	switch cmd {
	case ioobj.GETBLKSZ:
		return 1, status.OK
	case ioobj.GETEND:
		f.fs.mu.Lock()
		defer f.fs.mu.Unlock()
		inode, st := f.fs.readInode(f.inode)
		if !st.Ok() {
			return 0, st
		}
		return int64(inode.Size), status.OK
	case ioobj.SETEND:
		st := f.fs.extend(f.inode, uint32(arg))
		return 0, st
	default:
		return 0, status.NOTSUP
	}
}

func (f *File) close() status.Status {
	f.fs.mu.Lock()
	f.fs.openCount[f.inode]--
	if f.fs.openCount[f.inode] <= 0 {
		delete(f.fs.openCount, f.inode)
	}
	f.fs.mu.Unlock()
	return f.fs.Flush()
}

// extend grows a file's on-disk and in-memory size to newSize, allocating
// whatever new data blocks the additional range requires. Shrinking is not
// supported: newSize <= the current size is a no-op, matching the source.
func (fs *FileSystem) extend(id uint16, newSize uint32) status.Status {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	inode, st := fs.readInode(id)
	if !st.Ok() {
		return st
	}
	if newSize <= inode.Size || newSize == 0 {
		return status.OK
	}

	oldSize := inode.Size
	inode.Size = newSize
	if st := fs.writeInode(id, &inode); !st.Ok() {
		return st
	}

	lastBlock := (newSize - 1) / BlockSize
	var startBlock uint32
	if oldSize != 0 {
		startBlock = (oldSize-1)/BlockSize + 1
	}

	for b := startBlock; b <= lastBlock; b++ {
		if st := fs.allocateNewDataBlock(&inode, b); !st.Ok() {
			return st
		}
		if st := fs.writeInode(id, &inode); !st.Ok() {
			return st
		}
	}
	return status.OK
}

// Create adds a new, empty file named name to the root directory.
func (fs *FileSystem) Create(name string) status.Status {
	if len(name) > MaxNameLen {
		return status.INVAL
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	root, st := fs.readInode(fs.sb.RootDirInode)
	if !st.Ok() {
		return st
	}
	if _, _, found, st := fs.findByName(&root, name); !st.Ok() {
		return st
	} else if found {
		return status.INVAL
	}

	blkno, blkoff := entryPos(root.Size / DirEntrySize)
	if blkoff == 0 {
		if st := fs.allocateNewDataBlock(&root, blkno); !st.Ok() {
			return st
		}
		if st := fs.writeInode(fs.sb.RootDirInode, &root); !st.Ok() {
			return st
		}
	}

	newID, st := fs.newInode()
	if !st.Ok() {
		return st
	}

	de := DirEntry{Inode: newID, Name: name}
	deBuf := make([]byte, DirEntrySize)
	de.encode(deBuf)
	if st := fs.writeDataBlockAt(&root, blkno, blkoff, deBuf); !st.Ok() {
		return st
	}
	root.Size += DirEntrySize
	if st := fs.writeInode(fs.sb.RootDirInode, &root); !st.Ok() {
		return st
	}

	newInode := Inode{Size: 0}
	if st := fs.writeInode(newID, &newInode); !st.Ok() {
		return st
	}

	return fs.Flush()
}

// Delete removes name from the root directory, releasing its inode and
// every data block (and indirect/dindirect metadata block) it owned.
func (fs *FileSystem) Delete(name string) status.Status {
	if len(name) > MaxNameLen {
		return status.INVAL
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	root, st := fs.readInode(fs.sb.RootDirInode)
	if !st.Ok() {
		return st
	}
	de, idx, found, st := fs.findByName(&root, name)
	if !st.Ok() {
		return st
	}
	if !found {
		return status.NOENT
	}

	target, st := fs.readInode(de.Inode)
	if !st.Ok() {
		return st
	}

	blocks := blocksFor(target.Size)
	for i := int(blocks) - 1; i >= 0; i-- {
		if st := fs.releaseDataBlock(&target, uint32(i)); !st.Ok() {
			return st
		}
	}
	fs.releaseInode(de.Inode)

	lastIdx := root.Size/DirEntrySize - 1
	lastBlkno, lastBlkoff := entryPos(lastIdx)
	curBlkno, curBlkoff := entryPos(idx)

	lastBuf := make([]byte, DirEntrySize)
	if st := fs.readDataBlockAt(&root, lastBlkno, lastBlkoff, lastBuf); !st.Ok() {
		return st
	}
	if st := fs.writeDataBlockAt(&root, curBlkno, curBlkoff, lastBuf); !st.Ok() {
		return st
	}

	if lastBlkoff == 0 {
		if st := fs.releaseDataBlock(&root, lastBlkno); !st.Ok() {
			return st
		}
	}

	root.Size -= DirEntrySize
	if st := fs.writeInode(fs.sb.RootDirInode, &root); !st.Ok() {
		return st
	}

	return fs.Flush()
}

// Stat reports the size and flags of the named file without opening it.
func (fs *FileSystem) Stat(name string) (size uint32, flags uint32, st status.Status) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	root, st := fs.readInode(fs.sb.RootDirInode)
	if !st.Ok() {
		return 0, 0, st
	}
	de, _, found, st := fs.findByName(&root, name)
	if !st.Ok() {
		return 0, 0, st
	}
	if !found {
		return 0, 0, status.NOENT
	}
	inode, st := fs.readInode(de.Inode)
	if !st.Ok() {
		return 0, 0, st
	}
	return inode.Size, inode.Flags, status.OK
}
