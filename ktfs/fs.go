package ktfs

import (
	"encoding/binary"
	"sync"

	"kos/blkcache"
	"kos/ioobj"
	"kos/status"
)

// FileSystem is a mounted KTFS volume.
type FileSystem struct {
	backend *ioobj.Endpoint
	cache   *blkcache.Cache

	// mu guards the inode bitmap and every root-inode read-modify-write
	// sequence (create/delete), which the source leaves to run on a
	// single-threaded kernel; here concurrent callers are possible, so a
	// single filesystem-wide lock serializes the metadata paths — the
	// same granularity choice as blkcache's cache-wide lock for clock
	// state.
	mu          sync.Mutex
	sb          Superblock
	inodeBitmap []byte

	inodeAreaStart int64 // block index where the inode area begins
	dataAreaStart  int64 // block index where the data area begins

	openCount map[uint16]int // inode -> number of live handles; kept by Open and close, read by nothing else
}

// Mount reads the superblock from block 0 of backend, builds a cache over
// it, and rebuilds the in-memory inode bitmap by scanning the root
// directory. cacheCapacity of 0 uses blkcache.DefaultCapacity.
func Mount(backend *ioobj.Endpoint, cacheCapacity int) (*FileSystem, status.Status) {
	block0 := make([]byte, BlockSize)
	if _, st := backend.ReadAt(block0, 0); !st.Ok() {
		return nil, st
	}

	fs := &FileSystem{
		backend:   backend.AddRef(),
		openCount: make(map[uint16]int),
	}
	fs.sb.decode(block0[:14])
	fs.cache = blkcache.New(backend, cacheCapacity)
	fs.inodeAreaStart = 1 + int64(fs.sb.BitmapBlockCount)
	fs.dataAreaStart = fs.inodeAreaStart + int64(fs.sb.InodeBlockCount)

	if st := fs.initInodeBitmap(); !st.Ok() {
		return nil, st
	}
	return fs, status.OK
}

// initInodeBitmap rebuilds the in-memory inode allocation bitmap by
// scanning the root directory's entries, trusting whatever inode numbers
// are already on disk — the same unbounded trust the source places in
// on-disk directory contents (documented, not defended against here).
func (fs *FileSystem) initInodeBitmap() status.Status {
	inodesPerBlock := uint32(BlockSize / InodeSize)
	fs.inodeBitmap = make([]byte, (fs.sb.InodeBlockCount*inodesPerBlock/8)+1)
	fs.setInodeBit(fs.sb.RootDirInode)

	root, st := fs.readInode(fs.sb.RootDirInode)
	if !st.Ok() {
		return st
	}

	numEntries := root.Size / DirEntrySize
	blocks := blocksFor(root.Size)
	var counted uint32
	for b := uint32(0); b < blocks; b++ {
		for j := uint32(0); j < BlockSize/DirEntrySize; j++ {
			if counted >= numEntries {
				return status.OK
			}
			buf := make([]byte, DirEntrySize)
			if st := fs.readDataBlockAt(&root, b, j*DirEntrySize, buf); !st.Ok() {
				return st
			}
			var de DirEntry
			de.decode(buf)
			fs.setInodeBit(de.Inode)
			counted++
		}
	}
	return status.OK
}

func blocksFor(size uint32) uint32 {
	blocks := size / BlockSize
	if size%BlockSize != 0 {
		blocks++
	}
	return blocks
}

func (fs *FileSystem) setInodeBit(id uint16) {
	bytePos := id / 8
	if int(bytePos) >= len(fs.inodeBitmap) {
		return
	}
	fs.inodeBitmap[bytePos] |= 1 << (id % 8)
}

func (fs *FileSystem) clearInodeBit(id uint16) {
	bytePos := id / 8
	if int(bytePos) >= len(fs.inodeBitmap) {
		return
	}
	fs.inodeBitmap[bytePos] &^= 1 << (id % 8)
}

// newInode finds a clear bit in the inode bitmap, sets it, and returns the
// inode number.
func (fs *FileSystem) newInode() (uint16, status.Status) {
	for i, b := range fs.inodeBitmap {
		if b == 0xff {
			continue
		}
		for j := 0; j < 8; j++ {
			if b&(1<<j) == 0 {
				fs.inodeBitmap[i] |= 1 << j
				return uint16(i*8 + j), status.OK
			}
		}
	}
	return 0, status.NOINODEBLKS
}

func (fs *FileSystem) releaseInode(id uint16) {
	fs.clearInodeBit(id)
}

// inodePos returns the byte offset of inode id within the filesystem image.
func (fs *FileSystem) inodePos(id uint16) int64 {
	return fs.inodeAreaStart*BlockSize + int64(id)*InodeSize
}

func (fs *FileSystem) readInode(id uint16) (Inode, status.Status) {
	buf := make([]byte, InodeSize)
	if _, st := fs.cache.ReadAt(buf, fs.inodePos(id)); !st.Ok() {
		return Inode{}, st
	}
	var n Inode
	n.decode(buf)
	return n, status.OK
}

func (fs *FileSystem) writeInode(id uint16, n *Inode) status.Status {
	buf := make([]byte, InodeSize)
	n.encode(buf)
	if _, st := fs.cache.WriteAt(buf, fs.inodePos(id)); !st.Ok() {
		return st
	}
	return status.OK
}

// newDataBlock scans the block bitmap (block 1..bitmap_block_count) a byte
// at a time, matching the source's cache-mediated bit scan, and returns the
// first free block id with its bit now set. A return of (0, NODATABLKS)
// means the bitmap is full.
func (fs *FileSystem) newDataBlock() (uint32, status.Status) {
	total := fs.sb.BitmapBlockCount * BlockSize
	for i := uint32(0); i < total; i++ {
		pos := int64(BlockSize) + int64(i)
		buf := make([]byte, 1)
		if _, st := fs.cache.ReadAt(buf, pos); !st.Ok() {
			return 0, st
		}
		b := buf[0]
		for j := 0; j < 8; j++ {
			if b&(1<<j) == 0 {
				b |= 1 << j
				if _, st := fs.cache.WriteAt([]byte{b}, pos); !st.Ok() {
					return 0, st
				}
				return i*8 + uint32(j), status.OK
			}
		}
	}
	return 0, status.NODATABLKS
}

func (fs *FileSystem) releaseDataBlockBit(blockID uint32) status.Status {
	bytePos := blockID / 8
	bitPos := blockID % 8
	pos := int64(BlockSize) + int64(bytePos)
	buf := make([]byte, 1)
	if _, st := fs.cache.ReadAt(buf, pos); !st.Ok() {
		return st
	}
	buf[0] &^= 1 << bitPos
	_, st := fs.cache.WriteAt(buf, pos)
	return st
}

// Flush persists every dirty cache slot to the backend.
func (fs *FileSystem) Flush() status.Status {
	return fs.cache.Flush()
}

func readPtr32(cache *blkcache.Cache, pos int64) (uint32, status.Status) {
	buf := make([]byte, 4)
	if _, st := cache.ReadAt(buf, pos); !st.Ok() {
		return 0, st
	}
	return binary.LittleEndian.Uint32(buf), status.OK
}

func writePtr32(cache *blkcache.Cache, pos int64, v uint32) status.Status {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, st := cache.WriteAt(buf, pos)
	return st
}
