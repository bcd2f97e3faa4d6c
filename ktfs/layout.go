// Package ktfs implements the on-disk filesystem: a superblock, an inode
// bitmap, fixed-size inodes with direct/indirect/double-indirect data
// pointers, and a single flat root directory. It plays the role the
// teacher's loopback filesystem plays for FUSE — the concrete backing
// store underneath the uniform I/O object contract.
package ktfs

import "encoding/binary"

// On-disk geometry constants, all little-endian and packed (no struct
// padding is relied on — every field is read/written with explicit byte
// offsets).
const (
	BlockSize    = 512
	InodeSize    = 32
	DirEntrySize = 16

	// NameSize is the on-disk storage width of a directory entry's name
	// (inode field aside); MaxNameLen leaves room for the terminator.
	NameSize   = DirEntrySize - 2
	MaxNameLen = NameSize - 1

	NumDirect    = 3
	ptrsPerBlock = BlockSize / 4 // 128 four-byte block-pointer slots per indirect block

	// Logical block numbers at which each pointer tier begins.
	indirectStart  = NumDirect                              // 3
	dindirectStart = indirectStart + ptrsPerBlock            // 131
	dindirectSpan  = ptrsPerBlock * ptrsPerBlock              // 16384 blocks per dindirect instance
	dindirect1End  = dindirectStart + dindirectSpan           // 16515
	dindirect2End  = dindirect1End + dindirectSpan            // 32899, exclusive upper bound
)

// Superblock is the first 14 bytes of block 0.
type Superblock struct {
	BlockCount       uint32
	BitmapBlockCount uint32
	InodeBlockCount  uint32
	RootDirInode     uint16
}

func (s *Superblock) decode(b []byte) {
	s.BlockCount = binary.LittleEndian.Uint32(b[0:4])
	s.BitmapBlockCount = binary.LittleEndian.Uint32(b[4:8])
	s.InodeBlockCount = binary.LittleEndian.Uint32(b[8:12])
	s.RootDirInode = binary.LittleEndian.Uint16(b[12:14])
}

func (s *Superblock) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], s.BlockCount)
	binary.LittleEndian.PutUint32(b[4:8], s.BitmapBlockCount)
	binary.LittleEndian.PutUint32(b[8:12], s.InodeBlockCount)
	binary.LittleEndian.PutUint16(b[12:14], s.RootDirInode)
}

// Inode is the 32-byte on-disk inode record.
type Inode struct {
	Size      uint32
	Flags     uint32
	Direct    [NumDirect]uint32
	Indirect  uint32
	Dindirect [2]uint32
}

func (n *Inode) decode(b []byte) {
	n.Size = binary.LittleEndian.Uint32(b[0:4])
	n.Flags = binary.LittleEndian.Uint32(b[4:8])
	for i := 0; i < NumDirect; i++ {
		n.Direct[i] = binary.LittleEndian.Uint32(b[8+4*i : 12+4*i])
	}
	n.Indirect = binary.LittleEndian.Uint32(b[20:24])
	n.Dindirect[0] = binary.LittleEndian.Uint32(b[24:28])
	n.Dindirect[1] = binary.LittleEndian.Uint32(b[28:32])
}

func (n *Inode) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], n.Size)
	binary.LittleEndian.PutUint32(b[4:8], n.Flags)
	for i := 0; i < NumDirect; i++ {
		binary.LittleEndian.PutUint32(b[8+4*i:12+4*i], n.Direct[i])
	}
	binary.LittleEndian.PutUint32(b[20:24], n.Indirect)
	binary.LittleEndian.PutUint32(b[24:28], n.Dindirect[0])
	binary.LittleEndian.PutUint32(b[28:32], n.Dindirect[1])
}

// DirEntry is a 16-byte directory entry: a 2-byte inode number and a
// nul-terminated name of up to MaxNameLen printable bytes.
type DirEntry struct {
	Inode uint16
	Name  string
}

func (d *DirEntry) decode(b []byte) {
	d.Inode = binary.LittleEndian.Uint16(b[0:2])
	name := b[2:DirEntrySize]
	if i := indexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	d.Name = string(name)
}

func (d *DirEntry) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], d.Inode)
	nb := b[2:DirEntrySize]
	for i := range nb {
		nb[i] = 0
	}
	copy(nb, d.Name)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
