package ktfs

import "kos/status"

// blockTier classifies a logical block number into the tier of pointer
// that resolves it, mirroring the source's direct/indirect/dindirect
// arithmetic exactly (KTFS_NUM_DIRECT_DATA_BLOCKS=3, 128 pointers per
// indirect block, two dindirect instances of 128*128 blocks each).
type blockTier int

const (
	tierDirect blockTier = iota
	tierIndirect
	tierDindirect
	tierOutOfRange
)

func classify(logical uint32) (tier blockTier, dindirectInstance int, adj uint32) {
	switch {
	case logical < indirectStart:
		return tierDirect, 0, 0
	case logical < dindirectStart:
		return tierIndirect, 0, logical - indirectStart
	case logical < dindirect1End:
		return tierDindirect, 0, logical - dindirectStart
	case logical < dindirect2End:
		return tierDindirect, 1, logical - dindirectStart - dindirectSpan
	default:
		return tierOutOfRange, 0, 0
	}
}

// resolveLeaf returns the data-area block index that logical block number
// logical maps to within inode, without allocating anything.
func (fs *FileSystem) resolveLeaf(inode *Inode, logical uint32) (uint32, status.Status) {
	tier, instance, adj := classify(logical)
	switch tier {
	case tierDirect:
		return inode.Direct[logical], status.OK

	case tierIndirect:
		pos := (fs.dataAreaStart + int64(inode.Indirect)) * BlockSize
		pos += int64(adj) * 4
		return readPtr32(fs.cache, pos)

	case tierDindirect:
		off1 := adj / ptrsPerBlock
		off2 := adj % ptrsPerBlock

		pos := (fs.dataAreaStart + int64(inode.Dindirect[instance])) * BlockSize
		pos += int64(off1) * 4
		mid, st := readPtr32(fs.cache, pos)
		if !st.Ok() {
			return 0, st
		}

		pos = (fs.dataAreaStart + int64(mid)) * BlockSize
		pos += int64(off2) * 4
		return readPtr32(fs.cache, pos)

	default:
		return 0, status.INVAL
	}
}

// readDataBlockAt treats inode's data blocks as one contiguous region,
// resolving the logical block number to a data-area block and copying
// buf's length starting at the given intra-block offset.
func (fs *FileSystem) readDataBlockAt(inode *Inode, logical uint32, off uint32, buf []byte) status.Status {
	leaf, st := fs.resolveLeaf(inode, logical)
	if !st.Ok() {
		return st
	}
	pos := (fs.dataAreaStart+int64(leaf))*BlockSize + int64(off)
	_, st = fs.cache.ReadAt(buf, pos)
	return st
}

func (fs *FileSystem) writeDataBlockAt(inode *Inode, logical uint32, off uint32, buf []byte) status.Status {
	leaf, st := fs.resolveLeaf(inode, logical)
	if !st.Ok() {
		return st
	}
	pos := (fs.dataAreaStart+int64(leaf))*BlockSize + int64(off)
	_, st = fs.cache.WriteAt(buf, pos)
	return st
}

// allocateNewDataBlock extends inode with a fresh data block at logical
// block number "logical", allocating whatever indirect/dindirect metadata
// blocks are newly needed along the way.
func (fs *FileSystem) allocateNewDataBlock(inode *Inode, logical uint32) status.Status {
	leaf, st := fs.newDataBlock()
	if !st.Ok() {
		return st
	}

	tier, instance, adj := classify(logical)
	switch tier {
	case tierDirect:
		inode.Direct[logical] = leaf
		return status.OK

	case tierIndirect:
		if logical == indirectStart {
			ind, st := fs.newDataBlock()
			if !st.Ok() {
				return st
			}
			inode.Indirect = ind
		}
		pos := (fs.dataAreaStart+int64(inode.Indirect))*BlockSize + int64(adj)*4
		return writePtr32(fs.cache, pos, leaf)

	case tierDindirect:
		off1 := adj / ptrsPerBlock
		off2 := adj % ptrsPerBlock

		if adj == 0 {
			dind, st := fs.newDataBlock()
			if !st.Ok() {
				return st
			}
			inode.Dindirect[instance] = dind
		}

		midPos := (fs.dataAreaStart+int64(inode.Dindirect[instance]))*BlockSize + int64(off1)*4

		var mid uint32
		if off2 == 0 {
			m, st := fs.newDataBlock()
			if !st.Ok() {
				return st
			}
			mid = m
			if st := writePtr32(fs.cache, midPos, mid); !st.Ok() {
				return st
			}
		} else {
			m, st := readPtr32(fs.cache, midPos)
			if !st.Ok() {
				return st
			}
			mid = m
		}

		leafPos := (fs.dataAreaStart+int64(mid))*BlockSize + int64(off2)*4
		return writePtr32(fs.cache, leafPos, leaf)

	default:
		return status.INVAL
	}
}

// releaseDataBlock is allocateNewDataBlock's dual: it frees the leaf block
// at logical block number "logical", and also frees the indirect/dindirect
// metadata block(s) that held only that leaf's pointer. Correct only when
// the caller releases blocks from the highest logical block number
// downward — the same precondition the source relies on, since a metadata
// block is freed exactly when its first (offset-0) entry is the one being
// released, without checking whether later entries in that same block are
// still live.
func (fs *FileSystem) releaseDataBlock(inode *Inode, logical uint32) status.Status {
	tier, instance, adj := classify(logical)
	switch tier {
	case tierDirect:
		return fs.releaseDataBlockBit(inode.Direct[logical])

	case tierIndirect:
		if logical == indirectStart {
			if st := fs.releaseDataBlockBit(inode.Indirect); !st.Ok() {
				return st
			}
		}
		pos := (fs.dataAreaStart+int64(inode.Indirect))*BlockSize + int64(adj)*4
		leaf, st := readPtr32(fs.cache, pos)
		if !st.Ok() {
			return st
		}
		return fs.releaseDataBlockBit(leaf)

	case tierDindirect:
		off1 := adj / ptrsPerBlock
		off2 := adj % ptrsPerBlock

		if adj == 0 {
			if st := fs.releaseDataBlockBit(inode.Dindirect[instance]); !st.Ok() {
				return st
			}
		}

		midPos := (fs.dataAreaStart+int64(inode.Dindirect[instance]))*BlockSize + int64(off1)*4
		mid, st := readPtr32(fs.cache, midPos)
		if !st.Ok() {
			return st
		}
		if off2 == 0 {
			if st := fs.releaseDataBlockBit(mid); !st.Ok() {
				return st
			}
		}

		leafPos := (fs.dataAreaStart+int64(mid))*BlockSize + int64(off2)*4
		leaf, st := readPtr32(fs.cache, leafPos)
		if !st.Ok() {
			return st
		}
		return fs.releaseDataBlockBit(leaf)

	default:
		return status.INVAL
	}
}
