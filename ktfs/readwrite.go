package ktfs

import "kos/status"

// readAt copies up to len(buf) bytes from inode's data starting at pos,
// truncated to whatever remains before size. pos >= size is rejected with
// INVAL, matching the source precisely (a zero-size file accepts no
// direct read/write until extended).
func (fs *FileSystem) readAt(inode *Inode, size uint32, buf []byte, pos int64) (int, status.Status) {
	if pos < 0 || pos >= int64(size) {
		return 0, status.INVAL
	}

	length := len(buf)
	if pos+int64(length) > int64(size) {
		length = int(int64(size) - pos)
	}
	buf = buf[:length]

	blkno := uint32(pos / BlockSize)
	blkoff := uint32(pos % BlockSize)

	scratch := make([]byte, BlockSize)
	remaining := length
	first := BlockSize - int(blkoff)
	if first > remaining {
		first = remaining
	}

	if st := fs.readDataBlockAt(inode, blkno, 0, scratch); !st.Ok() {
		return 0, st
	}
	copy(buf[:first], scratch[blkoff:int(blkoff)+first])
	remaining -= first
	copied := first
	blkno++

	for remaining > 0 {
		if st := fs.readDataBlockAt(inode, blkno, 0, scratch); !st.Ok() {
			return copied, st
		}
		n := BlockSize
		if n > remaining {
			n = remaining
		}
		copy(buf[copied:copied+n], scratch[:n])
		remaining -= n
		copied += n
		blkno++
	}
	return length, status.OK
}

// writeAt is readAt's dual: it never grows the file (a write crossing size
// is truncated), and marks touched cache slots dirty via the cache's own
// WriteAt.
func (fs *FileSystem) writeAt(inode *Inode, size uint32, buf []byte, pos int64) (int, status.Status) {
	if pos < 0 || pos >= int64(size) {
		return 0, status.INVAL
	}

	length := len(buf)
	if pos+int64(length) > int64(size) {
		length = int(int64(size) - pos)
	}
	buf = buf[:length]

	blkno := uint32(pos / BlockSize)
	blkoff := uint32(pos % BlockSize)

	remaining := length
	first := BlockSize - int(blkoff)
	if first > remaining {
		first = remaining
	}

	if st := fs.writeDataBlockAt(inode, blkno, blkoff, buf[:first]); !st.Ok() {
		return 0, st
	}
	remaining -= first
	written := first
	blkno++

	for remaining > 0 {
		n := BlockSize
		if n > remaining {
			n = remaining
		}
		if st := fs.writeDataBlockAt(inode, blkno, 0, buf[written:written+n]); !st.Ok() {
			return written, st
		}
		remaining -= n
		written += n
		blkno++
	}
	return length, status.OK
}
