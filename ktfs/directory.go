package ktfs

import "kos/status"

// dirScan walks the root directory's entries, invoking visit for each
// live entry until it returns true (found) or the entries are exhausted.
// It returns the matched entry, its logical index among all entries, and
// whether a match was found.
func (fs *FileSystem) dirScan(root *Inode, visit func(idx uint32, de DirEntry) bool) (DirEntry, uint32, bool, status.Status) {
	numEntries := root.Size / DirEntrySize
	blocks := blocksFor(root.Size)

	var idx uint32
	for b := uint32(0); b < blocks; b++ {
		for j := uint32(0); j < BlockSize/DirEntrySize; j++ {
			if idx >= numEntries {
				return DirEntry{}, 0, false, status.OK
			}
			buf := make([]byte, DirEntrySize)
			if st := fs.readDataBlockAt(root, b, j*DirEntrySize, buf); !st.Ok() {
				return DirEntry{}, 0, false, st
			}
			var de DirEntry
			de.decode(buf)
			if visit(idx, de) {
				return de, idx, true, status.OK
			}
			idx++
		}
	}
	return DirEntry{}, 0, false, status.OK
}

func (fs *FileSystem) findByName(root *Inode, name string) (DirEntry, uint32, bool, status.Status) {
	return fs.dirScan(root, func(_ uint32, de DirEntry) bool {
		return de.Name == name
	})
}

// Readdir lists every entry of the root directory as (name, inode) pairs.
// It is not part of the source's contract; it is supplemented here as a
// convenience accessor over the same on-disk layout rules Open/Create use.
func (fs *FileSystem) Readdir() ([]DirEntry, status.Status) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	root, st := fs.readInode(fs.sb.RootDirInode)
	if !st.Ok() {
		return nil, st
	}
	var entries []DirEntry
	_, _, _, st = fs.dirScan(&root, func(_ uint32, de DirEntry) bool {
		entries = append(entries, de)
		return false
	})
	return entries, st
}

// entryPos returns the logical-block / intra-block-offset pair for
// directory entry index idx.
func entryPos(idx uint32) (blkno uint32, off uint32) {
	return (idx * DirEntrySize) / BlockSize, (idx * DirEntrySize) % BlockSize
}
