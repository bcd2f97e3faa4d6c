package ktfs

import (
	"bytes"
	"testing"

	"kos/ioobj"
)

// newTestImage builds a freshly formatted, all-zero KTFS image with an
// empty root directory at inode 0, sized to hold dataBlocks data blocks.
func newTestImage(t *testing.T, bitmapBlocks, inodeBlocks, dataBlocks uint32) *ioobj.Endpoint {
	t.Helper()
	total := 1 + bitmapBlocks + inodeBlocks + dataBlocks
	buf := make([]byte, total*BlockSize)

	sb := Superblock{
		BlockCount:       total,
		BitmapBlockCount: bitmapBlocks,
		InodeBlockCount:  inodeBlocks,
		RootDirInode:     0,
	}
	sb.encode(buf[:14])
	return ioobj.NewMemory(buf)
}

func mustMount(t *testing.T, backend *ioobj.Endpoint) *FileSystem {
	t.Helper()
	fs, st := Mount(backend, 8)
	if !st.Ok() {
		t.Fatalf("Mount: %v", st)
	}
	return fs
}

func TestMountEmptyImage(t *testing.T) {
	fs := mustMount(t, newTestImage(t, 1, 1, 16))
	entries, st := fs.Readdir()
	if !st.Ok() || len(entries) != 0 {
		t.Fatalf("Readdir on fresh image = (%v, %v), want empty", entries, st)
	}
}

func TestCreateOpenWriteReadDelete(t *testing.T) {
	fs := mustMount(t, newTestImage(t, 1, 1, 16))

	if st := fs.Create("hello.txt"); !st.Ok() {
		t.Fatalf("Create: %v", st)
	}
	entries, st := fs.Readdir()
	if !st.Ok() || len(entries) != 1 || entries[0].Name != "hello.txt" {
		t.Fatalf("Readdir after Create = (%v, %v)", entries, st)
	}

	io, st := fs.Open("hello.txt")
	if !st.Ok() {
		t.Fatalf("Open: %v", st)
	}
	if _, st := io.Ctrl(ioobj.SETEND, 11); !st.Ok() {
		t.Fatalf("SETEND: %v", st)
	}

	msg := []byte("hello ktfs!")
	if n, st := io.Write(msg); n != len(msg) || !st.Ok() {
		t.Fatalf("Write = (%d, %v)", n, st)
	}
	if _, st := io.Ctrl(ioobj.SETPOS, 0); !st.Ok() {
		t.Fatalf("SETPOS: %v", st)
	}
	out := make([]byte, len(msg))
	if n, st := io.Read(out); n != len(msg) || !st.Ok() || !bytes.Equal(out, msg) {
		t.Fatalf("Read = (%d, %v, %q)", n, st, out)
	}
	if st := io.Close(); !st.Ok() {
		t.Fatalf("Close: %v", st)
	}

	size, _, st := fs.Stat("hello.txt")
	if !st.Ok() || size != uint32(len(msg)) {
		t.Fatalf("Stat = (%d, %v), want %d", size, st, len(msg))
	}

	if st := fs.Delete("hello.txt"); !st.Ok() {
		t.Fatalf("Delete: %v", st)
	}
	entries, st = fs.Readdir()
	if !st.Ok() || len(entries) != 0 {
		t.Fatalf("Readdir after Delete = (%v, %v), want empty", entries, st)
	}
	if _, st := fs.Open("hello.txt"); st.Ok() {
		t.Fatal("Open after Delete should fail")
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fs := mustMount(t, newTestImage(t, 1, 1, 16))
	if st := fs.Create("a"); !st.Ok() {
		t.Fatalf("Create: %v", st)
	}
	if st := fs.Create("a"); st.Ok() {
		t.Fatal("Create of duplicate name should fail")
	}
}

func TestOpenMissingFails(t *testing.T) {
	fs := mustMount(t, newTestImage(t, 1, 1, 16))
	if _, st := fs.Open("nope"); st.Ok() {
		t.Fatal("Open of missing file should fail")
	}
}

func TestExtendAcrossIndirectBlock(t *testing.T) {
	// Large enough to spill past the 3 direct blocks into the indirect
	// tier: 5 logical blocks of data plus the indirect metadata block
	// plus directory blocks.
	fs := mustMount(t, newTestImage(t, 1, 1, 32))

	if st := fs.Create("big"); !st.Ok() {
		t.Fatalf("Create: %v", st)
	}
	io, st := fs.Open("big")
	if !st.Ok() {
		t.Fatalf("Open: %v", st)
	}

	const size = 5 * BlockSize // forces use of the indirect pointer block
	if _, st := io.Ctrl(ioobj.SETEND, size); !st.Ok() {
		t.Fatalf("SETEND: %v", st)
	}

	pattern := bytes.Repeat([]byte{0xAB}, size)
	if n, st := io.Write(pattern); n != size || !st.Ok() {
		t.Fatalf("Write = (%d, %v)", n, st)
	}
	if _, st := io.Ctrl(ioobj.SETPOS, 0); !st.Ok() {
		t.Fatalf("SETPOS: %v", st)
	}

	out := make([]byte, size)
	if n, st := io.Read(out); n != size || !st.Ok() || !bytes.Equal(out, pattern) {
		t.Fatalf("Read mismatch: n=%d st=%v", n, st)
	}
}

func TestDeleteRemovesMiddleEntryByCompaction(t *testing.T) {
	fs := mustMount(t, newTestImage(t, 1, 1, 16))
	for _, name := range []string{"a", "b", "c"} {
		if st := fs.Create(name); !st.Ok() {
			t.Fatalf("Create(%q): %v", name, st)
		}
	}
	if st := fs.Delete("b"); !st.Ok() {
		t.Fatalf("Delete: %v", st)
	}
	entries, st := fs.Readdir()
	if !st.Ok() || len(entries) != 2 {
		t.Fatalf("Readdir = (%v, %v), want 2 entries", entries, st)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["a"] || !names["c"] || names["b"] {
		t.Fatalf("unexpected surviving entries: %v", entries)
	}
}
