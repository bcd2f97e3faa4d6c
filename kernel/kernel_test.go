package kernel

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"kos/ktfs"
	"kos/vm"
)

// newTestImage writes a freshly formatted, empty KTFS image to a temp file
// and returns its path, mirroring ktfs_test.go's in-memory equivalent but
// materialized on disk for Boot's block-device path. The superblock's
// first 14 bytes are laid out directly per spec.md's External Interfaces
// section (block_count, bitmap_block_count, inode_block_count u32 each,
// root_directory_inode u16, little-endian), since ktfs.Superblock's own
// encode/decode are unexported.
func newTestImage(t *testing.T, bitmapBlocks, inodeBlocks, dataBlocks uint32) string {
	t.Helper()
	total := 1 + bitmapBlocks + inodeBlocks + dataBlocks
	buf := make([]byte, total*ktfs.BlockSize)
	binary.LittleEndian.PutUint32(buf[0:], total)
	binary.LittleEndian.PutUint32(buf[4:], bitmapBlocks)
	binary.LittleEndian.PutUint32(buf[8:], inodeBlocks)
	binary.LittleEndian.PutUint16(buf[12:], 0)

	path := filepath.Join(t.TempDir(), "image.ktfs")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func testConfig(t *testing.T, imagePath string) BootConfig {
	return BootConfig{
		PhysPages:       4096,
		UserRange:       vm.Range{Low: 0x1000, High: 0x10_0000},
		GlobalRange:     vm.Range{Low: 0x20_0000, High: 0x21_0000},
		BlockDevicePath: imagePath,
	}
}

func TestBootWiresEverySubsystem(t *testing.T) {
	path := newTestImage(t, 1, 1, 16)
	k, err := Boot(testConfig(t, path))
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Shutdown()

	if k.Main == nil || k.Main.Idx != 0 {
		t.Fatalf("Main process not initialized: %+v", k.Main)
	}
	if k.Sched.Main().UserData != k.Main {
		t.Fatal("scheduler's main thread not bound to the boot-time process")
	}
	if k.VM.Active() != k.VM.Main() {
		t.Fatal("vm manager should start with main_mspace active")
	}

	if st := k.FS.Create("hello"); !st.Ok() {
		t.Fatalf("Create via booted filesystem: %v", st)
	}
	entries, st := k.FS.Readdir()
	if !st.Ok() || len(entries) != 1 {
		t.Fatalf("Readdir after Create = (%v, %v)", entries, st)
	}
}

func TestBootFailsOnMissingBlockDevice(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "does-not-exist.ktfs"))
	if _, err := Boot(cfg); err == nil {
		t.Fatal("Boot should fail when the block device path doesn't exist")
	}
}
