package romimage

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestWriteLittleEndian(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mbgba")

	ewram := []uint32{0x12345678, 0xDEADBEEF}
	if err := Write(path, ewram); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := []byte{0x78, 0x56, 0x34, 0x12, 0xEF, 0xBE, 0xAD, 0xDE}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
}

func TestWriteEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.mbgba")

	if err := Write(path, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bytes, want 0", len(got))
	}
}
