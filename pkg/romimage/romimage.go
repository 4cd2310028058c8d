// Package romimage persists a reconstructed multiboot image to disk.
package romimage

import (
	"encoding/binary"
	"os"
)

// DefaultPath is where the original tooling always wrote its dump.
const DefaultPath = "multibootrom.mbgba"

// Write serializes ewram as little-endian u32 words and writes it to
// path.
func Write(path string, ewram []uint32) error {
	buf := make([]byte, len(ewram)*4)
	for i, word := range ewram {
		binary.LittleEndian.PutUint32(buf[i*4:], word)
	}
	return os.WriteFile(path, buf, 0o644)
}
