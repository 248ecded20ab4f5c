// Package elf32 implements the one sliver of ELF parsing execute needs:
// confirm the magic 4-byte header, then read the 4-byte little-endian
// entry point at offset 24. Program headers, section tables, and
// relocations are never consulted; the loader copies the whole file to a
// fixed address and uses that one field.
package elf32

import (
	"encoding/binary"
	"fmt"
)

// Magic is the four bytes every valid executable in this file system
// must begin with.
var Magic = [4]byte{0x7f, 0x45, 0x4c, 0x46}

// entryOffset is where the 32-bit entry point lives in an ELF header.
const entryOffset = 24

// HasMagic reports whether header (at least 4 bytes) starts with Magic.
func HasMagic(header []byte) bool {
	if len(header) < 4 {
		return false
	}
	return [4]byte(header[:4]) == Magic
}

// Entry reads the little-endian uint32 at byte offset 24 of header, the
// program-table index this kernel uses in place of a raw jump target.
func Entry(header []byte) (uint32, error) {
	if len(header) < entryOffset+4 {
		return 0, fmt.Errorf("elf32: header is %d bytes, need at least %d", len(header), entryOffset+4)
	}
	return binary.LittleEndian.Uint32(header[entryOffset : entryOffset+4]), nil
}

// StubHeaderSize is the minimum number of bytes execute ever reads off a
// program's image: the 4-byte magic plus the entry point at offset 24.
const StubHeaderSize = entryOffset + 4

// Stub returns a minimal ELF-shaped byte sequence carrying entry at the
// fixed offset: enough for HasMagic/Entry to round-trip, and nothing
// else, matching how little of a real ELF image execute actually
// inspects.
func Stub(entry uint32) []byte {
	b := make([]byte, StubHeaderSize)
	copy(b[:4], Magic[:])
	binary.LittleEndian.PutUint32(b[entryOffset:entryOffset+4], entry)
	return b
}
