// Package fsimage implements the read-only flat file system: a single
// boot block of directory entries, followed by a fixed run of 4096-byte
// inodes, followed by the data blocks they index. The byte layout is
// fixed; parsing goes through encoding/binary rather than any
// pointer-cast view of the image.
package fsimage

import (
	"encoding/binary"
	"fmt"
)

// Fixed on-image geometry.
const (
	BlockSize      = 4096
	DirEntrySize   = 64
	FileNameSize   = 32
	MaxDirEntries  = 63
	dataBlockWords = 1023 // (BlockSize - 4) / 4, see inode_t's union
)

// FileType is a directory entry's type tag.
type FileType uint32

const (
	TypeRTC       FileType = 0
	TypeDirectory FileType = 1
	TypeFile      FileType = 2
)

// DirEntry is one 64-byte directory entry, decoded.
type DirEntry struct {
	Name  string
	Type  FileType
	Inode uint32
}

// Image is a parsed, read-only file system image held entirely in
// memory. Nothing about it ever mutates after New returns.
type Image struct {
	raw []byte

	numDirEntries int
	numInodes     int
	numDataBlocks int

	dirEntries []DirEntry
	inodeBase  int // byte offset of inode 0 within raw
	dataBase   int // byte offset of data block 0 within raw
}

// New parses a boot-block-prefixed flat file system image: boot block,
// then numInodes inode blocks, then numDataBlocks data blocks, each
// BlockSize bytes.
func New(raw []byte) (*Image, error) {
	if len(raw) < BlockSize {
		return nil, fmt.Errorf("fsimage: image too small for a boot block (%d bytes)", len(raw))
	}

	numDirEntries := int(binary.LittleEndian.Uint32(raw[0:4]))
	numInodes := int(binary.LittleEndian.Uint32(raw[4:8]))
	numDataBlocks := int(binary.LittleEndian.Uint32(raw[8:12]))

	if numDirEntries < 0 || numDirEntries > MaxDirEntries {
		return nil, fmt.Errorf("fsimage: boot block reports %d dir entries, max is %d", numDirEntries, MaxDirEntries)
	}

	inodeBase := BlockSize
	dataBase := inodeBase + numInodes*BlockSize
	if need := dataBase + numDataBlocks*BlockSize; len(raw) < need {
		return nil, fmt.Errorf("fsimage: image is %d bytes, layout needs at least %d", len(raw), need)
	}

	img := &Image{
		raw:           raw,
		numDirEntries: numDirEntries,
		numInodes:     numInodes,
		numDataBlocks: numDataBlocks,
		inodeBase:     inodeBase,
		dataBase:      dataBase,
	}

	const dirEntriesOffset = 64 // boot block reserved[52] + 3 leading uint32s
	for i := 0; i < numDirEntries; i++ {
		off := dirEntriesOffset + i*DirEntrySize
		img.dirEntries = append(img.dirEntries, decodeDirEntry(raw[off:off+DirEntrySize]))
	}

	return img, nil
}

func decodeDirEntry(b []byte) DirEntry {
	nameEnd := 0
	for nameEnd < FileNameSize && b[nameEnd] != 0 {
		nameEnd++
	}
	return DirEntry{
		Name:  string(b[:nameEnd]),
		Type:  FileType(binary.LittleEndian.Uint32(b[FileNameSize : FileNameSize+4])),
		Inode: binary.LittleEndian.Uint32(b[FileNameSize+4 : FileNameSize+8]),
	}
}

// DirectoryCount returns the number of directory entries.
func (img *Image) DirectoryCount() int {
	return img.numDirEntries
}

// ReadDentryByIndex returns the directory entry at index, which must be
// strictly less than the entry count.
func (img *Image) ReadDentryByIndex(index int) (DirEntry, error) {
	if index < 0 || index >= img.numDirEntries {
		return DirEntry{}, fmt.Errorf("fsimage: dentry index %d out of range [0, %d)", index, img.numDirEntries)
	}
	return img.dirEntries[index], nil
}

// ReadDentryByName returns the directory entry named name. A name longer
// than FileNameSize can never match and fails up front.
func (img *Image) ReadDentryByName(name string) (DirEntry, error) {
	if len(name) > FileNameSize {
		return DirEntry{}, fmt.Errorf("fsimage: name %q longer than %d bytes", name, FileNameSize)
	}
	for _, d := range img.dirEntries {
		if d.Name == name {
			return d, nil
		}
	}
	return DirEntry{}, fmt.Errorf("fsimage: no such file %q", name)
}

// FileSize returns the byte length recorded in inode's header.
func (img *Image) FileSize(inode uint32) (int, error) {
	if err := img.checkInode(inode); err != nil {
		return 0, err
	}
	off := img.inodeBase + int(inode)*BlockSize
	return int(binary.LittleEndian.Uint32(img.raw[off : off+4])), nil
}

// ReadData copies up to len(buf) bytes from inode starting at offset
// into buf, walking the inode's data block index array in order and
// stopping early at the file's recorded length. It returns the number of
// bytes copied.
func (img *Image) ReadData(inode uint32, offset int, buf []byte) (int, error) {
	if err := img.checkInode(inode); err != nil {
		return 0, err
	}
	size, _ := img.FileSize(inode)
	inodeOff := img.inodeBase + int(inode)*BlockSize

	n := 0
	for n < len(buf) {
		pos := offset + n
		if pos >= size {
			break
		}
		blockIdx := pos / BlockSize
		blockOff := pos % BlockSize
		if blockIdx >= dataBlockWords {
			return n, fmt.Errorf("fsimage: inode %d references block index %d beyond %d", inode, blockIdx, dataBlockWords)
		}
		indexOff := inodeOff + 4 + blockIdx*4
		dataBlockNum := binary.LittleEndian.Uint32(img.raw[indexOff : indexOff+4])
		if int(dataBlockNum) >= img.numDataBlocks {
			return n, fmt.Errorf("fsimage: inode %d references out-of-range data block %d", inode, dataBlockNum)
		}
		srcOff := img.dataBase + int(dataBlockNum)*BlockSize + blockOff
		buf[n] = img.raw[srcOff]
		n++
	}
	return n, nil
}

func (img *Image) checkInode(inode uint32) error {
	if int(inode) >= img.numInodes {
		return fmt.Errorf("fsimage: inode %d out of range [0, %d)", inode, img.numInodes)
	}
	return nil
}
