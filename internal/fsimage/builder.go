package fsimage

import (
	"encoding/binary"
	"fmt"
)

// Builder constructs a boot-block-prefixed flat file system image in the
// exact byte layout New parses, the encode side of this package's own
// decode. The default boot image baked into the binary is assembled with
// it, since there is no disk to read one from.
type Builder struct {
	entries []builderEntry
}

type builderEntry struct {
	name string
	typ  FileType
	data []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddFile appends a named file of the given type and contents. Order of
// calls becomes directory-entry and inode order.
func (b *Builder) AddFile(name string, typ FileType, data []byte) error {
	if len(name) > FileNameSize {
		return fmt.Errorf("fsimage: builder: name %q longer than %d bytes", name, FileNameSize)
	}
	if len(b.entries) >= MaxDirEntries {
		return fmt.Errorf("fsimage: builder: already at max %d directory entries", MaxDirEntries)
	}
	b.entries = append(b.entries, builderEntry{name: name, typ: typ, data: data})
	return nil
}

// Build serializes every added file into one boot-block + inodes + data
// blocks image and returns it ready to pass to New.
func (b *Builder) Build() ([]byte, error) {
	numInodes := len(b.entries)

	numDataBlocks := 0
	blocksOf := make([]int, len(b.entries))
	for i, e := range b.entries {
		n := (len(e.data) + BlockSize - 1) / BlockSize
		blocksOf[i] = n
		numDataBlocks += n
	}

	totalBlocks := 1 + numInodes + numDataBlocks
	raw := make([]byte, totalBlocks*BlockSize)

	binary.LittleEndian.PutUint32(raw[0:4], uint32(len(b.entries)))
	binary.LittleEndian.PutUint32(raw[4:8], uint32(numInodes))
	binary.LittleEndian.PutUint32(raw[8:12], uint32(numDataBlocks))

	const dirEntriesOffset = 64
	for i, e := range b.entries {
		off := dirEntriesOffset + i*DirEntrySize
		copy(raw[off:off+FileNameSize], e.name)
		binary.LittleEndian.PutUint32(raw[off+FileNameSize:off+FileNameSize+4], uint32(e.typ))
		binary.LittleEndian.PutUint32(raw[off+FileNameSize+4:off+FileNameSize+8], uint32(i))
	}

	inodeBase := BlockSize
	dataBase := inodeBase + numInodes*BlockSize
	dataCursor := 0
	for i, e := range b.entries {
		inodeOff := inodeBase + i*BlockSize
		binary.LittleEndian.PutUint32(raw[inodeOff:inodeOff+4], uint32(len(e.data)))
		for blk := 0; blk < blocksOf[i]; blk++ {
			dataBlockNum := dataCursor + blk
			indexOff := inodeOff + 4 + blk*4
			binary.LittleEndian.PutUint32(raw[indexOff:indexOff+4], uint32(dataBlockNum))

			srcOff := blk * BlockSize
			srcEnd := srcOff + BlockSize
			if srcEnd > len(e.data) {
				srcEnd = len(e.data)
			}
			dstOff := dataBase + dataBlockNum*BlockSize
			copy(raw[dstOff:], e.data[srcOff:srcEnd])
		}
		dataCursor += blocksOf[i]
	}

	return raw, nil
}
