package proc

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go391/kernel/internal/fsimage"
	"github.com/go391/kernel/internal/rtc"
	"github.com/go391/kernel/internal/vterm"
)

// FileOps is the file operations table a file descriptor dispatches
// through: four operations (read/write/open/close) selected once at
// open(2) time by file type and never changed again.
type FileOps interface {
	Open(name string) error
	Close() error
	Read(ctx context.Context, buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// stdinOps routes read(2) to the owning terminal's line discipline and
// rejects write(2).
type stdinOps struct {
	term *vterm.Terminal
}

func (stdinOps) Open(string) error { return nil }
func (stdinOps) Close() error      { return nil }
func (s stdinOps) Read(ctx context.Context, buf []byte) (int, error) {
	return s.term.Read(ctx, buf)
}
func (stdinOps) Write([]byte) (int, error) {
	return 0, fmt.Errorf("proc: write not permitted on stdin")
}

// stdoutOps routes write(2) to the owning terminal and rejects read(2).
type stdoutOps struct {
	term *vterm.Terminal
}

func (stdoutOps) Open(string) error { return nil }
func (stdoutOps) Close() error      { return nil }
func (stdoutOps) Read(context.Context, []byte) (int, error) {
	return 0, fmt.Errorf("proc: read not permitted on stdout")
}
func (s stdoutOps) Write(buf []byte) (int, error) {
	return s.term.Write(buf)
}

// fileOps reads a regular file out of the file system image by inode,
// tracking its own file position across reads.
type fileOps struct {
	img   *fsimage.Image
	inode uint32
	pos   *int
}

func (fileOps) Open(string) error { return nil }
func (fileOps) Close() error      { return nil }
func (f fileOps) Read(_ context.Context, buf []byte) (int, error) {
	n, err := f.img.ReadData(f.inode, *f.pos, buf)
	if err != nil {
		return 0, err
	}
	*f.pos += n
	return n, nil
}
func (fileOps) Write([]byte) (int, error) {
	return 0, fmt.Errorf("proc: file system is read-only")
}

// dirOps enumerates the directory one name per call: each read(2)
// advances the position by one entry and returns that entry's name,
// returning 0 bytes past the end.
type dirOps struct {
	img *fsimage.Image
	pos *int
}

func (dirOps) Open(string) error { return nil }
func (dirOps) Close() error      { return nil }
func (d dirOps) Read(_ context.Context, buf []byte) (int, error) {
	if *d.pos >= d.img.DirectoryCount() {
		return 0, nil
	}
	entry, err := d.img.ReadDentryByIndex(*d.pos)
	if err != nil {
		return 0, err
	}
	*d.pos++
	n := copy(buf, entry.Name)
	return n, nil
}
func (dirOps) Write([]byte) (int, error) {
	return 0, fmt.Errorf("proc: file system is read-only")
}

// rtcOps wraps the virtual RTC device as a file: open adopts the current
// shared rate, read blocks for one virtualized tick, and write reprograms
// the requested frequency from a 4-byte little-endian integer.
type rtcOps struct {
	dev  *rtc.Device
	slot int
}

func (r rtcOps) Open(string) error {
	return r.dev.Open(r.slot)
}
func (r rtcOps) Close() error {
	return r.dev.Close(r.slot)
}
func (r rtcOps) Read(ctx context.Context, _ []byte) (int, error) {
	if err := r.dev.Read(ctx, r.slot); err != nil {
		return 0, err
	}
	return 0, nil
}
func (r rtcOps) Write(buf []byte) (int, error) {
	if len(buf) != 4 {
		return 0, fmt.Errorf("proc: rtc write must be exactly 4 bytes, got %d", len(buf))
	}
	hz := int(binary.LittleEndian.Uint32(buf))
	if err := r.dev.Write(r.slot, hz); err != nil {
		return 0, err
	}
	return 0, nil
}
