package sharc

import (
	"encoding/binary"
	"os"
)

// walPath returns the -wal companion path SQLite convention uses for a main
// database file at path.
func walPath(path string) string { return path + "-wal" }

// readWALFile reads the full contents of a -wal companion file through vfs,
// returning (nil, nil) if no such file exists. It never opens the WAL for
// writing: the overlay is read-only, per spec §5 WAL read support.
func readWALFile(vfs VFS, path string) ([]byte, error) {
	p := walPath(path)
	exists, err := vfs.Exists(p)
	if err != nil || !exists {
		return nil, err
	}
	f, err := vfs.Open(p, os.O_RDONLY, 0)
	if err != nil {
		return nil, newErr(ErrInvalidOperation, "readWALFile", "open -wal file", err)
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return nil, newErr(ErrInvalidOperation, "readWALFile", "stat -wal file", err)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, newErr(ErrInvalidOperation, "readWALFile", "read -wal file", err)
	}
	return buf, nil
}

// WAL magic numbers distinguish big-endian (0x377f0683) from little-endian
// (0x377f0682) checksums. Sharc never writes WAL files, and parseWAL never
// validates checksums, so it accepts either magic as a reader.
const (
	walMagicBE      = 0x377f0683
	walHeaderSize   = 32
	walFrameHdrSize = 24
)

type walFrame struct {
	page   PageID
	dbSize uint32 // nonzero iff this frame closes a committed transaction
	data   []byte
}

// parseWAL reads a -wal companion file's header and frames. It does not
// validate the rolling checksum (that requires the salt/seed state of the
// writer); it only uses the structural layout to locate frame boundaries,
// matching the read-only, best-effort nature of spec §5's WAL overlay.
func parseWAL(buf []byte, expectedPageSize uint32) ([]walFrame, error) {
	if len(buf) < walHeaderSize {
		return nil, nil
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != walMagicBE && magic != walMagicBE-1 {
		return nil, newErr(ErrCorruptFile, "parseWAL", "bad WAL magic", nil)
	}
	pageSize := binary.BigEndian.Uint32(buf[8:12])
	if pageSize == 1 {
		pageSize = 65536
	}
	if expectedPageSize != 0 && pageSize != expectedPageSize {
		return nil, newErr(ErrCorruptFile, "parseWAL", "WAL page size mismatch", nil)
	}

	var frames []walFrame
	off := walHeaderSize
	frameSize := walFrameHdrSize + int(pageSize)
	for off+frameSize <= len(buf) {
		hdr := buf[off : off+walFrameHdrSize]
		page := binary.BigEndian.Uint32(hdr[0:4])
		dbSize := binary.BigEndian.Uint32(hdr[4:8])
		data := buf[off+walFrameHdrSize : off+frameSize]
		frames = append(frames, walFrame{page: PageID(page), dbSize: dbSize, data: data})
		off += frameSize
	}
	return frames, nil
}

// WALOverlaySource wraps a file-backed PageSource, returning page bytes from
// the most recent committed WAL frame for that page when a non-empty -wal
// companion is present, falling back to the main file otherwise. Writes are
// always rejected unless the caller asserts exclusive ownership, per spec
// §5 WAL read support.
type WALOverlaySource struct {
	PageSource
	frames          map[PageID][]byte
	exclusiveWrites bool
}

// NewWALOverlaySource builds an overlay over base using the raw bytes of a
// -wal companion file (walBytes may be nil/empty when no WAL is present).
func NewWALOverlaySource(base PageSource, walBytes []byte, exclusiveWrites bool) (*WALOverlaySource, error) {
	ov := &WALOverlaySource{PageSource: base, exclusiveWrites: exclusiveWrites}
	if len(walBytes) == 0 {
		return ov, nil
	}
	frames, err := parseWAL(walBytes, base.PageSize())
	if err != nil {
		return nil, err
	}
	ov.frames = make(map[PageID][]byte)
	// Only frames up to and including the last commit boundary are part of
	// the "committed WAL range"; keep the latest occurrence of each page
	// within that prefix.
	lastCommit := -1
	for i, f := range frames {
		if f.dbSize != 0 {
			lastCommit = i
		}
	}
	for i := 0; i <= lastCommit; i++ {
		ov.frames[frames[i].page] = frames[i].data
	}
	return ov, nil
}

func (o *WALOverlaySource) ReadPage(n PageID) (Page, error) {
	if o.frames != nil {
		if data, ok := o.frames[n]; ok {
			out := make(Page, len(data))
			copy(out, data)
			return out, nil
		}
	}
	return o.PageSource.ReadPage(n)
}

func (o *WALOverlaySource) WritePage(n PageID, data Page) error {
	if len(o.frames) > 0 && !o.exclusiveWrites {
		return newErr(ErrInvalidOperation, "WritePage", "refusing to write: a live WAL is present; open with exclusive ownership to override", nil)
	}
	return o.PageSource.WritePage(n, data)
}

// HasLiveWAL reports whether this overlay is shadowing any page from a
// non-empty WAL.
func (o *WALOverlaySource) HasLiveWAL() bool { return len(o.frames) > 0 }
