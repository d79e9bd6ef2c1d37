package sharc

import (
	"io"
	"sync"
)

// PageSource is the byte-addressable page array the pager reads and writes
// through, optionally via an encryption Transform. Implementations own the
// byte backing of pages exclusively (spec §3 Ownership and lifecycles).
type PageSource interface {
	PageSize() uint32
	PageCount() uint32
	ReadPage(n PageID) (Page, error)
	WritePage(n PageID, data Page) error
	Grow() (PageID, error)
	Truncate(pages uint32) error
	DataVersion() uint64
	Flush() error
	Close() error
}

// MemorySource is an in-memory PageSource holding one buffer per page.
// Every WritePage stores a private copy of the caller's bytes and bumps
// DataVersion monotonically (spec invariant 2). It keeps no earlier page
// versions; rollback restores from the Pager's pre-images instead.
type MemorySource struct {
	mu       sync.Mutex
	pageSize uint32
	pages    [][]byte // index 0 unused; page N lives at pages[N]
	version  uint64
}

// NewMemorySource creates an empty in-memory source with the given page
// size and no pages allocated yet.
func NewMemorySource(pageSize uint32) *MemorySource {
	return &MemorySource{pageSize: pageSize, pages: make([][]byte, 1)}
}

func (m *MemorySource) PageSize() uint32 { return m.pageSize }

func (m *MemorySource) PageCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.pages) - 1)
}

func (m *MemorySource) ReadPage(n PageID) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n == 0 || int(n) >= len(m.pages) || m.pages[n] == nil {
		return nil, newErr(ErrInvalidArgument, "ReadPage", "page out of range", nil)
	}
	out := make(Page, m.pageSize)
	copy(out, m.pages[n])
	return out, nil
}

func (m *MemorySource) WritePage(n PageID, data Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n == 0 {
		return newErr(ErrInvalidArgument, "WritePage", "page 0 is invalid", nil)
	}
	if uint32(len(data)) != m.pageSize {
		return newErr(ErrInvalidArgument, "WritePage", "page size mismatch", nil)
	}
	for int(n) >= len(m.pages) {
		m.pages = append(m.pages, nil)
	}
	cp := make([]byte, m.pageSize)
	copy(cp, data)
	m.pages[n] = cp
	m.version++
	return nil
}

func (m *MemorySource) Grow() (PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, make([]byte, m.pageSize))
	m.version++
	return PageID(len(m.pages) - 1), nil
}

func (m *MemorySource) Truncate(pages uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(pages)+1 > len(m.pages) {
		return nil
	}
	m.pages = m.pages[:pages+1]
	m.version++
	return nil
}

// DataVersion on an in-memory source increases on every write, letting
// same-process cursors detect staleness without any header inspection.
func (m *MemorySource) DataVersion() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

func (m *MemorySource) Flush() error { return nil }
func (m *MemorySource) Close() error { return nil }

// FileSource is a random-access, file-backed PageSource. Per spec §4.A it
// always reports DataVersion() == 0: cross-process staleness is inferred
// solely from the header's change counter, never from an in-process
// counter a sibling process could not see.
type FileSource struct {
	mu         sync.Mutex
	vfs        VFS
	file       VFSFile
	pageSize   uint32 // on-disk slot size: logical page size plus any Transform overhead
	pageCount  uint32
	share      ShareMode
	dataOffset int64 // bytes reserved before page 1's slot, e.g. an encryption header
}

// OpenFileSource opens (or creates, if flags include os.O_CREATE) a
// file-backed page source through the given VFS, with page slots starting
// at the front of the file.
func OpenFileSource(vfs VFS, path string, pageSize uint32, flags int, share ShareMode) (*FileSource, error) {
	return OpenFileSourceAt(vfs, path, pageSize, 0, flags, share)
}

// OpenFileSourceAt is OpenFileSource with dataOffset bytes reserved at the
// front of the file before page 1's slot, for callers (Database.Open, when
// encryption is enabled) that store a fixed-size header ahead of the page
// array itself.
func OpenFileSourceAt(vfs VFS, path string, pageSize uint32, dataOffset int64, flags int, share ShareMode) (*FileSource, error) {
	f, err := vfs.Open(path, flags, 0o644)
	if err != nil {
		return nil, newErr(ErrInvalidOperation, "OpenFileSourceAt", "open file", err)
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, newErr(ErrInvalidOperation, "OpenFileSourceAt", "stat file", err)
	}
	var pageCount uint32
	if pageSize > 0 && size > dataOffset {
		pageCount = uint32((size - dataOffset) / int64(pageSize))
	}

	lt := LockShared
	if share == ShareModeReadWrite {
		lt = LockExclusive
	}
	if err := f.Lock(lt); err != nil {
		f.Close()
		return nil, newErr(ErrUnauthorizedAccess, "OpenFileSourceAt", "acquire file lock", err)
	}

	return &FileSource{vfs: vfs, file: f, pageSize: pageSize, pageCount: pageCount, share: share, dataOffset: dataOffset}, nil
}

// WriteRawPrefix writes data into the reserved dataOffset region at the
// front of the file, e.g. an EncryptionHeader. len(data) must not exceed
// dataOffset.
func (fs *FileSource) WriteRawPrefix(data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if int64(len(data)) > fs.dataOffset {
		return newErr(ErrInvalidArgument, "WriteRawPrefix", "prefix larger than reserved region", nil)
	}
	if _, err := fs.file.WriteAt(data, 0); err != nil {
		return newErr(ErrInvalidOperation, "WriteRawPrefix", "write prefix", err)
	}
	return nil
}

// ReadRawPrefix reads back the size bytes previously written by
// WriteRawPrefix.
func (fs *FileSource) ReadRawPrefix(size int) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	buf := make([]byte, size)
	if _, err := fs.file.ReadAt(buf, 0); err != nil {
		return nil, newErr(ErrInvalidOperation, "ReadRawPrefix", "read prefix", err)
	}
	return buf, nil
}

func (fs *FileSource) PageSize() uint32 { return fs.pageSize }

func (fs *FileSource) PageCount() uint32 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.pageCount
}

func (fs *FileSource) ReadPage(n PageID) (Page, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n == 0 {
		return nil, newErr(ErrInvalidArgument, "ReadPage", "page 0 is invalid", nil)
	}
	buf := make(Page, fs.pageSize)
	offset := fs.dataOffset + int64(n-1)*int64(fs.pageSize)
	nRead, err := fs.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, newErr(ErrCorruptFile, "ReadPage", "short read", err)
	}
	if nRead != int(fs.pageSize) && err != io.EOF {
		return nil, newErr(ErrCorruptFile, "ReadPage", "incomplete page read", nil)
	}
	return buf, nil
}

func (fs *FileSource) WritePage(n PageID, data Page) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n == 0 {
		return newErr(ErrInvalidArgument, "WritePage", "page 0 is invalid", nil)
	}
	if uint32(len(data)) != fs.pageSize {
		return newErr(ErrInvalidArgument, "WritePage", "page size mismatch", nil)
	}
	offset := fs.dataOffset + int64(n-1)*int64(fs.pageSize)
	if _, err := fs.file.WriteAt(data, offset); err != nil {
		return newErr(ErrInvalidOperation, "WritePage", "write page", err)
	}
	if uint32(n) > fs.pageCount {
		fs.pageCount = uint32(n)
	}
	return nil
}

func (fs *FileSource) Grow() (PageID, error) {
	fs.mu.Lock()
	fs.pageCount++
	n := fs.pageCount
	fs.mu.Unlock()
	zero := make(Page, fs.pageSize)
	if err := fs.WritePage(PageID(n), zero); err != nil {
		return 0, err
	}
	return PageID(n), nil
}

func (fs *FileSource) Truncate(pages uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.file.Truncate(fs.dataOffset + int64(pages)*int64(fs.pageSize)); err != nil {
		return newErr(ErrInvalidOperation, "Truncate", "truncate file", err)
	}
	fs.pageCount = pages
	return nil
}

// redetectPageSize corrects a FileSource's page size once the real value
// has been read out of an existing file's header: Open must read the
// header with some page-size guess before it actually knows the file's
// true page size.
func (fs *FileSource) redetectPageSize(pageSize uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	size, err := fs.file.Size()
	if err != nil {
		return newErr(ErrInvalidOperation, "redetectPageSize", "stat file", err)
	}
	fs.pageSize = pageSize
	if size > fs.dataOffset {
		fs.pageCount = uint32((size - fs.dataOffset) / int64(pageSize))
	} else {
		fs.pageCount = 0
	}
	return nil
}

// DataVersion always returns 0 for file-backed sources (spec §4.A, §5
// Ordering guarantees): freshness across processes is read from the file
// header's change counter instead.
func (fs *FileSource) DataVersion() uint64 { return 0 }

func (fs *FileSource) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Sync()
}

func (fs *FileSource) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_ = fs.file.Unlock()
	return fs.file.Close()
}

// PreloadToMemory reads every page of a PageSource into a fresh MemorySource,
// implementing the pager's preload mode (spec §4.C).
func PreloadToMemory(src PageSource) (*MemorySource, error) {
	mem := NewMemorySource(src.PageSize())
	count := src.PageCount()
	for n := uint32(1); n <= count; n++ {
		page, err := src.ReadPage(PageID(n))
		if err != nil {
			return nil, err
		}
		if _, err := mem.Grow(); err != nil {
			return nil, err
		}
		if err := mem.WritePage(PageID(n), page); err != nil {
			return nil, err
		}
	}
	return mem, nil
}
