package sharc

import (
	"os"

	"go.uber.org/zap"
)

// Database is the top-level handle wiring every component together exactly
// as spec §2's data-flow diagram describes: cursor/writer sit atop the
// pager, which routes through the optional encryption transform to the page
// source; the trust ledger and agent registry are ordinary tables reached
// through the same writer/schema path.
type Database struct {
	pager  *Pager
	schema *Schema
	writer *Writer
	agents *AgentRegistry
	ledger *Ledger

	fileSrc *FileSource // nil for a pure in-memory database
}

// Open constructs a Database per opts. A brand-new file is created when
// opts.Writable is set and no file exists at opts.Path; otherwise Open
// attaches to the existing file in the requested mode.
func Open(opts Options) (*Database, error) {
	if opts.Path == "" {
		return openMemory(opts)
	}

	vfs := GetVFS("")
	if vfs == nil {
		return nil, newErr(ErrInvalidOperation, "Open", "no VFS registered", nil)
	}
	exists, err := vfs.Exists(opts.Path)
	if err != nil {
		return nil, newErr(ErrInvalidOperation, "Open", "stat path", err)
	}

	flags := os.O_RDONLY
	if opts.Writable {
		flags = os.O_RDWR
		if !exists {
			flags |= os.O_CREATE
		}
	} else if !exists {
		return nil, newErr(ErrNotFound, "Open", "no such database file: "+opts.Path, nil)
	}

	var (
		fileSrc     *FileSource
		transform   Transform = NoopTransform{}
		pageSize    uint32
		cacheBudget = opts.PageCacheSize
	)

	if !exists {
		pageSize = opts.PageSize
		if pageSize == 0 {
			pageSize = 4096
		}
		var dataOffset int64
		slotSize := pageSize

		if opts.Encryption.Enabled {
			t, h, err := NewAESGCMTransform(opts.Encryption.Password, pageSize, 0)
			if err != nil {
				return nil, err
			}
			transform = t
			dataOffset = encHeaderSize
			slotSize = t.TransformedPageSize(pageSize)
			fileSrc, err = OpenFileSourceAt(vfs, opts.Path, slotSize, dataOffset, flags, opts.FileShareMode)
			if err != nil {
				return nil, err
			}
			if err := fileSrc.WriteRawPrefix(h.Bytes()); err != nil {
				return nil, err
			}
		} else {
			fileSrc, err = OpenFileSourceAt(vfs, opts.Path, slotSize, 0, flags, opts.FileShareMode)
			if err != nil {
				return nil, err
			}
		}
	} else {
		if opts.Encryption.Enabled {
			fileSrc, err = OpenFileSourceAt(vfs, opts.Path, 1, encHeaderSize, flags, opts.FileShareMode)
			if err != nil {
				return nil, err
			}
			prefix, err := fileSrc.ReadRawPrefix(encHeaderSize)
			if err != nil {
				return nil, err
			}
			t, h, err := OpenAESGCMTransform(opts.Encryption.Password, prefix)
			if err != nil {
				return nil, err
			}
			transform = t
			pageSize = h.PageSize
			if err := fileSrc.redetectPageSize(t.TransformedPageSize(pageSize)); err != nil {
				return nil, err
			}
		} else {
			fileSrc, err = OpenFileSourceAt(vfs, opts.Path, 1, 0, flags, opts.FileShareMode)
			if err != nil {
				return nil, err
			}
			raw, err := fileSrc.ReadRawPrefix(HeaderSize)
			if err != nil {
				return nil, err
			}
			_, truePageSize, err := ParseDatabaseHeader(raw)
			if err != nil {
				return nil, err
			}
			pageSize = truePageSize
			if err := fileSrc.redetectPageSize(pageSize); err != nil {
				return nil, err
			}
		}
	}

	var source PageSource = fileSrc
	if !opts.Encryption.Enabled && fileSrc != nil {
		walBytes, err := readWALFile(vfs, opts.Path)
		if err != nil {
			return nil, err
		}
		if len(walBytes) > 0 {
			overlay, err := NewWALOverlaySource(fileSrc, walBytes, opts.ExclusiveOwnership)
			if err != nil {
				return nil, err
			}
			source = overlay
			logEvent("info", "database", "wal overlay active", zap.String("path", opts.Path), zap.Bool("exclusive", opts.ExclusiveOwnership))
		}
	}
	if opts.PreloadToMemory {
		mem, err := PreloadToMemory(fileSrc)
		if err != nil {
			return nil, err
		}
		source = mem
	}

	pager, err := OpenPager(PagerOptions{Source: source, Transform: transform, CacheSize: cacheBudget, PageSize: pageSize})
	if err != nil {
		return nil, err
	}

	logEvent("info", "database", "opened", zap.String("path", opts.Path), zap.Bool("encrypted", opts.Encryption.Enabled))
	return newDatabase(pager, fileSrc)
}

// openMemory builds a Database entirely in memory, for tests and ephemeral
// use (Options.Path == "").
func openMemory(opts Options) (*Database, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = 4096
	}
	source := NewMemorySource(pageSize)
	pager, err := OpenPager(PagerOptions{Source: source, Transform: NoopTransform{}, CacheSize: opts.PageCacheSize, PageSize: pageSize})
	if err != nil {
		return nil, err
	}
	return newDatabase(pager, nil)
}

func newDatabase(pager *Pager, fileSrc *FileSource) (*Database, error) {
	schema := NewSchema(pager)
	if err := schema.Load(); err != nil {
		return nil, err
	}
	writer := NewWriter(pager, schema)
	agents := NewAgentRegistry(pager, schema, writer)
	ledger := NewLedger(pager, schema, writer, agents)

	return &Database{
		pager:   pager,
		schema:  schema,
		writer:  writer,
		agents:  agents,
		ledger:  ledger,
		fileSrc: fileSrc,
	}, nil
}

// OpenDSN parses dsn (see ParseDSN) and opens the resulting configuration.
func OpenDSN(dsn string) (*Database, error) {
	d, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return Open(*optionsFromDSN(d))
}

func (db *Database) Pager() *Pager          { return db.pager }
func (db *Database) Schema() *Schema        { return db.schema }
func (db *Database) Writer() *Writer        { return db.writer }
func (db *Database) Agents() *AgentRegistry { return db.agents }
func (db *Database) Ledger() *Ledger        { return db.ledger }

// Close commits nothing implicitly: callers are expected to have already
// committed or rolled back any open transaction. It releases the
// underlying page source (and, for a file-backed database, its VFS lock).
func (db *Database) Close() error {
	logEvent("info", "database", "closed")
	return db.pager.Close()
}
