package sharc

// EncryptionOptions configures the optional per-page encryption transform
// (spec §4.B).
type EncryptionOptions struct {
	Enabled  bool
	Password string
}

// Options is the programmatic configuration surface for Open, covering the
// External Interfaces §6 configuration surface. OpenDSN is an alternate
// constructor that parses the same fields out of a DSN string.
type Options struct {
	Path string

	// Writable opens the database read-write (creating it if absent);
	// false opens strictly read-only.
	Writable bool

	// PreloadToMemory reads the whole file into a MemorySource up front
	// instead of performing file-backed I/O per page.
	PreloadToMemory bool

	// PageCacheSize is the number of decoded pages the pager's ARC cache
	// holds resident; 0 uses the pager's own default.
	PageCacheSize int

	// FileShareMode selects the advisory lock the file source takes when it
	// opens the file: ShareModeReadWrite takes an exclusive lock, any other
	// mode a shared one. It is not passed to the VFS open call.
	FileShareMode ShareMode

	// PageSize is only honored when creating a brand-new database file.
	PageSize uint32

	// ExclusiveOwnership asserts that no other process holds the
	// companion -wal file open for writing, letting Open write against
	// the main file even when a live WAL is present (spec §5 WAL read
	// support: "the core will refuse to write when a live WAL is
	// detected unless the caller asserts exclusive ownership").
	ExclusiveOwnership bool

	Encryption EncryptionOptions

	// AgentID carries the DSN's _agent value. Open does not read it, and no
	// ledger operation uses it as a default signer.
	AgentID string
}

// optionsFromDSN translates a parsed DSN into Options.
func optionsFromDSN(d *DSN) *Options {
	return &Options{
		Path:            d.Path,
		Writable:        d.Mode != "ro",
		PreloadToMemory: d.PreloadMode,
		PageSize:        d.PageSize,
		Encryption: EncryptionOptions{
			Enabled:  d.Encrypted,
			Password: d.Password,
		},
		AgentID: d.AgentID,
	}
}
