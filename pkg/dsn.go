package sharc

import (
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"strings"
)

// DSN holds the parsed configuration parameters from an Open connection
// string of the form "file:path/to/db.sharc?mode=rwc&_page_size=4096".
type DSN struct {
	Path        string
	Mode        string // "ro", "rw", "rwc", "memory"
	VFS         string
	PageSize    uint32
	Encrypted   bool
	Password    string
	AgentID     string
	PreloadMode bool // open with the whole file preloaded into a MemorySource
}

// ParseDSN parses dsn into a DSN config, applying the same sensible
// defaults the file-URL convention uses elsewhere in the ecosystem.
func ParseDSN(dsn string) (*DSN, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, newErr(ErrInvalidArgument, "ParseDSN", "invalid DSN format", err)
	}
	if u.Scheme != "file" {
		return nil, newErr(ErrInvalidArgument, "ParseDSN", fmt.Sprintf("unsupported DSN scheme: %s", u.Scheme), nil)
	}

	cfg := &DSN{
		Path: func() string {
			if u.Opaque != "" {
				return u.Opaque
			}
			if u.Host != "" && runtime.GOOS == "windows" {
				return u.Host + u.Path
			}
			return u.Path
		}(),
		Mode: "rwc",
		VFS:  "os",
	}

	q := u.Query()
	if m := q.Get("mode"); m != "" {
		switch strings.ToLower(m) {
		case "ro", "rw", "rwc", "memory":
			cfg.Mode = strings.ToLower(m)
		default:
			return nil, newErr(ErrInvalidArgument, "ParseDSN", fmt.Sprintf("invalid mode: %s", m), nil)
		}
	}
	if v := q.Get("vfs"); v != "" {
		cfg.VFS = v
	}
	if ps := q.Get("_page_size"); ps != "" {
		val, err := strconv.ParseUint(ps, 10, 32)
		if err != nil {
			return nil, newErr(ErrInvalidArgument, "ParseDSN", "invalid _page_size", err)
		}
		if !isValidPageSize(uint32(val)) {
			return nil, newErr(ErrInvalidArgument, "ParseDSN", "page size must be a power of two between 512 and 65536", nil)
		}
		cfg.PageSize = uint32(val)
	}
	if e := q.Get("_encrypted"); e != "" {
		val, err := strconv.ParseBool(e)
		if err != nil {
			return nil, newErr(ErrInvalidArgument, "ParseDSN", "invalid _encrypted", err)
		}
		cfg.Encrypted = val
	}
	if pw := q.Get("_password"); pw != "" {
		cfg.Password = pw
		cfg.Encrypted = true
	}
	if a := q.Get("_agent"); a != "" {
		cfg.AgentID = a
	}
	if p := q.Get("_preload"); p != "" {
		val, err := strconv.ParseBool(p)
		if err != nil {
			return nil, newErr(ErrInvalidArgument, "ParseDSN", "invalid _preload", err)
		}
		cfg.PreloadMode = val
	}

	return cfg, nil
}
