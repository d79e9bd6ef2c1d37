package sharc

import (
	"encoding/binary"
	"fmt"
)

// fileMagic is the fixed 16-byte string every SQLite-compatible file begins
// with.
var fileMagic = [16]byte{'S', 'Q', 'L', 'i', 't', 'e', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '3', 0}

// DatabaseHeader is the 100-byte header carried at the start of page 1.
// Field layout and meaning follow spec §3 "File header" exactly.
type DatabaseHeader struct {
	PageSize               uint32 // stored on disk as uint16, 1 means 65536
	FileFormatWriteVersion uint8
	FileFormatReadVersion  uint8
	ReservedBytes          uint8
	MaxEmbeddedPayloadFrac uint8
	MinEmbeddedPayloadFrac uint8
	LeafEmbeddedPayloadFrac uint8
	ChangeCounter          uint32
	DatabaseSizePages      uint32
	FirstFreelistTrunk     uint32
	FreelistPageCount      uint32
	SchemaCookie           uint32
	SchemaFormat           uint32
	DefaultCacheSize       uint32
	LargestRootPage        uint32
	TextEncoding           uint32
	UserVersion            uint32
	IncrementalVacuum      uint32
	ApplicationID          uint32
	VersionValidFor        uint32
	SQLiteVersionNumber    uint32
}

const (
	TextEncodingUTF8    = 1
	TextEncodingUTF16LE = 2
	TextEncodingUTF16BE = 3
)

// DefaultDatabaseHeader returns the header for a brand-new database of the
// given page size, matching the defaults a fresh SQLite file would carry.
func DefaultDatabaseHeader(pageSize uint32) *DatabaseHeader {
	return &DatabaseHeader{
		PageSize:                pageSize,
		FileFormatWriteVersion:  1,
		FileFormatReadVersion:   1,
		MaxEmbeddedPayloadFrac:  64,
		MinEmbeddedPayloadFrac:  32,
		LeafEmbeddedPayloadFrac: 32,
		ChangeCounter:           1,
		DatabaseSizePages:       1,
		SchemaFormat:            4,
		TextEncoding:            TextEncodingUTF8,
		VersionValidFor:         1,
		SQLiteVersionNumber:     3045000,
	}
}

// ParseDatabaseHeader reads the 100-byte header from the front of a page-1
// buffer. It returns the actual page size (decoding the 1==65536 special
// case) alongside the parsed header.
func ParseDatabaseHeader(page Page) (*DatabaseHeader, uint32, error) {
	if len(page) < HeaderSize {
		return nil, 0, newErr(ErrCorruptFile, "ParseDatabaseHeader", fmt.Sprintf("page too small: %d bytes", len(page)), nil)
	}
	for i := 0; i < 16; i++ {
		if page[i] != fileMagic[i] {
			return nil, 0, newErr(ErrCorruptFile, "ParseDatabaseHeader", "bad magic string", nil)
		}
	}

	raw := binary.BigEndian.Uint16(page[16:18])
	pageSize := uint32(raw)
	if raw == 1 {
		pageSize = 65536
	}
	if !isValidPageSize(pageSize) {
		return nil, 0, newErr(ErrCorruptFile, "ParseDatabaseHeader", fmt.Sprintf("invalid page size %d", pageSize), nil)
	}

	h := &DatabaseHeader{
		PageSize:                pageSize,
		FileFormatWriteVersion:  page[18],
		FileFormatReadVersion:   page[19],
		ReservedBytes:           page[20],
		MaxEmbeddedPayloadFrac:  page[21],
		MinEmbeddedPayloadFrac:  page[22],
		LeafEmbeddedPayloadFrac: page[23],
		ChangeCounter:           binary.BigEndian.Uint32(page[24:28]),
		DatabaseSizePages:       binary.BigEndian.Uint32(page[28:32]),
		FirstFreelistTrunk:      binary.BigEndian.Uint32(page[32:36]),
		FreelistPageCount:       binary.BigEndian.Uint32(page[36:40]),
		SchemaCookie:            binary.BigEndian.Uint32(page[40:44]),
		SchemaFormat:            binary.BigEndian.Uint32(page[44:48]),
		DefaultCacheSize:        binary.BigEndian.Uint32(page[48:52]),
		LargestRootPage:         binary.BigEndian.Uint32(page[52:56]),
		TextEncoding:            binary.BigEndian.Uint32(page[56:60]),
		UserVersion:             binary.BigEndian.Uint32(page[60:64]),
		IncrementalVacuum:       binary.BigEndian.Uint32(page[64:68]),
		ApplicationID:           binary.BigEndian.Uint32(page[68:72]),
		VersionValidFor:         binary.BigEndian.Uint32(page[92:96]),
		SQLiteVersionNumber:     binary.BigEndian.Uint32(page[96:100]),
	}
	return h, pageSize, nil
}

// Bytes serializes the header back into a 100-byte buffer suitable for
// copying into the front of page 1.
func (h *DatabaseHeader) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:16], fileMagic[:])

	pageSizeField := uint16(h.PageSize)
	if h.PageSize == 65536 {
		pageSizeField = 1
	}
	binary.BigEndian.PutUint16(buf[16:18], pageSizeField)
	buf[18] = h.FileFormatWriteVersion
	buf[19] = h.FileFormatReadVersion
	buf[20] = h.ReservedBytes
	buf[21] = h.MaxEmbeddedPayloadFrac
	buf[22] = h.MinEmbeddedPayloadFrac
	buf[23] = h.LeafEmbeddedPayloadFrac
	binary.BigEndian.PutUint32(buf[24:28], h.ChangeCounter)
	binary.BigEndian.PutUint32(buf[28:32], h.DatabaseSizePages)
	binary.BigEndian.PutUint32(buf[32:36], h.FirstFreelistTrunk)
	binary.BigEndian.PutUint32(buf[36:40], h.FreelistPageCount)
	binary.BigEndian.PutUint32(buf[40:44], h.SchemaCookie)
	binary.BigEndian.PutUint32(buf[44:48], h.SchemaFormat)
	binary.BigEndian.PutUint32(buf[48:52], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(buf[52:56], h.LargestRootPage)
	binary.BigEndian.PutUint32(buf[56:60], h.TextEncoding)
	binary.BigEndian.PutUint32(buf[60:64], h.UserVersion)
	binary.BigEndian.PutUint32(buf[64:68], h.IncrementalVacuum)
	binary.BigEndian.PutUint32(buf[68:72], h.ApplicationID)
	// bytes 72-92 are reserved, left zero
	binary.BigEndian.PutUint32(buf[92:96], h.VersionValidFor)
	binary.BigEndian.PutUint32(buf[96:100], h.SQLiteVersionNumber)
	return buf
}

// UsableSize is the portion of each page available to the b-tree layer,
// i.e. page size minus any reserved per-page bytes.
func (h *DatabaseHeader) UsableSize() uint32 {
	return h.PageSize - uint32(h.ReservedBytes)
}
