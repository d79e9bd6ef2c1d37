package sharc

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimalWAL encodes one committed frame overriding page pageNum with
// pageBytes, in the structural layout parseWAL understands (spec §5 WAL
// read support); the rolling checksum fields are left zero since parseWAL
// never validates them.
func buildMinimalWAL(pageSize uint32, pageNum PageID, pageBytes []byte) []byte {
	header := make([]byte, walHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], walMagicBE)
	binary.BigEndian.PutUint32(header[8:12], pageSize)

	frameHdr := make([]byte, walFrameHdrSize)
	binary.BigEndian.PutUint32(frameHdr[0:4], uint32(pageNum))
	binary.BigEndian.PutUint32(frameHdr[4:8], 1) // dbSize != 0: closes a commit

	out := append(header, frameHdr...)
	out = append(out, pageBytes...)
	return out
}

func mustOpenMemory(t *testing.T) *Database {
	t.Helper()
	db, err := Open(Options{Path: "", Writable: true, PageSize: 4096})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndScanRowidOrdered(t *testing.T) {
	db := mustOpenMemory(t)
	table, err := db.Writer().CreateTable("widgets", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "name", Affinity: AffinityText},
	})
	require.NoError(t, err)

	// Insert out of rowid order; the cursor must still yield them sorted.
	rowIDs := []int64{5, 1, 3, 2, 4}
	for _, id := range rowIDs {
		err := db.Writer().Insert(table, id, []Value{IntValue(id), TextValue(fmt.Sprintf("widget-%d", id))})
		require.NoError(t, err)
	}
	require.NoError(t, db.Pager().Commit())

	cursor := NewCursor(db.Pager(), table.RootPage, false)
	ok, err := cursor.First()
	require.NoError(t, err)

	var seen []int64
	for ok {
		cell := cursor.Current()
		seen = append(seen, cell.RowID)
		values, err := DecodeRecord(cell.Payload)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("widget-%d", cell.RowID), values[1].Text)
		ok, err = cursor.Next()
		require.NoError(t, err)
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
}

func TestOverflowPayloadRoundTripsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/overflow.sharc"

	db, err := Open(Options{Path: path, Writable: true, PageSize: 512})
	require.NoError(t, err)
	table, err := db.Writer().CreateTable("docs", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "body", Affinity: AffinityText},
	})
	require.NoError(t, err)

	longText := strings.Repeat("sharc overflow payload content. ", 700) // ~22KB, several overflow pages at 512B pages
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1), TextValue(longText)}))
	require.NoError(t, db.Pager().Commit())
	require.NoError(t, db.Close())

	reopened, err := Open(Options{Path: path, Writable: true})
	require.NoError(t, err)
	defer reopened.Close()

	reTable, err := reopened.Schema().Table("docs")
	require.NoError(t, err)
	cursor := NewCursor(reopened.Pager(), reTable.RootPage, false)
	ok, err := cursor.First()
	require.NoError(t, err)
	require.True(t, ok)

	values, err := DecodeRecord(cursor.Current().Payload)
	require.NoError(t, err)
	require.Equal(t, longText, values[1].Text)
}

func TestRollbackRestoresPreTransactionState(t *testing.T) {
	db := mustOpenMemory(t)
	table, err := db.Writer().CreateTable("accounts", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "balance", Affinity: AffinityInteger},
	})
	require.NoError(t, err)
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1), IntValue(100)}))
	require.NoError(t, db.Pager().Commit())

	require.NoError(t, db.Writer().Insert(table, 2, []Value{IntValue(2), IntValue(200)}))
	require.NoError(t, db.Pager().Rollback())

	cursor := NewCursor(db.Pager(), table.RootPage, false)
	ok, err := cursor.First()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, cursor.Current().RowID)

	ok, err = cursor.Next()
	require.NoError(t, err)
	require.False(t, ok, "row inserted after the last commit must not survive Rollback")
}

func TestEncryptedDatabaseWrongPasswordRejected(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/secret.sharc"

	db, err := Open(Options{
		Path:       path,
		Writable:   true,
		PageSize:   4096,
		Encryption: EncryptionOptions{Enabled: true, Password: "correct-password"},
	})
	require.NoError(t, err)
	_, err = db.Writer().CreateTable("t", []Column{{Name: "id", Affinity: AffinityInteger, PrimaryKey: true}})
	require.NoError(t, err)
	require.NoError(t, db.Pager().Commit())
	require.NoError(t, db.Close())

	_, err = Open(Options{
		Path:       path,
		Writable:   true,
		Encryption: EncryptionOptions{Enabled: true, Password: "wrong-password"},
	})
	require.Error(t, err)
	require.Equal(t, ErrBadCredentials, Kind(err))
}

func TestEncryptedDatabaseRoundTripsWithCorrectPassword(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/secret2.sharc"

	db, err := Open(Options{
		Path:       path,
		Writable:   true,
		PageSize:   4096,
		Encryption: EncryptionOptions{Enabled: true, Password: "hunter2"},
	})
	require.NoError(t, err)
	table, err := db.Writer().CreateTable("t", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "note", Affinity: AffinityText},
	})
	require.NoError(t, err)
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1), TextValue("confidential")}))
	require.NoError(t, db.Pager().Commit())
	require.NoError(t, db.Close())

	reopened, err := Open(Options{
		Path:       path,
		Writable:   true,
		Encryption: EncryptionOptions{Enabled: true, Password: "hunter2"},
	})
	require.NoError(t, err)
	defer reopened.Close()

	rt, err := reopened.Schema().Table("t")
	require.NoError(t, err)
	cursor := NewCursor(reopened.Pager(), rt.RootPage, false)
	ok, err := cursor.First()
	require.NoError(t, err)
	require.True(t, ok)
	values, err := DecodeRecord(cursor.Current().Payload)
	require.NoError(t, err)
	require.Equal(t, "confidential", values[1].Text)
}

func TestCursorStaleDetectionOnMemorySource(t *testing.T) {
	db := mustOpenMemory(t)
	table, err := db.Writer().CreateTable("t", []Column{{Name: "id", Affinity: AffinityInteger, PrimaryKey: true}})
	require.NoError(t, err)
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1)}))
	require.NoError(t, db.Pager().Commit())

	cursor := NewCursor(db.Pager(), table.RootPage, false)
	ok, err := cursor.First()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Writer().Insert(table, 2, []Value{IntValue(2)}))
	require.NoError(t, db.Pager().Commit())

	_, err = cursor.Next()
	require.Error(t, err, "cursor opened before the second commit must detect staleness")
}

func TestTransactionRejectsOperationsAfterTerminalState(t *testing.T) {
	db := mustOpenMemory(t)
	table, err := db.Writer().CreateTable("t", []Column{{Name: "id", Affinity: AffinityInteger, PrimaryKey: true}})
	require.NoError(t, err)

	txn := Begin(db.Pager())
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1)}))
	require.NoError(t, txn.Commit())

	err = txn.Commit()
	require.Error(t, err, "committing an already-committed transaction must fail, not silently succeed")
	require.Equal(t, ErrInvalidOperation, Kind(err))

	err = txn.Rollback()
	require.Error(t, err, "rolling back an already-committed transaction must fail, not silently succeed")
	require.Equal(t, ErrInvalidOperation, Kind(err))

	txn2 := Begin(db.Pager())
	require.NoError(t, db.Writer().Insert(table, 2, []Value{IntValue(2)}))
	require.NoError(t, txn2.Rollback())

	err = txn2.Rollback()
	require.Error(t, err, "rolling back an already-rolled-back transaction must fail, not silently succeed")
	require.Equal(t, ErrInvalidOperation, Kind(err))
}

func TestOpenOverlaysLiveWALFramesAtopMainFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/walsource.sharc"

	db, err := Open(Options{Path: path, Writable: true, PageSize: 512})
	require.NoError(t, err)
	table, err := db.Writer().CreateTable("t", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "note", Affinity: AffinityText},
	})
	require.NoError(t, err)
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1), TextValue("on-disk")}))
	require.NoError(t, db.Pager().Commit())
	require.NoError(t, db.Close())

	// Shadow the table's root page with a committed WAL frame whose bytes
	// differ from the main file's copy, as if a third-party SQLite writer had
	// committed a transaction into the WAL without checkpointing it back
	// into the main file yet.
	shadowPage := make([]byte, 512)
	copy(shadowPage, []byte{0xff}) // corrupt b-tree header: proves the overlay's bytes, not the main file's, were read
	require.NoError(t, os.WriteFile(walPath(path), buildMinimalWAL(512, table.RootPage, shadowPage), 0o644))

	reopened, err := Open(Options{Path: path, Writable: false})
	require.NoError(t, err)
	defer reopened.Close()

	page, err := reopened.Pager().ReadPage(table.RootPage)
	require.NoError(t, err)
	require.Equal(t, byte(0xff), page[0], "the table's root page content should come from the WAL frame, not the main file")
}

func TestOpenRefusesWritesAgainstLiveWALWithoutExclusiveOwnership(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/walwrite.sharc"

	db, err := Open(Options{Path: path, Writable: true, PageSize: 512})
	require.NoError(t, err)
	table, err := db.Writer().CreateTable("t", []Column{{Name: "id", Affinity: AffinityInteger, PrimaryKey: true}})
	require.NoError(t, err)
	require.NoError(t, db.Pager().Commit())
	require.NoError(t, db.Close())

	shadowPage := make([]byte, 512)
	shadowPage[0] = nodeLeafTable // an empty table leaf, so Insert can descend into it
	binary.BigEndian.PutUint16(shadowPage[5:7], 512)
	require.NoError(t, os.WriteFile(walPath(path), buildMinimalWAL(512, table.RootPage, shadowPage), 0o644))

	reopened, err := Open(Options{Path: path, Writable: true})
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Writer().Insert(table, 2, []Value{IntValue(2)}))
	err = reopened.Pager().Commit()
	require.Error(t, err, "flushing a dirty page through a live, non-exclusive WAL overlay must fail")
	require.Equal(t, ErrInvalidOperation, Kind(err))

	exclusive, err := Open(Options{Path: path, Writable: true, ExclusiveOwnership: true})
	require.NoError(t, err)
	defer exclusive.Close()
	require.NoError(t, exclusive.Writer().Insert(table, 2, []Value{IntValue(2)}))
	require.NoError(t, exclusive.Pager().Commit())
}
