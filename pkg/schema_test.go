package sharc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCreateTableThenLoadRoundTrip(t *testing.T) {
	db := mustOpenMemory(t)
	_, err := db.Writer().CreateTable("people", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "name", Affinity: AffinityText, NotNull: true},
		{Name: "score", Affinity: AffinityReal},
	})
	require.NoError(t, err)
	require.NoError(t, db.Pager().Commit())

	reloaded := NewSchema(db.Pager())
	require.NoError(t, reloaded.Load())

	table, err := reloaded.Table("people")
	require.NoError(t, err)
	require.Len(t, table.Columns, 3)
	require.Equal(t, "id", table.Columns[0].Name)
	require.True(t, table.Columns[0].PrimaryKey)
	require.Equal(t, AffinityInteger, table.Columns[0].Affinity)
	require.Equal(t, AffinityText, table.Columns[1].Affinity)
	require.True(t, table.Columns[1].NotNull)
	require.Equal(t, AffinityReal, table.Columns[2].Affinity)
}

func TestParseCreateTableMarksWithoutRowidUnsupported(t *testing.T) {
	def, err := parseCreateTable(`CREATE TABLE t (id INTEGER PRIMARY KEY) WITHOUT ROWID`, 2)
	require.NoError(t, err)
	require.True(t, def.Unsupported)
	require.Equal(t, "t", def.Name)
}

// TestSchemaLoadKeepsUnsupportedTableAlongsideOthers exercises spec §4.G's
// "record as present but refuse cursor creation" behavior through the real
// Schema.Load path: a WITHOUT ROWID table in the same sqlite_schema scan as
// an ordinary table must not abort the whole catalog load, and both tables
// must remain reachable afterward.
func TestSchemaLoadKeepsUnsupportedTableAlongsideOthers(t *testing.T) {
	db := mustOpenMemory(t)
	_, err := db.Writer().CreateTable("normal", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
	})
	require.NoError(t, err)

	rowID, err := db.Writer().NextRowID(1)
	require.NoError(t, err)
	require.NoError(t, db.Writer().Insert(&TableDef{RootPage: 1}, rowID, []Value{
		TextValue("table"), TextValue("weird"), TextValue("weird"),
		IntValue(int64(db.Pager().PageCount() + 1)),
		TextValue(`CREATE TABLE weird (id INTEGER PRIMARY KEY) WITHOUT ROWID`),
	}))
	require.NoError(t, db.Pager().Commit())

	reloaded := NewSchema(db.Pager())
	require.NoError(t, reloaded.Load(), "a WITHOUT ROWID table anywhere in the catalog must not fail the whole load")

	normal, err := reloaded.Table("normal")
	require.NoError(t, err)
	require.False(t, normal.Unsupported)

	weird, err := reloaded.Table("weird")
	require.NoError(t, err)
	require.True(t, weird.Unsupported)

	_, err = NewTableCursor(db.Pager(), weird)
	require.Error(t, err)
	require.Equal(t, ErrUnsupportedFeature, Kind(err))

	insertErr := db.Writer().Insert(weird, 1, []Value{IntValue(1)})
	require.Error(t, insertErr)
	require.Equal(t, ErrUnsupportedFeature, Kind(insertErr))
}

func TestParseCreateTableDetectsMergedGUIDColumns(t *testing.T) {
	def, err := parseCreateTable(`CREATE TABLE sessions (id INTEGER PRIMARY KEY, token__hi INTEGER, token__lo INTEGER, label TEXT)`, 2)
	require.NoError(t, err)
	require.Len(t, def.Columns, 4)

	hi := def.Columns[1]
	lo := def.Columns[2]
	require.True(t, hi.IsGUIDHi)
	require.Equal(t, "token", hi.GUIDLogicalName)
	require.True(t, lo.IsGUIDLo)
	require.Equal(t, "token", lo.GUIDLogicalName)
	require.False(t, def.Columns[3].IsGUIDHi)
	require.False(t, def.Columns[3].IsGUIDLo)
}

func TestMergedGUIDColumnStorageRoundTrip(t *testing.T) {
	db := mustOpenMemory(t)
	table, err := db.Writer().CreateTable("sessions", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "token__hi", Affinity: AffinityInteger},
		{Name: "token__lo", Affinity: AffinityInteger},
	})
	require.NoError(t, err)

	id := uuid.New()
	hi, lo := SplitGUID(id)
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1), IntValue(hi), IntValue(lo)}))
	require.NoError(t, db.Pager().Commit())

	cursor := NewCursor(db.Pager(), table.RootPage, false)
	ok, err := cursor.First()
	require.NoError(t, err)
	require.True(t, ok)
	values, err := DecodeRecord(cursor.Current().Payload)
	require.NoError(t, err)

	got := ComposeGUID(values[1].Int, values[2].Int)
	require.Equal(t, id, got)
}

func TestColumnAffinityRules(t *testing.T) {
	cases := map[string]Affinity{
		"INTEGER": AffinityInteger,
		"INT":     AffinityInteger,
		"TEXT":    AffinityText,
		"VARCHAR": AffinityText,
		"CHAR(10)": AffinityText,
		"REAL":    AffinityReal,
		"FLOAT":   AffinityReal,
		"DOUBLE":  AffinityReal,
		"BLOB":    AffinityBlob,
		"":        AffinityBlob,
		"NUMERIC": AffinityNumeric,
		"DECIMAL": AffinityNumeric,
	}
	for decl, want := range cases {
		if got := columnAffinity(decl); got != want {
			t.Errorf("columnAffinity(%q) = %v, want %v", decl, got, want)
		}
	}
}

func TestLogicalColumnsCollapsesMergedGUIDPair(t *testing.T) {
	def, err := parseCreateTable(`CREATE TABLE sessions (id INTEGER PRIMARY KEY, token__hi INTEGER, token__lo INTEGER, label TEXT)`, 2)
	require.NoError(t, err)
	require.True(t, def.HasMergedColumns)

	logical := def.LogicalColumns()
	require.Len(t, logical, 3)
	require.Equal(t, "id", logical[0].Name)
	require.Equal(t, "token", logical[1].Name)
	require.Equal(t, "label", logical[2].Name)
}

func TestDecodeLogicalRowComposesGUID(t *testing.T) {
	db := mustOpenMemory(t)
	table, err := db.Writer().CreateTable("sessions", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "token__hi", Affinity: AffinityInteger},
		{Name: "token__lo", Affinity: AffinityInteger},
		{Name: "label", Affinity: AffinityText},
	})
	require.NoError(t, err)
	require.True(t, table.HasMergedColumns)

	id := uuid.New()
	hi, lo := SplitGUID(id)
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1), IntValue(hi), IntValue(lo), TextValue("session-a")}))
	require.NoError(t, db.Pager().Commit())

	cursor := NewCursor(db.Pager(), table.RootPage, false)
	ok, err := cursor.First()
	require.NoError(t, err)
	require.True(t, ok)

	values, err := table.DecodeLogicalRow(cursor.Current().Payload)
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.Equal(t, KindGUID, values[1].Kind)
	require.Equal(t, id, values[1].GUID())
	require.Equal(t, "session-a", values[2].Text)
}

func TestAlterTableAddColumnPreservesExistingRows(t *testing.T) {
	db := mustOpenMemory(t)
	table, err := db.Writer().CreateTable("people", []Column{
		{Name: "id", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "name", Affinity: AffinityText},
	})
	require.NoError(t, err)
	require.NoError(t, db.Writer().Insert(table, 1, []Value{IntValue(1), TextValue("Alice")}))
	require.NoError(t, db.Pager().Commit())

	updated, err := db.Writer().AlterTableAddColumn("people", Column{Name: "age", Affinity: AffinityInteger})
	require.NoError(t, err)
	require.Len(t, updated.Columns, 3)
	require.NoError(t, db.Pager().Commit())

	reloaded := NewSchema(db.Pager())
	require.NoError(t, reloaded.Load())
	table2, err := reloaded.Table("people")
	require.NoError(t, err)
	require.Len(t, table2.Columns, 3)
	require.Equal(t, "age", table2.Columns[2].Name)

	cursor := NewCursor(db.Pager(), table2.RootPage, false)
	ok, err := cursor.First()
	require.NoError(t, err)
	require.True(t, ok)
	values, err := DecodeRecord(cursor.Current().Payload)
	require.NoError(t, err)
	require.Len(t, values, 2)
	require.Equal(t, "Alice", values[1].Text)
}
