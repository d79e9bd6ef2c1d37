package sharc

import (
	"strings"
)

// SchemaObject is one row of the sqlite_schema catalog (table 1's rootpage
// is always 1 itself, per the file format).
type SchemaObject struct {
	Type     string // "table" or "index"
	Name     string
	TblName  string
	RootPage PageID
	SQL      string
}

// Column describes one column of a table, derived from its stored CREATE
// TABLE text.
type Column struct {
	Name       string
	Affinity   Affinity
	PrimaryKey bool
	NotNull    bool
	// IsGUIDHi/IsGUIDLo mark the merged-GUID storage columns (spec §3 GUID
	// columns): a logical GUID column is persisted as a pair of INTEGER
	// columns named "<col>__hi" and "<col>__lo".
	IsGUIDHi   bool
	IsGUIDLo   bool
	GUIDLogicalName string
}

type Affinity int

const (
	AffinityBlob Affinity = iota
	AffinityText
	AffinityNumeric
	AffinityInteger
	AffinityReal
)

// columnAffinity applies the standard SQLite type-name affinity rules.
func columnAffinity(declaredType string) Affinity {
	t := strings.ToUpper(declaredType)
	switch {
	case strings.Contains(t, "INT"):
		return AffinityInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return AffinityText
	case strings.Contains(t, "BLOB"), t == "":
		return AffinityBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return AffinityReal
	default:
		return AffinityNumeric
	}
}

// TableDef is a parsed CREATE TABLE definition: column list plus the root
// page the catalog points it at.
type TableDef struct {
	Name     string
	RootPage PageID
	Columns  []Column
	// HasMergedColumns marks a table where at least one adjacent
	// "<base>__hi"/"<base>__lo" INTEGER pair collapses into a logical GUID
	// column (spec §3 Merged-GUID columns, §4.G); LogicalColumns and
	// DecodeLogicalRow are the ordinal space readers should use instead of
	// Columns/DecodeRecord directly when this is set.
	HasMergedColumns bool
	// Unsupported marks a table the catalog could only partially parse —
	// currently, a WITHOUT ROWID table (spec §4.G: "the catalog to record
	// the table as present but to refuse cursor creation with
	// UnsupportedFeature"). The table still appears in Schema.Tables/Table
	// so the rest of the catalog stays usable; only cursor/writer access to
	// this specific table fails.
	Unsupported bool
}

// LogicalColumns returns def.Columns with every adjacent __hi/__lo pair
// collapsed into one AffinityBlob column named by its shared base, per
// spec §4.G ("the logical field count is the physical count minus the
// number of merged pairs"). Non-merged tables get back an equivalent copy
// of Columns.
func (t *TableDef) LogicalColumns() []Column {
	out := make([]Column, 0, len(t.Columns))
	for i := 0; i < len(t.Columns); i++ {
		c := t.Columns[i]
		if c.IsGUIDHi && i+1 < len(t.Columns) && t.Columns[i+1].IsGUIDLo && t.Columns[i+1].GUIDLogicalName == c.GUIDLogicalName {
			out = append(out, Column{
				Name:       c.GUIDLogicalName,
				Affinity:   AffinityBlob,
				NotNull:    c.NotNull || t.Columns[i+1].NotNull,
				PrimaryKey: c.PrimaryKey || t.Columns[i+1].PrimaryKey,
			})
			i++
			continue
		}
		out = append(out, c)
	}
	return out
}

// DecodeLogicalRow decodes a row's physical record bytes and collapses any
// merged __hi/__lo pairs into a single KindGUID value, in the same ordinal
// space LogicalColumns describes. Callers that don't care about merged
// columns can call DecodeRecord directly instead.
func (t *TableDef) DecodeLogicalRow(payload []byte) ([]Value, error) {
	physical, err := DecodeRecord(payload)
	if err != nil {
		return nil, err
	}
	if !t.HasMergedColumns {
		return physical, nil
	}
	out := make([]Value, 0, len(physical))
	for i := 0; i < len(t.Columns) && i < len(physical); i++ {
		c := t.Columns[i]
		if c.IsGUIDHi && i+1 < len(t.Columns) && t.Columns[i+1].IsGUIDLo && t.Columns[i+1].GUIDLogicalName == c.GUIDLogicalName {
			out = append(out, GUIDValue(ComposeGUID(physical[i].Int, physical[i+1].Int)))
			i++
			continue
		}
		out = append(out, physical[i])
	}
	return out, nil
}

// Schema is the decoded sqlite_schema catalog, cached until the header's
// SchemaCookie changes (spec §3 Schema cookie / change detection, grounded
// in the same dirty-on-cookie-change pattern the catalog scan uses).
type Schema struct {
	pager        *Pager
	schemaCookie uint32
	objects      []SchemaObject
	tables       map[string]*TableDef
}

// NewSchema constructs an (initially unloaded) schema view over pager.
func NewSchema(pager *Pager) *Schema {
	return &Schema{pager: pager, tables: make(map[string]*TableDef)}
}

// Load scans the sqlite_schema catalog (rooted at page 1) if the header's
// schema cookie has changed since the last Load, otherwise returns the
// cached result.
func (s *Schema) Load() error {
	h := s.pager.Header()
	if s.objects != nil && h.SchemaCookie == s.schemaCookie {
		return nil
	}

	cursor := NewCursor(s.pager, 1, false)
	ok, err := cursor.First()
	if err != nil {
		return err
	}

	var objects []SchemaObject
	tables := make(map[string]*TableDef)
	for ok {
		cell := cursor.Current()
		values, err := DecodeRecord(cell.Payload)
		if err != nil {
			return err
		}
		if len(values) != 5 {
			return newErr(ErrCorruptFile, "Schema.Load", "malformed sqlite_schema row", nil)
		}
		obj := SchemaObject{
			Type:     values[0].Text,
			Name:     values[1].Text,
			TblName:  values[2].Text,
			RootPage: PageID(values[3].Int),
			SQL:      values[4].Text,
		}
		objects = append(objects, obj)

		if obj.Type == "table" {
			def, err := parseCreateTable(obj.SQL, obj.RootPage)
			if err != nil {
				return err
			}
			tables[obj.Name] = def
		}

		ok, err = cursor.Next()
		if err != nil {
			return err
		}
	}

	s.objects = objects
	s.tables = tables
	s.schemaCookie = h.SchemaCookie
	return nil
}

// Tables returns the names of every table in the catalog.
func (s *Schema) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	return names
}

// Table returns the parsed definition of table name, or *ErrNotFound.
func (s *Schema) Table(name string) (*TableDef, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, newErr(ErrNotFound, "Table", "no such table: "+name, nil)
	}
	return t, nil
}

// parseCreateTable extracts a column list from a stored "CREATE TABLE ..."
// statement. It handles the subset of DDL sharc itself ever emits (see
// writer.go CreateTable): a parenthesized, comma-separated column list with
// optional PRIMARY KEY / NOT NULL modifiers. WITHOUT ROWID tables are kept
// in the catalog but marked Unsupported (spec §4.G): cursor/writer access
// to them is refused at the point of use, not here.
func parseCreateTable(sql string, rootPage PageID) (*TableDef, error) {
	open := strings.Index(sql, "(")
	closeParen := strings.LastIndex(sql, ")")
	if open < 0 || closeParen < 0 || closeParen < open {
		return nil, newErr(ErrCorruptFile, "parseCreateTable", "malformed CREATE TABLE statement", nil)
	}

	nameStart := strings.LastIndex(strings.ToUpper(sql[:open]), "TABLE") + len("TABLE")
	name := strings.TrimSpace(sql[nameStart:open])
	name = strings.Trim(name, `"'`+"`")

	upper := strings.ToUpper(sql)
	if strings.Contains(upper, "WITHOUT ROWID") {
		return &TableDef{Name: name, RootPage: rootPage, Unsupported: true}, nil
	}

	body := sql[open+1 : closeParen]
	parts := splitTopLevelCommas(body)

	var cols []Column
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		upperFields := strings.ToUpper(part)
		if strings.HasPrefix(upperFields, "PRIMARY KEY") || strings.HasPrefix(upperFields, "FOREIGN KEY") || strings.HasPrefix(upperFields, "UNIQUE") || strings.HasPrefix(upperFields, "CHECK") {
			continue
		}

		colName := strings.Trim(fields[0], `"'`+"`")
		declType := ""
		if len(fields) > 1 {
			declType = fields[1]
		}
		col := Column{
			Name:       colName,
			Affinity:   columnAffinity(declType),
			PrimaryKey: strings.Contains(upperFields, "PRIMARY KEY"),
			NotNull:    strings.Contains(upperFields, "NOT NULL"),
		}

		if col.Affinity == AffinityInteger && strings.HasSuffix(colName, "__hi") {
			col.IsGUIDHi = true
			col.GUIDLogicalName = strings.TrimSuffix(colName, "__hi")
		} else if col.Affinity == AffinityInteger && strings.HasSuffix(colName, "__lo") {
			col.IsGUIDLo = true
			col.GUIDLogicalName = strings.TrimSuffix(colName, "__lo")
		}

		cols = append(cols, col)
	}

	return &TableDef{Name: name, RootPage: rootPage, Columns: cols, HasMergedColumns: hasMergedGUIDPair(cols)}, nil
}

// hasMergedGUIDPair reports whether cols contains an adjacent
// "<base>__hi"/"<base>__lo" INTEGER pair sharing a base name.
func hasMergedGUIDPair(cols []Column) bool {
	for i := 0; i+1 < len(cols); i++ {
		if cols[i].IsGUIDHi && cols[i+1].IsGUIDLo && cols[i].GUIDLogicalName == cols[i+1].GUIDLogicalName {
			return true
		}
	}
	return false
}

// splitTopLevelCommas splits s on commas that are not nested inside
// parentheses, so column constraint lists like "CHECK (x > 0)" don't get
// split mid-expression.
func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
