package sharc

import (
	"encoding/binary"
	"sort"
	"strings"
)

// Transaction scopes a sequence of writes against a Pager: Commit flushes
// every mutated page in page order (writing the header last); Rollback
// discards them. It exists mainly to give callers an explicit begin/commit
// boundary layered over the Pager's own implicit-begin-on-first-mutation
// behavior.
//
// States: open -> committed (terminal) or open -> rolled-back (terminal),
// per spec §4.F. Calling Commit or Rollback again once a Transaction has
// reached a terminal state fails with *ErrInvalidOperation instead of
// silently succeeding.
type Transaction struct {
	pager *Pager
	state txnState
}

type txnState int

const (
	txnOpen txnState = iota
	txnCommitted
	txnRolledBack
)

// Begin opens a transaction against pager. Pager mutations are lazily
// opened on first write, so Begin mainly documents intent at call sites.
func Begin(pager *Pager) *Transaction {
	return &Transaction{pager: pager, state: txnOpen}
}

func (t *Transaction) Commit() error {
	if t.state != txnOpen {
		return newErr(ErrInvalidOperation, "Transaction.Commit", "transaction is already in a terminal state", nil)
	}
	if err := t.pager.Commit(); err != nil {
		return err
	}
	t.state = txnCommitted
	return nil
}

func (t *Transaction) Rollback() error {
	if t.state != txnOpen {
		return newErr(ErrInvalidOperation, "Transaction.Rollback", "transaction is already in a terminal state", nil)
	}
	if err := t.pager.Rollback(); err != nil {
		return err
	}
	t.state = txnRolledBack
	return nil
}

// Writer performs structural mutations (insert/update/delete, DDL) against
// table b-trees reached through a Pager, keeping every page it touches in
// valid file-format shape. It always rebuilds a page's content area from
// scratch on mutation rather than patching around freeblocks, trading some
// write amplification for a much simpler, more obviously correct encoder.
type Writer struct {
	pager  *Pager
	schema *Schema
}

func NewWriter(pager *Pager, schema *Schema) *Writer {
	return &Writer{pager: pager, schema: schema}
}

// rawCell is one cell's fully-encoded on-disk bytes, tagged with the sort
// key used to place it in the page's cell pointer array.
type rawCell struct {
	key   int64
	bytes []byte
}

func nodeDataStart(id PageID) int {
	if id == 1 {
		return HeaderSize
	}
	return 0
}

// decodeRawLeafCells extracts every cell of a table-leaf node as opaque,
// already-encoded bytes plus its sort key, without resolving overflow
// chains — mutation never needs to read a neighboring cell's payload, only
// know its extent, which depends on the page's usable size.
func decodeRawLeafCells(node *btreeNode, usableSize int) ([]rawCell, error) {
	cells := make([]rawCell, node.numCells)
	page := node.page
	for i, off := range node.cellPtrs {
		if off >= len(page) {
			return nil, newErr(ErrCorruptFile, "decodeRawLeafCells", "cell offset out of range", nil)
		}
		buf := page[off:]
		size, n1 := getVarint(buf)
		rowid, n2 := getVarint(buf[n1:])
		if n1 == 0 || n2 == 0 {
			return nil, newErr(ErrCorruptFile, "decodeRawLeafCells", "bad leaf cell header", nil)
		}
		local, overflow := computeOverflowSplit(usableSize, int(size))
		length := n1 + n2 + local
		if overflow > 0 {
			length += 4
		}
		if off+length > len(page) {
			return nil, newErr(ErrCorruptFile, "decodeRawLeafCells", "cell extends past page", nil)
		}
		raw := make([]byte, length)
		copy(raw, buf[:length])
		cells[i] = rawCell{key: int64(rowid), bytes: raw}
	}
	return cells, nil
}

func decodeRawInteriorCells(node *btreeNode) ([]rawCell, error) {
	cells := make([]rawCell, node.numCells)
	page := node.page
	for i, off := range node.cellPtrs {
		if off+4 > len(page) {
			return nil, newErr(ErrCorruptFile, "decodeRawInteriorCells", "truncated interior cell", nil)
		}
		buf := page[off:]
		rowid, n := getVarint(buf[4:])
		if n == 0 {
			return nil, newErr(ErrCorruptFile, "decodeRawInteriorCells", "bad rowid varint", nil)
		}
		length := 4 + n
		raw := make([]byte, length)
		copy(raw, buf[:length])
		cells[i] = rawCell{key: int64(rowid), bytes: raw}
	}
	return cells, nil
}

// buildLeafCellBytes encodes a fresh table-leaf cell, writing payload's
// overflow tail (if any) to a freshly allocated chain of overflow pages.
func (w *Writer) buildLeafCellBytes(usableSize int, rowID int64, payload []byte) ([]byte, error) {
	local, overflow := computeOverflowSplit(usableSize, len(payload))

	tmp := make([]byte, 9)
	n1 := putVarint(tmp, uint64(len(payload)))
	header := append([]byte{}, tmp[:n1]...)
	n2 := putVarint(tmp, uint64(rowID))
	header = append(header, tmp[:n2]...)

	out := append(header, payload[:local]...)
	if overflow > 0 {
		firstPage, err := w.writeOverflowChain(payload[local:], usableSize)
		if err != nil {
			return nil, err
		}
		var ptr [4]byte
		binary.BigEndian.PutUint32(ptr[:], uint32(firstPage))
		out = append(out, ptr[:]...)
	}
	return out, nil
}

// writeOverflowChain splits tail across newly allocated pages linked by a
// 4-byte next-page pointer at the front of each, per spec §3 Overflow
// pages.
func (w *Writer) writeOverflowChain(tail []byte, usableSize int) (PageID, error) {
	perPage := usableSize - 4
	var pages []PageID
	for off := 0; off < len(tail); off += perPage {
		id, _, err := w.pager.AllocatePage()
		if err != nil {
			return 0, err
		}
		pages = append(pages, id)
	}
	for i, id := range pages {
		buf, err := w.pager.BeginMutation(id)
		if err != nil {
			return 0, err
		}
		var next uint32
		if i+1 < len(pages) {
			next = uint32(pages[i+1])
		}
		binary.BigEndian.PutUint32(buf[0:4], next)
		start := i * perPage
		end := start + perPage
		if end > len(tail) {
			end = len(tail)
		}
		copy(buf[4:], tail[start:end])
	}
	if len(pages) == 0 {
		return 0, nil
	}
	return pages[0], nil
}

func buildInteriorCellBytes(leftChild PageID, rowID int64) []byte {
	out := make([]byte, 4, 13)
	binary.BigEndian.PutUint32(out, uint32(leftChild))
	tmp := make([]byte, 9)
	n := putVarint(tmp, uint64(rowID))
	return append(out, tmp[:n]...)
}

// packPage lays a fresh page out: the b-tree header, the cell pointer
// array in ascending-key order, and cell content packed from the end of
// the page backward in the same order. rightmost is only written for
// interior kinds.
func packPage(pageSize uint32, id PageID, kind byte, cells []rawCell, rightmost PageID) (Page, error) {
	sort.Slice(cells, func(i, j int) bool { return cells[i].key < cells[j].key })

	dataStart := nodeDataStart(id)
	hdrSize := leafHeaderSize
	if kind == nodeInteriorTable || kind == nodeInteriorIndex {
		hdrSize = interiorHeaderSize
	}
	ptrArrOff := dataStart + hdrSize
	contentEnd := int(pageSize)

	page := make(Page, pageSize)
	offset := contentEnd
	for _, c := range cells {
		offset -= len(c.bytes)
		if offset < ptrArrOff+len(cells)*2 {
			return nil, newErr(ErrInvalidOperation, "packPage", "page overflow: caller must split before packing", nil)
		}
		copy(page[offset:], c.bytes)
	}

	for i := range cells {
		off := contentEnd
		for j := 0; j <= i; j++ {
			off -= len(cells[j].bytes)
		}
		binary.BigEndian.PutUint16(page[ptrArrOff+i*2:ptrArrOff+i*2+2], uint16(off))
	}

	page[dataStart] = kind
	binary.BigEndian.PutUint16(page[dataStart+1:dataStart+3], 0) // first freeblock: none
	binary.BigEndian.PutUint16(page[dataStart+3:dataStart+5], uint16(len(cells)))
	cellContentStart := offset
	if len(cells) == 0 {
		cellContentStart = contentEnd
	}
	binary.BigEndian.PutUint16(page[dataStart+5:dataStart+7], uint16(cellContentStart))
	page[dataStart+7] = 0 // fragmented free bytes
	if hdrSize == interiorHeaderSize {
		binary.BigEndian.PutUint32(page[dataStart+8:dataStart+12], uint32(rightmost))
	}
	return page, nil
}

// contentFits reports whether cells (plus the fixed header and cell
// pointer array) pack into a page of the given usable size.
func contentFits(usableSize, dataStart, hdrSize int, cells []rawCell) bool {
	used := (usableSize - dataStart) - hdrSize - len(cells)*2
	for _, c := range cells {
		used -= len(c.bytes)
	}
	return used >= 0
}

// splitCells divides cells into a left and right half. appendBias, when
// true, keeps nearly everything on the left and puts only the newest
// (highest-key) cells on the right — the common case for monotonically
// increasing keys such as rowids or ledger sequence numbers, which
// maximizes fill factor instead of always halving. Otherwise it splits
// down the middle.
func splitCells(cells []rawCell, usableSize, dataStart, hdrSize int, appendBias bool) (left, right []rawCell) {
	if appendBias {
		// Peel cells off the end until the left half fits comfortably.
		right = []rawCell{cells[len(cells)-1]}
		left = cells[:len(cells)-1]
		for !contentFits(usableSize, dataStart, hdrSize, left) {
			n := len(left)
			right = append([]rawCell{left[n-1]}, right...)
			left = left[:n-1]
		}
		return left, right
	}
	mid := len(cells) / 2
	return cells[:mid], cells[mid:]
}

// insertResult carries a pending split up to the caller of a recursive
// insert.
type insertResult struct {
	split    bool
	splitKey int64
	newRight PageID
}

// Insert adds one row to the table rooted at def.RootPage, splitting pages
// as needed. The root page number never changes: a root split copies its
// current contents into a freshly allocated page and rewrites the root
// itself as a one-cell interior node, exactly as real SQLite files do so
// every other reference to a table's root page stays valid.
func (w *Writer) Insert(def *TableDef, rowID int64, values []Value) error {
	if def.Unsupported {
		return newErr(ErrUnsupportedFeature, "Insert", "table uses an unsupported storage layout: "+def.Name, nil)
	}
	payload := EncodeRecord(values)
	h := w.pager.Header()
	usableSize := int(h.UsableSize())

	res, err := w.insertInto(def.RootPage, rowID, payload, usableSize)
	if err != nil {
		return err
	}
	if res.split {
		return w.splitRoot(def.RootPage, res.splitKey, res.newRight)
	}
	return nil
}

func (w *Writer) insertInto(pageID PageID, rowID int64, payload []byte, usableSize int) (insertResult, error) {
	buf, err := w.pager.BeginMutation(pageID)
	if err != nil {
		return insertResult{}, err
	}
	node, err := parseNode(pageID, buf)
	if err != nil {
		return insertResult{}, err
	}
	dataStart := nodeDataStart(pageID)

	if node.isLeaf() {
		cells, err := decodeRawLeafCells(node, usableSize)
		if err != nil {
			return insertResult{}, err
		}
		newCellBytes, err := w.buildLeafCellBytes(usableSize, rowID, payload)
		if err != nil {
			return insertResult{}, err
		}
		cells = append(cells, rawCell{key: rowID, bytes: newCellBytes})
		sort.Slice(cells, func(i, j int) bool { return cells[i].key < cells[j].key })

		if contentFits(usableSize, dataStart, leafHeaderSize, cells) {
			page, err := packPage(uint32(len(buf)), pageID, nodeLeafTable, cells, 0)
			if err != nil {
				return insertResult{}, err
			}
			copy(buf, page)
			return insertResult{}, nil
		}

		appendBias := cells[len(cells)-1].key == rowID
		left, right := splitCells(cells, usableSize, dataStart, leafHeaderSize, appendBias)

		leftPage, err := packPage(uint32(len(buf)), pageID, nodeLeafTable, left, 0)
		if err != nil {
			return insertResult{}, err
		}
		copy(buf, leftPage)

		rightID, rightBuf, err := w.pager.AllocatePage()
		if err != nil {
			return insertResult{}, err
		}
		rightPage, err := packPage(uint32(len(rightBuf)), rightID, nodeLeafTable, right, 0)
		if err != nil {
			return insertResult{}, err
		}
		copy(rightBuf, rightPage)

		// The routing key a parent stores for a child is that child's
		// largest key (spec §3 Interior cells), i.e. the max key remaining
		// in the left (original) page after the split.
		return insertResult{split: true, splitKey: left[len(left)-1].key, newRight: rightID}, nil
	}

	// Interior: route to the child whose range covers rowID, then handle
	// any split it reports back.
	cells, err := decodeRawInteriorCells(node)
	if err != nil {
		return insertResult{}, err
	}
	idx := sort.Search(len(cells), func(i int) bool { return cells[i].key >= rowID })
	wasRightmost := idx == len(cells)
	var childID PageID
	if wasRightmost {
		childID = node.rightmost
	} else {
		childID = PageID(binary.BigEndian.Uint32(cells[idx].bytes[0:4]))
	}

	childRes, err := w.insertInto(childID, rowID, payload, usableSize)
	if err != nil {
		return insertResult{}, err
	}
	if !childRes.split {
		return insertResult{}, nil
	}

	// childID (unchanged page id) kept every smaller key and now needs a
	// cell of its own bounding it at childRes.splitKey; whichever cell or
	// rightmost pointer used to route to childID now routes to newRight
	// instead, since that's where the larger keys that used to live under
	// childID's old bound ended up.
	rightmost := node.rightmost
	newCell := rawCell{key: childRes.splitKey, bytes: buildInteriorCellBytes(childID, childRes.splitKey)}
	if wasRightmost {
		cells = append(cells, newCell)
		rightmost = childRes.newRight
	} else {
		old := cells[idx]
		cells[idx] = rawCell{key: old.key, bytes: buildInteriorCellBytes(childRes.newRight, old.key)}
		cells = append(cells, newCell)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].key < cells[j].key })

	if contentFits(usableSize, dataStart, interiorHeaderSize, cells) {
		page, err := packPage(uint32(len(buf)), pageID, nodeInteriorTable, cells, rightmost)
		if err != nil {
			return insertResult{}, err
		}
		copy(buf, page)
		return insertResult{}, nil
	}

	mid := len(cells) / 2
	left := cells[:mid]
	right := cells[mid+1:]
	leftRightmost := PageID(binary.BigEndian.Uint32(cells[mid].bytes[0:4]))
	promotedKey := cells[mid].key

	leftPage, err := packPage(uint32(len(buf)), pageID, nodeInteriorTable, left, leftRightmost)
	if err != nil {
		return insertResult{}, err
	}
	copy(buf, leftPage)

	rightID, rightBuf, err := w.pager.AllocatePage()
	if err != nil {
		return insertResult{}, err
	}
	rightPage, err := packPage(uint32(len(rightBuf)), rightID, nodeInteriorTable, right, rightmost)
	if err != nil {
		return insertResult{}, err
	}
	copy(rightBuf, rightPage)

	return insertResult{split: true, splitKey: promotedKey, newRight: rightID}, nil
}

// splitRoot promotes a root-level split: root's pre-split content (now
// living across root+newRight) is preserved by copying root's current
// bytes into a freshly allocated page, then rewriting root itself as a
// one-cell interior node pointing at [copy, newRight].
func (w *Writer) splitRoot(rootID PageID, splitKey int64, newRight PageID) error {
	rootBuf, err := w.pager.BeginMutation(rootID)
	if err != nil {
		return err
	}
	copyID, copyBuf, err := w.pager.AllocatePage()
	if err != nil {
		return err
	}
	copy(copyBuf, rootBuf)
	if rootID == 1 {
		// Page 1's b-tree header and cell pointers follow the file header;
		// move them to offset 0 for copyID. Cell offsets are page-absolute,
		// so the cell content stays valid where it is.
		node, err := parseNode(rootID, rootBuf)
		if err != nil {
			return err
		}
		hdrSize := leafHeaderSize
		if !node.isLeaf() {
			hdrSize = interiorHeaderSize
		}
		copy(copyBuf, rootBuf[HeaderSize:HeaderSize+hdrSize+2*node.numCells])
	}

	cells := []rawCell{{key: splitKey, bytes: buildInteriorCellBytes(copyID, splitKey)}}
	page, err := packPage(uint32(len(rootBuf)), rootID, nodeInteriorTable, cells, newRight)
	if err != nil {
		return err
	}
	copy(rootBuf, page)
	return nil
}

// Delete removes the row with the given rowID from the table rooted at
// def.RootPage. It does not rebalance on underflow: an emptied or
// near-empty leaf is left in place rather than merged with a sibling, a
// deliberate simplification over real SQLite's balance routine.
func (w *Writer) Delete(def *TableDef, rowID int64) error {
	if def.Unsupported {
		return newErr(ErrUnsupportedFeature, "Delete", "table uses an unsupported storage layout: "+def.Name, nil)
	}
	usableSize := int(w.pager.Header().UsableSize())
	return w.deleteFrom(def.RootPage, rowID, usableSize)
}

func (w *Writer) deleteFrom(pageID PageID, rowID int64, usableSize int) error {
	buf, err := w.pager.BeginMutation(pageID)
	if err != nil {
		return err
	}
	node, err := parseNode(pageID, buf)
	if err != nil {
		return err
	}

	if node.isLeaf() {
		cells, err := decodeRawLeafCells(node, usableSize)
		if err != nil {
			return err
		}
		idx := sort.Search(len(cells), func(i int) bool { return cells[i].key >= rowID })
		if idx == len(cells) || cells[idx].key != rowID {
			return newErr(ErrNotFound, "Delete", "no such row", nil)
		}
		if err := w.freeCellOverflow(cells[idx].bytes, usableSize); err != nil {
			return err
		}
		cells = append(cells[:idx], cells[idx+1:]...)
		page, err := packPage(uint32(len(buf)), pageID, nodeLeafTable, cells, 0)
		if err != nil {
			return err
		}
		copy(buf, page)
		return nil
	}

	cells, err := decodeRawInteriorCells(node)
	if err != nil {
		return err
	}
	idx := sort.Search(len(cells), func(i int) bool { return cells[i].key >= rowID })
	var childID PageID
	if idx == len(cells) {
		childID = node.rightmost
	} else {
		childID = PageID(binary.BigEndian.Uint32(cells[idx].bytes[0:4]))
	}
	return w.deleteFrom(childID, rowID, usableSize)
}

// freeCellOverflow returns a leaf cell's overflow chain (if any) to the
// freelist before the cell itself is discarded.
func (w *Writer) freeCellOverflow(cellBytes []byte, usableSize int) error {
	size, n1 := getVarint(cellBytes)
	if n1 == 0 {
		return newErr(ErrCorruptFile, "freeCellOverflow", "bad payload size varint", nil)
	}
	_, overflow := computeOverflowSplit(usableSize, int(size))
	if overflow == 0 {
		return nil
	}
	if len(cellBytes) < 4 {
		return newErr(ErrCorruptFile, "freeCellOverflow", "missing overflow pointer", nil)
	}
	first := binary.BigEndian.Uint32(cellBytes[len(cellBytes)-4:])
	return w.freeOverflowChain(PageID(first))
}

func (w *Writer) freeOverflowChain(id PageID) error {
	for id != 0 {
		page, err := w.pager.ReadPage(id)
		if err != nil {
			return err
		}
		next := binary.BigEndian.Uint32(page[0:4])
		if err := w.pager.FreePage(id); err != nil {
			return err
		}
		id = PageID(next)
	}
	return nil
}

// Update replaces the row at rowID with values, implemented as a delete
// followed by a fresh insert so overflow chains and cell sizing are always
// recomputed from scratch rather than patched in place.
func (w *Writer) Update(def *TableDef, rowID int64, values []Value) error {
	if err := w.Delete(def, rowID); err != nil {
		return err
	}
	return w.Insert(def, rowID, values)
}

// InsertBatch applies rows sequentially. It exists for caller convenience;
// it does not batch pages across rows any more efficiently than calling
// Insert in a loop would.
func (w *Writer) InsertBatch(def *TableDef, rowIDs []int64, rows [][]Value) error {
	if len(rowIDs) != len(rows) {
		return newErr(ErrInvalidArgument, "InsertBatch", "rowIDs and rows length mismatch", nil)
	}
	for i, id := range rowIDs {
		if err := w.Insert(def, id, rows[i]); err != nil {
			return err
		}
	}
	return nil
}

// NextRowID returns one past the current maximum rowid in the table rooted
// at root (1 for an empty table); gaps below the maximum are not reused.
// Reserved-table writers (the
// trust ledger, the agent registry) use this the same way CreateTable uses
// it against the sqlite_schema catalog.
func (w *Writer) NextRowID(root PageID) (int64, error) {
	cursor := NewCursor(w.pager, root, false)
	ok, err := cursor.Last()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return cursor.Current().RowID + 1, nil
}

// nextSchemaRowID finds the next unused rowid in the sqlite_schema catalog.
func (w *Writer) nextSchemaRowID() (int64, error) {
	return w.NextRowID(1)
}

// affinityTypeName renders the declared type name CreateTable stores for a
// column of the given affinity; parseCreateTable's columnAffinity maps it
// back on read.
func affinityTypeName(a Affinity) string {
	switch a {
	case AffinityInteger:
		return "INTEGER"
	case AffinityText:
		return "TEXT"
	case AffinityReal:
		return "REAL"
	case AffinityNumeric:
		return "NUMERIC"
	default:
		return "BLOB"
	}
}

func buildCreateTableSQL(name string, columns []Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(name)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteString(" ")
		b.WriteString(affinityTypeName(c.Affinity))
		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")
	return b.String()
}

// AlterTableAddColumn appends a column definition to table's stored
// CREATE TABLE SQL without touching any existing row (spec §4.F: "new
// column reads as NULL for pre-existing rows" since DecodeRecord already
// treats a column past the end of a row's physical value list as absent).
// The sqlite_schema row is rewritten in place, by rowid, so the table's
// rootpage and every other schema row are left untouched.
func (w *Writer) AlterTableAddColumn(name string, col Column) (*TableDef, error) {
	def, err := w.schema.Table(name)
	if err != nil {
		return nil, err
	}

	rowID, oldSQL, err := w.findSchemaRow(name)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(oldSQL, "(") {
		return nil, newErr(ErrCorruptFile, "AlterTableAddColumn", "malformed stored CREATE TABLE SQL", nil)
	}
	if col.Affinity == AffinityInteger && strings.HasSuffix(col.Name, "__hi") {
		col.IsGUIDHi = true
		col.GUIDLogicalName = strings.TrimSuffix(col.Name, "__hi")
	} else if col.Affinity == AffinityInteger && strings.HasSuffix(col.Name, "__lo") {
		col.IsGUIDLo = true
		col.GUIDLogicalName = strings.TrimSuffix(col.Name, "__lo")
	}
	newColumns := append(append([]Column{}, def.Columns...), col)
	newSQL := buildCreateTableSQL(name, newColumns)

	values := []Value{
		TextValue("table"),
		TextValue(name),
		TextValue(name),
		IntValue(int64(def.RootPage)),
		TextValue(newSQL),
	}
	if err := w.Update(&TableDef{RootPage: 1}, rowID, values); err != nil {
		return nil, err
	}
	w.pager.BumpSchemaCookie()

	updated := &TableDef{Name: name, RootPage: def.RootPage, Columns: newColumns, HasMergedColumns: hasMergedGUIDPair(newColumns)}
	if w.schema != nil {
		w.schema.tables[name] = updated
	}
	return updated, nil
}

// findSchemaRow scans sqlite_schema for the row naming tableName, returning
// its rowid and stored SQL text.
func (w *Writer) findSchemaRow(tableName string) (int64, string, error) {
	cursor := NewCursor(w.pager, 1, false)
	ok, err := cursor.First()
	if err != nil {
		return 0, "", err
	}
	for ok {
		cell := cursor.Current()
		values, err := DecodeRecord(cell.Payload)
		if err != nil {
			return 0, "", err
		}
		if len(values) == 5 && values[0].Text == "table" && values[1].Text == tableName {
			return cell.RowID, values[4].Text, nil
		}
		ok, err = cursor.Next()
		if err != nil {
			return 0, "", err
		}
	}
	return 0, "", newErr(ErrNotFound, "findSchemaRow", "no such table: "+tableName, nil)
}

// CreateTable allocates a fresh root leaf page and records a new
// sqlite_schema row describing it, matching the catalog shape any
// SQLite-compatible reader expects. Logical GUID columns (spec §3) should be
// passed as their expanded "<name>__hi"/"<name>__lo" INTEGER pair, the same
// convention parseCreateTable recovers on read.
func (w *Writer) CreateTable(name string, columns []Column) (*TableDef, error) {
	h := w.pager.Header()
	usableSize := int(h.UsableSize())

	rootID, rootBuf, err := w.pager.AllocatePage()
	if err != nil {
		return nil, err
	}
	page, err := packPage(uint32(len(rootBuf)), rootID, nodeLeafTable, nil, 0)
	if err != nil {
		return nil, err
	}
	copy(rootBuf, page)

	rowID, err := w.nextSchemaRowID()
	if err != nil {
		return nil, err
	}
	sql := buildCreateTableSQL(name, columns)
	payload := EncodeRecord([]Value{
		TextValue("table"),
		TextValue(name),
		TextValue(name),
		IntValue(int64(rootID)),
		TextValue(sql),
	})

	res, err := w.insertInto(1, rowID, payload, usableSize)
	if err != nil {
		return nil, err
	}
	if res.split {
		if err := w.splitRoot(1, res.splitKey, res.newRight); err != nil {
			return nil, err
		}
	}
	w.pager.BumpSchemaCookie()

	cols := append([]Column{}, columns...)
	for i := range cols {
		if cols[i].Affinity != AffinityInteger {
			continue
		}
		if strings.HasSuffix(cols[i].Name, "__hi") {
			cols[i].IsGUIDHi = true
			cols[i].GUIDLogicalName = strings.TrimSuffix(cols[i].Name, "__hi")
		} else if strings.HasSuffix(cols[i].Name, "__lo") {
			cols[i].IsGUIDLo = true
			cols[i].GUIDLogicalName = strings.TrimSuffix(cols[i].Name, "__lo")
		}
	}
	def := &TableDef{Name: name, RootPage: rootID, Columns: cols, HasMergedColumns: hasMergedGUIDPair(cols)}
	if w.schema != nil {
		w.schema.tables[name] = def
	}
	return def, nil
}
