package sharc

import (
	"encoding/binary"
)

// Node kind bytes, identical to the on-disk b-tree header byte.
const (
	nodeInteriorIndex = 0x02
	nodeInteriorTable = 0x05
	nodeLeafIndex     = 0x0a
	nodeLeafTable     = 0x0d
)

const (
	leafHeaderSize     = 8
	interiorHeaderSize = 12
)

// btreeNode is a parsed view over one page's b-tree header, cell pointer
// array, and backing bytes.
type btreeNode struct {
	id        PageID
	kind      byte
	numCells  int
	cellsOff  int
	rightmost PageID // interior pages only
	cellPtrs  []int
	page      Page
	dataStart int // offset of the b-tree header within page (100 on page 1)
}

func parseNode(id PageID, page Page) (*btreeNode, error) {
	start := 0
	if id == 1 {
		start = HeaderSize
	}
	if len(page) < start+leafHeaderSize {
		return nil, newErr(ErrCorruptFile, "parseNode", "page too small for b-tree header", nil)
	}
	kind := page[start]
	n := &btreeNode{id: id, kind: kind, page: page, dataStart: start}
	n.numCells = int(binary.BigEndian.Uint16(page[start+3 : start+5]))

	hdrSize := leafHeaderSize
	if kind == nodeInteriorTable || kind == nodeInteriorIndex {
		hdrSize = interiorHeaderSize
		if len(page) < start+hdrSize {
			return nil, newErr(ErrCorruptFile, "parseNode", "page too small for interior header", nil)
		}
		n.rightmost = PageID(binary.BigEndian.Uint32(page[start+8 : start+12]))
	}

	ptrArrOff := start + hdrSize
	n.cellPtrs = make([]int, n.numCells)
	for i := 0; i < n.numCells; i++ {
		off := ptrArrOff + i*2
		if off+2 > len(page) {
			return nil, newErr(ErrCorruptFile, "parseNode", "truncated cell pointer array", nil)
		}
		n.cellPtrs[i] = int(binary.BigEndian.Uint16(page[off : off+2]))
	}
	return n, nil
}

func (n *btreeNode) isLeaf() bool {
	return n.kind == nodeLeafTable || n.kind == nodeLeafIndex
}

// Cell is one decoded b-tree cell: a table-leaf row (RowID + Payload), a
// table-interior routing entry (LeftChild + RowID), or an index cell
// (Payload carries the full index key record).
type Cell struct {
	LeftChild PageID
	RowID     int64
	Payload   []byte
}

// computeOverflowSplit returns the local (in-page) and overflow payload
// byte counts for a cell with total payload size P, following the spill
// formula every SQLite-compatible reader and writer must agree on (spec §3
// Overflow pages).
func computeOverflowSplit(usableSize, P int) (local, overflow int) {
	U := usableSize
	X := U - 35
	if P <= X {
		return P, 0
	}
	M := ((U-12)*32/255 - 23)
	K := M + (P-M)%(U-4)
	if K <= X {
		local = K
	} else {
		local = M
	}
	return local, P - local
}

// computeOverflowSplitIndex mirrors computeOverflowSplit for index b-trees,
// whose in-page payload limit per cell is smaller (spec §3).
func computeOverflowSplitIndex(usableSize, P int) (local, overflow int) {
	U := usableSize
	X := ((U-12)*64/255 - 23)
	if P <= X {
		return P, 0
	}
	M := ((U-12)*32/255 - 23)
	K := M + (P-M)%(U-4)
	if K <= X {
		local = K
	} else {
		local = M
	}
	return local, P - local
}

// Cursor walks a table or index b-tree in key order, assembling any
// overflow chain transparently so callers always see a whole-payload Cell.
type Cursor struct {
	pager      *Pager
	root       PageID
	usableSize int
	forIndex   bool

	stack    []frame
	seenVer  uint64
	current  *Cell
	filter   func(*Cell) bool
}

type frame struct {
	node *btreeNode
	idx  int
}

// NewCursor opens a cursor over the b-tree rooted at root.
func NewCursor(pager *Pager, root PageID, forIndex bool) *Cursor {
	h := pager.Header()
	return &Cursor{
		pager:      pager,
		root:       root,
		usableSize: int(h.UsableSize()),
		forIndex:   forIndex,
		seenVer:    pager.source.DataVersion(),
	}
}

// NewTableCursor opens a cursor over def's rows, refusing with
// *ErrUnsupportedFeature when def was recorded as Unsupported at catalog
// load time (spec §4.G: a WITHOUT ROWID table stays in the catalog, but
// cursor creation against it fails instead of silently misreading rows).
func NewTableCursor(pager *Pager, def *TableDef) (*Cursor, error) {
	if def.Unsupported {
		return nil, newErr(ErrUnsupportedFeature, "NewTableCursor", "table uses an unsupported storage layout: "+def.Name, nil)
	}
	return NewCursor(pager, def.RootPage, false), nil
}

// SetFilter installs a predicate evaluated before a cell is surfaced to the
// caller; cells for which it returns false are skipped without leaving the
// tree-walk, letting simple predicates push down into the scan instead of
// materializing every row first.
func (c *Cursor) SetFilter(f func(*Cell) bool) { c.filter = f }

func (c *Cursor) loadNode(id PageID) (*btreeNode, error) {
	page, err := c.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return parseNode(id, page)
}

func (c *Cursor) pushLeftmost(id PageID) error {
	for {
		node, err := c.loadNode(id)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, frame{node: node, idx: 0})
		if node.isLeaf() {
			return nil
		}
		if node.numCells == 0 {
			id = node.rightmost
			continue
		}
		cell, err := c.loadCell(node, 0)
		if err != nil {
			return err
		}
		id = cell.LeftChild
	}
}

func (c *Cursor) pushRightmost(id PageID) error {
	for {
		node, err := c.loadNode(id)
		if err != nil {
			return err
		}
		if node.isLeaf() {
			c.stack = append(c.stack, frame{node: node, idx: node.numCells - 1})
			return nil
		}
		c.stack = append(c.stack, frame{node: node, idx: node.numCells})
		id = node.rightmost
	}
}

// First positions the cursor at the smallest key in the tree.
func (c *Cursor) First() (bool, error) {
	c.stack = nil
	if err := c.pushLeftmost(c.root); err != nil {
		return false, err
	}
	if err := c.climbForward(); err != nil {
		return false, err
	}
	return c.advanceToValid(true)
}

// Last positions the cursor at the largest key in the tree.
func (c *Cursor) Last() (bool, error) {
	c.stack = nil
	if err := c.pushRightmost(c.root); err != nil {
		return false, err
	}
	ok, err := c.loadCurrent()
	if err != nil {
		return false, err
	}
	if !ok {
		if len(c.stack) > 1 {
			return c.Prev() // rightmost leaf is empty; step back into its siblings
		}
		return false, nil
	}
	if c.filter != nil && !c.filter(c.current) {
		return c.Prev()
	}
	return true, nil
}

// Seek positions the cursor at the first row with RowID >= key in a table
// b-tree, descending via routing cells.
func (c *Cursor) Seek(key int64) (bool, error) {
	c.stack = nil
	id := c.root
	for {
		node, err := c.loadNode(id)
		if err != nil {
			return false, err
		}
		if node.isLeaf() {
			lo, hi := 0, node.numCells
			for lo < hi {
				mid := (lo + hi) / 2
				cell, err := c.loadCell(node, mid)
				if err != nil {
					return false, err
				}
				if cell.RowID < key {
					lo = mid + 1
				} else {
					hi = mid
				}
			}
			c.stack = append(c.stack, frame{node: node, idx: lo})
			break
		}
		lo, hi := 0, node.numCells
		for lo < hi {
			mid := (lo + hi) / 2
			cell, err := c.loadCell(node, mid)
			if err != nil {
				return false, err
			}
			if cell.RowID < key {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		c.stack = append(c.stack, frame{node: node, idx: lo})
		if lo == node.numCells {
			id = node.rightmost
		} else {
			cell, err := c.loadCell(node, lo)
			if err != nil {
				return false, err
			}
			id = cell.LeftChild
		}
	}
	if err := c.climbForward(); err != nil {
		return false, err
	}
	return c.advanceToValid(true)
}

// Next advances to the next row in key order.
func (c *Cursor) Next() (bool, error) {
	if err := c.checkStale(); err != nil {
		return false, err
	}
	if len(c.stack) == 0 {
		return false, nil
	}
	top := &c.stack[len(c.stack)-1]
	top.idx++
	if err := c.climbForward(); err != nil {
		return false, err
	}
	return c.advanceToValid(true)
}

// Prev retreats to the previous row in key order.
func (c *Cursor) Prev() (bool, error) {
	if err := c.checkStale(); err != nil {
		return false, err
	}
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		top.idx--
		if top.node.isLeaf() {
			if top.idx >= 0 {
				break
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		// interior: idx now points at the child to descend into
		var childID PageID
		if top.idx < 0 {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		if top.idx == top.node.numCells {
			childID = top.node.rightmost
		} else {
			cell, err := c.loadCell(top.node, top.idx)
			if err != nil {
				return false, err
			}
			childID = cell.LeftChild
		}
		if err := c.pushRightmost(childID); err != nil {
			return false, err
		}
		if c.stack[len(c.stack)-1].idx >= 0 {
			break
		}
		// the new leaf is empty: the next pass pops it and keeps retreating
	}
	return c.advanceToValidBackward()
}

// climbForward pops exhausted leaf frames and descends into the next
// interior routing entry until the stack top is a valid, unvisited leaf
// cell or the traversal is exhausted.
func (c *Cursor) climbForward() error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.node.isLeaf() {
			if top.idx < top.node.numCells {
				return nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		// An interior frame's idx is the child being visited; move past it.
		top.idx++
		if top.idx > top.node.numCells {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		var childID PageID
		if top.idx == top.node.numCells {
			childID = top.node.rightmost
		} else {
			cell, err := c.loadCell(top.node, top.idx)
			if err != nil {
				return err
			}
			childID = cell.LeftChild
		}
		if err := c.pushLeftmost(childID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cursor) advanceToValid(forward bool) (bool, error) {
	for {
		ok, err := c.loadCurrent()
		if err != nil || !ok {
			return ok, err
		}
		if c.filter == nil || c.filter(c.current) {
			return true, nil
		}
		if forward {
			ok, err = c.Next()
		} else {
			ok, err = c.Prev()
		}
		if err != nil || !ok {
			return ok, err
		}
	}
}

func (c *Cursor) advanceToValidBackward() (bool, error) {
	return c.advanceToValid(false)
}

func (c *Cursor) loadCurrent() (bool, error) {
	if len(c.stack) == 0 {
		c.current = nil
		return false, nil
	}
	top := c.stack[len(c.stack)-1]
	if !top.node.isLeaf() || top.idx >= top.node.numCells || top.idx < 0 {
		c.current = nil
		return false, nil
	}
	cell, err := c.loadCell(top.node, top.idx)
	if err != nil {
		return false, err
	}
	c.current = cell
	return true, nil
}

// Current returns the cell the cursor is positioned on.
func (c *Cursor) Current() *Cell { return c.current }

func (c *Cursor) checkStale() error {
	if c.IsStale() {
		return newErr(ErrInvalidOperation, "Cursor", "underlying pages changed since cursor was created", nil)
	}
	return nil
}

// IsStale reports whether the pager's current data version differs from the
// version captured when this cursor was created (spec §4.E, §6 "is_stale returns true
// when the pager's current version differs"). It never mutates cursor state
// or returns an error: callers that want Next/Prev to fail outright on
// staleness should rely on those methods' own checkStale instead.
func (c *Cursor) IsStale() bool {
	return c.pager.source.DataVersion() != c.seenVer
}

// loadCell decodes cell idx of node, assembling any overflow chain.
func (c *Cursor) loadCell(node *btreeNode, idx int) (*Cell, error) {
	off := node.cellPtrs[idx]
	page := node.page
	if off >= len(page) {
		return nil, newErr(ErrCorruptFile, "loadCell", "cell offset out of range", nil)
	}
	buf := page[off:]

	switch node.kind {
	case nodeInteriorTable:
		if len(buf) < 4 {
			return nil, newErr(ErrCorruptFile, "loadCell", "truncated interior cell", nil)
		}
		left := PageID(binary.BigEndian.Uint32(buf[0:4]))
		rowid, n := getVarint(buf[4:])
		if n == 0 {
			return nil, newErr(ErrCorruptFile, "loadCell", "bad rowid varint", nil)
		}
		return &Cell{LeftChild: left, RowID: int64(rowid)}, nil

	case nodeLeafTable:
		size, n1 := getVarint(buf)
		if n1 == 0 {
			return nil, newErr(ErrCorruptFile, "loadCell", "bad payload size varint", nil)
		}
		rowid, n2 := getVarint(buf[n1:])
		if n2 == 0 {
			return nil, newErr(ErrCorruptFile, "loadCell", "bad rowid varint", nil)
		}
		payload, err := c.assemblePayload(buf[n1+n2:], int(size), false)
		if err != nil {
			return nil, err
		}
		return &Cell{RowID: int64(rowid), Payload: payload}, nil

	case nodeInteriorIndex:
		if len(buf) < 4 {
			return nil, newErr(ErrCorruptFile, "loadCell", "truncated interior index cell", nil)
		}
		left := PageID(binary.BigEndian.Uint32(buf[0:4]))
		size, n1 := getVarint(buf[4:])
		if n1 == 0 {
			return nil, newErr(ErrCorruptFile, "loadCell", "bad payload size varint", nil)
		}
		payload, err := c.assemblePayload(buf[4+n1:], int(size), true)
		if err != nil {
			return nil, err
		}
		return &Cell{LeftChild: left, Payload: payload}, nil

	case nodeLeafIndex:
		size, n1 := getVarint(buf)
		if n1 == 0 {
			return nil, newErr(ErrCorruptFile, "loadCell", "bad payload size varint", nil)
		}
		payload, err := c.assemblePayload(buf[n1:], int(size), true)
		if err != nil {
			return nil, err
		}
		return &Cell{Payload: payload}, nil

	default:
		return nil, newErr(ErrCorruptFile, "loadCell", "unknown node kind", nil)
	}
}

func (c *Cursor) assemblePayload(rest []byte, totalSize int, forIndex bool) ([]byte, error) {
	var local, overflow int
	if forIndex {
		local, overflow = computeOverflowSplitIndex(c.usableSize, totalSize)
	} else {
		local, overflow = computeOverflowSplit(c.usableSize, totalSize)
	}
	if local > len(rest) {
		return nil, newErr(ErrCorruptFile, "assemblePayload", "local payload exceeds cell bounds", nil)
	}
	out := make([]byte, 0, totalSize)
	out = append(out, rest[:local]...)

	if overflow == 0 {
		return out, nil
	}
	if len(rest) < local+4 {
		return nil, newErr(ErrCorruptFile, "assemblePayload", "missing overflow page pointer", nil)
	}
	nextPage := PageID(binary.BigEndian.Uint32(rest[local : local+4]))
	remaining := overflow
	perPage := c.usableSize - 4
	for remaining > 0 && nextPage != 0 {
		page, err := c.pager.ReadPage(nextPage)
		if err != nil {
			return nil, err
		}
		if len(page) < 4 {
			return nil, newErr(ErrCorruptFile, "assemblePayload", "truncated overflow page", nil)
		}
		nextPage = PageID(binary.BigEndian.Uint32(page[0:4]))
		take := remaining
		if take > perPage {
			take = perPage
		}
		if 4+take > len(page) {
			return nil, newErr(ErrCorruptFile, "assemblePayload", "overflow page short", nil)
		}
		out = append(out, page[4:4+take]...)
		remaining -= take
	}
	if remaining > 0 {
		return nil, newErr(ErrCorruptFile, "assemblePayload", "overflow chain ended early", nil)
	}
	return out, nil
}
