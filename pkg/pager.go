package sharc

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/sharc-db/sharc/pkg/metrics"
)

var (
	metricCacheHits   = metrics.Default.Counter("pager_cache_hits")
	metricCacheMisses = metrics.Default.Counter("pager_cache_misses")
	metricCommits     = metrics.Default.Counter("pager_commits")
	metricRollbacks   = metrics.Default.Counter("pager_rollbacks")
)

// freelistTrunkHeaderSize is the 8-byte trunk-page prefix: next-trunk page
// number followed by a count of leaf pointers that follow it.
const freelistTrunkHeaderSize = 8

// Pager is the single owner of page identity: every read and write of the
// underlying PageSource passes through it, so it is the one place that
// knows which pages are dirty, which are free, and what the committed
// header looks like. It layers an ARC cache and an optional encryption
// Transform over a PageSource.
type Pager struct {
	mu sync.Mutex

	source    PageSource
	transform Transform
	cache     *arcCache

	header *DatabaseHeader

	inTxn     bool
	dirty     map[PageID]Page
	preimages map[PageID]Page // pre-transaction snapshot, for Rollback
	allocated map[PageID]bool // pages newly grown this transaction

	headerDigest     [32]byte // BLAKE3 of the last page-1 header observed via readThroughTransform
	haveHeaderDigest bool

	closed bool
}

// checkOpenLocked returns *ErrObjectDisposed if the pager has already been
// closed; call it first thing in any locked method that touches the
// underlying PageSource.
func (p *Pager) checkOpenLocked(op string) error {
	if p.closed {
		return newErr(ErrObjectDisposed, op, "pager is closed", nil)
	}
	return nil
}

// PagerOptions configures a new Pager.
type PagerOptions struct {
	Source    PageSource
	Transform Transform
	CacheSize int // number of pages held resident; 0 uses a sane default

	// PageSize is the logical (pre-transform) page size to initialize a
	// brand-new database header with. When zero, OpenPager falls back to
	// Source.PageSize(), which is only correct when Source's page slots
	// are untransformed (NoopTransform); callers installing a real
	// Transform against a fresh file must set this explicitly, since
	// Source.PageSize() there reports the larger on-disk slot size.
	PageSize uint32
}

const defaultCachePages = 2000

// OpenPager constructs a Pager over an already-open PageSource, reading the
// database header from page 1 or, for an empty source, initializing page 1
// with a fresh header and an empty sqlite_schema leaf.
func OpenPager(opts PagerOptions) (*Pager, error) {
	if opts.Transform == nil {
		opts.Transform = NoopTransform{}
	}
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCachePages
	}
	p := &Pager{
		source:    opts.Source,
		transform: opts.Transform,
		cache:     newARCCache(cacheSize),
	}

	if opts.Source.PageCount() == 0 {
		pageSize := opts.PageSize
		if pageSize == 0 {
			pageSize = opts.Source.PageSize()
		}
		p.header = DefaultDatabaseHeader(pageSize)
		if _, err := opts.Source.Grow(); err != nil {
			return nil, err
		}
		page := make(Page, pageSize)
		copy(page, p.header.Bytes())
		// Page 1 also roots sqlite_schema: start it as an empty table leaf
		// whose cell content area begins at the end of the page.
		page[HeaderSize] = nodeLeafTable
		binary.BigEndian.PutUint16(page[HeaderSize+5:HeaderSize+7], uint16(pageSize))
		cipherBytes, err := opts.Transform.TransformWrite(1, page)
		if err != nil {
			return nil, err
		}
		if err := opts.Source.WritePage(1, cipherBytes); err != nil {
			return nil, err
		}
		return p, nil
	}

	page1, err := p.readThroughTransform(1)
	if err != nil {
		return nil, err
	}
	h, _, err := ParseDatabaseHeader(page1)
	if err != nil {
		return nil, err
	}
	p.header = h
	return p, nil
}

// Header returns the current (possibly in-flight) database header.
func (p *Pager) Header() *DatabaseHeader {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := *p.header
	return &h
}

func (p *Pager) readThroughTransform(id PageID) (Page, error) {
	raw, err := p.source.ReadPage(id)
	if err != nil {
		return nil, err
	}
	plain, err := p.transform.TransformRead(id, raw)
	if err != nil {
		return nil, err
	}
	if id == 1 {
		p.checkHeaderTornWrite(plain)
	}
	return plain, nil
}

// checkHeaderTornWrite compares the just-read page-1 header against the
// last observed digest, flagging a suspected torn write (spec §9 OQ2) on a
// file-backed source. MemorySource readers never hit this: every in-process
// mutation goes through BeginMutation/Commit, so nothing outside this pager
// could have produced an unexpected header between reads.
func (p *Pager) checkHeaderTornWrite(page Page) {
	if len(page) < HeaderSize || p.source.DataVersion() != 0 {
		return
	}
	digest := blake3.Sum256(page[:HeaderSize])
	if p.haveHeaderDigest && digest != p.headerDigest {
		logEvent("warn", "pager", "HeaderTornWrite", zap.String("digest", fmt.Sprintf("%x", digest)))
	}
	p.headerDigest = digest
	p.haveHeaderDigest = true
}

// ReadPage returns a read-only view of page id, satisfying it from the
// in-flight dirty set, the ARC cache, or the underlying source in that
// order.
func (p *Pager) ReadPage(id PageID) (Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readPageLocked(id)
}

func (p *Pager) readPageLocked(id PageID) (Page, error) {
	if err := p.checkOpenLocked("ReadPage"); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, newErr(ErrInvalidArgument, "ReadPage", "page 0 is invalid", nil)
	}
	if page, ok := p.dirty[id]; ok {
		return page, nil
	}
	if page, ok := p.cache.get(id); ok {
		metricCacheHits.Inc()
		return page, nil
	}
	metricCacheMisses.Inc()
	page, err := p.readThroughTransform(id)
	if err != nil {
		return nil, err
	}
	p.cache.put(id, page)
	return page, nil
}

// BeginMutation starts (if not already open) an in-process transaction and
// returns a private, copy-on-write buffer for page id that the caller may
// freely mutate; the change is not visible to the PageSource until Commit.
func (p *Pager) BeginMutation(id PageID) (Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked("BeginMutation"); err != nil {
		return nil, err
	}
	p.ensureTxnLocked()

	if page, ok := p.dirty[id]; ok {
		return page, nil
	}
	orig, err := p.readPageLocked(id)
	if err != nil {
		return nil, err
	}
	if _, ok := p.preimages[id]; !ok {
		snap := make(Page, len(orig))
		copy(snap, orig)
		p.preimages[id] = snap
	}
	cp := make(Page, len(orig))
	copy(cp, orig)
	p.dirty[id] = cp
	return cp, nil
}

func (p *Pager) ensureTxnLocked() {
	if p.inTxn {
		return
	}
	p.inTxn = true
	p.dirty = make(map[PageID]Page)
	p.preimages = make(map[PageID]Page)
	p.allocated = make(map[PageID]bool)
}

// AllocatePage returns a fresh, zeroed page for the caller to populate,
// preferring a page recycled from the freelist over growing the file. The
// returned page is already registered as a dirty mutation.
func (p *Pager) AllocatePage() (PageID, Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked("AllocatePage"); err != nil {
		return 0, nil, err
	}
	p.ensureTxnLocked()

	if p.header.FreelistPageCount > 0 {
		id, err := p.popFreelistLocked()
		if err != nil {
			return 0, nil, err
		}
		page := make(Page, p.header.PageSize)
		p.dirty[id] = page
		if _, ok := p.preimages[id]; !ok {
			orig, err := p.readPageLocked(id)
			if err == nil {
				snap := make(Page, len(orig))
				copy(snap, orig)
				p.preimages[id] = snap
			}
		}
		return id, page, nil
	}

	id, err := p.source.Grow()
	if err != nil {
		return 0, nil, err
	}
	page := make(Page, p.header.PageSize)
	p.dirty[id] = page
	p.allocated[id] = true
	p.header.DatabaseSizePages = uint32(id)
	return id, page, nil
}

// FreePage returns page id to the freelist, pushing it onto the current
// trunk or, if the trunk is full, turning id itself into the new trunk.
func (p *Pager) FreePage(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked("FreePage"); err != nil {
		return err
	}
	p.ensureTxnLocked()
	p.cache.invalidate(id)

	capacity := int(p.header.PageSize-freelistTrunkHeaderSize) / 4

	if p.header.FirstFreelistTrunk == 0 {
		trunk := make(Page, p.header.PageSize)
		binary.BigEndian.PutUint32(trunk[0:4], 0)
		binary.BigEndian.PutUint32(trunk[4:8], 0)
		p.dirty[id] = trunk
		p.header.FirstFreelistTrunk = uint32(id)
		p.header.FreelistPageCount++
		return nil
	}

	trunkID := PageID(p.header.FirstFreelistTrunk)
	trunk, err := p.beginMutationLocked(trunkID)
	if err != nil {
		return err
	}
	count := int(binary.BigEndian.Uint32(trunk[4:8]))
	if count < capacity {
		binary.BigEndian.PutUint32(trunk[freelistTrunkHeaderSize+count*4:freelistTrunkHeaderSize+count*4+4], uint32(id))
		binary.BigEndian.PutUint32(trunk[4:8], uint32(count+1))
		p.header.FreelistPageCount++
		return nil
	}

	newTrunk := make(Page, p.header.PageSize)
	binary.BigEndian.PutUint32(newTrunk[0:4], uint32(trunkID))
	binary.BigEndian.PutUint32(newTrunk[4:8], 0)
	p.dirty[id] = newTrunk
	p.header.FirstFreelistTrunk = uint32(id)
	p.header.FreelistPageCount++
	return nil
}

func (p *Pager) beginMutationLocked(id PageID) (Page, error) {
	if page, ok := p.dirty[id]; ok {
		return page, nil
	}
	orig, err := p.readPageLocked(id)
	if err != nil {
		return nil, err
	}
	if _, ok := p.preimages[id]; !ok {
		snap := make(Page, len(orig))
		copy(snap, orig)
		p.preimages[id] = snap
	}
	cp := make(Page, len(orig))
	copy(cp, orig)
	p.dirty[id] = cp
	return cp, nil
}

// popFreelistLocked pops the most recently freed page off the current
// trunk (LIFO), recycling the trunk itself when it runs out of leaves.
func (p *Pager) popFreelistLocked() (PageID, error) {
	trunkID := PageID(p.header.FirstFreelistTrunk)
	trunk, err := p.beginMutationLocked(trunkID)
	if err != nil {
		return 0, err
	}
	next := binary.BigEndian.Uint32(trunk[0:4])
	count := int(binary.BigEndian.Uint32(trunk[4:8]))

	if count == 0 {
		p.header.FirstFreelistTrunk = next
		p.header.FreelistPageCount--
		delete(p.dirty, trunkID)
		return trunkID, nil
	}

	leafID := PageID(binary.BigEndian.Uint32(trunk[freelistTrunkHeaderSize+(count-1)*4 : freelistTrunkHeaderSize+count*4]))
	binary.BigEndian.PutUint32(trunk[4:8], uint32(count-1))
	p.header.FreelistPageCount--
	p.cache.invalidate(leafID)
	return leafID, nil
}

// Commit flushes every dirty page to the PageSource in ascending page
// order, bumps the header's change counter, and writes the header last so
// a crash mid-flush never leaves a header claiming a state the data pages
// don't back up.
func (p *Pager) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked("Commit"); err != nil {
		return err
	}
	if !p.inTxn {
		return nil
	}

	p.header.ChangeCounter++
	p.header.VersionValidFor = p.header.ChangeCounter

	ids := make([]PageID, 0, len(p.dirty))
	for id := range p.dirty {
		if id == 1 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := p.flushPageLocked(id, p.dirty[id]); err != nil {
			return err
		}
	}

	headerPage, ok := p.dirty[1]
	if !ok {
		hp, err := p.readPageLocked(1)
		if err != nil {
			return err
		}
		headerPage = make(Page, len(hp))
		copy(headerPage, hp)
	}
	copy(headerPage, p.header.Bytes())
	if err := p.flushPageLocked(1, headerPage); err != nil {
		return err
	}

	if err := p.source.Flush(); err != nil {
		return newErr(ErrInvalidOperation, "Commit", "flush page source", err)
	}

	p.endTxnLocked()
	metricCommits.Inc()
	return nil
}

func (p *Pager) flushPageLocked(id PageID, page Page) error {
	cipherBytes, err := p.transform.TransformWrite(id, page)
	if err != nil {
		return err
	}
	if err := p.source.WritePage(id, cipherBytes); err != nil {
		return err
	}
	p.cache.put(id, page)
	return nil
}

// Rollback discards every mutation made since the last Commit, reverting
// the page cache to the pre-transaction snapshot and truncating away any
// pages grown during the failed transaction.
func (p *Pager) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked("Rollback"); err != nil {
		return err
	}
	if !p.inTxn {
		return nil
	}

	for id, snap := range p.preimages {
		p.cache.put(id, snap)
	}
	for id := range p.allocated {
		p.cache.invalidate(id)
	}

	if len(p.allocated) > 0 {
		minGrown := PageID(0)
		for id := range p.allocated {
			if minGrown == 0 || id < minGrown {
				minGrown = id
			}
		}
		if err := p.source.Truncate(uint32(minGrown - 1)); err != nil {
			return newErr(ErrJournalReplayFailed, "Rollback", "truncate grown pages", err)
		}
	}

	page1, err := p.readThroughTransform(1)
	if err == nil {
		if h, _, perr := ParseDatabaseHeader(page1); perr == nil {
			p.header = h
		}
	}

	p.endTxnLocked()
	metricRollbacks.Inc()
	return nil
}

func (p *Pager) endTxnLocked() {
	p.inTxn = false
	p.dirty = nil
	p.preimages = nil
	p.allocated = nil
}

// BumpSchemaCookie increments the header's schema cookie, invalidating any
// Schema cache keyed off its previous value. Callers that add or remove a
// sqlite_schema row must call this so readers notice the catalog changed.
func (p *Pager) BumpSchemaCookie() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureTxnLocked()
	p.header.SchemaCookie++
}

// InTransaction reports whether a mutation is currently open.
func (p *Pager) InTransaction() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inTxn
}

// PageCount returns the database's current page count, including any pages
// allocated (but not yet committed) in the open transaction.
func (p *Pager) PageCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header.DatabaseSizePages
}

func (p *Pager) PageSize() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header.PageSize
}

// Close releases the underlying PageSource. Any later operation against
// this pager fails with *ErrObjectDisposed rather than touching a source
// that may have already released its file handle or lock.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return newErr(ErrObjectDisposed, "Close", "pager already closed", nil)
	}
	p.closed = true
	return p.source.Close()
}
