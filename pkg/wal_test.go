package sharc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildWALBytes(pageSize uint32, frames []walFrame) []byte {
	buf := make([]byte, walHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], walMagicBE)
	binary.BigEndian.PutUint32(buf[8:12], pageSize)

	for _, f := range frames {
		hdr := make([]byte, walFrameHdrSize)
		binary.BigEndian.PutUint32(hdr[0:4], uint32(f.page))
		binary.BigEndian.PutUint32(hdr[4:8], f.dbSize)
		buf = append(buf, hdr...)
		buf = append(buf, f.data...)
	}
	return buf
}

func TestParseWALReturnsFramesUpToHeaderInfo(t *testing.T) {
	pageSize := uint32(512)
	data1 := make([]byte, pageSize)
	copy(data1, []byte("page one v1"))
	raw := buildWALBytes(pageSize, []walFrame{
		{page: 1, dbSize: 0, data: data1},
	})

	frames, err := parseWAL(raw, pageSize)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.EqualValues(t, 1, frames[0].page)
}

func TestParseWALRejectsBadMagic(t *testing.T) {
	raw := make([]byte, walHeaderSize)
	_, err := parseWAL(raw, 512)
	require.Error(t, err)
	require.Equal(t, ErrCorruptFile, Kind(err))
}

func TestParseWALRejectsPageSizeMismatch(t *testing.T) {
	raw := buildWALBytes(512, nil)
	_, err := parseWAL(raw, 4096)
	require.Error(t, err)
	require.Equal(t, ErrCorruptFile, Kind(err))
}

func TestParseWALShortBufferReturnsNoFrames(t *testing.T) {
	frames, err := parseWAL([]byte{1, 2, 3}, 512)
	require.NoError(t, err)
	require.Nil(t, frames)
}

func TestWALOverlaySourceServesLatestCommittedFrame(t *testing.T) {
	pageSize := uint32(512)
	base := NewMemorySource(pageSize)
	_, err := base.Grow()
	require.NoError(t, err)
	original := make([]byte, pageSize)
	copy(original, []byte("from the main file"))
	require.NoError(t, base.WritePage(1, original))

	stale := make([]byte, pageSize)
	copy(stale, []byte("stale uncommitted frame"))
	fresh := make([]byte, pageSize)
	copy(fresh, []byte("committed wal frame"))

	raw := buildWALBytes(pageSize, []walFrame{
		{page: 1, dbSize: 0, data: stale},
		{page: 1, dbSize: 1, data: fresh}, // closes a transaction
	})

	overlay, err := NewWALOverlaySource(base, raw, false)
	require.NoError(t, err)
	require.True(t, overlay.HasLiveWAL())

	page, err := overlay.ReadPage(1)
	require.NoError(t, err)
	require.Equal(t, fresh, []byte(page))
}

func TestWALOverlaySourceIgnoresFramesAfterLastCommit(t *testing.T) {
	pageSize := uint32(512)
	base := NewMemorySource(pageSize)
	_, err := base.Grow()
	require.NoError(t, err)

	committed := make([]byte, pageSize)
	copy(committed, []byte("committed"))
	uncommittedTail := make([]byte, pageSize)
	copy(uncommittedTail, []byte("in-flight, not yet committed"))

	raw := buildWALBytes(pageSize, []walFrame{
		{page: 1, dbSize: 1, data: committed}, // commit boundary
		{page: 1, dbSize: 0, data: uncommittedTail},
	})

	overlay, err := NewWALOverlaySource(base, raw, false)
	require.NoError(t, err)

	page, err := overlay.ReadPage(1)
	require.NoError(t, err)
	require.Equal(t, committed, []byte(page))
}

func TestWALOverlaySourceFallsBackToBaseForUnshadowedPages(t *testing.T) {
	pageSize := uint32(512)
	base := NewMemorySource(pageSize)
	_, err := base.Grow()
	require.NoError(t, err)
	_, err = base.Grow()
	require.NoError(t, err)
	page2 := make([]byte, pageSize)
	copy(page2, []byte("page two, never touched by wal"))
	require.NoError(t, base.WritePage(2, page2))

	overlay, err := NewWALOverlaySource(base, nil, false)
	require.NoError(t, err)
	require.False(t, overlay.HasLiveWAL())

	got, err := overlay.ReadPage(2)
	require.NoError(t, err)
	require.Equal(t, page2, []byte(got))
}

func TestWALOverlaySourceRejectsWritesWhenWALIsLive(t *testing.T) {
	pageSize := uint32(512)
	base := NewMemorySource(pageSize)
	_, err := base.Grow()
	require.NoError(t, err)

	data := make([]byte, pageSize)
	raw := buildWALBytes(pageSize, []walFrame{{page: 1, dbSize: 1, data: data}})
	overlay, err := NewWALOverlaySource(base, raw, false)
	require.NoError(t, err)

	err = overlay.WritePage(1, data)
	require.Error(t, err)
	require.Equal(t, ErrInvalidOperation, Kind(err))
}

func TestWALOverlaySourceAllowsWritesWithExclusiveOwnership(t *testing.T) {
	pageSize := uint32(512)
	base := NewMemorySource(pageSize)
	_, err := base.Grow()
	require.NoError(t, err)

	data := make([]byte, pageSize)
	raw := buildWALBytes(pageSize, []walFrame{{page: 1, dbSize: 1, data: data}})
	overlay, err := NewWALOverlaySource(base, raw, true)
	require.NoError(t, err)

	newData := make([]byte, pageSize)
	copy(newData, []byte("overwritten with exclusive ownership"))
	require.NoError(t, overlay.WritePage(1, newData))
}
