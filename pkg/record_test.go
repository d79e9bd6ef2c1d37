package sharc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	cases := [][]Value{
		{NullValue()},
		{IntValue(0), IntValue(1), IntValue(-1)},
		{IntValue(127), IntValue(-128), IntValue(32767), IntValue(-32768)},
		{IntValue(1 << 40), IntValue(-(1 << 40))},
		{RealValue(3.14159), RealValue(-0.0)},
		{BlobValue([]byte("hello world")), BlobValue(nil), BlobValue([]byte{})},
		{TextValue("héllo"), TextValue("")},
		{IntValue(5), TextValue("mixed"), NullValue(), BlobValue([]byte{1, 2, 3}), RealValue(2.5)},
	}
	for i, values := range cases {
		encoded := EncodeRecord(values)
		decoded, err := DecodeRecord(encoded)
		require.NoErrorf(t, err, "case %d", i)
		require.Lenf(t, decoded, len(values), "case %d", i)
		for j, v := range values {
			got := decoded[j]
			require.Equalf(t, v.Kind, got.Kind, "case %d col %d", i, j)
			switch v.Kind {
			case KindInt:
				require.Equalf(t, v.Int, got.Int, "case %d col %d", i, j)
			case KindReal:
				require.Equalf(t, v.Real, got.Real, "case %d col %d", i, j)
			case KindBlob:
				require.Equalf(t, len(v.Blob), len(got.Blob), "case %d col %d", i, j)
			case KindText:
				require.Equalf(t, v.Text, got.Text, "case %d col %d", i, j)
			}
		}
	}
}

func TestRecordEmptyPayload(t *testing.T) {
	decoded, err := DecodeRecord(nil)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestRecordDecodeTruncated(t *testing.T) {
	encoded := EncodeRecord([]Value{TextValue("this is a reasonably long string")})
	_, err := DecodeRecord(encoded[:len(encoded)-5])
	require.Error(t, err)
	require.Equal(t, ErrCorruptFile, Kind(err))
}

func TestSerialTypeChoosesSmallestWidth(t *testing.T) {
	code, blen := serialTypeFor(IntValue(0))
	require.EqualValues(t, serialZero, code)
	require.Equal(t, 0, blen)

	code, blen = serialTypeFor(IntValue(1))
	require.EqualValues(t, serialOne, code)
	require.Equal(t, 0, blen)

	code, blen = serialTypeFor(IntValue(200))
	require.EqualValues(t, serialInt16, code)
	require.Equal(t, 2, blen)

	code, blen = serialTypeFor(IntValue(1 << 62))
	require.EqualValues(t, serialInt64, code)
	require.Equal(t, 8, blen)
}

func TestGUIDSplitComposeRoundTrip(t *testing.T) {
	id := uuid.New()
	hi, lo := SplitGUID(id)
	got := ComposeGUID(hi, lo)
	require.Equal(t, id, got)
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 255, 16384, 1 << 28, 1 << 35, 1<<63 - 1, ^uint64(0)}
	for _, v := range values {
		buf := make([]byte, 9)
		n := putVarint(buf, v)
		require.Equal(t, varintLen(v), n)
		got, consumed := getVarint(buf[:n])
		require.Equal(t, n, consumed)
		require.Equal(t, v, got)
	}
}

func TestVarintTruncatedReturnsZeroConsumed(t *testing.T) {
	buf := make([]byte, 9)
	n := putVarint(buf, 1<<40)
	_, consumed := getVarint(buf[:n-1])
	require.Equal(t, 0, consumed)
}
