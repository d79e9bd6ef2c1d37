package sharc

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// Serial type codes, per spec §3 Record. Types 0-9 and 12/13 are literal
// SQLite serial types; values >= 12 alternate even (blob) / odd (text) and
// encode a payload length directly in the code.
const (
	serialNull       = 0
	serialInt8       = 1
	serialInt16      = 2
	serialInt24      = 3
	serialInt32      = 4
	serialInt48      = 5
	serialInt64      = 6
	serialFloat64    = 7
	serialZero       = 8
	serialOne        = 9
	serialReserved10 = 10
	serialReserved11 = 11
)

// Value is a single decoded column value. Exactly one of the typed fields
// is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind
	Int  int64
	Real float64
	Blob []byte
	Text string
}

type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindReal
	KindBlob
	KindText
	// KindGUID is never stored directly (spec §3 Merged-GUID columns store
	// it as two physical INTEGER columns); it only appears in the logical
	// row a Schema's collapsed column list produces, composed from a
	// __hi/__lo pair by ComposeGUID.
	KindGUID
)

func NullValue() Value          { return Value{Kind: KindNull} }
func IntValue(v int64) Value    { return Value{Kind: KindInt, Int: v} }
func RealValue(v float64) Value { return Value{Kind: KindReal, Real: v} }
func BlobValue(b []byte) Value  { return Value{Kind: KindBlob, Blob: b} }
func TextValue(s string) Value  { return Value{Kind: KindText, Text: s} }

// GUIDValue wraps a composed uuid.UUID as a logical-row value; its 16 bytes
// are carried in Blob so callers can still treat it as raw bytes.
func GUIDValue(id uuid.UUID) Value {
	b := make([]byte, 16)
	copy(b, id[:])
	return Value{Kind: KindGUID, Blob: b}
}

// GUID returns v's bytes reinterpreted as a uuid.UUID; only meaningful when
// v.Kind == KindGUID.
func (v Value) GUID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], v.Blob)
	return id
}

// serialTypeFor returns the serial type code and encoded-body length for v.
func serialTypeFor(v Value) (code uint64, bodyLen int) {
	switch v.Kind {
	case KindNull:
		return serialNull, 0
	case KindInt:
		n := v.Int
		switch {
		case n == 0:
			return serialZero, 0
		case n == 1:
			return serialOne, 0
		case n >= -(1<<7) && n < 1<<7:
			return serialInt8, 1
		case n >= -(1<<15) && n < 1<<15:
			return serialInt16, 2
		case n >= -(1<<23) && n < 1<<23:
			return serialInt24, 3
		case n >= -(1<<31) && n < 1<<31:
			return serialInt32, 4
		case n >= -(1<<47) && n < 1<<47:
			return serialInt48, 6
		default:
			return serialInt64, 8
		}
	case KindReal:
		return serialFloat64, 8
	case KindBlob:
		return uint64(12+2*len(v.Blob)), len(v.Blob)
	case KindText:
		return uint64(13+2*len(v.Text)), len(v.Text)
	default:
		return serialNull, 0
	}
}

func encodeSerialBody(buf []byte, code uint64, v Value) int {
	switch code {
	case serialNull, serialZero, serialOne:
		return 0
	case serialInt8:
		buf[0] = byte(v.Int)
		return 1
	case serialInt16:
		binary.BigEndian.PutUint16(buf, uint16(v.Int))
		return 2
	case serialInt24:
		u := uint32(v.Int) & 0xffffff
		buf[0] = byte(u >> 16)
		buf[1] = byte(u >> 8)
		buf[2] = byte(u)
		return 3
	case serialInt32:
		binary.BigEndian.PutUint32(buf, uint32(v.Int))
		return 4
	case serialInt48:
		u := uint64(v.Int) & 0xffffffffffff
		for i := 0; i < 6; i++ {
			buf[i] = byte(u >> uint(40-8*i))
		}
		return 6
	case serialInt64:
		binary.BigEndian.PutUint64(buf, uint64(v.Int))
		return 8
	case serialFloat64:
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.Real))
		return 8
	default:
		if code >= 12 && code%2 == 0 {
			return copy(buf, v.Blob)
		}
		return copy(buf, []byte(v.Text))
	}
}

func decodeSerialBody(code uint64, body []byte) Value {
	switch code {
	case serialNull:
		return NullValue()
	case serialZero:
		return IntValue(0)
	case serialOne:
		return IntValue(1)
	case serialInt8:
		return IntValue(int64(int8(body[0])))
	case serialInt16:
		return IntValue(int64(int16(binary.BigEndian.Uint16(body))))
	case serialInt24:
		u := uint32(body[0])<<16 | uint32(body[1])<<8 | uint32(body[2])
		if u&0x800000 != 0 {
			u |= 0xff000000
		}
		return IntValue(int64(int32(u)))
	case serialInt32:
		return IntValue(int64(int32(binary.BigEndian.Uint32(body))))
	case serialInt48:
		var u uint64
		for i := 0; i < 6; i++ {
			u = u<<8 | uint64(body[i])
		}
		if u&0x800000000000 != 0 {
			u |= 0xffff000000000000
		}
		return IntValue(int64(u))
	case serialInt64:
		return IntValue(int64(binary.BigEndian.Uint64(body)))
	case serialFloat64:
		return RealValue(math.Float64frombits(binary.BigEndian.Uint64(body)))
	case serialReserved10, serialReserved11:
		return NullValue()
	default:
		if code >= 12 && code%2 == 0 {
			blen := int((code - 12) / 2)
			out := make([]byte, blen)
			copy(out, body[:blen])
			return BlobValue(out)
		}
		tlen := int((code - 13) / 2)
		return TextValue(string(body[:tlen]))
	}
}

// EncodeRecord serializes values into a record payload: a varint header
// length, a varint serial type per column, then the column bodies back to
// back, per spec §3 Record.
func EncodeRecord(values []Value) []byte {
	codes := make([]uint64, len(values))
	bodyLens := make([]int, len(values))
	headerBody := make([]byte, 0, len(values)*2)
	tmp := make([]byte, 9)
	for i, v := range values {
		code, blen := serialTypeFor(v)
		codes[i] = code
		bodyLens[i] = blen
		n := putVarint(tmp, code)
		headerBody = append(headerBody, tmp[:n]...)
	}

	// The header-length varint's own size is part of what it counts, so
	// solve for the fixed point: total = len(headerBody) + varintLen(total).
	headerLen := len(headerBody)
	total := headerLen + 1
	for {
		next := headerLen + varintLen(uint64(total))
		if next == total {
			break
		}
		total = next
	}

	out := make([]byte, 9)
	n := putVarint(out, uint64(total))
	out = out[:n]
	out = append(out, headerBody...)

	for i, v := range values {
		buf := make([]byte, bodyLens[i])
		encodeSerialBody(buf, codes[i], v)
		out = append(out, buf...)
	}
	return out
}

// DecodeRecord parses a record payload back into its column values.
func DecodeRecord(payload []byte) ([]Value, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	headerLen, n := getVarint(payload)
	if n == 0 || int(headerLen) > len(payload) {
		return nil, newErr(ErrCorruptFile, "DecodeRecord", "bad record header length", nil)
	}
	header := payload[n:headerLen]
	body := payload[headerLen:]

	var codes []uint64
	off := 0
	for off < len(header) {
		code, cn := getVarint(header[off:])
		if cn == 0 {
			return nil, newErr(ErrCorruptFile, "DecodeRecord", "truncated serial type", nil)
		}
		codes = append(codes, code)
		off += cn
	}

	values := make([]Value, len(codes))
	bodyOff := 0
	for i, code := range codes {
		blen := serialBodyLen(code)
		if bodyOff+blen > len(body) {
			return nil, newErr(ErrCorruptFile, "DecodeRecord", "record body truncated", nil)
		}
		values[i] = decodeSerialBody(code, body[bodyOff:bodyOff+blen])
		bodyOff += blen
	}
	return values, nil
}

func serialBodyLen(code uint64) int {
	switch code {
	case serialNull, serialZero, serialOne, serialReserved10, serialReserved11:
		return 0
	case serialInt8:
		return 1
	case serialInt16:
		return 2
	case serialInt24:
		return 3
	case serialInt32:
		return 4
	case serialInt48:
		return 6
	case serialInt64, serialFloat64:
		return 8
	default:
		if code >= 12 && code%2 == 0 {
			return int((code - 12) / 2)
		}
		return int((code - 13) / 2)
	}
}

// SplitGUID decomposes a uuid.UUID into the merged __hi/__lo int64 pair
// sharc stores GUID-affinity columns as (spec §3 GUID columns): the high 8
// bytes and low 8 bytes of the 16-byte UUID, each reinterpreted as a
// big-endian signed 64-bit integer.
func SplitGUID(id uuid.UUID) (hi, lo int64) {
	hi = int64(binary.BigEndian.Uint64(id[0:8]))
	lo = int64(binary.BigEndian.Uint64(id[8:16]))
	return hi, lo
}

// ComposeGUID reassembles a uuid.UUID from the stored __hi/__lo pair.
func ComposeGUID(hi, lo int64) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[0:8], uint64(hi))
	binary.BigEndian.PutUint64(id[8:16], uint64(lo))
	return id
}
