package sharc

import (
	"bytes"

	"github.com/zeebo/blake3"

	"github.com/sharc-db/sharc/pkg/metrics"
)

var (
	metricLedgerAppends       = metrics.Default.Counter("ledger_appends")
	metricLedgerVerifications = metrics.Default.Counter("ledger_verifications")
	metricLedgerTamperHits    = metrics.Default.Counter("ledger_tamper_detected")
)

// LedgerTableName is the reserved system table backing the trust ledger
// (spec §3 Trust ledger entities).
const LedgerTableName = "_sharc_ledger"

// Fixed column order for the reserved ledger table.
const (
	ledgerColSequenceNumber = 0
	ledgerColTimestamp      = 1
	ledgerColAgentID        = 2
	ledgerColPayload        = 3
	ledgerColPayloadHash    = 4
	ledgerColPreviousHash   = 5
	ledgerColSignature      = 6
)

const hashSize = 32 // blake3.Sum256 digest width

// LedgerEntry is one decoded row of the hash-chained trust ledger.
type LedgerEntry struct {
	SequenceNumber int64
	Timestamp      int64
	AgentID        string
	Payload        []byte
	PayloadHash    []byte
	PreviousHash   []byte
	Signature      []byte
}

// Ledger is the append-only, hash-chained, signed trust ledger (spec §4.H).
// Every entry's PayloadHash chains into the next entry's PreviousHash, and
// the whole chain is anchored to signatures verified against the agent
// registry.
type Ledger struct {
	pager  *Pager
	schema *Schema
	writer *Writer
	agents *AgentRegistry
	table  *TableDef
}

// NewLedger constructs a ledger view. agents supplies the public keys
// VerifyIntegrity checks signatures against.
func NewLedger(pager *Pager, schema *Schema, writer *Writer, agents *AgentRegistry) *Ledger {
	return &Ledger{pager: pager, schema: schema, writer: writer, agents: agents}
}

func (l *Ledger) ensureTable() (*TableDef, error) {
	if l.table != nil {
		return l.table, nil
	}
	if err := l.schema.Load(); err != nil {
		return nil, err
	}
	if t, err := l.schema.Table(LedgerTableName); err == nil {
		l.table = t
		return t, nil
	}
	t, err := l.writer.CreateTable(LedgerTableName, []Column{
		{Name: "SequenceNumber", Affinity: AffinityInteger, PrimaryKey: true},
		{Name: "Timestamp", Affinity: AffinityInteger},
		{Name: "AgentId", Affinity: AffinityText},
		{Name: "Payload", Affinity: AffinityBlob},
		{Name: "PayloadHash", Affinity: AffinityBlob},
		{Name: "PreviousHash", Affinity: AffinityBlob},
		{Name: "Signature", Affinity: AffinityBlob},
	})
	if err != nil {
		return nil, err
	}
	l.table = t
	return t, nil
}

// buildLedgerPreimage forms SequenceNumber || Timestamp || AgentId ||
// PayloadHash || PreviousHash exactly as spec §4.H prescribes.
func buildLedgerPreimage(seq, timestamp int64, agentID string, payloadHash, previousHash []byte) []byte {
	var buf []byte
	buf = appendInt64(buf, seq)
	buf = appendInt64(buf, timestamp)
	buf = append(buf, []byte(agentID)...)
	buf = append(buf, payloadHash...)
	buf = append(buf, previousHash...)
	return buf
}

// lastEntry returns the highest-sequence row currently in the ledger, or
// (nil, false) if the ledger is empty.
func (l *Ledger) lastEntry(table *TableDef) (*LedgerEntry, bool, error) {
	cursor := NewCursor(l.pager, table.RootPage, false)
	ok, err := cursor.Last()
	if err != nil || !ok {
		return nil, false, err
	}
	values, err := DecodeRecord(cursor.Current().Payload)
	if err != nil {
		return nil, false, err
	}
	return decodeLedgerEntry(values), true, nil
}

func decodeLedgerEntry(values []Value) *LedgerEntry {
	return &LedgerEntry{
		SequenceNumber: values[ledgerColSequenceNumber].Int,
		Timestamp:      values[ledgerColTimestamp].Int,
		AgentID:        values[ledgerColAgentID].Text,
		Payload:        values[ledgerColPayload].Blob,
		PayloadHash:    values[ledgerColPayloadHash].Blob,
		PreviousHash:   values[ledgerColPreviousHash].Blob,
		Signature:      values[ledgerColSignature].Blob,
	}
}

func ledgerEntryValues(e *LedgerEntry) []Value {
	return []Value{
		IntValue(e.SequenceNumber),
		IntValue(e.Timestamp),
		TextValue(e.AgentID),
		BlobValue(e.Payload),
		BlobValue(e.PayloadHash),
		BlobValue(e.PreviousHash),
		BlobValue(e.Signature),
	}
}

// Append adds one entry to the ledger: hashes payload, chains it to the
// previous entry's PayloadHash (the all-zero hash if the ledger is empty),
// signs the result with signer, and inserts the row in a single
// transaction (spec §4.H Append).
func (l *Ledger) Append(payload []byte, signer Signer, timestamp int64) (*LedgerEntry, error) {
	table, err := l.ensureTable()
	if err != nil {
		return nil, err
	}

	var previousHash [hashSize]byte
	seq := int64(1)
	if prev, ok, err := l.lastEntry(table); err != nil {
		return nil, err
	} else if ok {
		copy(previousHash[:], prev.PayloadHash)
		seq = prev.SequenceNumber + 1
	}

	payloadHash := blake3.Sum256(payload)
	preimage := buildLedgerPreimage(seq, timestamp, signer.AgentID(), payloadHash[:], previousHash[:])
	signature, err := signer.Sign(preimage)
	if err != nil {
		return nil, newErr(ErrInvalidOperation, "Ledger.Append", "sign entry", err)
	}

	entry := &LedgerEntry{
		SequenceNumber: seq,
		Timestamp:      timestamp,
		AgentID:        signer.AgentID(),
		Payload:        payload,
		PayloadHash:    payloadHash[:],
		PreviousHash:   previousHash[:],
		Signature:      signature,
	}
	if err := l.writer.Insert(table, seq, ledgerEntryValues(entry)); err != nil {
		return nil, err
	}
	metricLedgerAppends.Inc()
	return entry, nil
}

// AppendBatch appends entries sequentially under the same signer, mirroring
// Writer.InsertBatch (spec SUPPLEMENTED FEATURES): no special batching of
// pages beyond what Append already does per call.
func (l *Ledger) AppendBatch(payloads [][]byte, signer Signer, timestamps []int64) ([]*LedgerEntry, error) {
	if len(payloads) != len(timestamps) {
		return nil, newErr(ErrInvalidArgument, "AppendBatch", "payloads and timestamps length mismatch", nil)
	}
	entries := make([]*LedgerEntry, len(payloads))
	for i, payload := range payloads {
		entry, err := l.Append(payload, signer, timestamps[i])
		if err != nil {
			return nil, err
		}
		entries[i] = entry
	}
	return entries, nil
}

// VerifyIntegrity walks the chain from sequence 1 upward, recomputing each
// entry's PayloadHash, checking it chains from the previous entry's stored
// hash, and verifying Signature against the registered agent's public key
// under its declared algorithm (spec §4.H Verify integrity). It returns
// false, rather than an error, on any tamper or verification failure;
// malformed storage (corrupt records) still surfaces as an error.
func (l *Ledger) VerifyIntegrity() (bool, error) {
	table, err := l.ensureTable()
	if err != nil {
		return false, err
	}
	metricLedgerVerifications.Inc()
	cursor := NewCursor(l.pager, table.RootPage, false)
	ok, err := cursor.First()
	if err != nil {
		return false, err
	}

	var previousHash [hashSize]byte
	for ok {
		values, err := DecodeRecord(cursor.Current().Payload)
		if err != nil {
			return false, err
		}
		entry := decodeLedgerEntry(values)

		computedHash := blake3.Sum256(entry.Payload)
		if !bytes.Equal(computedHash[:], entry.PayloadHash) {
			metricLedgerTamperHits.Inc()
			return false, nil
		}
		if !bytes.Equal(previousHash[:], entry.PreviousHash) {
			metricLedgerTamperHits.Inc()
			return false, nil
		}

		agent, err := l.agents.GetAgent(entry.AgentID)
		if err != nil {
			metricLedgerTamperHits.Inc()
			return false, nil
		}
		preimage := buildLedgerPreimage(entry.SequenceNumber, entry.Timestamp, entry.AgentID, entry.PayloadHash, entry.PreviousHash)
		if !verifySignature(agent.Algorithm, agent.AgentID, agent.PublicKey, preimage, entry.Signature) {
			metricLedgerTamperHits.Inc()
			return false, nil
		}

		copy(previousHash[:], entry.PayloadHash)
		ok, err = cursor.Next()
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// ExportDeltas returns the raw, still-encoded record bytes for every ledger
// row with SequenceNumber >= since, in order (spec §4.H ExportDeltas).
// Callers decode columns with DecodeRecord themselves.
func (l *Ledger) ExportDeltas(since int64) ([][]byte, error) {
	table, err := l.ensureTable()
	if err != nil {
		return nil, err
	}
	cursor := NewCursor(l.pager, table.RootPage, false)
	ok, err := cursor.Seek(since)
	if err != nil {
		return nil, err
	}

	var out [][]byte
	for ok {
		cell := cursor.Current()
		raw := make([]byte, len(cell.Payload))
		copy(raw, cell.Payload)
		out = append(out, raw)
		ok, err = cursor.Next()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
