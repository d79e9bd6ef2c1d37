package sharc

import (
	"encoding/binary"
)

// AgentsTableName is the reserved system table backing the agent registry
// (spec §3 Trust ledger entities).
const AgentsTableName = "_sharc_agents"

// Algorithm identifies which signature scheme an agent's Signature column
// was produced with; mixing algorithms within one ledger chain is allowed
// (spec §4.H).
type Algorithm int64

const (
	AlgorithmHMAC      Algorithm = 0 // symmetric MAC, pre-shared key per agent
	AlgorithmECDSAP256 Algorithm = 1
)

// AgentInfo is the decoded form of one _sharc_agents row.
type AgentInfo struct {
	AgentID          string
	Class            int64
	PublicKey        []byte
	AuthorityCeiling int64
	WriteScope       string
	ReadScope        string
	ValidityStart    int64
	ValidityEnd      int64
	ParentAgent      string
	CoSignRequired   int64
	Signature        []byte
	Algorithm        Algorithm
}

// Fixed column order for the reserved agents table; RegisterAgent and
// GetAgent both depend on this exact layout.
const (
	agentColAgentID          = 0
	agentColClass            = 1
	agentColPublicKey        = 2
	agentColAuthorityCeiling = 3
	agentColWriteScope       = 4
	agentColReadScope        = 5
	agentColValidityStart    = 6
	agentColValidityEnd      = 7
	agentColParentAgent      = 8
	agentColCoSignRequired   = 9
	agentColSignature        = 10
	agentColAlgorithm        = 11
)

// AgentRegistry is the public-key directory backing trust-ledger signature
// verification (spec §4.I).
type AgentRegistry struct {
	pager  *Pager
	schema *Schema
	writer *Writer
	table  *TableDef

	lastFound *AgentInfo // scratch slot findRowID fills in, read back by GetAgent
}

// NewAgentRegistry constructs a registry view over the given writer/schema.
func NewAgentRegistry(pager *Pager, schema *Schema, writer *Writer) *AgentRegistry {
	return &AgentRegistry{pager: pager, schema: schema, writer: writer}
}

// ensureTable resolves (creating if absent) the reserved _sharc_agents
// table.
func (r *AgentRegistry) ensureTable() (*TableDef, error) {
	if r.table != nil {
		return r.table, nil
	}
	if err := r.schema.Load(); err != nil {
		return nil, err
	}
	if t, err := r.schema.Table(AgentsTableName); err == nil {
		r.table = t
		return t, nil
	}
	t, err := r.writer.CreateTable(AgentsTableName, []Column{
		{Name: "AgentId", Affinity: AffinityText, PrimaryKey: true},
		{Name: "Class", Affinity: AffinityInteger},
		{Name: "PublicKey", Affinity: AffinityBlob},
		{Name: "AuthorityCeiling", Affinity: AffinityInteger},
		{Name: "WriteScope", Affinity: AffinityText},
		{Name: "ReadScope", Affinity: AffinityText},
		{Name: "ValidityStart", Affinity: AffinityInteger},
		{Name: "ValidityEnd", Affinity: AffinityInteger},
		{Name: "ParentAgent", Affinity: AffinityText},
		{Name: "CoSignRequired", Affinity: AffinityInteger},
		{Name: "Signature", Affinity: AffinityBlob},
		{Name: "Algorithm", Affinity: AffinityInteger},
	})
	if err != nil {
		return nil, err
	}
	r.table = t
	return t, nil
}

// canonicalAgentBuffer builds the fixed-order verification buffer
// (spec §4.I): AgentId || Class || PublicKey || AuthorityCeiling ||
// WriteScope || ReadScope || ValidityStart || ValidityEnd || ParentAgent ||
// CoSignRequired, integers big-endian, strings UTF-8.
func canonicalAgentBuffer(info AgentInfo) []byte {
	var buf []byte
	buf = append(buf, []byte(info.AgentID)...)
	buf = appendInt64(buf, info.Class)
	buf = append(buf, info.PublicKey...)
	buf = appendInt64(buf, info.AuthorityCeiling)
	buf = append(buf, []byte(info.WriteScope)...)
	buf = append(buf, []byte(info.ReadScope)...)
	buf = appendInt64(buf, info.ValidityStart)
	buf = appendInt64(buf, info.ValidityEnd)
	buf = append(buf, []byte(info.ParentAgent)...)
	buf = appendInt64(buf, info.CoSignRequired)
	return buf
}

func appendInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}

// verifySignature checks signature against preimage using publicKey under
// algorithm, the common primitive both RegisterAgent's self-signature check
// and Ledger.VerifyIntegrity's per-entry check reduce to. Algorithms other
// than ECDSA P-256 are treated as the default symmetric MAC, matching
// GetAgent's documented default when the Algorithm column is absent.
func verifySignature(algorithm Algorithm, agentID string, publicKey, preimage, signature []byte) bool {
	switch algorithm {
	case AlgorithmECDSAP256:
		return VerifyWithPublicKey(publicKey, preimage, signature)
	default:
		mac := NewHMACSigner(agentID, publicKey)
		return mac.Verify(preimage, signature)
	}
}

func verifyAgentSignature(info AgentInfo, preimage []byte) bool {
	return verifySignature(info.Algorithm, info.AgentID, info.PublicKey, preimage, info.Signature)
}

// RegisterAgent verifies info's self-signature against its own enclosed
// public key, then upserts the row into _sharc_agents keyed by AgentId.
func (r *AgentRegistry) RegisterAgent(info AgentInfo) error {
	preimage := canonicalAgentBuffer(info)
	if !verifyAgentSignature(info, preimage) {
		return newErr(ErrInvalidSignature, "RegisterAgent", "agent self-signature does not verify", nil)
	}

	table, err := r.ensureTable()
	if err != nil {
		return err
	}
	values := agentToValues(info)

	existingRowID, found, err := r.findRowID(table, info.AgentID)
	if err != nil {
		return err
	}
	if found {
		return r.writer.Update(table, existingRowID, values)
	}
	rowID, err := r.writer.NextRowID(table.RootPage)
	if err != nil {
		return err
	}
	return r.writer.Insert(table, rowID, values)
}

// GetAgent returns the decoded registry entry for id, or *ErrNotFound.
func (r *AgentRegistry) GetAgent(id string) (*AgentInfo, error) {
	table, err := r.ensureTable()
	if err != nil {
		return nil, err
	}
	_, found, err := r.findRowID(table, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, newErr(ErrNotFound, "GetAgent", "no such agent: "+id, nil)
	}
	return r.lastFound, nil
}

func (r *AgentRegistry) findRowID(table *TableDef, agentID string) (int64, bool, error) {
	cursor := NewCursor(r.pager, table.RootPage, false)
	ok, err := cursor.First()
	if err != nil {
		return 0, false, err
	}
	for ok {
		cell := cursor.Current()
		values, err := DecodeRecord(cell.Payload)
		if err != nil {
			return 0, false, err
		}
		if len(values) > agentColAgentID && values[agentColAgentID].Text == agentID {
			r.lastFound = valuesToAgent(values)
			return cell.RowID, true, nil
		}
		ok, err = cursor.Next()
		if err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

func agentToValues(info AgentInfo) []Value {
	return []Value{
		TextValue(info.AgentID),
		IntValue(info.Class),
		BlobValue(info.PublicKey),
		IntValue(info.AuthorityCeiling),
		TextValue(info.WriteScope),
		TextValue(info.ReadScope),
		IntValue(info.ValidityStart),
		IntValue(info.ValidityEnd),
		TextValue(info.ParentAgent),
		IntValue(info.CoSignRequired),
		BlobValue(info.Signature),
		IntValue(int64(info.Algorithm)),
	}
}

func valuesToAgent(values []Value) *AgentInfo {
	info := &AgentInfo{
		AgentID:          values[agentColAgentID].Text,
		Class:            values[agentColClass].Int,
		PublicKey:        values[agentColPublicKey].Blob,
		AuthorityCeiling: values[agentColAuthorityCeiling].Int,
		WriteScope:       values[agentColWriteScope].Text,
		ReadScope:        values[agentColReadScope].Text,
		ValidityStart:    values[agentColValidityStart].Int,
		ValidityEnd:      values[agentColValidityEnd].Int,
		ParentAgent:      values[agentColParentAgent].Text,
		CoSignRequired:   values[agentColCoSignRequired].Int,
		Signature:        values[agentColSignature].Blob,
		Algorithm:        AlgorithmHMAC,
	}
	if len(values) > agentColAlgorithm {
		info.Algorithm = Algorithm(values[agentColAlgorithm].Int)
	}
	return info
}
