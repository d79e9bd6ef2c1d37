package sharc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func selfSignedHMACAgent(t *testing.T, agentID string, key []byte) AgentInfo {
	t.Helper()
	info := AgentInfo{
		AgentID:          agentID,
		Class:            1,
		PublicKey:        key,
		AuthorityCeiling: 10,
		WriteScope:       "widgets.*",
		ReadScope:        "*",
		ValidityStart:    0,
		ValidityEnd:      0,
		ParentAgent:      "",
		CoSignRequired:   0,
		Algorithm:        AlgorithmHMAC,
	}
	sig, err := NewHMACSigner(agentID, key).Sign(canonicalAgentBuffer(info))
	require.NoError(t, err)
	info.Signature = sig
	return info
}

func TestRegisterAndGetAgent(t *testing.T) {
	db := mustOpenMemory(t)
	info := selfSignedHMACAgent(t, "agent-writer", []byte("pre-shared-key"))

	require.NoError(t, db.Agents().RegisterAgent(info))
	require.NoError(t, db.Pager().Commit())

	got, err := db.Agents().GetAgent("agent-writer")
	require.NoError(t, err)
	require.Equal(t, info.AgentID, got.AgentID)
	require.Equal(t, info.WriteScope, got.WriteScope)
	require.Equal(t, info.AuthorityCeiling, got.AuthorityCeiling)
	require.Equal(t, AlgorithmHMAC, got.Algorithm)
}

func TestRegisterAgentRejectsBadSelfSignature(t *testing.T) {
	db := mustOpenMemory(t)
	info := selfSignedHMACAgent(t, "agent-bad", []byte("key-a"))
	info.Signature[0] ^= 0xff

	err := db.Agents().RegisterAgent(info)
	require.Error(t, err)
	require.Equal(t, ErrInvalidSignature, Kind(err))
}

func TestRegisterAgentUpsertsByID(t *testing.T) {
	db := mustOpenMemory(t)
	info := selfSignedHMACAgent(t, "agent-1", []byte("key"))
	require.NoError(t, db.Agents().RegisterAgent(info))
	require.NoError(t, db.Pager().Commit())

	info.WriteScope = "orders.*"
	sig, err := NewHMACSigner("agent-1", []byte("key")).Sign(canonicalAgentBuffer(info))
	require.NoError(t, err)
	info.Signature = sig
	require.NoError(t, db.Agents().RegisterAgent(info))
	require.NoError(t, db.Pager().Commit())

	got, err := db.Agents().GetAgent("agent-1")
	require.NoError(t, err)
	require.Equal(t, "orders.*", got.WriteScope)
}

func TestGetAgentNotFound(t *testing.T) {
	db := mustOpenMemory(t)
	_, err := db.Agents().GetAgent("nobody")
	require.Error(t, err)
	require.Equal(t, ErrNotFound, Kind(err))
}

func TestRegisterECDSAAgentAndVerify(t *testing.T) {
	db := mustOpenMemory(t)
	signer, err := NewECDSAP256Signer("agent-ec")
	require.NoError(t, err)

	info := AgentInfo{
		AgentID:          "agent-ec",
		Class:            2,
		PublicKey:        signer.PublicKeyBytes(),
		AuthorityCeiling: 5,
		WriteScope:       "ledger.*",
		ReadScope:        "*",
		Algorithm:        AlgorithmECDSAP256,
	}
	sig, err := signer.Sign(canonicalAgentBuffer(info))
	require.NoError(t, err)
	info.Signature = sig

	require.NoError(t, db.Agents().RegisterAgent(info))
	require.NoError(t, db.Pager().Commit())

	got, err := db.Agents().GetAgent("agent-ec")
	require.NoError(t, err)
	require.Equal(t, AlgorithmECDSAP256, got.Algorithm)
	require.True(t, verifyAgentSignature(*got, canonicalAgentBuffer(info)))
}
