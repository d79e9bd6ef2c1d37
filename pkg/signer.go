package sharc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
)

// Signer is the abstract contract the trust ledger signs and verifies
// entries against. Core code never constructs key material itself; callers
// supply a Signer implementation bound to whatever key storage they use.
type Signer interface {
	// AgentID identifies which registered agent this signer speaks for.
	AgentID() string
	Sign(preimage []byte) ([]byte, error)
	Verify(preimage, signature []byte) bool
	// PublicKeyBytes is the canonical encoding stored in the agent registry.
	PublicKeyBytes() []byte
}

// HMACSigner implements Signer with a shared symmetric key (SHA-256 HMAC).
// It is the cheap, single-process option: anyone holding the key can both
// sign and verify, so it offers tamper-evidence but not non-repudiation.
type HMACSigner struct {
	agentID string
	key     []byte
}

func NewHMACSigner(agentID string, key []byte) *HMACSigner {
	return &HMACSigner{agentID: agentID, key: key}
}

func (s *HMACSigner) AgentID() string { return s.agentID }

func (s *HMACSigner) Sign(preimage []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(preimage)
	return mac.Sum(nil), nil
}

func (s *HMACSigner) Verify(preimage, signature []byte) bool {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(preimage)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, signature)
}

// PublicKeyBytes returns the shared key itself: HMAC has no public half, so
// the registry stores the same secret the signer holds. Callers that need
// real non-repudiation should use ECDSAP256Signer instead.
func (s *HMACSigner) PublicKeyBytes() []byte { return s.key }

// ECDSAP256Signer implements Signer over NIST P-256, encoding signatures as
// a fixed 64-byte IEEE-P1363 R||S pair rather than Go's default ASN.1 DER,
// so every signature in the ledger has the same width regardless of R/S
// leading-zero bytes.
type ECDSAP256Signer struct {
	agentID string
	priv    *ecdsa.PrivateKey
}

// NewECDSAP256Signer generates a fresh P-256 key pair for agentID.
func NewECDSAP256Signer(agentID string) (*ECDSAP256Signer, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, newErr(ErrInvalidOperation, "NewECDSAP256Signer", "generate key", err)
	}
	return &ECDSAP256Signer{agentID: agentID, priv: priv}, nil
}

// LoadECDSAP256Signer reconstructs a signer from an existing private key,
// for callers restoring key material from their own storage.
func LoadECDSAP256Signer(agentID string, priv *ecdsa.PrivateKey) *ECDSAP256Signer {
	return &ECDSAP256Signer{agentID: agentID, priv: priv}
}

func (s *ECDSAP256Signer) AgentID() string { return s.agentID }

const p256FieldBytes = 32

func (s *ECDSAP256Signer) Sign(preimage []byte) ([]byte, error) {
	digest := sha256.Sum256(preimage)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.priv, digest[:])
	if err != nil {
		return nil, newErr(ErrInvalidOperation, "Sign", "ecdsa sign", err)
	}
	out := make([]byte, 2*p256FieldBytes)
	r.FillBytes(out[:p256FieldBytes])
	sVal.FillBytes(out[p256FieldBytes:])
	return out, nil
}

func (s *ECDSAP256Signer) Verify(preimage, signature []byte) bool {
	if len(signature) != 2*p256FieldBytes {
		return false
	}
	digest := sha256.Sum256(preimage)
	r := new(big.Int).SetBytes(signature[:p256FieldBytes])
	sVal := new(big.Int).SetBytes(signature[p256FieldBytes:])
	return ecdsa.Verify(&s.priv.PublicKey, digest[:], r, sVal)
}

// PublicKeyBytes encodes the public key as the concatenation of its X and Y
// coordinates, each fixed to 32 bytes.
func (s *ECDSAP256Signer) PublicKeyBytes() []byte {
	out := make([]byte, 2*p256FieldBytes)
	s.priv.PublicKey.X.FillBytes(out[:p256FieldBytes])
	s.priv.PublicKey.Y.FillBytes(out[p256FieldBytes:])
	return out
}

// VerifyWithPublicKey checks signature against preimage using a detached
// P-256 public key (X||Y encoding), for callers that only hold the agent
// registry's stored public key rather than a live Signer.
func VerifyWithPublicKey(pubKeyBytes, preimage, signature []byte) bool {
	if len(pubKeyBytes) != 2*p256FieldBytes || len(signature) != 2*p256FieldBytes {
		return false
	}
	x := new(big.Int).SetBytes(pubKeyBytes[:p256FieldBytes])
	y := new(big.Int).SetBytes(pubKeyBytes[p256FieldBytes:])
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	digest := sha256.Sum256(preimage)
	r := new(big.Int).SetBytes(signature[:p256FieldBytes])
	s := new(big.Int).SetBytes(signature[p256FieldBytes:])
	return ecdsa.Verify(pub, digest[:], r, s)
}
