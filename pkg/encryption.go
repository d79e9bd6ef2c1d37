package sharc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
)

// Transform is the capability set a page source's bytes are optionally
// routed through before they reach the pager. It is keyed to the page
// number so that ciphertext cannot be replayed onto a different page.
type Transform interface {
	TransformRead(pageNo PageID, ciphertext []byte) ([]byte, error)
	TransformWrite(pageNo PageID, plaintext []byte) ([]byte, error)
	// TransformedPageSize is the on-disk size of a page after this
	// transform, given the logical page size.
	TransformedPageSize(pageSize uint32) uint32
}

// NoopTransform passes bytes through unchanged.
type NoopTransform struct{}

func (NoopTransform) TransformRead(_ PageID, b []byte) ([]byte, error)  { return b, nil }
func (NoopTransform) TransformWrite(_ PageID, b []byte) ([]byte, error) { return b, nil }
func (NoopTransform) TransformedPageSize(pageSize uint32) uint32       { return pageSize }

var _ Transform = NoopTransform{}
var _ Transform = (*AESGCMTransform)(nil)

const (
	encMagic        = "SHARC_E1"
	encHeaderSize   = 128
	kdfArgon2id     = 1
	cipherAES256GCM = 1
	nonceSize       = 12
	tagSize         = 16
)

// EncryptionHeader is the fixed header laid out at the start of an
// encrypted file, per spec §6's byte-exact table.
type EncryptionHeader struct {
	Version          uint32
	KDFID            uint32
	CipherID         uint32
	TimeCost         uint32
	MemoryCostKiB    uint32
	Parallelism      uint32
	Salt             [32]byte
	VerificationHash [32]byte
	PageSize         uint32
	PageCount        uint32
}

func (h *EncryptionHeader) Bytes() []byte {
	buf := make([]byte, encHeaderSize)
	copy(buf[0:8], encMagic)
	binary.BigEndian.PutUint32(buf[8:12], h.Version)
	binary.BigEndian.PutUint32(buf[12:16], h.KDFID)
	binary.BigEndian.PutUint32(buf[16:20], h.CipherID)
	binary.BigEndian.PutUint32(buf[20:24], h.TimeCost)
	binary.BigEndian.PutUint32(buf[24:28], h.MemoryCostKiB)
	binary.BigEndian.PutUint32(buf[28:32], h.Parallelism)
	copy(buf[32:64], h.Salt[:])
	copy(buf[64:96], h.VerificationHash[:])
	binary.BigEndian.PutUint32(buf[96:100], h.PageSize)
	binary.BigEndian.PutUint32(buf[100:104], h.PageCount)
	return buf
}

func parseEncryptionHeader(buf []byte) (*EncryptionHeader, error) {
	if len(buf) < encHeaderSize {
		return nil, newErr(ErrCorruptFile, "parseEncryptionHeader", "truncated header", nil)
	}
	if string(buf[0:8]) != encMagic {
		return nil, newErr(ErrCorruptFile, "parseEncryptionHeader", "bad magic", nil)
	}
	h := &EncryptionHeader{
		Version:       binary.BigEndian.Uint32(buf[8:12]),
		KDFID:         binary.BigEndian.Uint32(buf[12:16]),
		CipherID:      binary.BigEndian.Uint32(buf[16:20]),
		TimeCost:      binary.BigEndian.Uint32(buf[20:24]),
		MemoryCostKiB: binary.BigEndian.Uint32(buf[24:28]),
		Parallelism:   binary.BigEndian.Uint32(buf[28:32]),
		PageSize:      binary.BigEndian.Uint32(buf[96:100]),
		PageCount:     binary.BigEndian.Uint32(buf[100:104]),
	}
	copy(h.Salt[:], buf[32:64])
	copy(h.VerificationHash[:], buf[64:96])
	if h.KDFID != kdfArgon2id || h.CipherID != cipherAES256GCM {
		return nil, newErr(ErrUnsupportedFeature, "parseEncryptionHeader", "unsupported KDF or cipher id", nil)
	}
	return h, nil
}

// AESGCMTransform implements the encrypted on-disk format: an
// EncryptionHeader followed by page_count ciphertext pages of
// page_size+28 bytes each (12-byte nonce + ciphertext + 16-byte tag),
// encrypted with AES-256-GCM under an Argon2id-derived key, using the page
// number as additional authenticated data.
type AESGCMTransform struct {
	header *EncryptionHeader
	aead   cipher.AEAD
}

// DefaultArgon2Params match a conservative interactive-use profile.
// NewAESGCMTransform uses them for every new encrypted file and takes no
// override.
func DefaultArgon2Params() (time, memoryKiB, parallelism uint32) {
	return 3, 64 * 1024, 4
}

// NewAESGCMTransform derives a key from password and salt and builds a fresh
// transform for writing a brand-new encrypted file.
func NewAESGCMTransform(password string, pageSize, pageCount uint32) (*AESGCMTransform, *EncryptionHeader, error) {
	var salt [32]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return nil, nil, newErr(ErrInvalidOperation, "NewAESGCMTransform", "generate salt", err)
	}
	t, v, _ := DefaultArgon2Params()
	h := &EncryptionHeader{
		Version:       1,
		KDFID:         kdfArgon2id,
		CipherID:      cipherAES256GCM,
		TimeCost:      t,
		MemoryCostKiB: v,
		Parallelism:   v, // placeholder overwritten below
		Salt:          salt,
		PageSize:      pageSize,
		PageCount:     pageCount,
	}
	_, memKiB, par := DefaultArgon2Params()
	h.MemoryCostKiB = memKiB
	h.Parallelism = par

	key := argon2.IDKey([]byte(password), salt[:], h.TimeCost, h.MemoryCostKiB, uint8(h.Parallelism), 32)
	verHash := blake3.Sum256(append(append([]byte{}, salt[:]...), key...))
	h.VerificationHash = verHash

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, newErr(ErrInvalidOperation, "NewAESGCMTransform", "build AES cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, newErr(ErrInvalidOperation, "NewAESGCMTransform", "build GCM AEAD", err)
	}
	return &AESGCMTransform{header: h, aead: aead}, h, nil
}

// OpenAESGCMTransform parses an existing encrypted file's header and
// verifies password against it, returning *ErrBadCredentials on mismatch.
func OpenAESGCMTransform(password string, headerBytes []byte) (*AESGCMTransform, *EncryptionHeader, error) {
	h, err := parseEncryptionHeader(headerBytes)
	if err != nil {
		return nil, nil, err
	}
	key := argon2.IDKey([]byte(password), h.Salt[:], h.TimeCost, h.MemoryCostKiB, uint8(h.Parallelism), 32)
	verHash := blake3.Sum256(append(append([]byte{}, h.Salt[:]...), key...))
	if subtle.ConstantTimeCompare(verHash[:], h.VerificationHash[:]) != 1 {
		return nil, nil, newErr(ErrBadCredentials, "OpenAESGCMTransform", "password does not match stored verification hash", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, newErr(ErrInvalidOperation, "OpenAESGCMTransform", "build AES cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, newErr(ErrInvalidOperation, "OpenAESGCMTransform", "build GCM AEAD", err)
	}
	return &AESGCMTransform{header: h, aead: aead}, h, nil
}

func pageAAD(pageNo PageID) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(pageNo))
	return b[:]
}

func (t *AESGCMTransform) TransformRead(pageNo PageID, slot []byte) ([]byte, error) {
	if len(slot) < nonceSize+tagSize {
		return nil, newErr(ErrCorruptFile, "TransformRead", "ciphertext slot too small", nil)
	}
	nonce := slot[:nonceSize]
	ciphertextAndTag := slot[nonceSize:]
	plain, err := t.aead.Open(nil, nonce, ciphertextAndTag, pageAAD(pageNo))
	if err != nil {
		return nil, newErr(ErrTampered, "TransformRead", fmt.Sprintf("page %d failed authentication", pageNo), err)
	}
	return plain, nil
}

func (t *AESGCMTransform) TransformWrite(pageNo PageID, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, newErr(ErrInvalidOperation, "TransformWrite", "generate nonce", err)
	}
	sealed := t.aead.Seal(nil, nonce, plaintext, pageAAD(pageNo))
	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func (t *AESGCMTransform) TransformedPageSize(pageSize uint32) uint32 {
	return pageSize + nonceSize + tagSize
}

// Header returns the parsed encryption header backing this transform.
func (t *AESGCMTransform) Header() *EncryptionHeader { return t.header }
