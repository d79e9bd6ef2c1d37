package sharc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAESGCMTransformEncryptDecryptRoundTrip(t *testing.T) {
	transform, header, err := NewAESGCMTransform("correct horse battery staple", 4096, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(kdfArgon2id), header.KDFID)
	require.Equal(t, uint32(cipherAES256GCM), header.CipherID)

	plaintext := make([]byte, 4096)
	copy(plaintext, []byte("page one content"))

	ciphertext, err := transform.TransformWrite(1, plaintext)
	require.NoError(t, err)
	require.Equal(t, int(transform.TransformedPageSize(4096)), len(ciphertext))

	roundtripped, err := transform.TransformRead(1, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, roundtripped)
}

func TestAESGCMTransformRejectsWrongPage(t *testing.T) {
	transform, _, err := NewAESGCMTransform("password", 4096, 0)
	require.NoError(t, err)

	plaintext := make([]byte, 4096)
	ciphertext, err := transform.TransformWrite(1, plaintext)
	require.NoError(t, err)

	// Associated data binds ciphertext to its page number; replaying it
	// under a different page number must fail authentication.
	_, err = transform.TransformRead(2, ciphertext)
	require.Error(t, err)
	require.Equal(t, ErrTampered, Kind(err))
}

func TestAESGCMTransformRejectsTamperedCiphertext(t *testing.T) {
	transform, _, err := NewAESGCMTransform("password", 4096, 0)
	require.NoError(t, err)

	plaintext := make([]byte, 4096)
	ciphertext, err := transform.TransformWrite(3, plaintext)
	require.NoError(t, err)
	ciphertext[0] ^= 0xff

	_, err = transform.TransformRead(3, ciphertext)
	require.Error(t, err)
	require.Equal(t, ErrTampered, Kind(err))
}

func TestOpenAESGCMTransformRoundTripsThroughHeaderBytes(t *testing.T) {
	transform, header, err := NewAESGCMTransform("shared-secret", 4096, 10)
	require.NoError(t, err)
	require.Equal(t, uint32(4096), header.PageSize)
	require.Equal(t, uint32(10), header.PageCount)

	headerBytes := header.Bytes()
	require.Len(t, headerBytes, encHeaderSize)

	reopened, reopenedHeader, err := OpenAESGCMTransform("shared-secret", headerBytes)
	require.NoError(t, err)
	require.Equal(t, header.Salt, reopenedHeader.Salt)

	plaintext := make([]byte, 4096)
	copy(plaintext, []byte("round trip via reopened transform"))
	ciphertext, err := transform.TransformWrite(1, plaintext)
	require.NoError(t, err)

	decoded, err := reopened.TransformRead(1, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decoded)
}

func TestOpenAESGCMTransformRejectsWrongPassword(t *testing.T) {
	_, header, err := NewAESGCMTransform("correct-password", 4096, 0)
	require.NoError(t, err)

	_, _, err = OpenAESGCMTransform("wrong-password", header.Bytes())
	require.Error(t, err)
	require.Equal(t, ErrBadCredentials, Kind(err))
}

func TestParseEncryptionHeaderRejectsBadMagic(t *testing.T) {
	_, header, err := NewAESGCMTransform("password", 4096, 0)
	require.NoError(t, err)
	buf := header.Bytes()
	buf[0] = 'X'
	_, err = parseEncryptionHeader(buf)
	require.Error(t, err)
}
