package tpm

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/ruteri/tee-attestation-agent/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	pub := tpm2.Public{
		Type:       tpm2.AlgRSA,
		NameAlg:    tpm2.AlgSHA256,
		Attributes: tpm2.FlagSignerDefault,
		RSAParameters: &tpm2.RSAParams{
			Sign: &tpm2.SigScheme{
				Alg:  tpm2.AlgRSASSA,
				Hash: tpm2.AlgSHA256,
			},
			KeyBits:    2048,
			ModulusRaw: bytes.Repeat([]byte{0xab}, 256),
		},
	}
	blob, err := pub.Encode()
	require.NoError(t, err)

	name, err := objectName(blob)
	require.NoError(t, err)
	require.Len(t, name, 2+sha256.Size)

	// TPM2 object name: big-endian name algorithm identifier followed by
	// that algorithm's digest over the public area.
	digest := sha256.Sum256(blob)
	assert.Equal(t, []byte{0x00, 0x0b}, name[:2])
	assert.Equal(t, digest[:], name[2:])
}

func TestObjectName_RejectsMalformedPublicArea(t *testing.T) {
	_, err := objectName([]byte("not a public area"))
	require.Error(t, err)
}

func TestMockDevice_ActivateCredentialIsDeterministic(t *testing.T) {
	device := NewMockDevice()
	challenge := interfaces.Challenge{
		Credential: []byte("test-credential"),
		Secret:     []byte("test-secret"),
	}

	first, err := device.ActivateCredential(challenge)
	require.NoError(t, err)
	second, err := device.ActivateCredential(challenge)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = device.ActivateCredential(interfaces.Challenge{})
	require.Error(t, err)
}

func TestMockDevice_ConfiguredSecretIsCopied(t *testing.T) {
	device := NewMockDevice()
	device.SetSecret([]byte("configured-secret"))
	challenge := interfaces.Challenge{
		Credential: []byte("test-credential"),
		Secret:     []byte("test-secret"),
	}

	first, err := device.ActivateCredential(challenge)
	require.NoError(t, err)
	require.Equal(t, []byte("configured-secret"), []byte(first))

	// Scrubbing a released secret must not reach the device's copy.
	for i := range first {
		first[i] = 0
	}

	second, err := device.ActivateCredential(challenge)
	require.NoError(t, err)
	assert.Equal(t, []byte("configured-secret"), []byte(second))
}
