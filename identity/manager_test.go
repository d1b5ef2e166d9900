package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/tee-attestation-agent/interfaces"
	"github.com/ruteri/tee-attestation-agent/tpm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProvision(t *testing.T) {
	device := tpm.NewMockDevice()

	manager, err := Provision(device, interfaces.AlgorithmRSA, testLogger())
	require.NoError(t, err)

	require.NotNil(t, manager.EK())
	assert.Equal(t, interfaces.AlgorithmRSA, manager.EK().Algorithm)
	require.NotNil(t, manager.AK())
	assert.NotEmpty(t, manager.AK().Public)
	assert.NotEmpty(t, manager.AK().Name)
}

func TestProvision_TransportKeyPair(t *testing.T) {
	device := tpm.NewMockDevice()

	manager, err := Provision(device, interfaces.AlgorithmRSA, testLogger())
	require.NoError(t, err)

	block, _ := pem.Decode(manager.PayloadPublicKeyPEM())
	require.NotNil(t, block)
	assert.Equal(t, "PUBLIC KEY", block.Type)

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)

	pub, ok := parsed.(*rsa.PublicKey)
	require.True(t, ok)

	// The served public key is the public half of the unwrapping key.
	priv := manager.PayloadPrivateKey()
	require.NotNil(t, priv)
	assert.Equal(t, 0, pub.N.Cmp(priv.PublicKey.N))
}

func TestProvision_UnsupportedAlgorithm(t *testing.T) {
	device := tpm.NewMockDevice()

	_, err := Provision(device, interfaces.AlgorithmECDSA, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedAlgorithm)
}
