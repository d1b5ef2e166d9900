package interfaces

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentID(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "canonical lowercase passes through",
			input: "d432fbb3-d2f1-4a97-9ef7-75bd81c00000",
			want:  "d432fbb3-d2f1-4a97-9ef7-75bd81c00000",
		},
		{
			name:  "uppercase is canonicalized",
			input: "D432FBB3-D2F1-4A97-9EF7-75BD81C00000",
			want:  "d432fbb3-d2f1-4a97-9ef7-75bd81c00000",
		},
		{
			name:    "malformed identifier is rejected",
			input:   "D432FBB3-D2F1-4A97-9EF7-75BD81C0000X",
			wantErr: true,
		},
		{
			name:    "empty identifier is rejected",
			input:   "",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := NewAgentID(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, id.String())
			assert.NoError(t, id.Validate())
		})
	}
}

func TestNewRandomAgentID(t *testing.T) {
	first := NewRandomAgentID()
	second := NewRandomAgentID()

	assert.NoError(t, first.Validate())
	assert.NoError(t, second.Validate())
	assert.NotEqual(t, first, second)
}

func TestAgentIDValidate_PolicyLiteralsAreNotUUIDs(t *testing.T) {
	assert.Error(t, AgentID("openstack").Validate())
	assert.Error(t, AgentID("hash_ek").Validate())
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("rsa")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmRSA, alg)

	alg, err = ParseAlgorithm("ECDSA")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmECDSA, alg)

	_, err = ParseAlgorithm("dsa")
	require.Error(t, err)
}

func TestChallengeValidate(t *testing.T) {
	valid := Challenge{Credential: []byte("cred"), Secret: []byte("sec")}
	assert.NoError(t, valid.Validate())

	assert.Error(t, Challenge{Secret: []byte("sec")}.Validate())
	assert.Error(t, Challenge{Credential: []byte("cred")}.Validate())
	assert.Error(t, Challenge{}.Validate())
}

func TestSharedSecretMACKey(t *testing.T) {
	secret := SharedSecret([]byte{0x01, 0x02})

	// The keyed-hash key is the base64 text itself, not the raw bytes.
	assert.Equal(t, []byte("AQI="), secret.MACKey())
	assert.Equal(t, []byte(base64.StdEncoding.EncodeToString(secret)), secret.MACKey())
}

func TestParsePCRMask(t *testing.T) {
	mask, err := ParsePCRMask("0x408000")
	require.NoError(t, err)
	assert.True(t, mask.Contains(15))
	assert.True(t, mask.Contains(22))
	assert.False(t, mask.Contains(0))
	assert.False(t, mask.Contains(16))

	mask, err = ParsePCRMask("0X10")
	require.NoError(t, err)
	assert.True(t, mask.Contains(4))
	assert.Equal(t, "0x10", mask.String())

	_, err = ParsePCRMask("zz")
	require.Error(t, err)

	_, err = ParsePCRMask("0x1ffffffff")
	require.Error(t, err)
}

func TestPCRMaskZeroContainsEverything(t *testing.T) {
	mask := PCRMask(0)
	for i := 0; i < 24; i++ {
		assert.True(t, mask.Contains(i))
	}
}

func TestTPMQuoteWire(t *testing.T) {
	quote := TPMQuote{
		Attestation: []byte("ATT"),
		Signature:   []byte("SIG"),
		PCRs: []PCRValue{
			{Index: 0, Digest: []byte{0xaa, 0xbb}},
		},
	}

	want := "r" + base64.StdEncoding.EncodeToString([]byte("ATT")) +
		":" + base64.StdEncoding.EncodeToString([]byte("SIG")) +
		":" + base64.StdEncoding.EncodeToString([]byte(`{"0":"aabb"}`))
	assert.Equal(t, want, quote.Wire())
}

func TestTPMQuoteWire_NoRegisters(t *testing.T) {
	quote := TPMQuote{
		Attestation: []byte("ATT"),
		Signature:   []byte("SIG"),
	}

	want := "r" + base64.StdEncoding.EncodeToString([]byte("ATT")) +
		":" + base64.StdEncoding.EncodeToString([]byte("SIG")) +
		":" + base64.StdEncoding.EncodeToString([]byte("{}"))
	assert.Equal(t, want, quote.Wire())
}
