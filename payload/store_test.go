package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/tee-attestation-agent/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAgentID = interfaces.AgentID("d432fbb3-d2f1-4a97-9ef7-75bd81c00000")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, payloadDir string) (*Store, *rsa.PrivateKey) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewStore(testAgentID, key, payloadDir, testLogger()), key
}

// newShares builds a key K and a share pair combining to it via XOR.
func newShares(t *testing.T) (k, u, v []byte) {
	k = make([]byte, 32)
	v = make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	_, err = rand.Read(v)
	require.NoError(t, err)

	u = make([]byte, 32)
	for i := range u {
		u[i] = k[i] ^ v[i]
	}
	return k, u, v
}

func wrapShare(t *testing.T, pub *rsa.PublicKey, share []byte) []byte {
	wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, share, nil)
	require.NoError(t, err)
	return wrapped
}

func tagFor(key []byte, agentID interfaces.AgentID) string {
	mac := hmac.New(sha512.New384, key)
	mac.Write([]byte(agentID.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func sealPayload(t *testing.T, key, plaintext []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, gcm.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	return append(nonce, gcm.Seal(nil, nonce, plaintext, nil)...)
}

func TestStore_CombinesSharesTenantFirst(t *testing.T) {
	store, key := newTestStore(t, "")
	k, u, v := newShares(t)

	require.NoError(t, store.AddUShare(tagFor(k, testAgentID), wrapShare(t, &key.PublicKey, u), nil))

	_, err := store.Key()
	assert.ErrorIs(t, err, ErrKeyNotReady)

	require.NoError(t, store.AddVShare(wrapShare(t, &key.PublicKey, v)))

	got, err := store.Key()
	require.NoError(t, err)
	assert.Equal(t, k, got)
}

func TestStore_CombinesSharesVerifierFirst(t *testing.T) {
	store, key := newTestStore(t, "")
	k, u, v := newShares(t)

	require.NoError(t, store.AddVShare(wrapShare(t, &key.PublicKey, v)))
	require.NoError(t, store.AddUShare(tagFor(k, testAgentID), wrapShare(t, &key.PublicKey, u), nil))

	got, err := store.Key()
	require.NoError(t, err)
	assert.Equal(t, k, got)
}

func TestStore_TagMismatchDropsTenantShareOnly(t *testing.T) {
	store, key := newTestStore(t, "")
	k, u, v := newShares(t)

	require.NoError(t, store.AddVShare(wrapShare(t, &key.PublicKey, v)))

	// A tag computed over the wrong key must reject the combination.
	wrongTag := tagFor([]byte("not the combined key"), testAgentID)
	err := store.AddUShare(wrongTag, wrapShare(t, &key.PublicKey, u), nil)
	assert.ErrorIs(t, err, ErrKeyReconstruction)

	_, err = store.Key()
	assert.ErrorIs(t, err, ErrKeyNotReady)

	// The verifier share survives the failure; redelivering a correct
	// tenant share completes the key.
	require.NoError(t, store.AddUShare(tagFor(k, testAgentID), wrapShare(t, &key.PublicKey, u), nil))

	got, err := store.Key()
	require.NoError(t, err)
	assert.Equal(t, k, got)
}

func TestStore_ShareLengthMismatch(t *testing.T) {
	store, key := newTestStore(t, "")
	k, u, _ := newShares(t)

	require.NoError(t, store.AddVShare(wrapShare(t, &key.PublicKey, []byte("short"))))

	err := store.AddUShare(tagFor(k, testAgentID), wrapShare(t, &key.PublicKey, u), nil)
	assert.ErrorIs(t, err, ErrKeyReconstruction)
}

func TestStore_UnwrapFailure(t *testing.T) {
	store, _ := newTestStore(t, "")

	err := store.AddUShare(tagFor([]byte("k"), testAgentID), []byte("not wrapped to the transport key"), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyReconstruction)
}

func TestStore_Verify(t *testing.T) {
	store, key := newTestStore(t, "")
	k, u, v := newShares(t)

	_, err := store.Verify([]byte("challenge"))
	assert.ErrorIs(t, err, ErrKeyNotReady)

	require.NoError(t, store.AddVShare(wrapShare(t, &key.PublicKey, v)))
	require.NoError(t, store.AddUShare(tagFor(k, testAgentID), wrapShare(t, &key.PublicKey, u), nil))

	got, err := store.Verify([]byte("challenge"))
	require.NoError(t, err)

	mac := hmac.New(sha512.New384, k)
	mac.Write([]byte("challenge"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)
}

func TestStore_WritesDecryptedPayload(t *testing.T) {
	dir := t.TempDir()
	store, key := newTestStore(t, dir)
	k, u, v := newShares(t)

	plaintext := []byte("#!/bin/sh\necho bootstrapped\n")
	sealed := sealPayload(t, k, plaintext)

	require.NoError(t, store.AddUShare(tagFor(k, testAgentID), wrapShare(t, &key.PublicKey, u), sealed))
	require.NoError(t, store.AddVShare(wrapShare(t, &key.PublicKey, v)))

	content, err := os.ReadFile(filepath.Join(dir, decryptedPayloadFile))
	require.NoError(t, err)
	assert.Equal(t, plaintext, content)
}

func TestStore_CorruptPayloadDoesNotBlockKey(t *testing.T) {
	dir := t.TempDir()
	store, key := newTestStore(t, dir)
	k, u, v := newShares(t)

	require.NoError(t, store.AddUShare(tagFor(k, testAgentID), wrapShare(t, &key.PublicKey, u), []byte("garbage")))
	require.NoError(t, store.AddVShare(wrapShare(t, &key.PublicKey, v)))

	// The key is installed even though the payload could not be decrypted.
	got, err := store.Key()
	require.NoError(t, err)
	assert.Equal(t, k, got)

	_, err = os.Stat(filepath.Join(dir, decryptedPayloadFile))
	assert.True(t, os.IsNotExist(err))
}
