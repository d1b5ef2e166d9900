package keyshandler

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-attestation-agent/api"
	"github.com/ruteri/tee-attestation-agent/interfaces"
	"github.com/ruteri/tee-attestation-agent/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAgentID = interfaces.AgentID("d432fbb3-d2f1-4a97-9ef7-75bd81c00000")

type testEnv struct {
	mux *chi.Mux
	key *rsa.PrivateKey

	// k is the combined key; u and v are the wrapped shares delivering it.
	k       []byte
	u, v    []byte
	authTag string
}

func setupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	store := payload.NewStore(testAgentID, key, "", logger)

	k := make([]byte, 32)
	v := make([]byte, 32)
	_, err = rand.Read(k)
	require.NoError(t, err)
	_, err = rand.Read(v)
	require.NoError(t, err)
	u := make([]byte, 32)
	for i := range u {
		u[i] = k[i] ^ v[i]
	}

	mac := hmac.New(sha512.New384, k)
	mac.Write([]byte(testAgentID.String()))

	env := &testEnv{
		mux:     chi.NewRouter(),
		key:     key,
		k:       k,
		u:       wrapShare(t, &key.PublicKey, u),
		v:       wrapShare(t, &key.PublicKey, v),
		authTag: hex.EncodeToString(mac.Sum(nil)),
	}
	NewHandler(store, []byte("-----BEGIN PUBLIC KEY-----\ndGVzdA==\n-----END PUBLIC KEY-----\n"), nil, logger).RegisterRoutes(env.mux)
	return env
}

func wrapShare(t *testing.T, pub *rsa.PublicKey, share []byte) []byte {
	t.Helper()
	wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, share, nil)
	require.NoError(t, err)
	return wrapped
}

func (env *testEnv) get(target string) *http.Response {
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w.Result()
}

func (env *testEnv) post(t *testing.T, target string, body any) *http.Response {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	env.mux.ServeHTTP(w, req)
	return w.Result()
}

func decodeEnvelope(t *testing.T, resp *http.Response, results any) api.Response {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Code    int             `json:"code"`
		Status  string          `json:"status"`
		Results json.RawMessage `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	if results != nil && len(envelope.Results) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Results, results))
	}
	return api.Response{Code: envelope.Code, Status: envelope.Status}
}

func TestHandleVerify_BeforeDelivery(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := env.get("/keys/verify?challenge=test")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	envelope := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "bootstrap key not yet available", envelope.Status)
}

func TestHandleVerify_MissingChallenge(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := env.get("/keys/verify")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	envelope := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "challenge parameter is required", envelope.Status)
}

func TestKeyDeliveryFlow(t *testing.T) {
	env := setupTestEnvironment(t)

	// Deliver the verifier share, then the tenant share with its tag.
	resp := env.post(t, "/keys/vkey", api.VKeyRequest{EncryptedKey: env.v})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	envelope := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "Success", envelope.Status)

	resp = env.post(t, "/keys/ukey", api.UKeyRequest{AuthTag: env.authTag, EncryptedKey: env.u})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The delivered key now answers verification challenges.
	resp = env.get("/keys/verify?challenge=test")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var results api.VerifyResults
	decodeEnvelope(t, resp, &results)

	mac := hmac.New(sha512.New384, env.k)
	mac.Write([]byte("test"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), results.HMAC)
}

func TestHandleUKey_InconsistentShares(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := env.post(t, "/keys/vkey", api.VKeyRequest{EncryptedKey: env.v})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A tag over the wrong key must be rejected.
	mac := hmac.New(sha512.New384, []byte("wrong key material"))
	mac.Write([]byte(testAgentID.String()))
	wrongTag := hex.EncodeToString(mac.Sum(nil))

	resp = env.post(t, "/keys/ukey", api.UKeyRequest{AuthTag: wrongTag, EncryptedKey: env.u})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	envelope := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "key shares are inconsistent", envelope.Status)

	resp = env.get("/keys/verify?challenge=test")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleUKey_InvalidAuthTagLength(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := env.post(t, "/keys/ukey", api.UKeyRequest{AuthTag: "deadbeef", EncryptedKey: env.u})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	envelope := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "invalid auth_tag", envelope.Status)
}

func TestHandleUKey_MissingEncryptedKey(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := env.post(t, "/keys/ukey", api.UKeyRequest{AuthTag: env.authTag})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	envelope := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "encrypted_key is required", envelope.Status)
}

func TestHandleUKey_MalformedBody(t *testing.T) {
	env := setupTestEnvironment(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/keys/ukey", bytes.NewReader([]byte("not json")))
	env.mux.ServeHTTP(w, req)

	resp := w.Result()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	envelope := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "malformed request body", envelope.Status)
}

func TestHandleVKey_UnwrappableShare(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := env.post(t, "/keys/vkey", api.VKeyRequest{EncryptedKey: []byte("not wrapped to the transport key")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	envelope := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "could not unwrap key share", envelope.Status)
}

func TestHandlePubkey(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := env.get("/keys/pubkey")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var results api.PubkeyResults
	decodeEnvelope(t, resp, &results)
	assert.Contains(t, results.Pubkey, "BEGIN PUBLIC KEY")
}
