// Package payload holds the key material delivered to the agent over the
// evidence API: the two wrapped shares, the key combined from them, and
// the optional encrypted payload unlocked by that key. Everything lives in
// memory only.
package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruteri/tee-attestation-agent/interfaces"
)

var (
	// ErrKeyNotReady is returned while no complete key has been delivered.
	ErrKeyNotReady = errors.New("no key has been delivered yet")

	// ErrKeyReconstruction is returned when the delivered shares are
	// inconsistent with each other or with the authentication tag.
	ErrKeyReconstruction = errors.New("delivered key shares are inconsistent")
)

// decryptedPayloadFile is the name under which a delivered payload is
// written inside the payload directory.
const decryptedPayloadFile = "decrypted_payload"

// Store combines tenant-delivered key shares. Shares arrive in either
// order; the key becomes available once a matching pair has been combined
// and verified against the authentication tag.
type Store struct {
	mu  sync.Mutex
	log *slog.Logger

	agentID    interfaces.AgentID
	privateKey *rsa.PrivateKey
	payloadDir string

	uShare  []byte
	vShare  []byte
	authTag string
	key     []byte
	payload []byte
}

// NewStore creates a store unwrapping shares with the given transport
// private key. payloadDir may be empty to discard delivered payloads.
func NewStore(agentID interfaces.AgentID, privateKey *rsa.PrivateKey, payloadDir string, log *slog.Logger) *Store {
	return &Store{
		log:        log,
		agentID:    agentID,
		privateKey: privateKey,
		payloadDir: payloadDir,
	}
}

// AddUShare unwraps and installs the tenant share together with its
// authentication tag and optional encrypted payload. When the verifier
// share is already present the key is combined immediately; an
// inconsistent pair drops the tenant share and returns
// ErrKeyReconstruction.
func (s *Store) AddUShare(authTag string, wrapped, encryptedPayload []byte) error {
	u, err := s.unwrap(wrapped)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.uShare = u
	s.authTag = authTag
	if len(encryptedPayload) > 0 {
		s.payload = encryptedPayload
	}

	if s.vShare == nil {
		s.log.Debug("Tenant share stored, waiting for verifier share")
		return nil
	}
	return s.combineLocked()
}

// AddVShare unwraps and installs the verifier share. When the tenant
// share is already present the key is combined immediately.
func (s *Store) AddVShare(wrapped []byte) error {
	v, err := s.unwrap(wrapped)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.vShare = v

	if s.uShare == nil {
		s.log.Debug("Verifier share stored, waiting for tenant share")
		return nil
	}
	return s.combineLocked()
}

// Verify computes the hex keyed hash (HMAC-SHA384) of the challenge under
// the delivered key. ErrKeyNotReady is returned until a key is available.
func (s *Store) Verify(challenge []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		return "", ErrKeyNotReady
	}

	mac := hmac.New(sha512.New384, s.key)
	mac.Write(challenge)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Key returns a copy of the delivered key.
func (s *Store) Key() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		return nil, ErrKeyNotReady
	}

	key := make([]byte, len(s.key))
	copy(key, s.key)
	return key, nil
}

// combineLocked combines the two shares and verifies the result against
// the authentication tag. The caller holds s.mu.
func (s *Store) combineLocked() error {
	if len(s.uShare) != len(s.vShare) {
		s.uShare = nil
		s.authTag = ""
		return fmt.Errorf("%w: share lengths differ", ErrKeyReconstruction)
	}

	key := make([]byte, len(s.uShare))
	for i := range key {
		key[i] = s.uShare[i] ^ s.vShare[i]
	}

	mac := hmac.New(sha512.New384, key)
	mac.Write([]byte(s.agentID.String()))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(s.authTag)) {
		s.uShare = nil
		s.authTag = ""
		return fmt.Errorf("%w: authentication tag mismatch", ErrKeyReconstruction)
	}

	s.key = key
	s.log.Info("Delivered key reconstructed", "bytes", len(key))
	s.extractPayloadLocked()
	return nil
}

// extractPayloadLocked decrypts a held payload with the delivered key and
// writes it to the payload directory. Failures are logged, never fatal:
// the key itself is already installed. The caller holds s.mu.
func (s *Store) extractPayloadLocked() {
	if s.payload == nil {
		return
	}
	if s.payloadDir == "" {
		s.log.Warn("Discarding delivered payload, no payload directory configured")
		s.payload = nil
		return
	}

	plaintext, err := decryptPayload(s.key, s.payload)
	if err != nil {
		s.log.Warn("Could not decrypt delivered payload", "err", err)
		return
	}

	path := filepath.Join(s.payloadDir, decryptedPayloadFile)
	if err := os.WriteFile(path, plaintext, 0o600); err != nil {
		s.log.Warn("Could not write delivered payload", "err", err, "path", path)
		return
	}

	s.log.Info("Delivered payload written", "path", path, "bytes", len(plaintext))
	s.payload = nil
}

// unwrap recovers a share wrapped to the transport public key (RSA-OAEP).
func (s *Store) unwrap(wrapped []byte) ([]byte, error) {
	share, err := rsa.DecryptOAEP(sha1.New(), nil, s.privateKey, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("could not unwrap key share: %w", err)
	}
	return share, nil
}

// decryptPayload opens an AES-GCM sealed payload, nonce prepended.
func decryptPayload(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("could not create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("could not create GCM: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed payload too short")
	}

	nonce := sealed[:gcm.NonceSize()]
	ciphertext := sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt payload: %w", err)
	}
	return plaintext, nil
}
