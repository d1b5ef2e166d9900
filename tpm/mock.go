package tpm

import (
	"crypto/sha256"
	"errors"
	"sync"

	"github.com/ruteri/tee-attestation-agent/interfaces"
)

// MockDevice provides a deterministic in-memory implementation of the
// interfaces.Device contract for testing without TPM hardware. All state
// lives in memory and activation secrets are derived from the challenge
// bytes, so the same challenge always releases the same secret.
type MockDevice struct {
	mutex sync.RWMutex

	endorsementKeys map[interfaces.Algorithm]*interfaces.EndorsementIdentity
	ak              *interfaces.AttestationIdentity
	pcrs            []interfaces.PCRValue
	eventLog        []byte

	secret      []byte
	activateErr error
	quoteErr    error

	quoteCalls int
	closed     bool
}

// NewMockDevice creates a mock device with an RSA endorsement key, a fixed
// attestation key blob, and a small deterministic register bank.
func NewMockDevice() *MockDevice {
	akPublic := []byte("mock-attestation-public-area")
	akDigest := sha256.Sum256(akPublic)

	pcrs := make([]interfaces.PCRValue, 0, 8)
	for i := 0; i < 8; i++ {
		digest := sha256.Sum256([]byte{byte(i)})
		pcrs = append(pcrs, interfaces.PCRValue{Index: i, Digest: digest[:]})
	}

	return &MockDevice{
		endorsementKeys: map[interfaces.Algorithm]*interfaces.EndorsementIdentity{
			interfaces.AlgorithmRSA: {
				Algorithm:    interfaces.AlgorithmRSA,
				PublicKeyPEM: []byte("-----BEGIN PUBLIC KEY-----\nbW9jay1lbmRvcnNlbWVudC1rZXk=\n-----END PUBLIC KEY-----\n"),
			},
		},
		ak: &interfaces.AttestationIdentity{
			Public: akPublic,
			Name:   append([]byte{0x00, 0x0b}, akDigest[:]...),
		},
		pcrs: pcrs,
	}
}

// SetSecret fixes the shared secret released by ActivateCredential instead
// of deriving it from the challenge.
func (m *MockDevice) SetSecret(secret []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.secret = secret
}

// SetActivateErr makes ActivateCredential fail with the given error.
func (m *MockDevice) SetActivateErr(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.activateErr = err
}

// SetQuoteErr makes both quote operations fail with the given error.
func (m *MockDevice) SetQuoteErr(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.quoteErr = err
}

// SetEventLog sets the boot measurement log attached to integrity quotes.
func (m *MockDevice) SetEventLog(log []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.eventLog = log
}

// QuoteCalls reports how many quote operations reached the device.
func (m *MockDevice) QuoteCalls() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.quoteCalls
}

// Closed reports whether Close has been called.
func (m *MockDevice) Closed() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.closed
}

// EndorsementIdentity returns the configured endorsement key for the
// requested family.
func (m *MockDevice) EndorsementIdentity(alg interfaces.Algorithm) (*interfaces.EndorsementIdentity, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ek, ok := m.endorsementKeys[alg]
	if !ok {
		return nil, interfaces.ErrUnsupportedAlgorithm
	}
	return ek, nil
}

// CreateAttestationIdentity returns the fixed attestation identity.
func (m *MockDevice) CreateAttestationIdentity() (*interfaces.AttestationIdentity, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.ak, nil
}

// ActivateCredential releases the configured secret, or a digest of the
// challenge bytes when none is configured. Each call returns a fresh slice
// so callers can scrub theirs without corrupting the device state.
func (m *MockDevice) ActivateCredential(challenge interfaces.Challenge) (interfaces.SharedSecret, error) {
	if err := challenge.Validate(); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.activateErr != nil {
		return nil, m.activateErr
	}
	if m.secret != nil {
		return interfaces.SharedSecret(append([]byte(nil), m.secret...)), nil
	}

	derived := sha256.Sum256(append(challenge.Credential, challenge.Secret...))
	return interfaces.SharedSecret(derived[:]), nil
}

// IdentityQuote returns a deterministic quote over the nonce.
func (m *MockDevice) IdentityQuote(nonce []byte) (*interfaces.TPMQuote, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.quoteCalls++
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}

	return &interfaces.TPMQuote{
		Attestation: append([]byte("mock-attest:"), nonce...),
		Signature:   []byte("mock-signature"),
	}, nil
}

// IntegrityQuote returns a deterministic quote over the nonce with the
// register bank filtered by mask.
func (m *MockDevice) IntegrityQuote(nonce []byte, mask interfaces.PCRMask) (*interfaces.TPMQuote, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.quoteCalls++
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}

	quote := &interfaces.TPMQuote{
		Attestation: append([]byte("mock-attest:"), nonce...),
		Signature:   []byte("mock-signature"),
		EventLog:    m.eventLog,
	}
	for _, pcr := range m.pcrs {
		if !mask.Contains(pcr.Index) {
			continue
		}
		quote.PCRs = append(quote.PCRs, pcr)
	}
	return quote, nil
}

// Close marks the device closed. Further calls are not rejected; tests
// assert on Closed instead.
func (m *MockDevice) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return errors.New("device already closed")
	}
	m.closed = true
	return nil
}
