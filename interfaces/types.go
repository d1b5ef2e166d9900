// Package interfaces defines the core types and contracts shared by the
// attestation agent components. It provides the boundary between the
// hardware root of trust, the registrar handshake, and the evidence API
// without implementation details.
package interfaces

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AgentID is the durable identifier under which the agent registers and
// serves evidence. It always holds a canonical lowercase UUID string.
type AgentID string

// NewAgentID parses and canonicalizes a UUID string.
func NewAgentID(s string) (AgentID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return AgentID(""), fmt.Errorf("invalid agent identifier: %w", err)
	}
	return AgentID(id.String()), nil
}

// NewRandomAgentID generates a fresh random (version 4) agent identifier.
func NewRandomAgentID() AgentID {
	return AgentID(uuid.Must(uuid.NewRandom()).String())
}

// String returns the canonical UUID string.
func (id AgentID) String() string {
	return string(id)
}

// Validate checks that the identifier holds a well-formed UUID.
func (id AgentID) Validate() error {
	_, err := uuid.Parse(string(id))
	return err
}

// Algorithm selects the asymmetric key family for the endorsement identity.
type Algorithm string

const (
	AlgorithmRSA   Algorithm = "rsa"
	AlgorithmECDSA Algorithm = "ecdsa"
)

// ParseAlgorithm validates an algorithm name from configuration.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(s)) {
	case AlgorithmRSA:
		return AlgorithmRSA, nil
	case AlgorithmECDSA:
		return AlgorithmECDSA, nil
	default:
		return Algorithm(""), fmt.Errorf("unknown key algorithm %q", s)
	}
}

// EndorsementIdentity is the manufacturer-provisioned key hierarchy root:
// the endorsement public key and, when the hardware carries one, the
// endorsement certificate backing it.
type EndorsementIdentity struct {
	// Algorithm is the key family the endorsement key belongs to.
	Algorithm Algorithm

	// PublicKeyPEM is the PKIX PEM encoding of the endorsement public key.
	PublicKeyPEM []byte

	// Certificate is the manufacturer endorsement certificate. Nil on
	// hardware (and emulators) that do not provision one.
	Certificate *x509.Certificate
}

// CertificateDER returns the raw endorsement certificate, or nil when the
// hardware carries none.
func (ek *EndorsementIdentity) CertificateDER() []byte {
	if ek.Certificate == nil {
		return nil
	}
	return ek.Certificate.Raw
}

// AttestationIdentity is the agent-generated signing key used for quotes,
// bound to the endorsement hierarchy by the credential activation protocol.
type AttestationIdentity struct {
	// Public is the raw TPM2 public area (TPMT_PUBLIC) of the key.
	Public []byte

	// Name is the TPM object name: the name algorithm identifier followed
	// by the digest of the public area.
	Name []byte
}

// NameHex returns the hex-encoded object name.
func (ak *AttestationIdentity) NameHex() string {
	return hex.EncodeToString(ak.Name)
}

// Challenge is the encrypted credential structure returned by the registrar
// during registration. Only a device holding both the endorsement and the
// attestation private keys can recover the secret inside.
type Challenge struct {
	Credential []byte `json:"credential"`
	Secret     []byte `json:"secret"`
}

// Validate checks that both challenge components are present.
func (c Challenge) Validate() error {
	if len(c.Credential) == 0 {
		return errors.New("challenge credential is empty")
	}
	if len(c.Secret) == 0 {
		return errors.New("challenge secret is empty")
	}
	return nil
}

// SharedSecret is the value released by a successful credential activation.
// It lives only in memory and is never persisted.
type SharedSecret []byte

// MACKey derives the keyed-hash key from the shared secret: the base64
// text encoding of the secret is used verbatim as the key bytes.
func (s SharedSecret) MACKey() []byte {
	return []byte(base64.StdEncoding.EncodeToString(s))
}

// PCRMask selects a subset of the platform configuration registers by bit
// position. The zero mask selects every register.
type PCRMask uint32

// ParsePCRMask parses a 0x-prefixed hex register bitmask.
func ParsePCRMask(s string) (PCRMask, error) {
	clean := strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(clean, 16, 32)
	if err != nil {
		return PCRMask(0), fmt.Errorf("invalid register mask %q: %w", s, err)
	}
	return PCRMask(v), nil
}

// Contains reports whether the register at the given index is selected.
// The zero mask contains every index.
func (m PCRMask) Contains(index int) bool {
	if m == 0 {
		return true
	}
	if index < 0 || index > 31 {
		return false
	}
	return m&(1<<uint(index)) != 0
}

// String returns the 0x-prefixed hex form of the mask.
func (m PCRMask) String() string {
	return fmt.Sprintf("0x%x", uint32(m))
}

// PCRValue is a single platform configuration register reading.
type PCRValue struct {
	Index  int    `json:"index"`
	Digest []byte `json:"digest"`
}

// TPMQuote is a signed attestation statement over a caller-supplied nonce,
// optionally covering a set of register values.
type TPMQuote struct {
	// Attestation is the raw signed attestation structure (TPMS_ATTEST).
	Attestation []byte

	// Signature is the attestation key signature over Attestation.
	Signature []byte

	// PCRs holds the register values covered by the quote, already
	// filtered to the requested mask. Empty for identity quotes.
	PCRs []PCRValue

	// EventLog is the raw boot measurement log when the platform exposes
	// one, nil otherwise.
	EventLog []byte
}

// Wire encodes the quote in the transport format: an "r" marker followed
// by the base64 attestation, signature, and register segments separated by
// colons. The register segment is the base64 JSON encoding of the covered
// values and stays empty-object for identity quotes.
func (q *TPMQuote) Wire() string {
	pcrs := map[string]string{}
	for _, pcr := range q.PCRs {
		pcrs[strconv.Itoa(pcr.Index)] = hex.EncodeToString(pcr.Digest)
	}
	pcrJSON, _ := json.Marshal(pcrs)

	return "r" + base64.StdEncoding.EncodeToString(q.Attestation) +
		":" + base64.StdEncoding.EncodeToString(q.Signature) +
		":" + base64.StdEncoding.EncodeToString(pcrJSON)
}
