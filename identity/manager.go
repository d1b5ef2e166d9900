// Package identity sequences the provisioning of the agent's
// hardware-rooted identities and holds them for the rest of the process
// lifetime.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-attestation-agent/interfaces"
)

// Manager owns the provisioned identities. It is populated once by
// Provision and read-only afterwards; nothing in it is ever persisted, so
// a restarted agent presents a fresh attestation key.
type Manager struct {
	ek *interfaces.EndorsementIdentity
	ak *interfaces.AttestationIdentity

	payloadKey    *rsa.PrivateKey
	payloadPubPEM []byte
}

// Provision creates the identity hierarchy in strict order: endorsement
// identity first, attestation identity second, then the RSA transport key
// pair used to unwrap delivered secrets. Any failure aborts the sequence
// and is fatal to the caller; no step is retried.
func Provision(dev interfaces.Device, alg interfaces.Algorithm, log *slog.Logger) (*Manager, error) {
	ek, err := dev.EndorsementIdentity(alg)
	if err != nil {
		return nil, fmt.Errorf("could not obtain endorsement identity: %w", err)
	}
	if ek.Certificate == nil {
		log.Warn("Endorsement key carries no manufacturer certificate", "algorithm", string(alg))
	}

	ak, err := dev.CreateAttestationIdentity()
	if err != nil {
		return nil, fmt.Errorf("could not create attestation identity: %w", err)
	}
	log.Info("Provisioned attestation identity", "name", ak.NameHex())

	payloadKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("could not generate transport key pair: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&payloadKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("could not marshal transport public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return &Manager{
		ek:            ek,
		ak:            ak,
		payloadKey:    payloadKey,
		payloadPubPEM: pubPEM,
	}, nil
}

// EK returns the endorsement identity.
func (m *Manager) EK() *interfaces.EndorsementIdentity {
	return m.ek
}

// AK returns the attestation identity.
func (m *Manager) AK() *interfaces.AttestationIdentity {
	return m.ak
}

// PayloadPublicKeyPEM returns the public half of the transport key pair in
// PKIX PEM form, as served to tenants for wrapping key shares.
func (m *Manager) PayloadPublicKeyPEM() []byte {
	return m.payloadPubPEM
}

// PayloadPrivateKey returns the private half of the transport key pair for
// the delivered-key store. It never leaves the process.
func (m *Manager) PayloadPrivateKey() *rsa.PrivateKey {
	return m.payloadKey
}
