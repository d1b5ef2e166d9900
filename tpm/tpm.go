package tpm

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/go-attestation/attest"
	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/ruteri/tee-attestation-agent/interfaces"
)

// Device is the TPM-backed implementation of interfaces.Device. A single
// mutex serializes every device command.
type Device struct {
	mu  sync.Mutex
	log *slog.Logger

	tpm *attest.TPM
	ak  *attest.AK
}

// Open opens the platform TPM, logs its identification, and warns when the
// device is a software emulator (vendor string containing "SW").
func Open(log *slog.Logger) (*Device, error) {
	t, err := attest.OpenTPM(&attest.OpenConfig{})
	if err != nil {
		return nil, fmt.Errorf("could not open device: %w (%w)", interfaces.ErrHardwareFault, err)
	}

	info, err := t.Info()
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("could not read device info: %w (%w)", interfaces.ErrHardwareFault, err)
	}

	log.Info("Opened hardware root of trust",
		"manufacturer", info.Manufacturer.String(),
		"vendor", info.VendorInfo,
		"firmware", fmt.Sprintf("%d.%d", info.FirmwareVersionMajor, info.FirmwareVersionMinor),
	)

	if strings.Contains(info.VendorInfo, "SW") {
		log.Warn("INSECURE: the agent is talking to a software emulator rather than a hardware device")
		log.Warn("INSECURE: attestation evidence produced by this agent is not rooted in hardware")
		log.Warn("INSECURE: only run in this mode for testing or debugging")
	}

	return &Device{log: log, tpm: t}, nil
}

// EndorsementIdentity returns the endorsement key matching the requested
// family together with its manufacturer certificate when provisioned.
func (d *Device) EndorsementIdentity(alg interfaces.Algorithm) (*interfaces.EndorsementIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	eks, err := d.tpm.EKs()
	if err != nil {
		return nil, fmt.Errorf("could not read endorsement keys: %w (%w)", interfaces.ErrHardwareFault, err)
	}

	for _, ek := range eks {
		if keyAlgorithm(ek.Public) != alg {
			continue
		}

		pemBytes, err := encodePublicKeyPEM(ek.Public)
		if err != nil {
			return nil, fmt.Errorf("could not encode endorsement public key: %w", err)
		}

		return &interfaces.EndorsementIdentity{
			Algorithm:    alg,
			PublicKeyPEM: pemBytes,
			Certificate:  ek.Certificate,
		}, nil
	}

	return nil, fmt.Errorf("no %s endorsement key available: %w", alg, interfaces.ErrUnsupportedAlgorithm)
}

// CreateAttestationIdentity generates a fresh attestation key under the
// endorsement hierarchy. A previously created key is released first.
func (d *Device) CreateAttestationIdentity() (*interfaces.AttestationIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ak != nil {
		d.ak.Close(d.tpm)
		d.ak = nil
	}

	ak, err := d.tpm.NewAK(&attest.AKConfig{})
	if err != nil {
		return nil, fmt.Errorf("could not create attestation key: %w (%w)", interfaces.ErrHardwareFault, err)
	}
	d.ak = ak

	params := ak.AttestationParameters()
	name, err := objectName(params.Public)
	if err != nil {
		return nil, fmt.Errorf("could not compute attestation key name: %w", err)
	}

	return &interfaces.AttestationIdentity{
		Public: params.Public,
		Name:   name,
	}, nil
}

// ActivateCredential decrypts the registrar challenge inside the device and
// returns the released shared secret.
func (d *Device) ActivateCredential(challenge interfaces.Challenge) (interfaces.SharedSecret, error) {
	if err := challenge.Validate(); err != nil {
		return nil, fmt.Errorf("invalid challenge: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ak == nil {
		return nil, errors.New("no attestation identity present")
	}

	secret, err := d.ak.ActivateCredential(d.tpm, attest.EncryptedCredential{
		Credential: challenge.Credential,
		Secret:     challenge.Secret,
	})
	if err != nil {
		return nil, fmt.Errorf("credential activation failed: %w (%w)", interfaces.ErrHardwareFault, err)
	}

	return interfaces.SharedSecret(secret), nil
}

// IdentityQuote produces a signed statement binding the attestation key to
// the nonce.
func (d *Device) IdentityQuote(nonce []byte) (*interfaces.TPMQuote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ak == nil {
		return nil, errors.New("no attestation identity present")
	}

	q, err := d.ak.Quote(d.tpm, nonce, attest.HashSHA256)
	if err != nil {
		return nil, fmt.Errorf("could not produce identity quote: %w (%w)", interfaces.ErrHardwareFault, err)
	}

	return &interfaces.TPMQuote{
		Attestation: q.Quote,
		Signature:   q.Signature,
	}, nil
}

// IntegrityQuote produces a signed statement over the current register
// state, reporting the values selected by mask. The boot measurement log is
// attached when the platform exposes one.
func (d *Device) IntegrityQuote(nonce []byte, mask interfaces.PCRMask) (*interfaces.TPMQuote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ak == nil {
		return nil, errors.New("no attestation identity present")
	}

	pcrs, err := d.tpm.PCRs(attest.HashSHA256)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration registers: %w (%w)", interfaces.ErrHardwareFault, err)
	}

	q, err := d.ak.Quote(d.tpm, nonce, attest.HashSHA256)
	if err != nil {
		return nil, fmt.Errorf("could not produce integrity quote: %w (%w)", interfaces.ErrHardwareFault, err)
	}

	quote := &interfaces.TPMQuote{
		Attestation: q.Quote,
		Signature:   q.Signature,
	}
	for _, pcr := range pcrs {
		if !mask.Contains(pcr.Index) {
			continue
		}
		quote.PCRs = append(quote.PCRs, interfaces.PCRValue{Index: pcr.Index, Digest: pcr.Digest})
	}

	if eventLog, err := d.tpm.MeasurementLog(); err == nil {
		quote.EventLog = eventLog
	}

	return quote, nil
}

// Close releases the attestation key handle and the device itself.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ak != nil {
		if err := d.ak.Close(d.tpm); err != nil {
			d.log.Warn("Could not release attestation key handle", "err", err)
		}
		d.ak = nil
	}
	return d.tpm.Close()
}

// objectName computes the TPM2 object name of a public area: the big-endian
// name algorithm identifier followed by that algorithm's digest of the area.
func objectName(public []byte) ([]byte, error) {
	decoded, err := tpm2.DecodePublic(public)
	if err != nil {
		return nil, fmt.Errorf("could not decode public area: %w", err)
	}

	hashFn, err := decoded.NameAlg.Hash()
	if err != nil {
		return nil, fmt.Errorf("unsupported name algorithm: %w", err)
	}

	name := make([]byte, 2, 2+hashFn.Size())
	binary.BigEndian.PutUint16(name, uint16(decoded.NameAlg))

	digest := hashFn.New()
	digest.Write(public)
	return digest.Sum(name), nil
}

func keyAlgorithm(pub crypto.PublicKey) interfaces.Algorithm {
	switch pub.(type) {
	case *rsa.PublicKey:
		return interfaces.AlgorithmRSA
	case *ecdsa.PublicKey:
		return interfaces.AlgorithmECDSA
	default:
		return interfaces.Algorithm("")
	}
}

func encodePublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("could not marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
