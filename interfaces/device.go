package interfaces

import "errors"

var (
	// ErrHardwareFault wraps failures reported by the root of trust
	// itself. During bootstrap these are fatal; a later occurrence fails
	// the evidence request that triggered it.
	ErrHardwareFault = errors.New("hardware root of trust fault")

	// ErrUnsupportedAlgorithm is returned when the hardware cannot provide
	// an endorsement key of the requested family.
	ErrUnsupportedAlgorithm = errors.New("unsupported key algorithm")
)

// Device is the hardware root of trust. Implementations serialize access
// internally; callers may invoke methods from concurrent goroutines.
//
// All failures originating in the hardware wrap ErrHardwareFault.
type Device interface {
	// EndorsementIdentity returns the endorsement key of the requested
	// family together with its manufacturer certificate when present.
	// A family the hardware cannot provide yields ErrUnsupportedAlgorithm.
	EndorsementIdentity(alg Algorithm) (*EndorsementIdentity, error)

	// CreateAttestationIdentity generates the attestation key under the
	// endorsement hierarchy and returns its public area and object name.
	// The private portion never leaves the device.
	CreateAttestationIdentity() (*AttestationIdentity, error)

	// ActivateCredential proves possession of both identity keys by
	// decrypting the registrar challenge inside the device. It returns
	// the released shared secret.
	ActivateCredential(challenge Challenge) (SharedSecret, error)

	// IdentityQuote produces a signed statement binding the attestation
	// key to the caller-supplied nonce.
	IdentityQuote(nonce []byte) (*TPMQuote, error)

	// IntegrityQuote produces a signed statement over the current
	// platform configuration registers, filtered by mask, bound to the
	// caller-supplied nonce.
	IntegrityQuote(nonce []byte, mask PCRMask) (*TPMQuote, error)

	// Close releases the device handle. The device must not be used
	// afterwards.
	Close() error
}
