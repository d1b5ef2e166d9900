package revocation

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUntrustedSigner is returned when a notice signature recovers to a key
// other than the configured trust anchor.
var ErrUntrustedSigner = errors.New("notice signed by untrusted key")

// Notice is a signed revocation message as it travels on the wire. The
// signature is a hex recoverable signature over the raw payload bytes.
type Notice struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// NoticePayload is the decoded payload content the agent acts on.
type NoticePayload struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Verifier checks notice signatures against a single trust anchor.
type Verifier struct {
	trusted common.Address
}

// NewVerifier creates a verifier from the configured trust anchor: either
// a 20-byte signer address or a 65-byte uncompressed public key, hex
// encoded with an optional 0x prefix.
func NewVerifier(trustAnchorHex string) (*Verifier, error) {
	clean := strings.TrimPrefix(strings.ToLower(trustAnchorHex), "0x")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid trust anchor: %w", err)
	}

	switch len(raw) {
	case common.AddressLength:
		return &Verifier{trusted: common.BytesToAddress(raw)}, nil
	case 65:
		pubkey, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trust anchor public key: %w", err)
		}
		return &Verifier{trusted: crypto.PubkeyToAddress(*pubkey)}, nil
	default:
		return nil, fmt.Errorf("invalid trust anchor length %d", len(raw))
	}
}

// Verify checks the notice signature. It recovers the signer from the
// recoverable signature over the payload digest and compares it to the
// trust anchor.
func (v *Verifier) Verify(notice Notice) error {
	if len(notice.Payload) == 0 {
		return errors.New("notice payload is empty")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(notice.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("could not decode notice signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("unexpected notice signature length %d", len(sig))
	}

	recovered, err := crypto.SigToPub(crypto.Keccak256(notice.Payload), sig)
	if err != nil {
		return fmt.Errorf("could not recover notice signer: %w", err)
	}

	if crypto.PubkeyToAddress(*recovered) != v.trusted {
		return ErrUntrustedSigner
	}
	return nil
}
