// Package registrar implements the agent side of the two-phase
// registration handshake: submitting the identity keys, activating the
// returned credential challenge, and proving the activation with a keyed
// hash over the agent identifier.
package registrar

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/tee-attestation-agent/api"
	"github.com/ruteri/tee-attestation-agent/interfaces"
)

var (
	// ErrRegistrationRejected is returned when the registrar refuses the
	// identity material. Fatal to the agent; there is no retry.
	ErrRegistrationRejected = errors.New("registrar rejected registration")

	// ErrActivationRejected is returned when the registrar refuses the
	// activation proof.
	ErrActivationRejected = errors.New("registrar rejected activation")
)

// Client performs the registration handshake against a registrar instance.
type Client struct {
	// Client is the HTTP client used for all registrar calls. Defaults to
	// http.DefaultClient.
	Client *http.Client

	// BaseURL is the registrar endpoint, e.g. http://registrar:8890.
	BaseURL string
}

type registerResponse struct {
	Code    int                  `json:"code"`
	Status  string               `json:"status"`
	Results interfaces.Challenge `json:"results"`
}

// Register submits the endorsement and attestation public material under
// the agent identifier and returns the activation challenge produced by
// the registrar.
func (c *Client) Register(ctx context.Context, agentID interfaces.AgentID, ek *interfaces.EndorsementIdentity, ak *interfaces.AttestationIdentity) (*interfaces.Challenge, error) {
	body, err := json.Marshal(api.RegisterRequest{
		EKCert: ek.CertificateDER(),
		EKPub:  ek.PublicKeyPEM,
		AKPub:  ak.Public,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/v2/agents/%s", c.BaseURL, agentID.String()),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request registrar: %w", err)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read registrar response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: registrar returned %d: %s", ErrRegistrationRejected, resp.StatusCode, string(respBody))
	}

	var parsed registerResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("could not parse registrar response: %w", err)
	}
	if err := parsed.Results.Validate(); err != nil {
		return nil, fmt.Errorf("registrar returned an invalid challenge: %w", err)
	}

	return &parsed.Results, nil
}

// Activate submits the auth tag proving the challenge secret was recovered
// on the device.
func (c *Client) Activate(ctx context.Context, agentID interfaces.AgentID, authTag string) error {
	body, err := json.Marshal(api.ActivateRequest{AuthTag: authTag})
	if err != nil {
		return fmt.Errorf("could not encode activation request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		fmt.Sprintf("%s/v2/agents/%s/activate", c.BaseURL, agentID.String()),
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("could not request registrar: %w", err)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read registrar response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: registrar returned %d: %s", ErrActivationRejected, resp.StatusCode, string(respBody))
	}

	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		return http.DefaultClient
	}
	return c.Client
}

// ComputeAuthTag derives the activation proof: the base64 text of the
// shared secret keys an HMAC-SHA384 over the agent identifier string, and
// the tag is the hex encoding of that digest.
func ComputeAuthTag(secret interfaces.SharedSecret, agentID interfaces.AgentID) string {
	mac := hmac.New(sha512.New384, secret.MACKey())
	mac.Write([]byte(agentID.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
