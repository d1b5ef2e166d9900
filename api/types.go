// Package api defines the wire format shared by the evidence service and
// its clients: the response envelope carried by every endpoint, the result
// payloads, and the request bodies of the key delivery and registration
// operations.
package api

import (
	"encoding/json"
	"net/http"
)

// SupportedVersion is the evidence API version announced by GET /version.
const SupportedVersion = "2.1"

// Response is the envelope returned by every evidence endpoint. Code
// mirrors the HTTP status code; Status is "Success" or a short failure
// description; Results carries the operation payload.
type Response struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Results any    `json:"results,omitempty"`
}

// IdentityQuoteResults is the payload of GET /quotes/identity.
type IdentityQuoteResults struct {
	// Quote is the signed quote in transport encoding.
	Quote string `json:"quote"`

	// HashAlg, EncAlg and SignAlg describe the algorithms the quote was
	// produced with.
	HashAlg string `json:"hash_alg"`
	EncAlg  string `json:"enc_alg"`
	SignAlg string `json:"sign_alg"`

	// Pubkey is the transport public key tenants wrap key shares against.
	Pubkey string `json:"pubkey,omitempty"`

	// BootTime is the UNIX timestamp of the last platform boot.
	BootTime int64 `json:"boottime"`
}

// IntegrityQuoteResults is the payload of GET /quotes/integrity.
type IntegrityQuoteResults struct {
	Quote   string `json:"quote"`
	HashAlg string `json:"hash_alg"`
	EncAlg  string `json:"enc_alg"`
	SignAlg string `json:"sign_alg"`
	Pubkey  string `json:"pubkey,omitempty"`

	// MeasurementList is the base64 boot event log backing the register
	// values, when the platform exposes one.
	MeasurementList string `json:"mb_measurement_list,omitempty"`

	BootTime int64 `json:"boottime"`
}

// VerifyResults is the payload of GET /keys/verify.
type VerifyResults struct {
	// HMAC is the hex keyed hash of the challenge under the delivered key.
	HMAC string `json:"hmac"`
}

// PubkeyResults is the payload of GET /keys/pubkey.
type PubkeyResults struct {
	// Pubkey is the PEM transport public key.
	Pubkey string `json:"pubkey"`
}

// VersionResults is the payload of GET /version.
type VersionResults struct {
	SupportedVersion string `json:"supported_version"`
}

// UKeyRequest is the body of POST /keys/ukey. Byte fields travel base64
// encoded.
type UKeyRequest struct {
	// AuthTag is the hex keyed hash of the agent identifier under the
	// combined key, proving the sender holds both shares' material.
	AuthTag string `json:"auth_tag"`

	// EncryptedKey is the U share wrapped to the transport public key.
	EncryptedKey []byte `json:"encrypted_key"`

	// Payload optionally carries data encrypted under the combined key.
	Payload []byte `json:"payload,omitempty"`
}

// VKeyRequest is the body of POST /keys/vkey.
type VKeyRequest struct {
	// EncryptedKey is the V share wrapped to the transport public key.
	EncryptedKey []byte `json:"encrypted_key"`
}

// RegisterRequest is the body the agent sends to the registrar when it
// registers its identity keys.
type RegisterRequest struct {
	// EKCert is the DER manufacturer endorsement certificate, when the
	// hardware carries one.
	EKCert []byte `json:"ekcert,omitempty"`

	// EKPub is the PKIX PEM endorsement public key.
	EKPub []byte `json:"ek_tpm"`

	// AKPub is the raw public area of the attestation key.
	AKPub []byte `json:"aik_tpm"`
}

// ActivateRequest is the body the agent sends to prove a completed
// credential activation.
type ActivateRequest struct {
	// AuthTag is the hex keyed hash of the agent identifier under the MAC
	// key derived from the activated secret.
	AuthTag string `json:"auth_tag"`
}

// WriteResponse writes a success envelope with the given HTTP status code
// and results payload.
func WriteResponse(w http.ResponseWriter, code int, results any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Response{Code: code, Status: "Success", Results: results})
}

// WriteError writes a failure envelope. The status string carries the
// failure description in place of a results payload.
func WriteError(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Response{Code: code, Status: status})
}
