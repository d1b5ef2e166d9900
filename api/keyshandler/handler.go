// Package keyshandler serves the key delivery operations of the evidence
// API: accepting wrapped key shares, proving possession of the combined
// key, and exposing the transport public key tenants wrap shares against.
package keyshandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/tee-attestation-agent/api"
	"github.com/ruteri/tee-attestation-agent/payload"
)

const (
	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024

	// authTagLength is the hex length of an HMAC-SHA384 tag.
	authTagLength = 96
)

// Handler processes key delivery requests against the payload store.
type Handler struct {
	store         *payload.Store
	transportPub  []byte
	keyDeliveries *prometheus.CounterVec
	log           *slog.Logger
}

// NewHandler creates a key delivery handler.
//
// Parameters:
//   - store: payload store combining and holding delivered shares
//   - transportPubPEM: transport public key served to tenants
//   - keyDeliveries: counter by share kind, may be nil
//   - log: structured logger
func NewHandler(store *payload.Store, transportPubPEM []byte, keyDeliveries *prometheus.CounterVec, log *slog.Logger) *Handler {
	return &Handler{
		store:         store,
		transportPub:  transportPubPEM,
		keyDeliveries: keyDeliveries,
		log:           log,
	}
}

// RegisterRoutes mounts the key delivery endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/keys/verify", h.HandleVerify)
	r.Post("/keys/ukey", h.HandleUKey)
	r.Post("/keys/vkey", h.HandleVKey)
	r.Get("/keys/pubkey", h.HandlePubkey)
}

// HandleVerify serves GET /keys/verify?challenge=.
//
// It returns the keyed hash of the challenge under the delivered key, or
// 404 while no key has been delivered yet.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("challenge")
	if challenge == "" {
		api.WriteError(w, http.StatusBadRequest, "challenge parameter is required")
		return
	}

	mac, err := h.store.Verify([]byte(challenge))
	if errors.Is(err, payload.ErrKeyNotReady) {
		api.WriteError(w, http.StatusNotFound, "bootstrap key not yet available")
		return
	}
	if err != nil {
		h.log.Error("Could not compute challenge response", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "could not compute challenge response")
		return
	}

	api.WriteResponse(w, http.StatusOK, api.VerifyResults{HMAC: mac})
}

// HandleUKey serves POST /keys/ukey.
//
// The body carries the wrapped tenant share, the authentication tag over
// the agent identifier, and optionally a payload encrypted under the
// combined key. Inconsistent shares are rejected with 400 and leave the
// previously delivered key, if any, untouched.
func (h *Handler) HandleUKey(w http.ResponseWriter, r *http.Request) {
	var req api.UKeyRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if len(req.AuthTag) != authTagLength {
		api.WriteError(w, http.StatusBadRequest, "invalid auth_tag")
		return
	}
	if len(req.EncryptedKey) == 0 {
		api.WriteError(w, http.StatusBadRequest, "encrypted_key is required")
		return
	}

	if err := h.store.AddUShare(req.AuthTag, req.EncryptedKey, req.Payload); err != nil {
		if errors.Is(err, payload.ErrKeyReconstruction) {
			h.log.Warn("Rejected tenant key share", "err", err)
			api.WriteError(w, http.StatusBadRequest, "key shares are inconsistent")
			return
		}
		h.log.Warn("Could not accept tenant key share", "err", err)
		api.WriteError(w, http.StatusBadRequest, "could not unwrap key share")
		return
	}

	h.count("ukey")
	api.WriteResponse(w, http.StatusOK, nil)
}

// HandleVKey serves POST /keys/vkey with the wrapped verifier share.
func (h *Handler) HandleVKey(w http.ResponseWriter, r *http.Request) {
	var req api.VKeyRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if len(req.EncryptedKey) == 0 {
		api.WriteError(w, http.StatusBadRequest, "encrypted_key is required")
		return
	}

	if err := h.store.AddVShare(req.EncryptedKey); err != nil {
		if errors.Is(err, payload.ErrKeyReconstruction) {
			h.log.Warn("Rejected verifier key share", "err", err)
			api.WriteError(w, http.StatusBadRequest, "key shares are inconsistent")
			return
		}
		h.log.Warn("Could not accept verifier key share", "err", err)
		api.WriteError(w, http.StatusBadRequest, "could not unwrap key share")
		return
	}

	h.count("vkey")
	api.WriteResponse(w, http.StatusOK, nil)
}

// HandlePubkey serves GET /keys/pubkey with the PEM transport public key.
func (h *Handler) HandlePubkey(w http.ResponseWriter, r *http.Request) {
	api.WriteResponse(w, http.StatusOK, api.PubkeyResults{Pubkey: string(h.transportPub)})
}

// decodeBody decodes a size-capped JSON request body, writing the failure
// envelope itself on malformed input.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Debug("Malformed key delivery body", "err", err)
		api.WriteError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (h *Handler) count(kind string) {
	if h.keyDeliveries == nil {
		return
	}
	h.keyDeliveries.WithLabelValues(kind).Inc()
}
