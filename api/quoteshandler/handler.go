// Package quoteshandler serves the quote operations of the evidence API.
package quoteshandler

import (
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/tee-attestation-agent/api"
	"github.com/ruteri/tee-attestation-agent/interfaces"
)

const (
	// maxNonceLength caps the nonce accepted from callers. Longer values
	// cannot be used as quote qualifying data.
	maxNonceLength = 64

	hashAlg = "sha256"
	encAlg  = "rsa"
	signAlg = "rsassa"
)

// Handler processes quote requests against the hardware root of trust.
type Handler struct {
	device       interfaces.Device
	transportPub []byte
	quotesServed *prometheus.CounterVec
	log          *slog.Logger
}

// NewHandler creates a quote handler.
//
// Parameters:
//   - device: hardware root of trust producing the quotes
//   - transportPubPEM: transport public key included in quote results
//   - quotesServed: counter by quote type, may be nil
//   - log: structured logger
func NewHandler(device interfaces.Device, transportPubPEM []byte, quotesServed *prometheus.CounterVec, log *slog.Logger) *Handler {
	return &Handler{
		device:       device,
		transportPub: transportPubPEM,
		quotesServed: quotesServed,
		log:          log,
	}
}

// RegisterRoutes mounts the quote endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/quotes/identity", h.HandleIdentityQuote)
	r.Get("/quotes/integrity", h.HandleIntegrityQuote)
}

// HandleIdentityQuote serves GET /quotes/identity?nonce=.
//
// The quote binds the attestation key to the caller-supplied nonce. A
// request without a nonce is rejected before the hardware is touched.
func (h *Handler) HandleIdentityQuote(w http.ResponseWriter, r *http.Request) {
	nonce, ok := h.nonceParam(w, r)
	if !ok {
		return
	}

	quote, err := h.device.IdentityQuote(nonce)
	if err != nil {
		h.log.Error("Could not produce identity quote", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "could not produce quote")
		return
	}

	h.count("identity")
	api.WriteResponse(w, http.StatusOK, api.IdentityQuoteResults{
		Quote:    quote.Wire(),
		HashAlg:  hashAlg,
		EncAlg:   encAlg,
		SignAlg:  signAlg,
		Pubkey:   string(h.transportPub),
		BootTime: readBootTime(),
	})
}

// HandleIntegrityQuote serves GET /quotes/integrity?nonce=&mask=&partial=.
//
// The quote covers the current register state filtered by the optional
// mask. partial=1 omits the transport public key from the results for
// callers that already hold it.
func (h *Handler) HandleIntegrityQuote(w http.ResponseWriter, r *http.Request) {
	nonce, ok := h.nonceParam(w, r)
	if !ok {
		return
	}

	mask := interfaces.PCRMask(0)
	if maskParam := r.URL.Query().Get("mask"); maskParam != "" {
		parsed, err := interfaces.ParsePCRMask(maskParam)
		if err != nil {
			h.log.Debug("Integrity quote request with invalid mask", "mask", maskParam, "err", err)
			api.WriteError(w, http.StatusBadRequest, "invalid mask parameter")
			return
		}
		mask = parsed
	}

	quote, err := h.device.IntegrityQuote(nonce, mask)
	if err != nil {
		h.log.Error("Could not produce integrity quote", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "could not produce quote")
		return
	}

	results := api.IntegrityQuoteResults{
		Quote:    quote.Wire(),
		HashAlg:  hashAlg,
		EncAlg:   encAlg,
		SignAlg:  signAlg,
		BootTime: readBootTime(),
	}
	if len(quote.EventLog) > 0 {
		results.MeasurementList = base64.StdEncoding.EncodeToString(quote.EventLog)
	}
	if r.URL.Query().Get("partial") != "1" {
		results.Pubkey = string(h.transportPub)
	}

	h.count("integrity")
	api.WriteResponse(w, http.StatusOK, results)
}

// nonceParam extracts and validates the nonce query parameter, writing the
// failure envelope itself when validation fails.
func (h *Handler) nonceParam(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	nonce := r.URL.Query().Get("nonce")
	if nonce == "" {
		h.log.Debug("Quote request without nonce", "path", r.URL.Path)
		api.WriteError(w, http.StatusBadRequest, "nonce parameter is required")
		return nil, false
	}
	if len(nonce) > maxNonceLength {
		h.log.Debug("Quote request with oversized nonce", "path", r.URL.Path, "length", len(nonce))
		api.WriteError(w, http.StatusBadRequest, "nonce parameter too long")
		return nil, false
	}
	return []byte(nonce), true
}

func (h *Handler) count(quoteType string) {
	if h.quotesServed == nil {
		return
	}
	h.quotesServed.WithLabelValues(quoteType).Inc()
}
