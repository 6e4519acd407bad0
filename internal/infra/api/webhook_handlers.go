package api

import (
	"errors"
	"io"
	"net/http"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/infra/logging"
	"drivepass-billing/internal/usecase"
)

var received = map[string]bool{"received": true}

// readBody returns the raw body. Signature checks need the bytes exactly as sent.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}
	return body, true
}

func (s *Server) handleCardWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	out, err := s.Webhooks.HandleCardWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid signature")
		return
	}
	s.ack(w, r, out)
}

func (s *Server) handleWalletWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	n := usecase.WalletNotification{
		Signature:       r.Header.Get("x-signature"),
		RequestID:       r.Header.Get("x-request-id"),
		QueryResourceID: firstNonEmpty(q.Get("data.id"), q.Get("id")),
		QueryType:       firstNonEmpty(q.Get("type"), q.Get("topic")),
		Body:            body,
	}
	out, err := s.Webhooks.HandleWalletWebhook(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}
	s.ack(w, r, out)
}

// ack answers 200 for every verified delivery so the provider stops retrying.
// Failures past verification are repaired by the reconciler.
func (s *Server) ack(w http.ResponseWriter, r *http.Request, out *usecase.Outcome) {
	if out != nil {
		if err := out.Failure(); err != nil && !errors.Is(err, domain.ErrMalformedCorrelation) {
			logging.With(r.Context(), s.log).Warn().Err(err).Str("delivery_id", out.DeliveryID).
				Msg("webhook acknowledged with a processing error")
		}
	}
	writeJSON(w, http.StatusOK, received)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
