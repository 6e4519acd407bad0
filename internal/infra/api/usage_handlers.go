package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/infra/logging"
)

type consumeRequest struct {
	Kind   string `json:"kind"`
	Amount *int   `json:"amount"`
}

type consumeResponse struct {
	UserPackageID string        `json:"user_package_id"`
	Kind          string        `json:"kind"`
	Remaining     int           `json:"remaining"`
	Balance       model.Balance `json:"balance"`
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}

	res, err := s.Usage.TryConsume(r.Context(), chi.URLParam(r, "id"), model.UsageKind(req.Kind), amount)
	switch {
	case errors.Is(err, domain.ErrUsageExhausted):
		writeError(w, http.StatusConflict, "exhausted")
		return
	case errors.Is(err, domain.ErrNoActivePackage):
		writeError(w, http.StatusConflict, "inactive")
		return
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid kind or amount")
		return
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "user package not found")
		return
	case err != nil:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("usage consume failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, consumeResponse{
		UserPackageID: res.UserPackage.ID,
		Kind:          string(res.Kind),
		Remaining:     res.Remaining,
		Balance:       res.Balance,
	})
}
