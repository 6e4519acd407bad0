package api

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/infra/logging"
)

type checkoutRequest struct {
	PackageID string `json:"package_id"`
	Provider  string `json:"provider"`
}

type checkoutResponse struct {
	URL          string `json:"url"`
	PreferenceID string `json:"preference_id"`
	Provider     string `json:"provider"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PackageID == "" {
		writeError(w, http.StatusBadRequest, "package_id is required")
		return
	}
	var provider model.Provider
	if req.Provider != "" {
		p, ok := model.ParseProvider(req.Provider)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown provider")
			return
		}
		provider = p
	}

	res, err := s.Checkout.Initiate(r.Context(), UserID(r.Context()), req.PackageID, provider)
	if err != nil {
		status, msg := checkoutStatus(err)
		if status >= http.StatusInternalServerError {
			logging.With(r.Context(), s.log).Error().Err(err).Str("package_id", req.PackageID).Msg("checkout failed")
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: res.URL, PreferenceID: res.PreferenceID, Provider: string(res.Provider)})
}

func checkoutStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "too many checkout attempts"
	case errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusBadRequest, "unknown provider"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "package not found"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway, "payment provider unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

type entitlementResponse struct {
	UserPackageID string        `json:"user_package_id"`
	PackageID     string        `json:"package_id"`
	PackageName   string        `json:"package_name"`
	Status        string        `json:"status"`
	PurchasedAt   time.Time     `json:"purchased_at"`
	SupportAccess bool          `json:"support_access"`
	Balance       model.Balance `json:"balance"`
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	ent, err := s.Entitlements.Current(r.Context(), UserID(r.Context()))
	switch {
	case errors.Is(err, domain.ErrNoActivePackage):
		writeError(w, http.StatusNotFound, "no_active_package")
		return
	case err != nil:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("entitlement lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entitlementResponse{
		UserPackageID: ent.UserPackage.ID,
		PackageID:     ent.Package.ID,
		PackageName:   ent.Package.Name,
		Status:        string(ent.UserPackage.Status),
		PurchasedAt:   ent.UserPackage.PurchasedAt,
		SupportAccess: ent.Package.SupportAccess,
		Balance:       ent.Balance,
	})
}

var returnResults = map[string]bool{"success": true, "pending": true, "failure": true, "cancel": true}

// handleReturn renders the page the provider redirects the browser to.
// It is informational only; the webhook is the source of truth.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	result := chi.URLParam(r, "result")
	if !returnResults[result] || s.Locales == nil {
		http.NotFound(w, r)
		return
	}
	tr := s.Locales.For(r.Header.Get("Accept-Language"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = returnPage.Execute(w, struct {
		Lang, Title, Heading, Message, Back string
		OK                                  bool
	}{
		Lang:    tr.Lang(),
		Title:   tr.T("page_title"),
		Heading: tr.T("return." + result + ".title"),
		Message: tr.T("return." + result + ".message"),
		Back:    tr.T("back_to_app"),
		OK:      result == "success" || result == "pending",
	})
}

var returnPage = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.btn{display:inline-block;margin-top:16px;padding:10px 16px;border-radius:8px;border:1px solid #888;text-decoration:none}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{.Heading}}</h2>
  <p>{{.Message}}</p>
  <a class="btn" href="/">{{.Back}}</a>
</div>
</body>
</html>`))
