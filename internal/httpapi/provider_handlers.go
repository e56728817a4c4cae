package httpapi

import (
	"net/http"
	"strings"

	"amana.org/internal/providers"
)

type recordRedemptionRequest struct {
	Amount int64 `json:"amount"`
}

type registerProviderRequest struct {
	Name        string `json:"name"`
	ServiceType string `json:"service_type"`
	Region      string `json:"region"`
	DocRef      string `json:"doc_ref"`
}

func (a *API) handleProvidersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req registerProviderRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.providers.Register(r.Context(), req.Name, req.ServiceType, req.Region, req.DocRef)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "provider.register", "provider", p.ID, map[string]string{
			"service_type": p.ServiceType,
		})
		w.Header().Set("Location", "/v1/providers/"+p.ID)
		writeJSON(w, http.StatusCreated, p)
	case http.MethodGet:
		status := providers.Status(strings.TrimSpace(r.URL.Query().Get("status")))
		serviceType := strings.TrimSpace(r.URL.Query().Get("service_type"))
		writeJSON(w, http.StatusOK, map[string]any{
			"items": a.providers.List(status, serviceType),
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProviderResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/providers/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, action := splitResource(path)

	if action == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		p, err := a.providers.Get(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var (
		p   providers.Provider
		err error
	)
	switch action {
	case "verify":
		p, err = a.providers.Verify(r.Context(), id)
	case "reject":
		var req reasonRequest
		if derr := decodeJSON(w, r, &req); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		p, err = a.providers.Reject(r.Context(), id, req.Reason)
	case "suspend":
		var req reasonRequest
		if derr := decodeJSON(w, r, &req); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		p, err = a.providers.Suspend(r.Context(), id, req.Reason)
	case "reinstate":
		p, err = a.providers.Reinstate(r.Context(), id)
	case "record-redemption":
		var req recordRedemptionRequest
		if derr := decodeJSON(w, r, &req); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		if err = a.providers.RecordRedemption(r.Context(), id, req.Amount); err == nil {
			p, err = a.providers.Get(id)
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleFault(w, r, err)
		return
	}
	a.audit(r.Context(), "provider."+action, "provider", p.ID, nil)
	writeJSON(w, http.StatusOK, p)
}
