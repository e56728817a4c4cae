package httpapi

import (
	"net/http"
	"strings"
)

type registerOrgRequest struct {
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number"`
	Country            string `json:"country"`
	Category           string `json:"category"`
	KYCDocRef          string `json:"kyc_doc_ref"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type reputationRequest struct {
	Score int64 `json:"score"`
}

type statisticsRequest struct {
	Campaigns     int64 `json:"campaigns"`
	TotalRaised   int64 `json:"total_raised"`
	Beneficiaries int64 `json:"beneficiaries"`
}

func (a *API) handleOrgsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerOrg(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"items":          a.orgs.List(),
			"verified_count": a.orgs.VerifiedCount(),
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrgResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/orgs/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	// One-way switch, not tied to a single organization.
	if path == "freeze" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if err := a.orgs.FreezeAdminVerification(r.Context()); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "org.verification.freeze", "registry", "", nil)
		writeJSON(w, http.StatusOK, map[string]any{"frozen": true})
		return
	}

	id, action := splitResource(path)
	if action == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		org, err := a.orgs.Get(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	switch action {
	case "verify":
		if err := a.orgs.Verify(r.Context(), id); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "org.verify", "organization", id, nil)
	case "governance-verify":
		if err := a.orgs.VerifyThroughGovernance(r.Context(), id); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "org.verify.governance", "organization", id, nil)
	case "reject":
		var req reasonRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.orgs.Reject(r.Context(), id, req.Reason); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "org.reject", "organization", id, map[string]string{"reason": req.Reason})
	case "suspend":
		var req reasonRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.orgs.Suspend(r.Context(), id, req.Reason); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "org.suspend", "organization", id, map[string]string{"reason": req.Reason})
	case "blacklist":
		var req reasonRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.orgs.Blacklist(r.Context(), id, req.Reason); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "org.blacklist", "organization", id, map[string]string{"reason": req.Reason})
	case "reputation":
		var req reputationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.orgs.UpdateReputation(r.Context(), id, req.Score); err != nil {
			handleFault(w, r, err)
			return
		}
	case "statistics":
		var req statisticsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.orgs.UpdateStatistics(r.Context(), id, req.Campaigns, req.TotalRaised, req.Beneficiaries); err != nil {
			handleFault(w, r, err)
			return
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	org, err := a.orgs.Get(id)
	if err != nil {
		handleFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) registerOrg(w http.ResponseWriter, r *http.Request) {
	var req registerOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.orgs.Register(r.Context(), req.Name, req.RegistrationNumber, req.Country, req.Category, req.KYCDocRef)
	if err != nil {
		handleFault(w, r, err)
		return
	}
	a.audit(r.Context(), "org.register", "organization", org.ID, map[string]string{
		"name":    org.Name,
		"country": org.Country,
	})
	w.Header().Set("Location", "/v1/orgs/"+org.ID)
	writeJSON(w, http.StatusCreated, org)
}
