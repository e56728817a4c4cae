package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

type createCampaignRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Target       int64  `json:"target"`
	DurationDays int64  `json:"duration_days"`
	DocRef       string `json:"doc_ref"`
}

type donateRequest struct {
	Amount int64 `json:"amount"`
}

type milestoneRequest struct {
	Description string    `json:"description"`
	Target      int64     `json:"target"`
	Deadline    time.Time `json:"deadline"`
}

type completeMilestoneRequest struct {
	Index    int    `json:"index"`
	ProofRef string `json:"proof_ref"`
}

type issueTokenRequest struct {
	Beneficiary  string `json:"beneficiary"`
	Amount       int64  `json:"amount"`
	ServiceType  string `json:"service_type"`
	ValidityDays int64  `json:"validity_days"`
}

type releaseRequest struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

type restoreEscrowRequest struct {
	Amount int64 `json:"amount"`
}

func (a *API) handleCampaignsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createCampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.DurationDays <= 0 {
		writeError(w, r, http.StatusBadRequest, "duration_days must be > 0")
		return
	}
	c, err := a.campaigns.CreateCampaign(r.Context(), req.Title, req.Description, req.Category,
		req.Target, time.Duration(req.DurationDays)*24*time.Hour, req.DocRef)
	if err != nil {
		handleFault(w, r, err)
		return
	}
	a.audit(r.Context(), "campaign.create", "campaign", c.ID, map[string]string{
		"org_id": c.OrgID,
		"target": int64String(c.Target),
	})
	w.Header().Set("Location", "/v1/campaigns/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleCampaignResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/campaigns/"), "/")
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
		c, err := a.campaigns.Get(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
		return
	}

	// Read-only sub-resources.
	if r.Method == http.MethodGet {
		switch action {
		case "funds":
			funds, err := a.campaigns.GetFunds(id)
			if err != nil {
				handleFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, funds)
		case "donors":
			donors, err := a.campaigns.Donors(id)
			if err != nil {
				handleFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": donors})
		case "milestones":
			ms, err := a.campaigns.Milestones(id)
			if err != nil {
				handleFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": ms})
		case "tokens":
			writeJSON(w, http.StatusOK, map[string]any{"items": a.tokens.CampaignTokens(id)})
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	switch action {
	case "donations":
		var req donateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c, err := a.campaigns.Donate(r.Context(), id, req.Amount)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "campaign.donate", "campaign", id, map[string]string{
			"amount": int64String(req.Amount),
			"raised": int64String(c.Raised),
		})
		writeJSON(w, http.StatusCreated, c)
	case "milestones":
		var req milestoneRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.campaigns.AddMilestone(r.Context(), id, req.Description, req.Target, req.Deadline); err != nil {
			handleFault(w, r, err)
			return
		}
		ms, err := a.campaigns.Milestones(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"items": ms})
	case "milestones/complete":
		var req completeMilestoneRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.campaigns.CompleteMilestone(r.Context(), id, req.Index, req.ProofRef); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "campaign.milestone.complete", "campaign", id, map[string]string{
			"index": strconv.Itoa(req.Index),
		})
		ms, err := a.campaigns.Milestones(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": ms})
	case "tokens":
		var req issueTokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.ValidityDays <= 0 {
			writeError(w, r, http.StatusBadRequest, "validity_days must be > 0")
			return
		}
		tok, err := a.campaigns.IssueEntitlementToken(r.Context(), id, req.Beneficiary,
			req.Amount, req.ServiceType, time.Duration(req.ValidityDays)*24*time.Hour)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "campaign.token.issue", "token", tok.ID, map[string]string{
			"campaign_id": id,
			"beneficiary": req.Beneficiary,
			"amount":      int64String(req.Amount),
		})
		w.Header().Set("Location", "/v1/tokens/"+tok.ID)
		writeJSON(w, http.StatusCreated, tok)
	case "release":
		var req releaseRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.campaigns.ReleaseFunds(r.Context(), id, req.Recipient, req.Amount); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "campaign.release", "campaign", id, map[string]string{
			"recipient": req.Recipient,
			"amount":    int64String(req.Amount),
		})
		funds, err := a.campaigns.GetFunds(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, funds)
	case "restore-escrow":
		var req restoreEscrowRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.campaigns.RestoreEscrow(r.Context(), id, req.Amount); err != nil {
			handleFault(w, r, err)
			return
		}
		funds, err := a.campaigns.GetFunds(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, funds)
	case "pause":
		if err := a.campaigns.PauseCampaign(r.Context(), id); err != nil {
			handleFault(w, r, err)
			return
		}
		a.campaignStatus(w, r, id)
	case "resume":
		if err := a.campaigns.ResumeCampaign(r.Context(), id); err != nil {
			handleFault(w, r, err)
			return
		}
		a.campaignStatus(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) campaignStatus(w http.ResponseWriter, r *http.Request, id string) {
	c, err := a.campaigns.Get(id)
	if err != nil {
		handleFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
