package httpapi

import (
	"net/http"
	"strings"
)

type redeemRequest struct {
	ProofRef string `json:"proof_ref"`
}

type tokenTransferRequest struct {
	Recipient string `json:"recipient"`
}

type tokenApproveRequest struct {
	Spender string `json:"spender"`
}

func (a *API) handleTokensCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	beneficiary := strings.TrimSpace(r.URL.Query().Get("beneficiary"))
	if beneficiary == "" {
		writeError(w, r, http.StatusBadRequest, "beneficiary query parameter is required")
		return
	}
	ids := a.tokens.BeneficiaryTokens(beneficiary)
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beneficiary": beneficiary,
		"items":       ids,
	})
}

func (a *API) handleTokenResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tokens/"), "/")
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
		tok, err := a.tokens.Get(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tok)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	switch action {
	case "redeem":
		var req redeemRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tok, err := a.tokens.Redeem(r.Context(), id, req.ProofRef)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		// Keep the provider ledger in step with the settled claim.
		if a.providers != nil {
			if p, perr := a.providers.GetByIdentity(tok.Redeemer); perr == nil {
				_ = a.providers.RecordRedemption(a.adminContext(r), p.ID, tok.Amount)
			}
		}
		a.audit(r.Context(), "token.redeem", "token", tok.ID, map[string]string{
			"campaign_id": tok.CampaignID,
			"amount":      int64String(tok.Amount),
		})
		writeJSON(w, http.StatusOK, tok)
	case "revoke":
		var req reasonRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		tok, err := a.tokens.Revoke(r.Context(), id, req.Reason)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "token.revoke", "token", tok.ID, map[string]string{"reason": req.Reason})
		writeJSON(w, http.StatusOK, tok)
	case "expire":
		tok, err := a.tokens.MarkExpired(r.Context(), id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tok)
	case "transfer":
		var req tokenTransferRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.tokens.Transfer(r.Context(), id, req.Recipient); err != nil {
			handleFault(w, r, err)
			return
		}
		tok, err := a.tokens.Get(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tok)
	case "approve":
		var req tokenApproveRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.tokens.Approve(r.Context(), id, req.Spender); err != nil {
			handleFault(w, r, err)
			return
		}
		tok, err := a.tokens.Get(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tok)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
