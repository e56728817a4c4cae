package httpapi

import (
	"net/http"
	"strings"

	"amana.org/internal/auth"
	"amana.org/internal/governance"
)

type proposalRequest struct {
	OrgID       string `json:"org_id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	EvidenceRef string `json:"evidence_ref"`
}

type voteRequest struct {
	Choice string `json:"choice"`
}

type setReputationRequest struct {
	Identity string `json:"identity"`
	Score    int64  `json:"score"`
}

type executeResponse struct {
	Proposal   governance.Proposal `json:"proposal"`
	Applied    bool                `json:"applied"`
	ApplyError string              `json:"apply_error,omitempty"`
}

func (a *API) handleProposalsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req proposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		p   governance.Proposal
		err error
	)
	switch governance.Kind(strings.TrimSpace(req.Kind)) {
	case governance.KindVerification, "":
		p, err = a.gov.CreateVerificationProposal(r.Context(), req.OrgID, req.Description, req.EvidenceRef)
	case governance.KindChallenge:
		p, err = a.gov.ChallengeOrganization(r.Context(), req.OrgID, req.Description, req.EvidenceRef)
	default:
		writeError(w, r, http.StatusBadRequest, "kind must be verification or challenge")
		return
	}
	if err != nil {
		handleFault(w, r, err)
		return
	}
	a.audit(r.Context(), "governance.propose", "proposal", p.ID, map[string]string{
		"org_id": p.OrgID,
		"kind":   string(p.Kind),
	})
	w.Header().Set("Location", "/v1/governance/proposals/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleProposalResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/governance/proposals/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, action := splitResource(path)

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		p, err := a.gov.GetProposal(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "votes":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req voteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		choice := governance.Choice(strings.TrimSpace(req.Choice))
		if choice != governance.ChoiceUp && choice != governance.ChoiceDown {
			writeError(w, r, http.StatusBadRequest, "choice must be up or down")
			return
		}
		if err := a.gov.CastVote(r.Context(), id, choice); err != nil {
			handleFault(w, r, err)
			return
		}
		a.audit(r.Context(), "governance.vote", "proposal", id, map[string]string{"choice": string(choice)})
		p, err := a.gov.GetProposal(id)
		if err != nil {
			handleFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "execute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.executeProposal(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// executeProposal closes the vote and, when it passed, applies the outcome to
// the organization registry under the service principal.
func (a *API) executeProposal(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.gov.ExecuteProposal(r.Context(), id)
	if err != nil {
		handleFault(w, r, err)
		return
	}

	resp := executeResponse{Proposal: p}
	if p.Passed {
		octx := auth.ContextWithPrincipal(r.Context(), a.govCtx)
		var applyErr error
		if p.Kind == governance.KindVerification {
			applyErr = a.orgs.VerifyThroughGovernance(octx, p.OrgID)
		} else {
			applyErr = a.orgs.SuspendThroughGovernance(octx, p.OrgID, "challenge passed: "+p.ID)
		}
		if applyErr != nil {
			resp.ApplyError = applyErr.Error()
		} else {
			resp.Applied = true
		}
	}

	a.audit(r.Context(), "governance.execute", "proposal", p.ID, map[string]string{
		"org_id":  p.OrgID,
		"passed":  boolString(p.Passed),
		"applied": boolString(resp.Applied),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReputation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req setReputationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.gov.SetReputation(r.Context(), req.Identity, req.Score); err != nil {
		handleFault(w, r, err)
		return
	}
	a.audit(r.Context(), "governance.set_reputation", "identity", req.Identity, map[string]string{
		"score": int64String(req.Score),
	})
	writeJSON(w, http.StatusOK, a.gov.GetUserReputation(req.Identity))
}

func (a *API) handleReputationResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/governance/reputation/"), "/")
	if identity == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, a.gov.GetUserReputation(identity))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
