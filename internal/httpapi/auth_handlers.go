package httpapi

import (
	"net/http"
	"strings"
	"time"

	"amana.org/internal/audit"
	"amana.org/internal/auth"
)

type tokenRequest struct {
	Identity     string   `json:"identity"`
	Capabilities []string `json:"capabilities"`
	OperatorKey  string   `json:"operator_key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		writeError(w, r, http.StatusBadRequest, "identity is required")
		return
	}
	capabilities := make([]string, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		capabilities = append(capabilities, c)
	}

	// Capability grants require the operator key; a plain identity token
	// does not.
	if len(capabilities) > 0 {
		if a.operatorKH == "" {
			writeError(w, r, http.StatusForbidden, "capability grants are disabled")
			return
		}
		ok, err := auth.VerifyPassword(req.OperatorKey, a.operatorKH)
		if err != nil || !ok {
			writeError(w, r, http.StatusForbidden, "operator key rejected")
			return
		}
	}

	tok, err := auth.GenerateToken(identity, capabilities, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"identity":     identity,
		"capabilities": capabilities,
		"expires_at":   expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     tok,
		ExpiresAt: expiresAt,
	})
}
