// Package httpapi exposes the custody services over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"amana.org/api/spec"
	"amana.org/internal/audit"
	"amana.org/internal/auth"
	"amana.org/internal/campaign"
	"amana.org/internal/fault"
	"amana.org/internal/governance"
	"amana.org/internal/obs"
	"amana.org/internal/orgs"
	"amana.org/internal/providers"
	"amana.org/internal/store/pg"
	"amana.org/internal/stream"
	"amana.org/internal/token"
)

// governanceIdentity executes passed proposal outcomes against the
// organization registry.
const governanceIdentity = "governance-engine"

// ReadyProbe pings the backing database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the services behind the API.
type Config struct {
	Orgs       *orgs.Registry
	Governance *governance.Engine
	Campaigns  *campaign.Ledger
	Tokens     *token.Registry
	Providers  *providers.Registry
	Events     *stream.Stream
	Archive    *pg.Archive
	ReadyProbe ReadyProbe
	Version    string

	// OperatorKeyHash is the argon2id hash gating capability-bearing token
	// issuance. Empty disables capability grants over HTTP.
	OperatorKeyHash string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	orgs       *orgs.Registry
	gov        *governance.Engine
	campaigns  *campaign.Ledger
	tokens     *token.Registry
	providers  *providers.Registry
	events     *stream.Stream
	archive    *pg.Archive
	govCtx     auth.Principal
	operatorKH string
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		orgs:       cfg.Orgs,
		gov:        cfg.Governance,
		campaigns:  cfg.Campaigns,
		tokens:     cfg.Tokens,
		providers:  cfg.Providers,
		events:     cfg.Events,
		archive:    cfg.Archive,
		govCtx:     auth.NewPrincipal(governanceIdentity, nil),
		operatorKH: cfg.OperatorKeyHash,
	}

	// Passed proposals are applied through the community path; the service
	// identity carries the highest reputation so the transition never fails
	// on the executor's own standing.
	if a.gov != nil {
		seedCtx := auth.ContextWithPrincipal(context.Background(),
			auth.NewPrincipal(governanceIdentity, []string{auth.CapAdmin}))
		_ = a.gov.SetReputation(seedCtx, governanceIdentity, governance.MaxReputation)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/orgs", a.handleOrgsCollection)
	a.mux.HandleFunc("/v1/orgs/", a.handleOrgResource)

	a.mux.HandleFunc("/v1/governance/proposals", a.handleProposalsCollection)
	a.mux.HandleFunc("/v1/governance/proposals/", a.handleProposalResource)
	a.mux.HandleFunc("/v1/governance/reputation", a.handleReputation)
	a.mux.HandleFunc("/v1/governance/reputation/", a.handleReputationResource)

	a.mux.HandleFunc("/v1/campaigns", a.handleCampaignsCollection)
	a.mux.HandleFunc("/v1/campaigns/", a.handleCampaignResource)

	a.mux.HandleFunc("/v1/tokens", a.handleTokensCollection)
	a.mux.HandleFunc("/v1/tokens/", a.handleTokenResource)

	a.mux.HandleFunc("/v1/providers", a.handleProvidersCollection)
	a.mux.HandleFunc("/v1/providers/", a.handleProviderResource)

	a.mux.HandleFunc("/v1/events", a.Stream)
	a.mux.HandleFunc("/v1/events/archive", a.handleEventArchive)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented root handler with authentication applied.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "amana-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "amana-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func (a *API) audit(ctx context.Context, event, entity, id string, meta map[string]string) {
	fields := map[string]any{
		"entity":    entity,
		"entity_id": id,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorKind(w, r, code, "", msg)
}

func writeErrorKind(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if kind != "" {
		payload["kind"] = kind
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleFault maps domain error kinds onto HTTP statuses.
func handleFault(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.Kind(err)
	var code int
	switch kind {
	case "validation":
		code = http.StatusBadRequest
	case "unauthorized":
		code = http.StatusForbidden
	case "not_found":
		code = http.StatusNotFound
	case "state", "resource":
		code = http.StatusConflict
	case "temporal":
		code = http.StatusUnprocessableEntity
	default:
		writeErrorKind(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeErrorKind(w, r, code, kind, err.Error())
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

// adminContext carries the service's own principal for internal
// bookkeeping that follows a caller-initiated mutation.
func (a *API) adminContext(r *http.Request) context.Context {
	return auth.ContextWithPrincipal(r.Context(),
		auth.NewPrincipal("amana-api", []string{auth.CapAdmin}))
}

func int64String(v int64) string {
	return strconv.FormatInt(v, 10)
}

// splitResource divides "<id>" or "<id>/<action...>" from a trimmed path.
func splitResource(path string) (id, action string) {
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i], strings.Trim(path[i+1:], "/")
	}
	return path, ""
}
