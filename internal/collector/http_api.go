package collector

import (
	"embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Bldg-7/rider-agent-panel/internal/auth"
	"github.com/Bldg-7/rider-agent-panel/internal/shared"
	semver "github.com/Masterminds/semver/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

//go:embed static/index.html
var staticFS embed.FS

// PanelInfo is served unauthenticated at /v1/api/info.
type PanelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Branch      string `json:"branch"`
}

type HTTPAPI struct {
	store         *StatusStore
	hub           *Hub
	gateway       *Gateway
	flow          *auth.Flow
	gate          *auth.Gate
	info          PanelInfo
	healthChecker *HealthChecker
	trustProxy    bool
	metrics       *Metrics
	logger        *zap.Logger
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func NewHTTPAPI(store *StatusStore, hub *Hub, gateway *Gateway, flow *auth.Flow, info PanelInfo, logger *zap.Logger) *HTTPAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAPI{
		store:   store,
		hub:     hub,
		gateway: gateway,
		flow:    flow,
		gate:    flow.Gate(),
		info:    info,
		metrics: GetMetrics(),
		logger:  logger,
	}
}

func (a *HTTPAPI) SetHealthChecker(hc *HealthChecker) {
	a.healthChecker = hc
}

// SetTrustProxy makes device writes honour X-Forwarded-Proto and
// X-Forwarded-For. Leave it off unless a reverse proxy rewrites them.
func (a *HTTPAPI) SetTrustProxy(trust bool) {
	a.trustProxy = trust
}

func (a *HTTPAPI) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleLiveness)
	mux.HandleFunc("GET /readyz", a.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.flow.Register(mux)

	mux.Handle("GET /{$}", a.gate.Pages(http.HandlerFunc(a.handleIndex)))
	mux.HandleFunc("GET /v1/api/info", a.handleInfo)
	mux.Handle("GET /v1/api/simrigs", a.gate.API(http.HandlerFunc(a.handleListRigs)))
	mux.Handle("GET /v1/api/simrig/{id}/logs", a.gate.API(http.HandlerFunc(a.handleListLogs)))
	mux.HandleFunc("POST /v1/api/simrig/{id}/status", a.handleSubmitStatus)
	mux.HandleFunc("POST /v1/api/simrig/{id}/logs", a.handleSubmitLog)
	mux.Handle("GET /ws", a.gate.API(http.HandlerFunc(a.hub.ServeWS)))

	return shared.CorrelationMiddleware(mux)
}

func (a *HTTPAPI) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if a.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
		return
	}
	result := a.healthChecker.CheckLiveness(r.Context())
	status := http.StatusOK
	if result.Status != HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (a *HTTPAPI) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if a.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	result := a.healthChecker.CheckReadiness(r.Context())
	status := http.StatusOK
	if result.Status != HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (a *HTTPAPI) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		a.logger.Error("dashboard shell missing", zap.Error(err))
		http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (a *HTTPAPI) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := a.info
	if v, err := semver.NewVersion(info.Version); err == nil {
		info.Version = v.String()
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *HTTPAPI) handleListRigs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Snapshot())
}

func (a *HTTPAPI) handleListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := a.gateway.ListLogs(r.PathValue("id"))
	if err != nil {
		a.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *HTTPAPI) handleSubmitStatus(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.Unmarshal(readBody(w, r), &payload); err != nil {
		payload = nil
	}

	ctx := withClientIP(r.Context(), shared.ClientIP(r, a.trustProxy))
	_, err := a.gateway.SubmitStatus(ctx, r.PathValue("id"), payload, shared.RequestIsSecure(r, a.trustProxy), providedSecret(r))
	if err != nil {
		a.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (a *HTTPAPI) handleSubmitLog(w http.ResponseWriter, r *http.Request) {
	var sub *LogSubmission
	if err := json.Unmarshal(readBody(w, r), &sub); err != nil {
		sub = nil
	}

	ctx := withClientIP(r.Context(), shared.ClientIP(r, a.trustProxy))
	_, err := a.gateway.SubmitLog(ctx, r.PathValue("id"), sub, shared.RequestIsSecure(r, a.trustProxy), providedSecret(r))
	if err != nil {
		a.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// readBody returns nil when the body is missing or too large. Bodies that
// do not decode are passed on as nil and rejected by the gateway only after
// the secret check.
func readBody(w http.ResponseWriter, r *http.Request) []byte {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil
	}
	return data
}

func (a *HTTPAPI) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownRig):
		writeError(w, http.StatusNotFound, "SimRig not found", "UNKNOWN_RIG")
	case errors.Is(err, ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid secret key", "UNAUTHORIZED")
	case errors.Is(err, ErrInsecureTransport):
		writeError(w, http.StatusForbidden, "HTTPS is required", "INSECURE_TRANSPORT")
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		a.logger.Error("device write failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, code string) {
	writeJSON(w, status, apiError{Error: message, Code: code})
}
