package collector

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/shared"
	semver "github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized      = errors.New("invalid secret key")
	ErrInsecureTransport = errors.New("secure transport required")
	ErrInvalidRequest    = errors.New("invalid request")
)

// LogSubmission is the body of a device log push.
type LogSubmission struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Gateway authenticates device writes with the pre-shared secret and
// forwards them to the store. Checks run in order: transport (production
// only), secret, rig.
type Gateway struct {
	store      *StatusStore
	secret     [sha256.Size]byte
	production bool
	minVersion *semver.Constraints
	audit      *AuditLogger
	metrics    *Metrics
	logger     *zap.Logger
}

func NewGateway(store *StatusStore, secret string, production bool, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		store:      store,
		secret:     secretDigest(secret),
		production: production,
		metrics:    GetMetrics(),
		logger:     logger,
	}
}

// SetMinRigVersion parses and installs a semver constraint. Rigs outside it
// are still accepted but logged and counted.
func (g *Gateway) SetMinRigVersion(constraint string) error {
	if constraint == "" {
		g.minVersion = nil
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("parse min rig version: %w", err)
	}
	g.minVersion = c
	return nil
}

func (g *Gateway) SetAuditLogger(a *AuditLogger) {
	g.audit = a
}

// SubmitStatus applies a status report. A nil payload is rejected as
// ErrInvalidRequest after authentication succeeds.
func (g *Gateway) SubmitStatus(ctx context.Context, rigID string, payload map[string]any, secure bool, secret string) (StatusRecord, error) {
	start := time.Now()
	rec, err := g.submitStatus(rigID, payload, secure, secret)
	g.finish(ctx, "status", rigID, err, start)
	if err == nil {
		g.metrics.SetOnlineRigs(g.store.OnlineCount())
		g.checkVersion(ctx, rigID, rec.Version)
	}
	return rec, err
}

func (g *Gateway) submitStatus(rigID string, payload map[string]any, secure bool, secret string) (StatusRecord, error) {
	if err := g.authorize(rigID, secure, secret); err != nil {
		return StatusRecord{}, err
	}
	if payload == nil {
		return StatusRecord{}, fmt.Errorf("%w: status body must be a JSON object", ErrInvalidRequest)
	}
	return g.store.ApplyUpdate(rigID, payload)
}

// SubmitLog appends a log line. The message is required.
func (g *Gateway) SubmitLog(ctx context.Context, rigID string, sub *LogSubmission, secure bool, secret string) (LogEntry, error) {
	start := time.Now()
	entry, err := g.submitLog(rigID, sub, secure, secret)
	g.finish(ctx, "log", rigID, err, start)
	return entry, err
}

func (g *Gateway) submitLog(rigID string, sub *LogSubmission, secure bool, secret string) (LogEntry, error) {
	if err := g.authorize(rigID, secure, secret); err != nil {
		return LogEntry{}, err
	}
	if sub == nil || strings.TrimSpace(sub.Message) == "" {
		return LogEntry{}, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	return g.store.AppendLog(rigID, sub.Level, sub.Message, sub.Timestamp)
}

// ListLogs returns the rig's stored log history. Callers gate it behind a
// viewer session, not the device secret.
func (g *Gateway) ListLogs(rigID string) ([]LogEntry, error) {
	return g.store.Logs(rigID)
}

func (g *Gateway) authorize(rigID string, secure bool, secret string) error {
	if g.production && !secure {
		return ErrInsecureTransport
	}
	if !secretMatches(g.secret, secret) {
		return ErrUnauthorized
	}
	if !g.store.Has(rigID) {
		return fmt.Errorf("%w: %s", ErrUnknownRig, rigID)
	}
	return nil
}

func (g *Gateway) finish(ctx context.Context, kind, rigID string, err error, start time.Time) {
	result := "accepted"
	if err != nil {
		result = rejectionReason(err)
		shared.LogWarnWithContext(ctx, g.logger, "rejected device write",
			zap.String("kind", kind),
			zap.String("rig_id", rigID),
			zap.String("reason", result),
		)
		g.audit.LogIngestRejection(rigID, "ingest."+kind, result, err.Error(), clientIPFromContext(ctx))
	}
	g.metrics.RecordIngest(kind, result, time.Since(start).Seconds())
}

func (g *Gateway) checkVersion(ctx context.Context, rigID string, version *string) {
	if g.minVersion == nil || version == nil {
		return
	}
	v, err := semver.NewVersion(*version)
	if err != nil {
		shared.LogWarnWithContext(ctx, g.logger, "rig reported unparsable version",
			zap.String("rig_id", rigID),
			zap.String("version", *version),
		)
		g.metrics.RecordOutdatedRig(rigID)
		return
	}
	if !g.minVersion.Check(v) {
		shared.LogWarnWithContext(ctx, g.logger, "rig version below minimum",
			zap.String("rig_id", rigID),
			zap.String("version", v.String()),
			zap.String("constraint", g.minVersion.String()),
		)
		g.metrics.RecordOutdatedRig(rigID)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsecureTransport):
		return "insecure_transport"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnknownRig):
		return "unknown_rig"
	case errors.Is(err, ErrInvalidRequest):
		return "bad_request"
	default:
		return "error"
	}
}

type clientIPKey struct{}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
