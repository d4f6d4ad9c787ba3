package collector

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/auth"
	"github.com/Bldg-7/rider-agent-panel/internal/config"
	"github.com/Bldg-7/rider-agent-panel/internal/shared"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	auditRetention      = 30 * 24 * time.Hour
	maintenanceInterval = time.Hour
	shutdownTimeout     = 5 * time.Second
)

// Server owns every panel component and their lifecycle.
type Server struct {
	cfg      *config.PanelConfig
	logger   *zap.Logger
	clock    clockwork.Clock
	db       *sql.DB
	notifier OfflineNotifier

	store   *StatusStore
	hub     *Hub
	monitor *StalenessMonitor
	gateway *Gateway
	audit   *AuditLogger
	flow    *auth.Flow
	api     *HTTPAPI

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	listener net.Listener
	httpSrv  *http.Server
}

type Option func(*Server)

func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithDatabase enables the SQLite audit trail. The schema must already be
// migrated.
func WithDatabase(db *sql.DB) Option {
	return func(s *Server) { s.db = db }
}

// WithNotifier overrides the notifier built from the Discord settings.
func WithNotifier(n OfflineNotifier) Option {
	return func(s *Server) { s.notifier = n }
}

func NewServer(cfg *config.PanelConfig, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = NewHub(cfg.Server.AllowedOrigins, s.clock, logger.Named("hub"))
	s.hub.SetStrictOrigin(cfg.Server.StrictOrigin)
	s.store = NewStatusStore(cfg.Rigs, s.clock, s.hub)
	s.hub.SetSnapshotSource(s.store)

	monitor, err := NewStalenessMonitor(s.store, cfg.SweepInterval(), cfg.StaleAfter(), s.clock, logger.Named("monitor"))
	if err != nil {
		return nil, err
	}
	s.monitor = monitor
	if s.notifier == nil && cfg.Notify.Discord.BotToken != "" {
		n, err := NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger.Named("discord"))
		if err != nil {
			return nil, err
		}
		s.notifier = n
	}

	s.audit = NewAuditLogger(s.db, logger.Named("audit"))

	s.gateway = NewGateway(s.store, cfg.Ingest.SecretKey, cfg.Server.Production, logger.Named("gateway"))
	s.gateway.SetAuditLogger(s.audit)
	if err := s.gateway.SetMinRigVersion(cfg.Panel.MinRigVersion); err != nil {
		return nil, err
	}

	s.flow, err = auth.NewFlow(auth.Options{
		Enabled:    cfg.Auth.Enabled,
		IssuerURL:  cfg.Auth.ServerURL,
		ClientID:   cfg.Auth.ClientID,
		Scopes:     cfg.Auth.Scopes,
		PublicURL:  cfg.Server.PublicURL,
		Secure:     cfg.Server.Production,
		TrustProxy: cfg.Server.TrustProxy,
		Recorder:   s.audit,
		Logger:     logger.Named("auth"),
	})
	if err != nil {
		return nil, err
	}

	s.api = NewHTTPAPI(s.store, s.hub, s.gateway, s.flow, PanelInfo{
		Name:        cfg.Panel.Name,
		Description: cfg.Panel.Description,
		Version:     shared.Version,
		Branch:      shared.Branch,
	}, logger.Named("http"))
	s.api.SetHealthChecker(NewHealthChecker(s.db, s.store, s.hub, s.monitor))
	s.api.SetTrustProxy(cfg.Server.TrustProxy)

	return s, nil
}

// Start binds the listener and launches the hub, the staleness monitor,
// maintenance and the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	tlsCfg, err := LoadTLSConfig(s.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("failed to load TLS config: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Server.Port, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.listener = ln

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.httpSrv = &http.Server{
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	s.wg.Add(1)
	go s.maintenanceLoop()

	if s.notifier != nil {
		s.monitor.SetNotifier(s.notifier)
	}
	s.monitor.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	s.running = true
	s.logger.Info("panel started",
		zap.String("addr", ln.Addr().String()),
		zap.Int("rigs", len(s.cfg.Rigs)),
		zap.Bool("auth_enabled", s.cfg.Auth.Enabled),
		zap.Bool("production", s.cfg.Server.Production),
		zap.Bool("tls", tlsCfg != nil),
	)
	return nil
}

// Stop drains HTTP, halts the monitor, disconnects viewers and waits for
// background goroutines.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("server is not running")
	}

	s.logger.Info("panel shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown error", zap.Error(err))
	}

	s.monitor.Close()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("panel shutdown complete")
	case <-shutdownCtx.Done():
		s.logger.Warn("panel shutdown timeout exceeded")
	}

	s.running = false
	return nil
}

func (s *Server) maintenanceLoop() {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
			s.runMaintenance()
		}
	}
}

func (s *Server) runMaintenance() {
	s.hub.metrics.SetOnlineRigs(s.store.OnlineCount())
	purged, err := s.audit.PurgeOlderThan(auditRetention)
	if err != nil {
		s.logger.Warn("audit purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		s.logger.Info("purged audit entries", zap.Int64("count", purged))
	}
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr is the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler exposes the routed HTTP surface without binding a listener.
func (s *Server) Handler() http.Handler { return s.api.Handler() }

func (s *Server) Store() *StatusStore { return s.store }

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Monitor() *StalenessMonitor { return s.monitor }

func (s *Server) Audit() *AuditLogger { return s.audit }
