// Package gateway implements the Gateway (C7, spec.md §4.7, §6): the
// REST + WebSocket surface fronting every other component. Grounded
// on the teacher's chi-based HTTP server shape (router construction,
// middleware stack, graceful shutdown via http.Server.Shutdown), with
// gorilla/websocket standing in for the teacher's own transport since
// this domain's single authenticated namespace streams the Event Bus
// rather than the teacher's payload shape.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/huntrelay/huntrelay/internal/asset"
	"github.com/huntrelay/huntrelay/internal/auth"
	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/hunt"
	"github.com/huntrelay/huntrelay/internal/huntmodule"
	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/intelligence"
	"github.com/huntrelay/huntrelay/internal/session"
	"github.com/huntrelay/huntrelay/internal/sshconn"
	"github.com/huntrelay/huntrelay/internal/vault"
)

// Config holds the Gateway's tunables (spec.md §4.7).
type Config struct {
	ListenAddress              string
	TerminalInputRateSustained int // bytes/sec
	TerminalInputRateBurst     int // bytes
	HeartbeatInterval          time.Duration
}

// Server is the Gateway's HTTP/WS surface.
type Server struct {
	cfg Config

	bus        *eventbus.Bus
	clock      clock.Clock
	sessions   *session.Manager
	scheduler  *hunt.Scheduler
	modules    *huntmodule.Store
	assets     *asset.Store
	intel      *intelligence.Store
	vaultStore *vault.Store
	issuer     *auth.HMACIssuer
	accounts   credentialLookup
	sshOpts    sshconn.Options

	huntsMu     sync.Mutex
	hunts       map[ids.HuntID]domain.Hunt
	huntSession map[ids.HuntID]ids.SessionID

	logger *slog.Logger
	http   *http.Server
}

// Dependencies bundles every collaborator the Gateway dispatches to.
type Dependencies struct {
	Bus        *eventbus.Bus
	Clock      clock.Clock
	Sessions   *session.Manager
	Scheduler  *hunt.Scheduler
	Modules    *huntmodule.Store
	Assets     *asset.Store
	Intel      *intelligence.Store
	VaultStore *vault.Store
	Issuer     *auth.HMACIssuer
	Accounts   credentialLookup
	SSHOptions sshconn.Options
	Logger     *slog.Logger
}

// New constructs a Server and its router, not yet listening.
func New(cfg Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.TerminalInputRateSustained == 0 {
		cfg.TerminalInputRateSustained = 64 * 1024
	}
	if cfg.TerminalInputRateBurst == 0 {
		cfg.TerminalInputRateBurst = 256 * 1024
	}

	s := &Server{
		cfg:        cfg,
		bus:        deps.Bus,
		clock:      deps.Clock,
		sessions:   deps.Sessions,
		scheduler:  deps.Scheduler,
		modules:    deps.Modules,
		assets:     deps.Assets,
		intel:      deps.Intel,
		vaultStore: deps.VaultStore,
		issuer:     deps.Issuer,
		accounts:   deps.Accounts,
		sshOpts:    deps.SSHOptions,
		hunts:       make(map[ids.HuntID]domain.Hunt),
		huntSession: make(map[ids.HuntID]ids.SessionID),
		logger:      logger,
	}

	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.With(s.requireAuth).Post("/change-password", s.handleChangePassword)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/assets", func(r chi.Router) {
			r.Get("/", s.handleListAssets)
			r.Post("/", s.handleCreateAsset)
			r.Get("/{assetID}", s.handleGetAsset)
			r.Patch("/{assetID}", s.handlePatchAsset)
			r.Delete("/{assetID}", s.handleDeleteAsset)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Get("/{sessionID}", s.handleGetSession)
			r.Delete("/{sessionID}", s.handleTerminateSession)
			r.Post("/{sessionID}/lock", s.handleLockSession)
			r.Post("/{sessionID}/unlock", s.handleUnlockSession)
		})

		r.Route("/hunts", func(r chi.Router) {
			r.Get("/modules", s.handleListHuntModules)
			r.Post("/", s.handleStartHunt)
			r.Get("/{huntID}", s.handleGetHunt)
			r.Post("/{huntID}/cancel", s.handleCancelHunt)
			r.Get("/session/{sessionID}/reports", s.handleSessionReports)
			r.Get("/asset/{assetID}/reports", s.handleAssetReports)
			r.Delete("/reports/{reportID}", s.handleDeleteReport)
		})

		r.Route("/hunt-modules", func(r chi.Router) {
			r.Get("/", s.handleListModuleSpecs)
			r.Get("/{moduleID}", s.handleGetModuleSpec)
			r.Post("/", s.handleCreateModuleSpec)
			r.Put("/{moduleID}", s.handleUpdateModuleSpec)
			r.Delete("/{moduleID}", s.handleDeleteModuleSpec)
		})

		r.Route("/intelligence", func(r chi.Router) {
			r.Get("/findings", s.handleListFindings)
			r.Get("/findings/{findingID}", s.handleGetFinding)
			r.Delete("/findings/{findingID}", s.handleDeleteFinding)
			r.Get("/findings/{findingID}/stix", s.handleGetSTIX)
			r.Patch("/findings/{findingID}/status", s.handleUpdateFindingStatus)
			r.Get("/timeline/{assetID}", s.handleGetTimeline)
			r.Delete("/timeline/{assetID}", s.handleClearTimeline)
		})
	})

	r.With(s.requireAuth).Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(started))
	})
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("gateway listening", "address", s.cfg.ListenAddress)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish, per spec.md §5's graceful shutdown sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
