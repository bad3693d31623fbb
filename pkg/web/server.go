// Package web exposes the HTTP API: prompt translation and execution,
// conversation management, and the admin surface.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloudnav-ai/cloudnav/pkg/acl"
	"github.com/cloudnav-ai/cloudnav/pkg/ai"
	"github.com/cloudnav-ai/cloudnav/pkg/cloudcli"
	"github.com/cloudnav-ai/cloudnav/pkg/config"
	"github.com/cloudnav-ai/cloudnav/pkg/db"
	"github.com/cloudnav-ai/cloudnav/pkg/log"
	"github.com/cloudnav-ai/cloudnav/pkg/metrics"
	"github.com/cloudnav-ai/cloudnav/pkg/session"
)

// VersionInfo holds build version information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

type Server struct {
	cfg         *config.Config
	aiClient    *ai.Client
	generator   *ai.Generator
	summarizer  *ai.Summarizer
	policy      *acl.ACL
	injector    *cloudcli.Injector
	executor    cloudcli.Executor
	linter      *cloudcli.Linter
	store       *session.Store
	auditDB     *db.DB
	collector   *metrics.Collector
	versionInfo *VersionInfo
	port        int
	server      *http.Server

	promptRateLimiter *RateLimiter
	apiRateLimiter    *RateLimiter

	scheduler *cron.Cron
}

// NewServer wires the full production stack from configuration. auditDB may
// be nil when persistence is disabled.
func NewServer(cfg *config.Config, auditDB *db.DB, versionInfo *VersionInfo) (*Server, error) {
	var aiClient *ai.Client
	if cfg.LLM.APIKey != "" || cfg.LLM.Provider == "ollama" {
		var err error
		aiClient, err = ai.NewClient(&cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("create AI client: %w", err)
		}
		log.Infof("AI client ready (provider=%s, model=%s)", cfg.LLM.Provider, cfg.LLM.Model)
	} else {
		log.Warnf("AI client not configured; prompt endpoints will refuse requests")
	}

	executor := cloudcli.NewExecutor(cfg.Exec.Binaries,
		time.Duration(cfg.Exec.TimeoutSeconds)*time.Second)

	return NewServerWith(cfg, aiClient, executor, auditDB, versionInfo), nil
}

// NewServerWith wires a server from explicit collaborators. Tests use it to
// substitute a fake executor or a scripted model.
func NewServerWith(cfg *config.Config, aiClient *ai.Client, executor cloudcli.Executor, auditDB *db.DB, versionInfo *VersionInfo) *Server {
	s := &Server{
		cfg:         cfg,
		aiClient:    aiClient,
		policy:      acl.New(cfg.ACL.Allowlist, cfg.ACL.Denylist),
		injector:    cloudcli.NewInjector(cfg.Credentials.AmbientOperations),
		executor:    executor,
		linter:      cloudcli.NewLinter(executor),
		auditDB:     auditDB,
		collector:   metrics.NewCollector(512),
		versionInfo: versionInfo,
		port:        cfg.Server.Port,
		store: session.New(
			cfg.Sessions.MaxConversations,
			time.Duration(cfg.Sessions.TTLMinutes)*time.Minute,
			cfg.Sessions.MaxTurns,
		),
	}
	if aiClient != nil {
		s.generator = ai.NewGenerator(aiClient)
		s.summarizer = ai.NewSummarizer(aiClient)
	}

	promptRate := cfg.Server.PromptRatePerMinute
	if promptRate < 1 {
		promptRate = 30
	}
	apiRate := cfg.Server.APIRatePerMinute
	if apiRate < 1 {
		apiRate = 300
	}
	s.promptRateLimiter = NewRateLimiter(promptRate, time.Minute)
	s.apiRateLimiter = NewRateLimiter(apiRate, time.Minute)

	s.startScheduler()
	return s
}

// startScheduler runs the session sweep and audit retention jobs.
func (s *Server) startScheduler() {
	s.scheduler = cron.New()

	sweep := s.cfg.Sessions.SweepSchedule
	if sweep == "" {
		sweep = "@every 5m"
	}
	if _, err := s.scheduler.AddFunc(sweep, func() { s.store.Sweep() }); err != nil {
		log.Errorf("invalid session sweep schedule %q: %v", sweep, err)
	}

	if s.auditDB != nil && s.cfg.Storage.AuditRetentionDays > 0 {
		schedule := s.cfg.Storage.RetentionSchedule
		if schedule == "" {
			schedule = "@daily"
		}
		retention := time.Duration(s.cfg.Storage.AuditRetentionDays) * 24 * time.Hour
		if _, err := s.scheduler.AddFunc(schedule, func() {
			if _, err := s.auditDB.PurgeOlderThan(retention); err != nil {
				log.Errorf("audit retention failed: %v", err)
			}
		}); err != nil {
			log.Errorf("invalid retention schedule %q: %v", schedule, err)
		}
	}

	s.scheduler.Start()
}

// Handler builds the routed and middleware-wrapped handler. Split from Start
// so tests can mount it on httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	mux.HandleFunc("/api/prompt", s.handlePrompt)
	mux.HandleFunc("/api/prompt/ws", s.handlePromptWS)

	mux.HandleFunc("/api/conversations", s.handleConversations)
	mux.HandleFunc("/api/conversations/", s.handleConversation)

	mux.HandleFunc("/api/models", s.handleModels)

	mux.HandleFunc("/api/audit", s.adminMiddleware(s.handleAudit))
	mux.HandleFunc("/api/metrics", s.adminMiddleware(s.handleMetrics))

	timeout := time.Duration(s.cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	// recovery -> logging -> rate limiting -> body limit -> timeout -> security headers -> CORS -> handler
	return recoveryMiddleware(
		requestLoggingMiddleware(s.collector)(
			RateLimitMiddleware(s.promptRateLimiter, s.apiRateLimiter)(
				maxBodyMiddleware(1 << 20)( // 1 MB max body size
					timeoutMiddleware(timeout)(
						securityHeadersMiddleware(
							corsMiddleware(s.cfg.Server.CORSAllowedOrigins)(mux),
						),
					),
				),
			),
		),
	)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// ReadTimeout and WriteTimeout stay 0 so the WebSocket prompt stream
		// is not cut off mid-execution. Per-request timeouts come from
		// timeoutMiddleware.
		IdleTimeout: 120 * time.Second,
	}

	log.Infof("cloudnav listening on :%d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.promptRateLimiter != nil {
		s.promptRateLimiter.Stop()
	}
	if s.apiRateLimiter != nil {
		s.apiRateLimiter.Stop()
	}
	if s.auditDB != nil {
		_ = s.auditDB.Close()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
