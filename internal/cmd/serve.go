package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/warden/internal/audit"
	"github.com/dativo-io/warden/internal/browse"
	"github.com/dativo-io/warden/internal/config"
	"github.com/dativo-io/warden/internal/credit"
	"github.com/dativo-io/warden/internal/engine"
	"github.com/dativo-io/warden/internal/guardrail"
	"github.com/dativo-io/warden/internal/identity"
	"github.com/dativo-io/warden/internal/llm"
	"github.com/dativo-io/warden/internal/policy"
	"github.com/dativo-io/warden/internal/server"
	"github.com/dativo-io/warden/internal/session"
	"github.com/dativo-io/warden/internal/tenant"
)

var (
	servePort      int
	serveRateLimit int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Warden API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().IntVar(&serveRateLimit, "rate-limit", 10, "per-tenant requests per second (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

//nolint:gocyclo // orchestration flow is inherently branched
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	rules, err := loadRuleset(cfg)
	if err != nil {
		return err
	}

	profiles, err := policy.LoadProfiles(cfg.PolicyProfiles)
	if err != nil {
		return fmt.Errorf("loading policy profiles: %w", err)
	}
	resolver := policy.NewResolver(profiles, policy.Profile{
		ID:         "default",
		MaxSteps:   cfg.DefaultMaxSteps,
		TTLMinutes: cfg.DefaultTTLMinutes,
	})

	policyEngine, err := policy.NewEngine(ctx, policy.Caps{
		MaxSteps:   cfg.MaxStepsCap,
		TTLMinutes: cfg.MaxTTLMinutesCap,
	})
	if err != nil {
		return fmt.Errorf("policy engine: %w", err)
	}

	auditStore, err := audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer auditStore.Close()

	var sink audit.Sink = auditStore
	if cfg.AuditWebhookURL != "" {
		sink = audit.MultiSink{auditStore, audit.NewWebhookSink(cfg.AuditWebhookURL, cfg.SigningKey)}
	}
	dispatcher := audit.NewDispatcher(sink)
	defer dispatcher.Close()

	stopRetention := audit.StartRetentionLoop(auditStore, cfg.AuditRetentionDays)
	defer stopRetention()

	sessionStore, err := session.NewStore(cfg.SessionsDBPath())
	if err != nil {
		return fmt.Errorf("initializing session store: %w", err)
	}
	defer sessionStore.Close()

	sessions := session.NewManager(sessionStore, resolver, policyEngine, dispatcher)

	var meter credit.Meter
	if cfg.CreditServiceURL != "" {
		meter = credit.NewHTTPMeter(cfg.CreditServiceURL)
	} else {
		ledger, err := credit.NewLedger(cfg.CreditDBPath())
		if err != nil {
			return fmt.Errorf("initializing credit ledger: %w", err)
		}
		defer ledger.Close()
		meter = ledger
	}

	fetcher := browse.NewFetcher(
		browse.WithTimeout(time.Duration(cfg.FetchTimeoutSec)*time.Second),
		browse.WithMaxBytes(cfg.MaxFetchBytes),
		browse.WithMaxLinks(cfg.MaxLinks),
		browse.WithCircuitBreaker(browse.NewCircuitBreaker(5, time.Minute)),
	)

	provider := llm.ResolveProvider(os.Getenv("WARDEN_OPENAI_API_KEY"), cfg.OllamaBaseURL)
	summarizer := llm.NewSummarizer(provider, cfg.SummaryModel)

	eng := engine.New(sessions, rules, fetcher, meter, summarizer, dispatcher)

	keys := identity.ParseKeySpec(os.Getenv("WARDEN_API_KEYS"))
	if len(keys) == 0 {
		log.Warn().Msg("WARDEN_API_KEYS not set — all API endpoints will return 401. Set for production.")
	}
	idResolver := identity.NewStaticResolver(keys)

	srv := server.NewServer(eng, sessions, idResolver,
		server.WithAuditStore(auditStore),
		server.WithTenantManager(tenant.NewManager(serveRateLimit)),
		server.WithCORSOrigins([]string{"*"}),
	)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("ruleset_version", rules.Version).
		Str("provider", provider.Name()).
		Bool("external_meter", cfg.CreditServiceURL != "").
		Msg("warden_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}

// loadRuleset returns the operator override ruleset when configured, the
// embedded default otherwise.
func loadRuleset(cfg *config.Config) (*guardrail.Ruleset, error) {
	if cfg.GuardrailRules != "" {
		rules, err := guardrail.LoadRuleset(cfg.GuardrailRules)
		if err != nil {
			return nil, fmt.Errorf("loading guardrail rules: %w", err)
		}
		if rules != nil {
			return rules, nil
		}
		log.Warn().Str("path", cfg.GuardrailRules).Msg("guardrail_rules_missing_using_default")
	}
	rules, err := guardrail.DefaultRuleset()
	if err != nil {
		return nil, fmt.Errorf("loading default guardrail rules: %w", err)
	}
	return rules, nil
}
