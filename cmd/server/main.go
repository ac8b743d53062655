// Command server is the process entry point: it loads configuration,
// wires the LLM client, durable store, analysis pipeline and HTTP router,
// and serves the turn endpoint until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"morada/internal/agent/app"
	"morada/internal/agent/ports"
	"morada/internal/config"
	"morada/internal/errors"
	"morada/internal/httpclient"
	"morada/internal/llm"
	"morada/internal/logging"
	"morada/internal/orchestrator"
	"morada/internal/pipeline"
	httpserver "morada/internal/server/http"
	"morada/internal/server/http/auth"
	"morada/internal/store"
)

func main() {
	root := &cobra.Command{Use: "housing-agent", Short: "Conversational property-analysis orchestrator"}
	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := logging.GetLogger()

			durableStore, closeStore, err := buildStore(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build store: %w", err)
			}
			defer closeStore()

			llmClient, llmHealth := buildLLMClient(cfg)
			var scraper pipeline.Scraper
			if cfg.Pipeline.ScraperEnabled {
				scrapeClient := httpclient.NewWithCircuitBreaker(
					time.Duration(cfg.Pipeline.ScrapeTimeoutSec)*time.Second, logger, "property-scraper")
				scraper = pipeline.NewHTTPScraper(scrapeClient)
			}
			pl := pipeline.New(scraper, nil, nil, nil, nil)
			svc := app.NewServices(durableStore, llmClient, pl)

			resolver := auth.IdentityToken
			if cfg.Auth.JWTSecret != "" {
				resolver = auth.JWTResolver(cfg.Auth.JWTSecret)
			}
			router := httpserver.NewRouter(svc, resolver, time.Duration(cfg.SSE.HeartbeatSeconds)*time.Second, llmHealth)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}

			startColor := color.New(color.FgGreen)
			if isTerminal() {
				startColor.Printf("housing-agent listening on %s\n", cfg.Server.Addr)
			} else {
				logger.Info("housing-agent listening on %s", cfg.Server.Addr)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-sig:
				logger.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the durable store schema if it does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Store.DSN == "" {
				return fmt.Errorf("migrate: no store.dsn configured")
			}
			pool, err := pgxpool.New(cmd.Context(), cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("migrate: connect: %w", err)
			}
			defer pool.Close()
			return store.NewPostgresStore(pool).EnsureSchema(cmd.Context())
		},
	}
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.Store.DSN == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, func() {}, err
	}
	pgStore := store.NewPostgresStore(pool)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, func() {}, err
	}
	return pgStore, pool.Close, nil
}

func buildLLMClient(cfg config.Config) (ports.LLMClient, *llm.HealthRegistry) {
	client := llm.NewOpenAIClient(cfg.LLM.Model, llm.Config{
		APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Timeout: cfg.LLM.TimeoutSec, MaxRetries: cfg.LLM.MaxRetries,
	})

	metrics := orchestrator.Default()
	if tracking, ok := client.(ports.UsageTrackingClient); ok {
		tracking.SetUsageCallback(func(usage ports.TokenUsage, model, provider string) {
			metrics.AddTokenUsage(model, provider, usage.PromptTokens, usage.CompletionTokens)
		})
	}

	breakerCfg := errors.DefaultCircuitBreakerConfig()
	breakerCfg.OnStateChange = func(_, to errors.CircuitState, name string) {
		metrics.SetBreakerState(name, breakerGaugeValue(to))
	}
	breaker := errors.NewCircuitBreaker(fmt.Sprintf("llm-%s", cfg.LLM.Model), breakerCfg)

	retryCfg := errors.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.LLM.MaxRetries

	health := llm.NewHealthRegistry()
	return llm.NewRetryClient(client, retryCfg, breaker, health), health
}

func breakerGaugeValue(state errors.CircuitState) float64 {
	switch state {
	case errors.StateHalfOpen:
		return 1
	case errors.StateOpen:
		return 2
	default:
		return 0
	}
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
