package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medsense-ai/medsense/internal/classify"
	"github.com/medsense-ai/medsense/internal/config"
	"github.com/medsense-ai/medsense/internal/dedup"
	"github.com/medsense-ai/medsense/internal/dispatch"
	"github.com/medsense-ai/medsense/internal/engine"
	"github.com/medsense-ai/medsense/internal/followup"
	"github.com/medsense-ai/medsense/internal/metrics"
	"github.com/medsense-ai/medsense/internal/reasoning"
	"github.com/medsense-ai/medsense/internal/session"
	"github.com/medsense-ai/medsense/internal/storage"
	"github.com/medsense-ai/medsense/internal/tools"
	"github.com/medsense-ai/medsense/internal/webhook"
)

func main() {
	root := &cobra.Command{
		Use:          "medsense",
		Short:        "MedSense AI conversational triage assistant",
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and orchestration engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config/medsense.yaml", "path to the configuration file")
	return cmd
}

func serve(configPath string) error {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer zapLog.Sync() //nolint:errcheck
	log := zapr.NewLogger(zapLog)

	log.Info("starting medsense",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	store, err := storage.Open(cfg.Database, log.WithName("storage"))
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	adapter, err := reasoning.NewAdapterFromConfig(cfg.LLM)
	if err != nil {
		return err
	}

	geo := geoClient(cfg.External)
	registry, err := buildRegistry(cfg, store, geo, log, m)
	if err != nil {
		return err
	}

	// The adapter doubles as the classifier's narrow urgency checker when it
	// supports that call.
	var checker classify.UrgencyChecker
	if c, ok := adapter.(classify.UrgencyChecker); ok {
		checker = c
	}
	classifier := classify.New(classify.DefaultPolicy(), checker, 5*time.Second, log.WithName("classify"))

	sessions := session.NewStore(cfg.Engine.SessionTTL, log.WithName("session"))
	sessions.OnEvict = func(count int) { m.SessionsEvicted.Add(float64(count)) }
	deduplicator := dedup.New(cfg.Engine.DedupWindow)

	dispatcher := dispatch.NewRouter(
		telegramSender(cfg.Telegram),
		whatsAppSender(cfg.WhatsApp),
		log.WithName("dispatch"),
	)

	eng := engine.New(cfg.Engine, cfg.FollowUp, engine.Deps{
		Dedup:      deduplicator,
		Classifier: classifier,
		Sessions:   sessions,
		Registry:   registry,
		Adapter:    adapter,
		Store:      store,
		Geo:        geo,
		Dispatcher: dispatcher,
		Metrics:    m,
		Log:        log.WithName("engine"),
	})

	server := webhook.NewServer(cfg.Server, cfg.WhatsApp, eng, promRegistry, log.WithName("webhook"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	go deduplicator.Run(cfg.Engine.SweepInterval, stop)
	go sessions.Run(cfg.Engine.SweepInterval, stop)
	if cfg.FollowUp.Enabled {
		scheduler := followup.New(store, dispatcher, cfg.FollowUp.CheckInterval, log.WithName("followup"))
		go scheduler.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	var result *multierror.Error
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	close(stop)
	cancel()

	log.Info("shutdown complete")
	return result.ErrorOrNil()
}

func buildRegistry(cfg *config.Config, store *storage.Store, geo *tools.GeoClient, log logr.Logger, m *metrics.Metrics) (*tools.Registry, error) {
	registry := tools.NewRegistry(cfg.Engine.ToolTimeout, log.WithName("tools"), m)

	toolSet := []tools.Tool{
		tools.NewFacilityTool(geo),
		tools.NewLiteratureTool(tools.NewPubMedClient(cfg.External.PubMedURL)),
		tools.NewSymptomDBTool(tools.NewSymptomDBClient(cfg.External.SymptomAPIURL)),
		tools.NewOutbreakTool(store, tools.NewOutbreakFeed(cfg.External.OutbreakFeedURL)),
		tools.NewProfileReadTool(store),
		tools.NewProfileWriteTool(store),
		tools.NewDiagnosisTool(store, followUpDelay(cfg.FollowUp)),
	}
	for _, tool := range toolSet {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func followUpDelay(cfg config.FollowUpConfig) time.Duration {
	if !cfg.Enabled {
		return 0
	}
	return cfg.Delay
}

func geoClient(cfg config.ExternalConfig) *tools.GeoClient {
	return tools.NewGeoClient(cfg.NominatimURL, cfg.OverpassURL, cfg.NominatimUserAgent)
}

func telegramSender(cfg config.TelegramConfig) dispatch.Sender {
	if cfg.BotToken == "" {
		return nil
	}
	return dispatch.NewTelegramSender(cfg)
}

func whatsAppSender(cfg config.WhatsAppConfig) dispatch.Sender {
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		return nil
	}
	return dispatch.NewWhatsAppSender(cfg)
}
