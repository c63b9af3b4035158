package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liuscraft/orion-stt/internal/asr"
	"github.com/liuscraft/orion-stt/internal/config"
	"github.com/liuscraft/orion-stt/internal/journal"
	"github.com/liuscraft/orion-stt/internal/logging"
	"github.com/liuscraft/orion-stt/internal/observe"
	"github.com/liuscraft/orion-stt/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	host := flag.String("host", "", "listen host (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	models := flag.String("models", "", "language models, e.g. en=/models/en,vi=/models/vi")
	engine := flag.String("engine", "", "recognition engine: auto, vosk or dashscope (overrides config)")
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		appConfig.Server.Host = *host
	}
	if *port != 0 {
		appConfig.Server.Port = *port
	}
	if *models != "" {
		appConfig.Server.Models = config.ParseModels(*models)
	}
	if *engine != "" {
		appConfig.Server.Engine = *engine
	}
	if err := appConfig.ValidateServer(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:  appConfig.Logging.Level,
		Format: appConfig.Logging.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logging.SetTraceID(logging.NewTraceID())

	logging.Infof("orion-stt server %s starting", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var provider *observe.Provider
	metrics := observe.DefaultMetrics()
	if appConfig.Metrics.Enable {
		provider, err = observe.InitProvider(observe.ProviderConfig{
			ServiceName:    appConfig.Metrics.ServiceName,
			ServiceVersion: version,
		})
		if err != nil {
			logging.Fatalf("Failed to init metrics: %v", err)
		}
		if metrics, err = observe.NewMetrics(provider.MeterProvider); err != nil {
			logging.Fatalf("Failed to create metrics: %v", err)
		}
	}

	logging.Infof("Loading %d language model(s)...", len(appConfig.Server.Models))
	ds := appConfig.Server.DashScope
	loaded, engineName, err := asr.Open(appConfig.Server.Engine, appConfig.Server.Models, asr.DashScopeConfig{
		APIKey:                     ds.APIKey,
		Endpoint:                   ds.Endpoint,
		Model:                      ds.Model,
		VocabularyID:               ds.VocabularyID,
		SemanticPunctuationEnabled: ds.SemanticPunctuation,
		MaxSentenceSilence:         ds.MaxSentenceSilenceMs,
	})
	if err != nil {
		logging.Fatalf("Failed to load %s models: %v", engineName, err)
	}
	logging.Infof("Recognition engine: %s", engineName)
	registry := asr.NewRegistry(loaded, asr.WithSampleRate(appConfig.Server.SampleRate))
	if registry.Len() == 0 {
		logging.Fatalf("No language models loaded, nothing to serve")
	}

	var recorder server.TranscriptRecorder
	var transcripts *journal.Journal
	if appConfig.Journal.Enable {
		transcripts = openJournal(ctx, appConfig, metrics)
		recorder = transcripts
	}

	opts := server.Options{
		Addr:     appConfig.Server.Addr(),
		Registry: registry,
		Handler: server.HandlerOptions{
			Session: server.SessionConfig{
				ReceiveTimeout: appConfig.Server.ReceiveTimeout(),
				PingInterval:   appConfig.Server.PingInterval(),
				PingTimeout:    appConfig.Server.PingTimeout(),
			},
			MaxMessageBytes: appConfig.Server.MaxMessageBytes,
			AllowedOrigins:  appConfig.Server.AllowedOrigins,
			Metrics:         metrics,
			Recorder:        recorder,
		},
		ShutdownTimeout: appConfig.Server.ShutdownTimeout(),
	}
	if provider != nil {
		opts.MetricsHandler = provider.Handler()
	}

	logging.Infof("Streaming endpoint: ws://%s/ws/stt/{lang}", opts.Addr)
	logging.Infof("Supported languages: %v", registry.Languages())
	logging.Infof("Receive timeout: %s, keep-alive: ping %s / timeout %s",
		appConfig.Server.ReceiveTimeout(), appConfig.Server.PingInterval(), appConfig.Server.PingTimeout())

	if err := server.New(opts).Run(ctx); err != nil {
		logging.Errorf("Server stopped with error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if transcripts != nil {
		if err := transcripts.Close(shutdownCtx); err != nil {
			logging.Warnf("Failed to flush journal: %v", err)
		}
	}
	if provider != nil {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logging.Warnf("Failed to shut down metrics: %v", err)
		}
	}
	logging.Infof("orion-stt server stopped")
}

func openJournal(ctx context.Context, appConfig *config.AppConfig, metrics *observe.Metrics) *journal.Journal {
	opts := journal.Options{
		QueueSize: appConfig.Journal.QueueSize,
		OnDrop:    func() { metrics.RecordJournalDrop(context.Background()) },
	}
	if appConfig.Journal.Correct {
		if err := appConfig.ValidateCorrector(); err != nil {
			logging.Fatalf("Invalid journal config: %v", err)
		}
		corrector, err := journal.NewEinoCorrector(ctx, journal.CorrectorConfig{
			APIKey:  appConfig.Journal.LLM.APIKey,
			BaseURL: appConfig.Journal.LLM.BaseURL,
			Model:   appConfig.Journal.LLM.Model,
		})
		if err != nil {
			logging.Fatalf("Failed to create transcript corrector: %v", err)
		}
		opts.Corrector = corrector
	}
	j, err := journal.Open(appConfig.Journal.Path, opts)
	if err != nil {
		logging.Fatalf("Failed to open journal: %v", err)
	}
	logging.Infof("Journaling final transcripts to %s (correct=%v)", appConfig.Journal.Path, appConfig.Journal.Correct)
	return j
}
