package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/collector"
	"github.com/adnlabs/clinical-navigator/internal/config"
	"github.com/adnlabs/clinical-navigator/internal/expert"
	"github.com/adnlabs/clinical-navigator/internal/httpapi"
	"github.com/adnlabs/clinical-navigator/internal/llm"
	"github.com/adnlabs/clinical-navigator/internal/orchestrator"
	"github.com/adnlabs/clinical-navigator/internal/record"
	"github.com/adnlabs/clinical-navigator/internal/synthesizer"
	"github.com/adnlabs/clinical-navigator/internal/telemetry"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration")
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "clinical-navigator", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.WithError(err).Fatal("initializing tracing")
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("flushing traces")
		}
	}()

	store, err := collector.OpenStore(cfg.Store.SQLitePath)
	if err != nil {
		logger.WithError(err).Fatalf("opening hospital store at %s", cfg.Store.SQLitePath)
	}
	defer store.Close()

	caller, err := llm.NewAnthropicCallerFromEnv(cfg.Inference.Model)
	if err != nil {
		logger.WithError(err).Fatal("configuring inference client")
	}
	guarded := llm.NewGuardedCaller(caller, float64(cfg.Inference.RequestsPerMin)/60.0, 2)
	exec := llm.NewExecutor(guarded, cfg.Inference.CallTimeout)

	col := collector.New(store, logger.WithField("component", "collector"))
	norm := record.NewNormalizer(exec, logger.WithField("component", "normalizer"))
	synth := synthesizer.NewPipeline(synthesizer.NewLLMPhaseRunner(exec), logger.WithField("component", "synthesizer"))
	phases := expert.NewLLMPhaseRunner(exec)
	exp := expert.NewPipeline(phases, expert.Config{TopNDiagnoses: cfg.Expert.TopNDiagnoses}, logger.WithField("component", "expert"))
	orch := orchestrator.New(col, synth, exp, logger.WithField("component", "orchestrator"))

	analyses, err := httpapi.OpenAnalysisStore(cfg.Store.StatePath)
	if err != nil {
		logger.WithError(err).Fatalf("opening analysis state at %s", cfg.Store.StatePath)
	}

	handler := httpapi.NewServer(httpapi.Deps{
		Pipeline:   orch,
		Collector:  col,
		Normalizer: norm,
		Phases:     phases,
		Analyses:   analyses,
		Renderer:   httpapi.NewReportRenderer(),
	}, httpapi.Options{
		TopNDiagnoses: cfg.Expert.TopNDiagnoses,
		Model:         cfg.Inference.Model,
		Version:       version,
	}, logger.WithField("component", "httpapi"))

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := srv.Shutdown(stopCtx); err != nil {
			logger.WithError(err).Warn("server shutdown")
		}
	}()

	logger.Infof("clinical-server %s listening on %s", version, cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server stopped")
	}
	logger.Info("clinical-server stopped")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
