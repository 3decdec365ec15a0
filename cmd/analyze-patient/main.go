package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/collector"
	"github.com/adnlabs/clinical-navigator/internal/config"
	"github.com/adnlabs/clinical-navigator/internal/expert"
	"github.com/adnlabs/clinical-navigator/internal/llm"
	"github.com/adnlabs/clinical-navigator/internal/orchestrator"
	"github.com/adnlabs/clinical-navigator/internal/record"
	"github.com/adnlabs/clinical-navigator/internal/synthesizer"
)

// staticCollector feeds an already-normalized record into the pipeline for
// the -json input path.
type staticCollector struct {
	rec record.PatientRecord
}

func (s staticCollector) Collect(ctx context.Context, subjectID int64, freeText string) (record.PatientRecord, error) {
	return s.rec, nil
}

func main() {
	subject := flag.Int64("subject", 0, "hospital subject id to analyze")
	text := flag.String("text", "", "free-text clinical description to analyze")
	jsonPath := flag.String("json", "", "path to a raw input JSON file to normalize and analyze ('-' for stdin)")
	report := flag.Bool("report", false, "print the markdown clinical report instead of the JSON envelope")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration")
	}
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)

	if *jsonPath != "" && (*subject != 0 || *text != "") {
		logger.Fatal("-json cannot be combined with -subject or -text")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	caller, err := llm.NewAnthropicCallerFromEnv(cfg.Inference.Model)
	if err != nil {
		logger.WithError(err).Fatal("configuring inference client")
	}
	guarded := llm.NewGuardedCaller(caller, float64(cfg.Inference.RequestsPerMin)/60.0, 2)
	exec := llm.NewExecutor(guarded, cfg.Inference.CallTimeout)

	var col orchestrator.Collector
	if *jsonPath != "" {
		blob, err := readInput(*jsonPath)
		if err != nil {
			logger.WithError(err).Fatalf("reading %s", *jsonPath)
		}
		norm := record.NewNormalizer(exec, logger.WithField("component", "normalizer"))
		rec, err := norm.NormalizeJSON(ctx, blob)
		if err != nil {
			logger.WithError(err).Fatal("normalizing input")
		}
		col = staticCollector{rec: rec}
	} else {
		store, err := collector.OpenStore(cfg.Store.SQLitePath)
		if err != nil {
			logger.WithError(err).Fatalf("opening hospital store at %s", cfg.Store.SQLitePath)
		}
		defer store.Close()
		col = collector.New(store, logger.WithField("component", "collector"))
	}

	synth := synthesizer.NewPipeline(synthesizer.NewLLMPhaseRunner(exec), logger.WithField("component", "synthesizer"))
	exp := expert.NewPipeline(expert.NewLLMPhaseRunner(exec), expert.Config{TopNDiagnoses: cfg.Expert.TopNDiagnoses}, logger.WithField("component", "expert"))
	orch := orchestrator.New(col, synth, exp, logger.WithField("component", "orchestrator"))

	env, runErr := orch.Run(ctx, *subject, *text)
	if *report {
		fmt.Println(orchestrator.BuildReportMarkdown(env))
	} else {
		blob, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			logger.WithError(err).Fatal("encoding envelope")
		}
		fmt.Println(string(blob))
	}
	if runErr != nil {
		logger.WithError(runErr).Error("pipeline failed")
		os.Exit(1)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
