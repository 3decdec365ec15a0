package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adnlabs/clinical-navigator/internal/expert"
	"github.com/adnlabs/clinical-navigator/internal/record"
	"github.com/adnlabs/clinical-navigator/internal/synthesizer"
)

const tracerName = "clinical-navigator/orchestrator"

// Stage names as they appear in envelopes and traces.
const (
	StageCollect    = "collect"
	StageSynthesize = "synthesize"
	StageValidate   = "validate"
)

type Collector interface {
	Collect(ctx context.Context, subjectID int64, freeText string) (record.PatientRecord, error)
}

type Synthesizer interface {
	Analyze(ctx context.Context, rec record.PatientRecord) (synthesizer.Result, error)
}

type Expert interface {
	Validate(ctx context.Context, syn synthesizer.Result, rec record.PatientRecord) (expert.Result, error)
}

// Envelope is the pipeline output. On failure it keeps everything produced
// before the failing stage so callers can show partial results.
type Envelope struct {
	PatientID      string                `json:"patient_id"`
	Status         string                `json:"status"`
	FailedStage    string                `json:"failed_stage,omitempty"`
	Error          string                `json:"error,omitempty"`
	Patient        *record.PatientRecord `json:"patient,omitempty"`
	Synthesis      *synthesizer.Result   `json:"synthesis,omitempty"`
	Expert         *expert.Result        `json:"expert,omitempty"`
	StagesExecuted []string              `json:"stages_executed"`
	StartedAt      time.Time             `json:"started_at"`
	CompletedAt    time.Time             `json:"completed_at"`
}

// Orchestrator drives the three pipeline stages in order. Each stage runs to
// completion once started; cancellation is honored between stages, never by
// interrupting one in flight.
type Orchestrator struct {
	collector   Collector
	synthesizer Synthesizer
	expert      Expert
	log         *logrus.Entry
}

func New(c Collector, s Synthesizer, e Expert, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{collector: c, synthesizer: s, expert: e, log: log}
}

func (o *Orchestrator) Run(ctx context.Context, subjectID int64, freeText string) (Envelope, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	env := Envelope{
		Status:         "success",
		StagesExecuted: []string{},
		StartedAt:      time.Now(),
	}

	if err := ctx.Err(); err != nil {
		return o.fail(env, span, StageCollect, err), err
	}
	rec, err := o.runCollect(ctx, tracer, subjectID, freeText)
	if err != nil {
		return o.fail(env, span, StageCollect, err), err
	}
	env.Patient = &rec
	env.PatientID = rec.ID
	env.StagesExecuted = append(env.StagesExecuted, StageCollect)

	if err := ctx.Err(); err != nil {
		return o.fail(env, span, StageSynthesize, err), err
	}
	syn, err := o.runSynthesize(ctx, tracer, rec)
	if err != nil {
		return o.fail(env, span, StageSynthesize, err), err
	}
	env.Synthesis = &syn
	env.StagesExecuted = append(env.StagesExecuted, StageSynthesize)

	if err := ctx.Err(); err != nil {
		return o.fail(env, span, StageValidate, err), err
	}
	exp, err := o.runValidate(ctx, tracer, syn, rec)
	if err != nil {
		return o.fail(env, span, StageValidate, err), err
	}
	env.Expert = &exp
	env.StagesExecuted = append(env.StagesExecuted, StageValidate)

	env.CompletedAt = time.Now()
	o.log.WithFields(logrus.Fields{
		"patient_id": env.PatientID,
		"duration":   env.CompletedAt.Sub(env.StartedAt).Round(time.Millisecond),
	}).Info("pipeline complete")
	return env, nil
}

func (o *Orchestrator) runCollect(ctx context.Context, tracer trace.Tracer, subjectID int64, freeText string) (record.PatientRecord, error) {
	ctx, span := tracer.Start(ctx, "stage.collect", trace.WithAttributes(
		attribute.Int64("subject_id", subjectID),
		attribute.Bool("free_text", freeText != ""),
	))
	defer span.End()

	rec, err := o.collector.Collect(ctx, subjectID, freeText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, err
	}
	span.SetAttributes(attribute.String("source_type", string(rec.SourceType)))
	if rec.Degraded() {
		o.log.WithField("patient_id", rec.ID).Warn("continuing pipeline on degraded placeholder record")
	}
	return rec, nil
}

func (o *Orchestrator) runSynthesize(ctx context.Context, tracer trace.Tracer, rec record.PatientRecord) (synthesizer.Result, error) {
	ctx, span := tracer.Start(ctx, "stage.synthesize")
	defer span.End()

	syn, err := o.synthesizer.Analyze(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return syn, err
	}
	span.SetAttributes(
		attribute.String("severity", string(syn.Synthesis.Severity)),
		attribute.Int("critical_alerts", len(syn.CriticalAlerts)),
	)
	return syn, nil
}

func (o *Orchestrator) runValidate(ctx context.Context, tracer trace.Tracer, syn synthesizer.Result, rec record.PatientRecord) (expert.Result, error) {
	ctx, span := tracer.Start(ctx, "stage.validate")
	defer span.End()

	exp, err := o.expert.Validate(ctx, syn, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return exp, err
	}
	span.SetAttributes(
		attribute.Int("differential_diagnoses", len(exp.DifferentialDiagnoses)),
		attribute.Int("validated_alerts", len(exp.ValidatedAlerts)),
	)
	return exp, nil
}

func (o *Orchestrator) fail(env Envelope, span trace.Span, stage string, err error) Envelope {
	env.Status = "error"
	env.FailedStage = stage
	env.Error = err.Error()
	env.CompletedAt = time.Now()
	span.SetStatus(codes.Error, err.Error())
	o.log.WithFields(logrus.Fields{
		"patient_id": env.PatientID,
		"stage":      stage,
	}).WithError(err).Error("pipeline failed")
	return env
}
