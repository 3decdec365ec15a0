package synthesizer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/llm"
	"github.com/adnlabs/clinical-navigator/internal/record"
)

// Pipeline runs the two synthesis phases in order. The critique phase always
// runs, even when the summary looks benign: a LOW severity summary is exactly
// the case the audit exists for.
type Pipeline struct {
	runner PhaseRunner
	log    *logrus.Entry
}

func NewPipeline(runner PhaseRunner, log *logrus.Entry) *Pipeline {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pipeline{runner: runner, log: log}
}

func (p *Pipeline) Analyze(ctx context.Context, rec record.PatientRecord) (Result, error) {
	res := Result{
		PatientID:  rec.ID,
		SourceType: string(rec.SourceType),
	}
	if res.PatientID == "" {
		res.PatientID = "UNKNOWN"
	}

	sum, m, err := p.runner.Summarize(ctx, rec)
	if err != nil {
		return res, &SynthesisFailure{Phase: "summarize", Err: err}
	}
	p.logAttempts("summarize", m)
	res.Synthesis = normalizeSummary(sum, p.log)

	crit, m, err := p.runner.Critique(ctx, rec, res.Synthesis)
	if err != nil {
		return res, &SynthesisFailure{Phase: "critique", Err: err}
	}
	p.logAttempts("critique", m)

	res.CriticalAlerts = filterAlerts(crit.CriticalAlerts, p.log)
	res.DataInconsistencies = crit.DataInconsistencies
	res.ReliabilityAssessment = clampReliability(crit.ReliabilityAssessment)
	res.ClinicalScores = crit.ClinicalScores
	res.DeteriorationAnalysis = crit.DeteriorationAnalysis
	return res, nil
}

func (p *Pipeline) logAttempts(phase string, m llm.AttemptMetrics) {
	if m.ContentRetries > 0 {
		p.log.WithFields(logrus.Fields{
			"phase":           phase,
			"attempts":        m.Attempts,
			"content_retries": m.ContentRetries,
		}).Info("synthesis phase needed content retries")
	}
}

// normalizeSummary forces out-of-enum severities and trajectories onto the
// conservative defaults instead of failing the stage.
func normalizeSummary(s Summary, log *logrus.Entry) Summary {
	switch s.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		log.WithField("severity", s.Severity).Warn("out-of-enum severity normalized to LOW")
		s.Severity = SeverityLow
	}
	switch s.ClinicalTrajectory {
	case TrajectoryStable, TrajectoryDeteriorating, TrajectoryImproving:
	default:
		log.WithField("trajectory", s.ClinicalTrajectory).Warn("out-of-enum trajectory normalized to STABLE")
		s.ClinicalTrajectory = TrajectoryStable
	}
	if s.KeyProblems == nil {
		s.KeyProblems = []string{}
	}
	return s
}

// filterAlerts drops alerts with an unknown type rather than inventing a
// category for them.
func filterAlerts(alerts []CriticalAlert, log *logrus.Entry) []CriticalAlert {
	kept := []CriticalAlert{}
	for _, a := range alerts {
		switch a.Type {
		case AlertMissingData, AlertInconsistency, AlertDelayedAction, AlertTreatmentMismatch, AlertSilentDeterioration:
			kept = append(kept, a)
		default:
			log.WithFields(logrus.Fields{
				"type":    a.Type,
				"finding": a.Finding,
			}).Warn("dropping alert with unknown type")
		}
	}
	return kept
}

func clampReliability(r ReliabilityAssessment) ReliabilityAssessment {
	if r.DossierCompleteness < 0 {
		r.DossierCompleteness = 0
	}
	if r.DossierCompleteness > 1 {
		r.DossierCompleteness = 1
	}
	return r
}
