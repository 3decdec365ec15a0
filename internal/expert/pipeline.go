package expert

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/record"
	"github.com/adnlabs/clinical-navigator/internal/synthesizer"
)

const DefaultTopNDiagnoses = 3

type Config struct {
	// TopNDiagnoses caps how many ranked diagnoses seed the risk-score and
	// action-plan phases. Zero means DefaultTopNDiagnoses.
	TopNDiagnoses int
}

// Pipeline runs the five expert phases in order: differential diagnosis,
// per-alert guideline validation, risk scoring, action plan, evidence
// summary. Only alert validation tolerates partial failure; any other phase
// failing fails the stage.
type Pipeline struct {
	runner PhaseRunner
	cfg    Config
	log    *logrus.Entry
}

func NewPipeline(runner PhaseRunner, cfg Config, log *logrus.Entry) *Pipeline {
	if cfg.TopNDiagnoses <= 0 {
		cfg.TopNDiagnoses = DefaultTopNDiagnoses
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pipeline{runner: runner, cfg: cfg, log: log}
}

func (p *Pipeline) Validate(ctx context.Context, syn synthesizer.Result, rec record.PatientRecord) (Result, error) {
	res := Result{}

	diagnoses, _, err := p.runner.Diagnose(ctx, syn, rec)
	if err != nil {
		return res, &ExpertFailure{Phase: "diagnose", Err: err}
	}
	res.DifferentialDiagnoses = diagnoses

	res.ValidatedAlerts = p.validateAlerts(ctx, syn.CriticalAlerts, rec)

	top := topDiagnoses(diagnoses, p.cfg.TopNDiagnoses)

	scores, _, err := p.runner.RiskScores(ctx, top, rec)
	if err != nil {
		return res, &ExpertFailure{Phase: "risk_scores", Err: err}
	}
	res.RiskScores = scores

	plan, _, err := p.runner.ActionPlan(ctx, res.ValidatedAlerts, top, rec)
	if err != nil {
		return res, &ExpertFailure{Phase: "action_plan", Err: err}
	}
	res.ActionPlan = plan

	res.EvidenceSummary = BuildEvidenceSummary(res.ValidatedAlerts)
	return res, nil
}

// validateAlerts runs one guideline check per alert. A failed check marks
// that alert incomplete and the loop continues: one bad call must not cost
// the validations of the other alerts. Output order matches input order.
func (p *Pipeline) validateAlerts(ctx context.Context, alerts []synthesizer.CriticalAlert, rec record.PatientRecord) []ValidatedAlert {
	validated := make([]ValidatedAlert, 0, len(alerts))
	for i, alert := range alerts {
		v, _, err := p.runner.ValidateAlert(ctx, alert, rec)
		if err != nil {
			p.log.WithFields(logrus.Fields{
				"alert_index": i,
				"alert_type":  alert.Type,
			}).WithError(err).Warn("alert validation failed, marking incomplete")
			v = Validation{Incomplete: true, IncompleteReason: err.Error()}
		}
		validated = append(validated, ValidatedAlert{CriticalAlert: alert, Validation: v})
	}
	return validated
}

func topDiagnoses(dxs []DifferentialDiagnosis, n int) []DifferentialDiagnosis {
	if len(dxs) <= n {
		return dxs
	}
	return dxs[:n]
}

// BuildEvidenceSummary aggregates the guideline references from every
// completed validation. References are deduplicated by guideline name with
// the first occurrence winning, so earlier alerts keep their version of a
// shared citation.
func BuildEvidenceSummary(alerts []ValidatedAlert) EvidenceSummary {
	unique := []GuidelineReference{}
	seen := map[string]bool{}
	for _, a := range alerts {
		if a.Validation.Incomplete {
			continue
		}
		for _, ref := range a.Validation.GuidelineReferences {
			if seen[ref.GuidelineName] {
				continue
			}
			seen[ref.GuidelineName] = true
			unique = append(unique, ref)
		}
	}

	summary := EvidenceSummary{
		TotalReferences:    len(unique),
		GuidelinesCited:    unique,
		KeyRecommendations: []string{},
	}
	for _, ref := range unique {
		switch ref.StrengthOfEvidence {
		case "HIGH":
			summary.EvidenceStrengthSummary.HighQuality++
		case "MODERATE":
			summary.EvidenceStrengthSummary.ModerateQuality++
		case "LOW":
			summary.EvidenceStrengthSummary.LowQuality++
		}
	}
	for i, ref := range unique {
		if i == 5 {
			break
		}
		summary.KeyRecommendations = append(summary.KeyRecommendations, ref.Recommendation)
	}
	return summary
}
