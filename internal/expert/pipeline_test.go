package expert

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/llm"
	"github.com/adnlabs/clinical-navigator/internal/record"
	"github.com/adnlabs/clinical-navigator/internal/synthesizer"
)

type mockRunner struct {
	diagnoses   []DifferentialDiagnosis
	diagnoseErr error

	validation      Validation
	failAlertIndex  int
	validateCalls   int
	validatedAlerts []synthesizer.CriticalAlert

	scores    []RiskScore
	scoresErr error
	scoredTop []DifferentialDiagnosis

	plan       ActionPlan
	planErr    error
	planAlerts []ValidatedAlert
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		failAlertIndex: -1,
		diagnoses: []DifferentialDiagnosis{
			{Diagnosis: "Septic shock", Probability: ProbabilityHigh, ConfidenceScore: 0.9},
			{Diagnosis: "Pneumonia", Probability: ProbabilityMedium, ConfidenceScore: 0.7},
			{Diagnosis: "Pulmonary embolism", Probability: ProbabilityLow, ConfidenceScore: 0.4},
			{Diagnosis: "Heart failure", Probability: ProbabilityLow, ConfidenceScore: 0.3},
		},
		validation: Validation{
			AlertValidated:     true,
			ValidationStrength: "STRONG",
			GuidelineReferences: []GuidelineReference{{
				GuidelineName:      "Surviving Sepsis Campaign 2021",
				Recommendation:     "Administer broad-spectrum antibiotics within 1 hour",
				StrengthOfEvidence: "HIGH",
			}},
		},
	}
}

func (m *mockRunner) Diagnose(_ context.Context, _ synthesizer.Result, _ record.PatientRecord) ([]DifferentialDiagnosis, llm.AttemptMetrics, error) {
	return m.diagnoses, llm.AttemptMetrics{Attempts: 1}, m.diagnoseErr
}

func (m *mockRunner) ValidateAlert(_ context.Context, alert synthesizer.CriticalAlert, _ record.PatientRecord) (Validation, llm.AttemptMetrics, error) {
	idx := m.validateCalls
	m.validateCalls++
	m.validatedAlerts = append(m.validatedAlerts, alert)
	if idx == m.failAlertIndex {
		return Validation{}, llm.AttemptMetrics{Attempts: 3}, errors.New("guideline lookup failed")
	}
	return m.validation, llm.AttemptMetrics{Attempts: 1}, nil
}

func (m *mockRunner) RiskScores(_ context.Context, top []DifferentialDiagnosis, _ record.PatientRecord) ([]RiskScore, llm.AttemptMetrics, error) {
	m.scoredTop = top
	return m.scores, llm.AttemptMetrics{Attempts: 1}, m.scoresErr
}

func (m *mockRunner) ActionPlan(_ context.Context, alerts []ValidatedAlert, _ []DifferentialDiagnosis, _ record.PatientRecord) (ActionPlan, llm.AttemptMetrics, error) {
	m.planAlerts = alerts
	return m.plan, llm.AttemptMetrics{Attempts: 1}, m.planErr
}

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func alertsOf(n int) []synthesizer.CriticalAlert {
	alerts := make([]synthesizer.CriticalAlert, n)
	for i := range alerts {
		alerts[i] = synthesizer.CriticalAlert{
			Type:     synthesizer.AlertMissingData,
			Severity: synthesizer.SeverityMedium,
			Finding:  fmt.Sprintf("finding %d", i),
		}
	}
	return alerts
}

func synthResult(alerts []synthesizer.CriticalAlert) synthesizer.Result {
	return synthesizer.Result{
		PatientID:      "10006",
		Synthesis:      synthesizer.Summary{Summary: "Sepsis picture", Severity: synthesizer.SeverityHigh},
		CriticalAlerts: alerts,
	}
}

func TestValidateProducesOneValidationPerAlert(t *testing.T) {
	for _, n := range []int{1, 10} {
		runner := newMockRunner()
		p := NewPipeline(runner, Config{}, quietLog())

		res, err := p.Validate(context.Background(), synthResult(alertsOf(n)), record.PatientRecord{})
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if len(res.ValidatedAlerts) != n {
			t.Fatalf("n=%d: got %d validated alerts", n, len(res.ValidatedAlerts))
		}
		for i, va := range res.ValidatedAlerts {
			if va.Finding != fmt.Sprintf("finding %d", i) {
				t.Errorf("n=%d: alert %d out of order: %q", n, i, va.Finding)
			}
			if va.Validation.Incomplete {
				t.Errorf("n=%d: alert %d unexpectedly incomplete", n, i)
			}
		}
	}
}

func TestValidateIsolatesPerAlertFailure(t *testing.T) {
	runner := newMockRunner()
	runner.failAlertIndex = 1
	p := NewPipeline(runner, Config{}, quietLog())

	res, err := p.Validate(context.Background(), synthResult(alertsOf(3)), record.PatientRecord{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ValidatedAlerts) != 3 {
		t.Fatalf("got %d validated alerts, want all 3", len(res.ValidatedAlerts))
	}
	if res.ValidatedAlerts[0].Validation.Incomplete || res.ValidatedAlerts[2].Validation.Incomplete {
		t.Error("healthy alerts marked incomplete")
	}
	mid := res.ValidatedAlerts[1].Validation
	if !mid.Incomplete || mid.IncompleteReason == "" {
		t.Errorf("failed alert = %+v, want incomplete with reason", mid)
	}
	if mid.AlertValidated {
		t.Error("incomplete validation must not claim the alert validated")
	}
}

func TestValidateSeedsScoringWithTopN(t *testing.T) {
	runner := newMockRunner()
	p := NewPipeline(runner, Config{}, quietLog())

	if _, err := p.Validate(context.Background(), synthResult(alertsOf(1)), record.PatientRecord{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.scoredTop) != DefaultTopNDiagnoses {
		t.Fatalf("scored %d diagnoses, want default top %d", len(runner.scoredTop), DefaultTopNDiagnoses)
	}
	if runner.scoredTop[0].Diagnosis != "Septic shock" {
		t.Errorf("top diagnosis = %q", runner.scoredTop[0].Diagnosis)
	}

	runner = newMockRunner()
	p = NewPipeline(runner, Config{TopNDiagnoses: 2}, quietLog())
	if _, err := p.Validate(context.Background(), synthResult(alertsOf(1)), record.PatientRecord{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.scoredTop) != 2 {
		t.Errorf("scored %d diagnoses, want configured 2", len(runner.scoredTop))
	}
}

func TestValidateWrapsPhaseFailures(t *testing.T) {
	cause := errors.New("model unavailable")

	runner := newMockRunner()
	runner.diagnoseErr = cause
	_, err := NewPipeline(runner, Config{}, quietLog()).Validate(context.Background(), synthResult(nil), record.PatientRecord{})
	var ef *ExpertFailure
	if !errors.As(err, &ef) || ef.Phase != "diagnose" {
		t.Fatalf("err = %v, want ExpertFailure in diagnose", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not unwrapped")
	}

	runner = newMockRunner()
	runner.planErr = cause
	res, err := NewPipeline(runner, Config{}, quietLog()).Validate(context.Background(), synthResult(alertsOf(2)), record.PatientRecord{})
	if !errors.As(err, &ef) || ef.Phase != "action_plan" {
		t.Fatalf("err = %v, want ExpertFailure in action_plan", err)
	}
	// Earlier phase outputs survive in the partial result.
	if len(res.DifferentialDiagnoses) == 0 || len(res.ValidatedAlerts) != 2 {
		t.Errorf("partial result lost earlier phases: %+v", res)
	}
}

func TestValidateDiagnosesAcceptsEveryProbabilityLevel(t *testing.T) {
	for _, p := range []Probability{ProbabilityLow, ProbabilityMedium, ProbabilityHigh, ProbabilityVeryHigh} {
		dxs := []DifferentialDiagnosis{{Diagnosis: "Septic shock", Probability: p, ConfidenceScore: 0.8}}
		if err := validateDiagnoses(dxs); err != nil {
			t.Errorf("probability %q rejected: %v", p, err)
		}
	}

	dxs := []DifferentialDiagnosis{{Diagnosis: "Septic shock", Probability: "CERTAIN", ConfidenceScore: 0.8}}
	if err := validateDiagnoses(dxs); err == nil {
		t.Error("out-of-enum probability accepted")
	}
}

func TestBuildEvidenceSummaryDedupesFirstOccurrenceWins(t *testing.T) {
	ref := func(name, rec, strength string) GuidelineReference {
		return GuidelineReference{GuidelineName: name, Recommendation: rec, StrengthOfEvidence: strength}
	}
	alerts := []ValidatedAlert{
		{Validation: Validation{GuidelineReferences: []GuidelineReference{
			ref("Surviving Sepsis Campaign 2021", "Antibiotics within 1h", "HIGH"),
			ref("NICE NG51", "Lactate measurement", "MODERATE"),
		}}},
		{Validation: Validation{GuidelineReferences: []GuidelineReference{
			ref("Surviving Sepsis Campaign 2021", "A different wording", "LOW"),
			ref("ESC 2023", "Echo within 48h", "LOW"),
		}}},
		{Validation: Validation{Incomplete: true, GuidelineReferences: []GuidelineReference{
			ref("Ghost guideline", "Should not appear", "HIGH"),
		}}},
	}

	sum := BuildEvidenceSummary(alerts)
	if sum.TotalReferences != 3 {
		t.Fatalf("total = %d, want 3", sum.TotalReferences)
	}
	if sum.GuidelinesCited[0].Recommendation != "Antibiotics within 1h" {
		t.Error("first occurrence did not win dedup")
	}
	s := sum.EvidenceStrengthSummary
	if s.HighQuality != 1 || s.ModerateQuality != 1 || s.LowQuality != 1 {
		t.Errorf("strength tally = %+v", s)
	}
	if len(sum.KeyRecommendations) != 3 {
		t.Errorf("key recommendations = %v", sum.KeyRecommendations)
	}
	for _, r := range sum.GuidelinesCited {
		if r.GuidelineName == "Ghost guideline" {
			t.Error("incomplete validation leaked into evidence summary")
		}
	}
}

func TestBuildEvidenceSummaryCapsKeyRecommendations(t *testing.T) {
	refs := make([]GuidelineReference, 8)
	for i := range refs {
		refs[i] = GuidelineReference{
			GuidelineName:  fmt.Sprintf("Guideline %d", i),
			Recommendation: fmt.Sprintf("Recommendation %d", i),
		}
	}
	sum := BuildEvidenceSummary([]ValidatedAlert{{Validation: Validation{GuidelineReferences: refs}}})
	if sum.TotalReferences != 8 {
		t.Errorf("total = %d", sum.TotalReferences)
	}
	if len(sum.KeyRecommendations) != 5 {
		t.Errorf("key recommendations = %d, want capped at 5", len(sum.KeyRecommendations))
	}
}
