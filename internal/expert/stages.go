package expert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adnlabs/clinical-navigator/internal/llm"
	"github.com/adnlabs/clinical-navigator/internal/record"
	"github.com/adnlabs/clinical-navigator/internal/synthesizer"
)

const diagnoseSystemPrompt = `You are an expert in emergency medicine and infectious disease generating
differential diagnoses. Rank by descending probability. Be exhaustive but
relevant: include dangerous diagnoses even when less probable. Respond with
strict JSON only.`

const validateSystemPrompt = `You are an expert in evidence-based medicine. Validate clinical alerts
against recognized medical guidelines and cite them precisely. Respond with
strict JSON only.`

const riskScoreSystemPrompt = `You are an expert in clinical scoring and prognosis. Compute the risk scores
relevant to each diagnosis, for example APACHE II and SAPS II for sepsis,
GRACE and TIMI for myocardial infarction, NIHSS for stroke, Wells and PESI
for pulmonary embolism. Respond with strict JSON only.`

const actionPlanSystemPrompt = `You are an emergency physician writing a concrete, prioritized and sourced
action plan. Respond with strict JSON only.`

const diagnoseSchemaPrompt = `Required JSON schema:
{
  "differential_diagnoses": [
    {
      "diagnosis": "string",
      "icd10_code": "string (ICD-10 code if applicable)",
      "probability": "VERY_HIGH | HIGH | MEDIUM | LOW",
      "confidence_score": "float (0.0-1.0)",
      "supporting_evidence": [{"finding": "string", "strength": "DEFINITIVE | STRONG | MODERATE | WEAK", "source": "string"}],
      "contradicting_evidence": [{"finding": "string", "impact": "MAJOR | MODERATE | MINOR"}],
      "additional_tests_needed": ["string"],
      "urgency": "IMMEDIATE | URGENT | ROUTINE",
      "typical_presentation": "string",
      "atypical_features": ["string"]
    }
  ]
}`

const validateSchemaPrompt = `Required JSON schema:
{
  "alert_validated": "boolean",
  "validation_strength": "STRONG | MODERATE | WEAK",
  "guidelines_references": [
    {
      "guideline_name": "string (e.g. Surviving Sepsis Campaign 2021)",
      "recommendation": "string (exact recommendation)",
      "strength_of_evidence": "HIGH | MODERATE | LOW",
      "source_url": "string (URL if available)",
      "quote": "string (relevant quote from the guideline)"
    }
  ],
  "clinical_evidence": [{"evidence_type": "RCT | Meta-analysis | Observational | Expert opinion", "finding": "string", "relevance": "string"}],
  "action_urgency_validated": "IMMEDIATE | WITHIN_1H | WITHIN_6H | ROUTINE",
  "alternative_approaches": ["string"],
  "contraindications_check": {"contraindications_present": "boolean", "details": "string"}
}`

const riskScoreSchemaPrompt = `Required JSON schema:
{
  "risk_scores": [
    {
      "diagnosis_related": "string",
      "score_name": "string",
      "score_value": "number",
      "interpretation": "string",
      "risk_category": "LOW | INTERMEDIATE | HIGH",
      "predicted_outcomes": {"mortality_30d": "string", "complications": ["string"], "icu_length_of_stay": "string"},
      "components_breakdown": {"<component>": "string"},
      "confidence_in_calculation": "HIGH | MEDIUM | LOW with justification"
    }
  ]
}`

const actionPlanSchemaPrompt = `Required JSON schema:
{
  "immediate_actions": [{"action": "string (do NOW, < 15 min)", "justification": "string", "guideline_reference": "string", "expected_outcome": "string", "monitoring": "string"}],
  "urgent_actions": [{"action": "string (within the hour)", "timeframe": "< 1h", "justification": "string", "guideline_reference": "string"}],
  "diagnostic_workup": [{"test": "string", "indication": "string", "priority": "HIGH | MEDIUM | LOW", "expected_turnaround": "string", "interpretation_guide": "string"}],
  "monitoring_plan": [{"parameter": "string", "frequency": "string", "alert_threshold": "string", "escalation_if": "string"}],
  "consultation_needs": [{"specialty": "string", "urgency": "IMMEDIATE | URGENT | ROUTINE", "reason": "string", "questions_to_address": ["string"]}],
  "medication_adjustments": [{"medication": "string", "action": "START | STOP | ADJUST", "dosing": "string", "monitoring_required": "string", "guideline_reference": "string"}],
  "disposition": {"recommended_location": "ICU | Step-down | Ward | Home", "justification": "string", "criteria_for_discharge": ["string"], "follow_up_plan": "string"}
}`

// clinicalContext is the condensed view of the synthesis output handed to
// the diagnosis phase.
type clinicalContext struct {
	ClinicalPresentation string                      `json:"clinical_presentation"`
	KeyProblems          []string                    `json:"key_problems"`
	Severity             synthesizer.Severity        `json:"severity"`
	Trajectory           synthesizer.Trajectory      `json:"trajectory"`
	CriticalAlerts       []synthesizer.CriticalAlert `json:"critical_alerts"`
	PatientData          map[string]any              `json:"patient_data"`
	ClinicalScores       []synthesizer.ClinicalScore `json:"clinical_scores"`
}

func buildClinicalContext(syn synthesizer.Result, rec record.PatientRecord) clinicalContext {
	return clinicalContext{
		ClinicalPresentation: syn.Synthesis.Summary,
		KeyProblems:          syn.Synthesis.KeyProblems,
		Severity:             syn.Synthesis.Severity,
		Trajectory:           syn.Synthesis.ClinicalTrajectory,
		CriticalAlerts:       syn.CriticalAlerts,
		PatientData: map[string]any{
			"age":              rec.Age,
			"sex":              rec.Sex,
			"known_conditions": rec.MedicalHistory.KnownConditions,
			"medications":      rec.MedicationsCurrent,
			"vitals_current":   rec.VitalsCurrent,
			"labs":             rec.Labs,
			"cultures":         rec.Cultures,
		},
		ClinicalScores: syn.ClinicalScores,
	}
}

// PhaseRunner is the model-call surface of the expert stage, one method per
// phase that needs the inference collaborator.
type PhaseRunner interface {
	Diagnose(ctx context.Context, syn synthesizer.Result, rec record.PatientRecord) ([]DifferentialDiagnosis, llm.AttemptMetrics, error)
	ValidateAlert(ctx context.Context, alert synthesizer.CriticalAlert, rec record.PatientRecord) (Validation, llm.AttemptMetrics, error)
	RiskScores(ctx context.Context, top []DifferentialDiagnosis, rec record.PatientRecord) ([]RiskScore, llm.AttemptMetrics, error)
	ActionPlan(ctx context.Context, alerts []ValidatedAlert, top []DifferentialDiagnosis, rec record.PatientRecord) (ActionPlan, llm.AttemptMetrics, error)
}

type LLMPhaseRunner struct {
	exec *llm.Executor
}

func NewLLMPhaseRunner(exec *llm.Executor) *LLMPhaseRunner {
	return &LLMPhaseRunner{exec: exec}
}

func (r *LLMPhaseRunner) Diagnose(ctx context.Context, syn synthesizer.Result, rec record.PatientRecord) ([]DifferentialDiagnosis, llm.AttemptMetrics, error) {
	out := struct {
		DifferentialDiagnoses []DifferentialDiagnosis `json:"differential_diagnoses"`
	}{}
	prompt := fmt.Sprintf(
		"Generate the relevant differential diagnoses for this patient.\n\n%s\n\nComplete clinical context:\n%s",
		diagnoseSchemaPrompt,
		mustJSON(buildClinicalContext(syn, rec)),
	)
	m, err := r.exec.Run(ctx, "diagnose", diagnoseSystemPrompt, prompt, &out, func() error {
		return validateDiagnoses(out.DifferentialDiagnoses)
	})
	return out.DifferentialDiagnoses, m, err
}

func (r *LLMPhaseRunner) ValidateAlert(ctx context.Context, alert synthesizer.CriticalAlert, rec record.PatientRecord) (Validation, llm.AttemptMetrics, error) {
	out := Validation{}
	prompt := fmt.Sprintf(
		"Validate this alert against recognized medical guidelines.\n\n%s\n\nAlert to validate:\n%s\n\nPatient context:\n%s",
		validateSchemaPrompt,
		mustJSON(alert),
		mustJSON(rec),
	)
	m, err := r.exec.Run(ctx, "validate_alert", validateSystemPrompt, prompt, &out, func() error {
		if strings.TrimSpace(out.ValidationStrength) == "" {
			return fmt.Errorf("validation_strength empty")
		}
		return nil
	})
	return out, m, err
}

func (r *LLMPhaseRunner) RiskScores(ctx context.Context, top []DifferentialDiagnosis, rec record.PatientRecord) ([]RiskScore, llm.AttemptMetrics, error) {
	out := struct {
		RiskScores []RiskScore `json:"risk_scores"`
	}{}
	prompt := fmt.Sprintf(
		"Compute the risk scores relevant to each retained diagnosis.\n\n%s\n\nRetained diagnoses:\n%s\n\nPatient data:\n%s",
		riskScoreSchemaPrompt,
		mustJSON(top),
		mustJSON(rec),
	)
	m, err := r.exec.Run(ctx, "risk_scores", riskScoreSystemPrompt, prompt, &out, nil)
	return out.RiskScores, m, err
}

func (r *LLMPhaseRunner) ActionPlan(ctx context.Context, alerts []ValidatedAlert, top []DifferentialDiagnosis, rec record.PatientRecord) (ActionPlan, llm.AttemptMetrics, error) {
	out := ActionPlan{}
	prompt := fmt.Sprintf(
		"Create a structured, prioritized action plan.\n\n%s\n\nValidated alerts:\n%s\n\nDifferential diagnoses:\n%s\n\nPatient data:\n%s",
		actionPlanSchemaPrompt,
		mustJSON(alerts),
		mustJSON(top),
		mustJSON(rec),
	)
	m, err := r.exec.Run(ctx, "action_plan", actionPlanSystemPrompt, prompt, &out, nil)
	return out, m, err
}

func validateDiagnoses(dxs []DifferentialDiagnosis) error {
	if len(dxs) == 0 {
		return fmt.Errorf("differential_diagnoses empty")
	}
	for i, d := range dxs {
		if strings.TrimSpace(d.Diagnosis) == "" {
			return fmt.Errorf("diagnosis %d has no name", i)
		}
		if d.ConfidenceScore < 0 || d.ConfidenceScore > 1 {
			return fmt.Errorf("diagnosis %d confidence_score out of range", i)
		}
		switch d.Probability {
		case ProbabilityLow, ProbabilityMedium, ProbabilityHigh, ProbabilityVeryHigh:
		default:
			return fmt.Errorf("diagnosis %d invalid probability %q", i, d.Probability)
		}
	}
	return nil
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
