package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adnlabs/clinical-navigator/internal/llm"
	"github.com/adnlabs/clinical-navigator/internal/record"
)

const summarizeSystemPrompt = `You are an experienced emergency physician producing structured clinical
summaries. Respond with strict JSON only.`

const critiqueSystemPrompt = `You are a senior auditor physician reviewing a colleague's clinical summary.
Challenge everything: look for what is missing in the data, find
inconsistencies between data points, detect abnormal delays, identify
unmentioned risks, spot inappropriate treatments. Respond with strict JSON
only.`

const summarizeSchemaPrompt = `Required JSON schema:
{
  "summary": "string (narrative summary in 3-5 lines of the clinical picture)",
  "key_problems": ["string"],
  "severity": "LOW | MEDIUM | HIGH | CRITICAL",
  "clinical_trajectory": "STABLE | DETERIORATING | IMPROVING"
}`

const critiqueSchemaPrompt = `Required JSON schema:
{
  "critical_alerts": [
    {
      "type": "MISSING_DATA | INCONSISTENCY | DELAYED_ACTION | TREATMENT_MISMATCH | SILENT_DETERIORATION",
      "severity": "LOW | MEDIUM | HIGH | CRITICAL",
      "finding": "string (precise description of the problem)",
      "action_required": "string (required immediate action)"
    }
  ],
  "data_inconsistencies": [
    {"field_1": "string", "value_1": "string", "field_2": "string", "value_2": "string", "explanation": "string"}
  ],
  "reliability_assessment": {
    "dossier_completeness": "float (0.0-1.0)",
    "confidence_level": "LOW | MEDIUM | HIGH",
    "critical_data_missing": ["string"],
    "data_quality_issues": ["string"]
  },
  "clinical_scores": [
    {"score_name": "SOFA/qSOFA/NEWS/GCS/etc", "value": "string", "interpretation": "string", "evidence": ["string"]}
  ],
  "deterioration_analysis": {
    "risk_level": "LOW | MEDIUM | HIGH | CRITICAL",
    "warning_signs": ["string"],
    "predicted_timeline": "string",
    "evidence": ["string"]
  }
}`

// PhaseRunner is the two-phase synthesis surface: a plain summary first,
// then an adversarial critique of that summary against the raw record.
type PhaseRunner interface {
	Summarize(ctx context.Context, rec record.PatientRecord) (Summary, llm.AttemptMetrics, error)
	Critique(ctx context.Context, rec record.PatientRecord, sum Summary) (Critique, llm.AttemptMetrics, error)
}

type LLMPhaseRunner struct {
	exec *llm.Executor
}

func NewLLMPhaseRunner(exec *llm.Executor) *LLMPhaseRunner {
	return &LLMPhaseRunner{exec: exec}
}

func (r *LLMPhaseRunner) Summarize(ctx context.Context, rec record.PatientRecord) (Summary, llm.AttemptMetrics, error) {
	out := Summary{}
	prompt := fmt.Sprintf(
		"Create a professional and structured clinical summary of this patient.\n\n%s\n\nAll available patient data:\n%s",
		summarizeSchemaPrompt,
		mustJSON(rec),
	)
	m, err := r.exec.Run(ctx, "summarize", summarizeSystemPrompt, prompt, &out, func() error { return validateSummary(out) })
	return out, m, err
}

func (r *LLMPhaseRunner) Critique(ctx context.Context, rec record.PatientRecord, sum Summary) (Critique, llm.AttemptMetrics, error) {
	out := Critique{}
	prompt := fmt.Sprintf(
		"Audit the summary below against the complete patient data.\n\n%s\n\nComplete patient data:\n%s\n\nSummary to critique:\n%s",
		critiqueSchemaPrompt,
		mustJSON(rec),
		mustJSON(sum),
	)
	m, err := r.exec.Run(ctx, "critique", critiqueSystemPrompt, prompt, &out, func() error { return validateCritique(out) })
	return out, m, err
}

func validateSummary(s Summary) error {
	if strings.TrimSpace(s.Summary) == "" {
		return fmt.Errorf("summary empty")
	}
	if len(s.KeyProblems) == 0 {
		return fmt.Errorf("key_problems empty")
	}
	return nil
}

func validateCritique(c Critique) error {
	if c.ReliabilityAssessment.DossierCompleteness < 0 || c.ReliabilityAssessment.DossierCompleteness > 1 {
		return fmt.Errorf("dossier_completeness out of range")
	}
	for i, a := range c.CriticalAlerts {
		if strings.TrimSpace(a.Finding) == "" {
			return fmt.Errorf("alert %d missing finding", i)
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
