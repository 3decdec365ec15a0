package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const Disclaimer = "Automated clinical decision support. Not a substitute for " +
	"the judgment of a licensed physician; every recommendation must be " +
	"reviewed before acting on it."

// BuildReportMarkdown renders the envelope as a clinical report. Partial
// envelopes render too: sections for stages that never ran are marked as
// unavailable.
func BuildReportMarkdown(env Envelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Clinical Analysis Report\n\n")
	fmt.Fprintf(&b, "- Patient ID: %s\n", env.PatientID)
	fmt.Fprintf(&b, "- Status: %s\n", env.Status)
	fmt.Fprintf(&b, "- Date: %s\n\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\n\n", Disclaimer)

	if env.Status != "success" {
		fmt.Fprintf(&b, "## Pipeline Failure\n\n")
		fmt.Fprintf(&b, "- Failed stage: `%s`\n", env.FailedStage)
		fmt.Fprintf(&b, "- Error: %s\n", env.Error)
		fmt.Fprintf(&b, "- Stages completed: %s\n\n", strings.Join(env.StagesExecuted, ", "))
	}

	fmt.Fprintf(&b, "## Patient\n\n")
	if env.Patient == nil {
		fmt.Fprintf(&b, "Patient record unavailable.\n\n")
	} else {
		p := env.Patient
		fmt.Fprintf(&b, "- Source: `%s`\n", p.SourceType)
		if p.Age != nil {
			fmt.Fprintf(&b, "- Age: %d\n", *p.Age)
		}
		if p.Sex != nil {
			fmt.Fprintf(&b, "- Sex: %s\n", *p.Sex)
		}
		if p.Admission != nil {
			fmt.Fprintf(&b, "- Admission: %s (%s)\n", p.Admission.ChiefComplaint, p.Admission.Type)
		}
		if len(p.VitalsCurrent) > 0 {
			fmt.Fprintf(&b, "- Vitals recorded: %d\n", len(p.VitalsCurrent))
		}
		if len(p.Labs) > 0 {
			fmt.Fprintf(&b, "- Lab results: %d\n", len(p.Labs))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Clinical Summary\n\n")
	if env.Synthesis == nil {
		fmt.Fprintf(&b, "Synthesis unavailable.\n\n")
	} else {
		s := env.Synthesis
		fmt.Fprintf(&b, "%s\n\n", s.Synthesis.Summary)
		fmt.Fprintf(&b, "- Severity: **%s**\n", s.Synthesis.Severity)
		fmt.Fprintf(&b, "- Trajectory: **%s**\n", s.Synthesis.ClinicalTrajectory)
		for _, prob := range s.Synthesis.KeyProblems {
			fmt.Fprintf(&b, "- Key problem: %s\n", prob)
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "### Critical Alerts\n\n")
		if len(s.CriticalAlerts) == 0 {
			fmt.Fprintf(&b, "No critical alerts raised.\n\n")
		}
		for i, a := range s.CriticalAlerts {
			fmt.Fprintf(&b, "%d. **[%s/%s]** %s\n", i+1, a.Type, a.Severity, a.Finding)
			if a.ActionRequired != "" {
				fmt.Fprintf(&b, "   - Action required: %s\n", a.ActionRequired)
			}
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "### Reliability\n\n")
		fmt.Fprintf(&b, "- Dossier completeness: %.0f%%\n", s.ReliabilityAssessment.DossierCompleteness*100)
		fmt.Fprintf(&b, "- Confidence level: %s\n", orNA(s.ReliabilityAssessment.ConfidenceLevel))
		for _, missing := range s.ReliabilityAssessment.CriticalDataMissing {
			fmt.Fprintf(&b, "- Missing: %s\n", missing)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Expert Validation\n\n")
	if env.Expert == nil {
		fmt.Fprintf(&b, "Expert validation unavailable.\n\n")
	} else {
		e := env.Expert
		fmt.Fprintf(&b, "### Differential Diagnoses\n\n")
		for i, d := range e.DifferentialDiagnoses {
			fmt.Fprintf(&b, "%d. **%s** (%s, confidence %.2f)", i+1, d.Diagnosis, d.Probability, d.ConfidenceScore)
			if d.ICD10Code != "" {
				fmt.Fprintf(&b, " `%s`", d.ICD10Code)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "### Validated Alerts\n\n")
		for i, va := range e.ValidatedAlerts {
			if va.Validation.Incomplete {
				fmt.Fprintf(&b, "%d. %s: validation incomplete (%s)\n", i+1, va.Finding, va.Validation.IncompleteReason)
				continue
			}
			fmt.Fprintf(&b, "%d. %s: validated=%t, strength=%s\n", i+1, va.Finding, va.Validation.AlertValidated, va.Validation.ValidationStrength)
			for _, ref := range va.Validation.GuidelineReferences {
				fmt.Fprintf(&b, "   - %s: %s\n", ref.GuidelineName, ref.Recommendation)
			}
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "### Risk Scores\n\n")
		for _, rs := range e.RiskScores {
			fmt.Fprintf(&b, "- %s (%s): %.1f, %s\n", rs.ScoreName, rs.DiagnosisRelated, rs.ScoreValue, rs.Interpretation)
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "### Action Plan\n\n")
		for _, a := range e.ActionPlan.ImmediateActions {
			fmt.Fprintf(&b, "- NOW (<15 min): %s\n", a.Action)
		}
		for _, a := range e.ActionPlan.UrgentActions {
			fmt.Fprintf(&b, "- URGENT (<1h): %s\n", a.Action)
		}
		for _, w := range e.ActionPlan.DiagnosticWorkup {
			fmt.Fprintf(&b, "- Workup [%s]: %s\n", w.Priority, w.Test)
		}
		if e.ActionPlan.Disposition.RecommendedLocation != "" {
			fmt.Fprintf(&b, "- Disposition: %s\n", e.ActionPlan.Disposition.RecommendedLocation)
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "### Evidence Base\n\n")
		fmt.Fprintf(&b, "- References cited: %d (HIGH: %d, MODERATE: %d, LOW: %d)\n",
			e.EvidenceSummary.TotalReferences,
			e.EvidenceSummary.EvidenceStrengthSummary.HighQuality,
			e.EvidenceSummary.EvidenceStrengthSummary.ModerateQuality,
			e.EvidenceSummary.EvidenceStrengthSummary.LowQuality,
		)
		for _, rec := range e.EvidenceSummary.KeyRecommendations {
			fmt.Fprintf(&b, "- Key recommendation: %s\n", rec)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Appendix\n\n")
	fmt.Fprintf(&b, "### Full Envelope (JSON)\n\n```json\n%s\n```\n", prettyJSON(env))
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("(marshal error: %v)", err)
	}
	return string(b)
}
