package expert

import (
	"fmt"

	"github.com/adnlabs/clinical-navigator/internal/synthesizer"
)

type Probability string

const (
	ProbabilityLow      Probability = "LOW"
	ProbabilityMedium   Probability = "MEDIUM"
	ProbabilityHigh     Probability = "HIGH"
	ProbabilityVeryHigh Probability = "VERY_HIGH"
)

type SupportingEvidence struct {
	Finding  string `json:"finding"`
	Strength string `json:"strength"`
	Source   string `json:"source"`
}

type ContradictingEvidence struct {
	Finding string `json:"finding"`
	Impact  string `json:"impact"`
}

// DifferentialDiagnosis is one ranked hypothesis from phase 1.
type DifferentialDiagnosis struct {
	Diagnosis             string                  `json:"diagnosis"`
	ICD10Code             string                  `json:"icd10_code"`
	Probability           Probability             `json:"probability"`
	ConfidenceScore       float64                 `json:"confidence_score"`
	SupportingEvidence    []SupportingEvidence    `json:"supporting_evidence"`
	ContradictingEvidence []ContradictingEvidence `json:"contradicting_evidence"`
	AdditionalTestsNeeded []string                `json:"additional_tests_needed"`
	Urgency               string                  `json:"urgency"`
	TypicalPresentation   string                  `json:"typical_presentation"`
	AtypicalFeatures      []string                `json:"atypical_features"`
}

type GuidelineReference struct {
	GuidelineName      string `json:"guideline_name"`
	Recommendation     string `json:"recommendation"`
	StrengthOfEvidence string `json:"strength_of_evidence"`
	SourceURL          string `json:"source_url"`
	Quote              string `json:"quote"`
}

type ClinicalEvidence struct {
	EvidenceType string `json:"evidence_type"`
	Finding      string `json:"finding"`
	Relevance    string `json:"relevance"`
}

type ContraindicationsCheck struct {
	ContraindicationsPresent bool   `json:"contraindications_present"`
	Details                  string `json:"details"`
}

// Validation is the guideline check for one alert. Incomplete marks an alert
// whose validation call failed; its other fields are then zero.
type Validation struct {
	AlertValidated         bool                   `json:"alert_validated"`
	ValidationStrength     string                 `json:"validation_strength"`
	GuidelineReferences    []GuidelineReference   `json:"guidelines_references"`
	ClinicalEvidence       []ClinicalEvidence     `json:"clinical_evidence"`
	ActionUrgencyValidated string                 `json:"action_urgency_validated"`
	AlternativeApproaches  []string               `json:"alternative_approaches"`
	ContraindicationsCheck ContraindicationsCheck `json:"contraindications_check"`

	Incomplete       bool   `json:"incomplete,omitempty"`
	IncompleteReason string `json:"incomplete_reason,omitempty"`
}

// ValidatedAlert pairs the original alert with its guideline validation.
type ValidatedAlert struct {
	synthesizer.CriticalAlert
	Validation Validation `json:"validation"`
}

type PredictedOutcomes struct {
	Mortality30d    string   `json:"mortality_30d"`
	Complications   []string `json:"complications"`
	ICULengthOfStay string   `json:"icu_length_of_stay"`
}

type RiskScore struct {
	DiagnosisRelated        string            `json:"diagnosis_related"`
	ScoreName               string            `json:"score_name"`
	ScoreValue              float64           `json:"score_value"`
	Interpretation          string            `json:"interpretation"`
	RiskCategory            string            `json:"risk_category"`
	PredictedOutcomes       PredictedOutcomes `json:"predicted_outcomes"`
	ComponentsBreakdown     map[string]string `json:"components_breakdown"`
	ConfidenceInCalculation string            `json:"confidence_in_calculation"`
}

type ImmediateAction struct {
	Action             string `json:"action"`
	Justification      string `json:"justification"`
	GuidelineReference string `json:"guideline_reference"`
	ExpectedOutcome    string `json:"expected_outcome"`
	Monitoring         string `json:"monitoring"`
}

type UrgentAction struct {
	Action             string `json:"action"`
	Timeframe          string `json:"timeframe"`
	Justification      string `json:"justification"`
	GuidelineReference string `json:"guideline_reference"`
}

type DiagnosticTest struct {
	Test                string `json:"test"`
	Indication          string `json:"indication"`
	Priority            string `json:"priority"`
	ExpectedTurnaround  string `json:"expected_turnaround"`
	InterpretationGuide string `json:"interpretation_guide"`
}

type MonitoringItem struct {
	Parameter      string `json:"parameter"`
	Frequency      string `json:"frequency"`
	AlertThreshold string `json:"alert_threshold"`
	EscalationIf   string `json:"escalation_if"`
}

type ConsultationNeed struct {
	Specialty          string   `json:"specialty"`
	Urgency            string   `json:"urgency"`
	Reason             string   `json:"reason"`
	QuestionsToAddress []string `json:"questions_to_address"`
}

type MedicationAdjustment struct {
	Medication         string `json:"medication"`
	Action             string `json:"action"`
	Dosing             string `json:"dosing"`
	MonitoringRequired string `json:"monitoring_required"`
	GuidelineReference string `json:"guideline_reference"`
}

type Disposition struct {
	RecommendedLocation  string   `json:"recommended_location"`
	Justification        string   `json:"justification"`
	CriteriaForDischarge []string `json:"criteria_for_discharge"`
	FollowUpPlan         string   `json:"follow_up_plan"`
}

// ActionPlan buckets recommended actions by how fast they must happen:
// immediate is under 15 minutes, urgent under the hour, the rest is workup
// and longer-horizon planning.
type ActionPlan struct {
	ImmediateActions      []ImmediateAction      `json:"immediate_actions"`
	UrgentActions         []UrgentAction         `json:"urgent_actions"`
	DiagnosticWorkup      []DiagnosticTest       `json:"diagnostic_workup"`
	MonitoringPlan        []MonitoringItem       `json:"monitoring_plan"`
	ConsultationNeeds     []ConsultationNeed     `json:"consultation_needs"`
	MedicationAdjustments []MedicationAdjustment `json:"medication_adjustments"`
	Disposition           Disposition            `json:"disposition"`
}

type EvidenceStrengthSummary struct {
	HighQuality     int `json:"high_quality"`
	ModerateQuality int `json:"moderate_quality"`
	LowQuality      int `json:"low_quality"`
}

// EvidenceSummary aggregates every guideline reference produced during
// alert validation.
type EvidenceSummary struct {
	TotalReferences         int                     `json:"total_references"`
	GuidelinesCited         []GuidelineReference    `json:"guidelines_cited"`
	EvidenceStrengthSummary EvidenceStrengthSummary `json:"evidence_strength_summary"`
	KeyRecommendations      []string                `json:"key_recommendations"`
}

// Result is the full expert stage output.
type Result struct {
	DifferentialDiagnoses []DifferentialDiagnosis `json:"differential_diagnoses"`
	ValidatedAlerts       []ValidatedAlert        `json:"validated_alerts"`
	RiskScores            []RiskScore             `json:"risk_scores"`
	ActionPlan            ActionPlan              `json:"action_plan"`
	EvidenceSummary       EvidenceSummary         `json:"evidence_summary"`
}

// ExpertFailure marks which phase of the expert stage failed.
type ExpertFailure struct {
	Phase string
	Err   error
}

func (e *ExpertFailure) Error() string {
	return fmt.Sprintf("expert phase %s: %v", e.Phase, e.Err)
}

func (e *ExpertFailure) Unwrap() error {
	return e.Err
}
