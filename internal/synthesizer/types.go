package synthesizer

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Trajectory string

const (
	TrajectoryStable        Trajectory = "STABLE"
	TrajectoryDeteriorating Trajectory = "DETERIORATING"
	TrajectoryImproving     Trajectory = "IMPROVING"
)

type AlertType string

const (
	AlertMissingData         AlertType = "MISSING_DATA"
	AlertInconsistency       AlertType = "INCONSISTENCY"
	AlertDelayedAction       AlertType = "DELAYED_ACTION"
	AlertTreatmentMismatch   AlertType = "TREATMENT_MISMATCH"
	AlertSilentDeterioration AlertType = "SILENT_DETERIORATION"
)

// Summary is the phase A output: the professional clinical summary.
type Summary struct {
	Summary            string     `json:"summary"`
	KeyProblems        []string   `json:"key_problems"`
	Severity           Severity   `json:"severity"`
	ClinicalTrajectory Trajectory `json:"clinical_trajectory"`
}

// CriticalAlert is a single problem the critique phase found in the record
// or the summary.
type CriticalAlert struct {
	Type           AlertType `json:"type"`
	Severity       Severity  `json:"severity"`
	Finding        string    `json:"finding"`
	ActionRequired string    `json:"action_required"`
}

type DataInconsistency struct {
	Field1      string `json:"field_1"`
	Value1      string `json:"value_1"`
	Field2      string `json:"field_2"`
	Value2      string `json:"value_2"`
	Explanation string `json:"explanation"`
}

type ReliabilityAssessment struct {
	DossierCompleteness float64  `json:"dossier_completeness"`
	ConfidenceLevel     string   `json:"confidence_level"`
	CriticalDataMissing []string `json:"critical_data_missing"`
	DataQualityIssues   []string `json:"data_quality_issues"`
}

type ClinicalScore struct {
	ScoreName      string   `json:"score_name"`
	Value          string   `json:"value"`
	Interpretation string   `json:"interpretation"`
	Evidence       []string `json:"evidence"`
}

type DeteriorationAnalysis struct {
	RiskLevel         Severity `json:"risk_level"`
	WarningSigns      []string `json:"warning_signs"`
	PredictedTimeline string   `json:"predicted_timeline"`
	Evidence          []string `json:"evidence"`
}

// Critique is the phase B output: the adversarial audit of the record and
// the phase A summary.
type Critique struct {
	CriticalAlerts        []CriticalAlert       `json:"critical_alerts"`
	DataInconsistencies   []DataInconsistency   `json:"data_inconsistencies"`
	ReliabilityAssessment ReliabilityAssessment `json:"reliability_assessment"`
	ClinicalScores        []ClinicalScore       `json:"clinical_scores"`
	DeteriorationAnalysis DeteriorationAnalysis `json:"deterioration_analysis"`
}

// Result merges both phases for the downstream expert stage.
type Result struct {
	PatientID             string                `json:"patient_id"`
	SourceType            string                `json:"source_type"`
	Synthesis             Summary               `json:"synthesis"`
	CriticalAlerts        []CriticalAlert       `json:"critical_alerts"`
	DataInconsistencies   []DataInconsistency   `json:"data_inconsistencies"`
	ReliabilityAssessment ReliabilityAssessment `json:"reliability_assessment"`
	ClinicalScores        []ClinicalScore       `json:"clinical_scores"`
	DeteriorationAnalysis DeteriorationAnalysis `json:"deterioration_analysis"`
}

// SynthesisFailure marks which phase of the synthesis stage failed.
type SynthesisFailure struct {
	Phase string
	Err   error
}

func (e *SynthesisFailure) Error() string {
	return fmt.Sprintf("synthesis phase %s: %v", e.Phase, e.Err)
}

func (e *SynthesisFailure) Unwrap() error {
	return e.Err
}
