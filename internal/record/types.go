package record

// SourceType tags where a PatientRecord came from. Downstream stages branch
// display logic on it but never core behavior.
type SourceType string

const (
	SourceHospitalRecord SourceType = "HOSPITAL_RECORD"
	SourceEmergencyCall  SourceType = "EMERGENCY_CALL"
	SourceFreeText       SourceType = "FREE_TEXT"
	SourceAutoDetected   SourceType = "AUTO_DETECTED"
	SourceDegraded       SourceType = "DEGRADED_PLACEHOLDER"
)

// FreeTextID is the fixed sentinel id for records built from raw text input.
const FreeTextID = "TEXT_INPUT"

// EmergencyUnknownID is used when an emergency-call payload carries no id.
const EmergencyUnknownID = "EMERGENCY_UNKNOWN"

type Vital struct {
	Value      string `json:"value"`
	Unit       string `json:"unit,omitempty"`
	ObservedAt string `json:"observed_at,omitempty"`
}

type LabResult struct {
	Code       string   `json:"code"`
	Name       string   `json:"name,omitempty"`
	Value      string   `json:"value"`
	ValueNum   *float64 `json:"value_num"`
	Unit       *string  `json:"unit"`
	Flag       *string  `json:"flag"`
	ObservedAt string   `json:"observed_at,omitempty"`
}

type CultureResult struct {
	SpecimenType   string  `json:"specimen_type"`
	Organism       *string `json:"organism"`
	Status         string  `json:"status"`
	Antibiotic     *string `json:"antibiotic"`
	Interpretation *string `json:"interpretation"`
	ObservedAt     string  `json:"observed_at,omitempty"`
}

type Admission struct {
	Type           string  `json:"type"`
	ChiefComplaint string  `json:"chief_complaint,omitempty"`
	Date           *string `json:"date"`
	Location       string  `json:"location,omitempty"`
	Mechanism      string  `json:"mechanism,omitempty"`
	OnsetTime      string  `json:"onset_time,omitempty"`
	Evolution      string  `json:"evolution,omitempty"`
}

type MedicalHistory struct {
	KnownConditions       []string `json:"known_conditions"`
	MedicationsCurrent    []string `json:"medications_current,omitempty"`
	Allergies             []string `json:"allergies,omitempty"`
	AnticoagulantUse      *bool    `json:"anticoagulant_use,omitempty"`
	RecentHospitalization *bool    `json:"recent_hospitalization,omitempty"`
	ICUStays              int      `json:"icu_stays,omitempty"`
}

type Medication struct {
	Drug      string  `json:"drug"`
	Dose      *string `json:"dose"`
	Route     *string `json:"route"`
	StartDate *string `json:"start_date"`
}

type ICDEntry struct {
	Code   string `json:"icd9_code"`
	SeqNum int    `json:"seq_num"`
}

type DeathInfo struct {
	Expired        bool    `json:"expired"`
	DateOfDeath    *string `json:"dod"`
	HospitalExpire bool    `json:"hospital_expire"`
}

// PatientRecord is the canonical normalized patient-data shape consumed by
// every pipeline stage. It is created fresh per invocation and treated as a
// read-only snapshot once handed to the synthesizer: stages derive new
// objects instead of mutating it.
type PatientRecord struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"source_type"`

	Age *int    `json:"age"`
	Sex *string `json:"sex"`
	// Weight is free text ("70", "environ 80 kg") since callers rarely
	// report a clean number.
	Weight string `json:"weight,omitempty"`

	Admission     *Admission       `json:"admission,omitempty"`
	VitalsCurrent map[string]Vital `json:"vitals_current"`
	Labs          []LabResult      `json:"labs"`
	Cultures      []CultureResult  `json:"cultures"`

	DiagnosesICD       []ICDEntry   `json:"diagnoses_icd,omitempty"`
	ProceduresICD      []ICDEntry   `json:"procedures_icd,omitempty"`
	MedicationsCurrent []Medication `json:"medications_current,omitempty"`

	MedicalHistory MedicalHistory `json:"medical_history"`
	DeathInfo      *DeathInfo     `json:"death_info,omitempty"`

	// RawText carries the verbatim input for free-text records;
	// CallTranscript carries the caller text for emergency-call records.
	RawText        string `json:"raw_text,omitempty"`
	CallTranscript string `json:"call_transcript,omitempty"`
	Scenario       string `json:"scenario,omitempty"`

	// Free-form blocks mapped through from emergency-call payloads. Their
	// internal keys vary by dispatch system, so they stay untyped.
	Symptoms           map[string]any `json:"symptoms,omitempty"`
	CallerInfo         map[string]any `json:"caller_info,omitempty"`
	Location           map[string]any `json:"location,omitempty"`
	ActionsTaken       map[string]any `json:"actions_already_taken,omitempty"`
	RiskFactors        map[string]any `json:"risk_factors,omitempty"`
	EnvironmentContext map[string]any `json:"environment_context,omitempty"`
	InstructionsGiven  map[string]any `json:"instructions_given,omitempty"`
}

// Degraded reports whether the record was produced by the collector's
// placeholder fallback and therefore carries non-authoritative data.
func (r PatientRecord) Degraded() bool {
	return r.SourceType == SourceDegraded
}
