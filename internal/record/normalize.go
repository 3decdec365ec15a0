package record

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/llm"
)

const normalizerSystemPrompt = "You are a clinical data normalization assistant. " +
	"You convert arbitrary patient payloads into a canonical record. " +
	"Extract only information present in the supplied data; never invent patient facts. Respond with strict JSON only."

const autoDetectSchemaPrompt = `Required JSON schema:
{
  "patient_normalized": {
    "id": "string (identifier from the data, or UNKNOWN)",
    "source_type": "AUTO_DETECTED",
    "age": "integer or null",
    "sex": "string or null",
    "admission": {"type": "string", "chief_complaint": "string", "date": "string or null", "location": "string"},
    "vitals_current": {"<name>": {"value": "string", "unit": "string", "observed_at": "string"}},
    "labs": [],
    "cultures": [],
    "medical_history": {"known_conditions": [], "medications_current": [], "allergies": []}
  }
}`

// Normalizer converts an arbitrary input record into the canonical
// PatientRecord shape. Known shapes (already-normalized, emergency-call) are
// mapped deterministically; anything else falls back to a model-assisted
// extraction that gives no structural guarantee beyond a valid record.
type Normalizer struct {
	exec *llm.Executor
	log  *logrus.Entry
}

func NewNormalizer(exec *llm.Executor, log *logrus.Entry) *Normalizer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Normalizer{exec: exec, log: log}
}

// NormalizeJSON parses blob and normalizes it. Non-object payloads fail with
// an InputFormatError.
func (n *Normalizer) NormalizeJSON(ctx context.Context, blob []byte) (PatientRecord, error) {
	var raw map[string]any
	if err := json.Unmarshal(blob, &raw); err != nil {
		return PatientRecord{}, &InputFormatError{Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	return n.Normalize(ctx, raw)
}

// Normalize maps raw into a PatientRecord. Normalizing an already-normalized
// record is a no-op: the nested record is returned unchanged.
func (n *Normalizer) Normalize(ctx context.Context, raw map[string]any) (PatientRecord, error) {
	if raw == nil {
		return PatientRecord{}, &InputFormatError{Reason: "nil input"}
	}

	if pn, ok := raw["patient_normalized"]; ok {
		rec, err := decodeRecord(pn)
		if err != nil {
			return PatientRecord{}, &InputFormatError{Reason: fmt.Sprintf("patient_normalized is not a record: %v", err)}
		}
		return rec, nil
	}

	if isEmergencyCallShape(raw) {
		return mapEmergencyCall(raw), nil
	}

	return n.autoDetect(ctx, raw)
}

// Wrap packages a record so that Normalize recognizes it as already
// normalized.
func Wrap(rec PatientRecord) map[string]any {
	return map[string]any{"patient_normalized": rec}
}

func decodeRecord(v any) (PatientRecord, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return PatientRecord{}, err
	}
	var rec PatientRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return PatientRecord{}, err
	}
	return rec, nil
}

func isEmergencyCallShape(raw map[string]any) bool {
	input, ok := raw["input"].(map[string]any)
	if !ok {
		return false
	}
	if _, ok := input["text"]; !ok {
		return false
	}
	_, ok = raw["expected_output"]
	return ok
}

// mapEmergencyCall deterministically maps the dispatch-transcript shape into
// the canonical record. Fields absent in the payload stay null or empty;
// nothing is fabricated.
func mapEmergencyCall(raw map[string]any) PatientRecord {
	expected := objectAt(raw, "expected_output")
	meta := objectAt(raw, "meta")
	transcript := stringAt(objectAt(raw, "input"), "text")

	pid := objectAt(expected, "patient_identification")
	incident := objectAt(expected, "incident_description")
	signs := objectAt(expected, "vital_signs")
	history := objectAt(expected, "medical_history")

	rec := PatientRecord{
		ID:             stringOr(stringAt(raw, "id"), EmergencyUnknownID),
		SourceType:     SourceEmergencyCall,
		CallTranscript: transcript,
		Scenario:       stringAt(meta, "scenario"),
		Age:            intPtrAt(pid, "age"),
		Sex:            stringPtrAt(pid, "sex"),
		Weight:         scalarAt(pid, "weight"),
		Admission: &Admission{
			Type:           "PREHOSPITAL_EMERGENCY",
			ChiefComplaint: stringAt(incident, "main_reason"),
			Mechanism:      stringAt(incident, "mechanism"),
			OnsetTime:      stringAt(incident, "onset_time"),
			Evolution:      stringAt(incident, "evolution"),
		},
		VitalsCurrent: map[string]Vital{},
		Labs:          []LabResult{},
		Cultures:      []CultureResult{},
		MedicalHistory: MedicalHistory{
			KnownConditions:       stringSliceAt(history, "known_conditions"),
			MedicationsCurrent:    stringSliceAt(history, "medications"),
			Allergies:             stringSliceAt(history, "allergies"),
			AnticoagulantUse:      boolPtrAt(history, "anticoagulant_use"),
			RecentHospitalization: boolPtrAt(history, "recent_hospitalization"),
		},
		Symptoms:           objectAt(expected, "symptoms"),
		CallerInfo:         objectAt(expected, "caller_info"),
		Location:           objectAt(expected, "location"),
		ActionsTaken:       objectAt(expected, "actions_already_taken"),
		RiskFactors:        objectAt(expected, "risk_factors"),
		EnvironmentContext: objectAt(expected, "environment_context"),
		InstructionsGiven:  objectAt(expected, "instructions_given"),
	}

	for _, name := range []string{"consciousness", "breathing", "pulse", "skin_color", "sweating", "temperature", "bleeding"} {
		if v := scalarAt(signs, name); v != "" {
			rec.VitalsCurrent[name] = Vital{Value: v}
		}
	}
	// Dispatch payloads record consciousness with the patient
	// identification rather than the measured vitals.
	if v := scalarAt(pid, "consciousness"); v != "" {
		rec.VitalsCurrent["consciousness"] = Vital{Value: v}
	}
	return rec
}

// autoDetect is the lossy fallback for unrecognized shapes: the inference
// collaborator extracts whatever it can, and most fields may stay null.
func (n *Normalizer) autoDetect(ctx context.Context, raw map[string]any) (PatientRecord, error) {
	if n.exec == nil {
		return PatientRecord{}, &InputFormatError{Reason: "unrecognized shape and no inference caller configured"}
	}

	blob, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return PatientRecord{}, &InputFormatError{Reason: fmt.Sprintf("unserializable input: %v", err)}
	}

	n.log.WithField("keys", len(raw)).Warn("unrecognized input shape, degrading to model-assisted normalization")

	prompt := fmt.Sprintf(
		"You receive patient data in an unknown format. Identify and extract every relevant medical detail into the canonical record.\n\n%s\n\nRaw data:\n%s",
		autoDetectSchemaPrompt,
		string(blob),
	)

	var out struct {
		PatientNormalized PatientRecord `json:"patient_normalized"`
	}
	if _, err := n.exec.Run(ctx, "normalize", normalizerSystemPrompt, prompt, &out, nil); err != nil {
		return PatientRecord{}, fmt.Errorf("auto-detect normalization: %w", err)
	}

	rec := out.PatientNormalized
	rec.SourceType = SourceAutoDetected
	if rec.ID == "" {
		rec.ID = "UNKNOWN"
	}
	if rec.VitalsCurrent == nil {
		rec.VitalsCurrent = map[string]Vital{}
	}
	if rec.Labs == nil {
		rec.Labs = []LabResult{}
	}
	if rec.Cultures == nil {
		rec.Cultures = []CultureResult{}
	}
	return rec, nil
}
