package record

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/llm"
)

type scriptedCaller struct {
	replies []string
	calls   int
}

func (s *scriptedCaller) GenerateJSON(_ context.Context, _, _ string) (string, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.replies) {
		return "", errors.New("script exhausted")
	}
	return s.replies[idx], nil
}

func testNormalizer(caller llm.Caller) *Normalizer {
	var exec *llm.Executor
	if caller != nil {
		exec = llm.NewExecutor(caller, 0)
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewNormalizer(exec, logrus.NewEntry(log))
}

func TestNormalizeAlreadyNormalizedIsIdentity(t *testing.T) {
	age := 67
	rec := PatientRecord{
		ID:         "10006",
		SourceType: SourceHospitalRecord,
		Age:        &age,
		VitalsCurrent: map[string]Vital{
			"heart_rate": {Value: "112", Unit: "bpm", ObservedAt: "2164-10-23 21:00:00"},
		},
		Labs: []LabResult{{Code: "50912", Name: "Creatinine", Value: "2.1"}},
		MedicalHistory: MedicalHistory{
			KnownConditions: []string{"CHF", "CKD stage 3"},
		},
	}

	nm := testNormalizer(nil)
	got, err := nm.Normalize(context.Background(), Wrap(rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want, _ := json.Marshal(rec)
	have, _ := json.Marshal(got)
	if string(want) != string(have) {
		t.Fatalf("record changed through normalization:\nwant %s\nhave %s", want, have)
	}

	again, err := nm.Normalize(context.Background(), Wrap(got))
	if err != nil {
		t.Fatalf("second pass error: %v", err)
	}
	have2, _ := json.Marshal(again)
	if string(have) != string(have2) {
		t.Fatalf("normalization not idempotent")
	}
}

func TestNormalizeEmergencyCallMapping(t *testing.T) {
	raw := map[string]any{
		"id": "call-042",
		"meta": map[string]any{
			"scenario": "chest_pain",
		},
		"input": map[string]any{
			"text": "Allô, mon mari a une douleur dans la poitrine depuis vingt minutes...",
		},
		"expected_output": map[string]any{
			"patient_identification": map[string]any{
				"age":           float64(58),
				"sex":           "M",
				"weight":        "environ 85 kg",
				"consciousness": "conscient",
			},
			"incident_description": map[string]any{
				"main_reason": "douleur thoracique",
				"onset_time":  "il y a 20 minutes",
				"evolution":   "stable",
			},
			"vital_signs": map[string]any{
				"breathing": "difficile",
				"sweating":  true,
			},
			"medical_history": map[string]any{
				"known_conditions":  []any{"hypertension"},
				"medications":       []any{"ramipril"},
				"anticoagulant_use": false,
			},
			"symptoms": map[string]any{
				"pain_location": "poitrine",
			},
		},
	}

	got, err := testNormalizer(nil).Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.SourceType != SourceEmergencyCall {
		t.Errorf("source type = %q, want %q", got.SourceType, SourceEmergencyCall)
	}
	if got.ID != "call-042" {
		t.Errorf("id = %q", got.ID)
	}
	if got.Age == nil || *got.Age != 58 {
		t.Errorf("age = %v, want 58", got.Age)
	}
	if got.Admission == nil || got.Admission.Type != "PREHOSPITAL_EMERGENCY" {
		t.Fatalf("admission = %+v", got.Admission)
	}
	if got.Admission.ChiefComplaint != "douleur thoracique" {
		t.Errorf("chief complaint = %q", got.Admission.ChiefComplaint)
	}

	// Dispatch payloads carry consciousness under patient_identification.
	if v := got.VitalsCurrent["consciousness"]; v.Value != "conscient" {
		t.Errorf("consciousness = %+v", v)
	}
	if got.Weight != "environ 85 kg" {
		t.Errorf("weight = %q", got.Weight)
	}
	if v := got.VitalsCurrent["sweating"]; v.Value != "true" {
		t.Errorf("sweating = %+v", v)
	}
	// Absent in the payload, must not be invented.
	for _, name := range []string{"pulse", "skin_color", "temperature", "bleeding"} {
		if _, ok := got.VitalsCurrent[name]; ok {
			t.Errorf("fabricated vital %q", name)
		}
	}
	if got.Sex == nil || *got.Sex != "M" {
		t.Errorf("sex = %v", got.Sex)
	}
	if got.MedicalHistory.AnticoagulantUse == nil || *got.MedicalHistory.AnticoagulantUse {
		t.Errorf("anticoagulant_use = %v", got.MedicalHistory.AnticoagulantUse)
	}
	if got.MedicalHistory.RecentHospitalization != nil {
		t.Errorf("recent_hospitalization fabricated: %v", got.MedicalHistory.RecentHospitalization)
	}
	if got.Symptoms["pain_location"] != "poitrine" {
		t.Errorf("symptoms = %v", got.Symptoms)
	}
	if got.CallTranscript == "" {
		t.Error("call transcript dropped")
	}
	if got.Scenario != "chest_pain" {
		t.Errorf("scenario = %q", got.Scenario)
	}
}

func TestNormalizeEmergencyCallConsciousnessFallsBackToVitals(t *testing.T) {
	raw := map[string]any{
		"input": map[string]any{"text": "Allô..."},
		"expected_output": map[string]any{
			"vital_signs": map[string]any{"consciousness": "somnolent"},
		},
	}
	got, err := testNormalizer(nil).Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := got.VitalsCurrent["consciousness"]; v.Value != "somnolent" {
		t.Errorf("consciousness = %+v", v)
	}
}

func TestNormalizeEmergencyCallWithoutIDGetsPlaceholder(t *testing.T) {
	raw := map[string]any{
		"input":           map[string]any{"text": "Allô..."},
		"expected_output": map[string]any{},
	}
	got, err := testNormalizer(nil).Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != EmergencyUnknownID {
		t.Errorf("id = %q, want %q", got.ID, EmergencyUnknownID)
	}
}

func TestNormalizeJSONRejectsNonObject(t *testing.T) {
	nm := testNormalizer(nil)
	for _, blob := range []string{`[1,2,3]`, `"text"`, `42`, `not json`} {
		_, err := nm.NormalizeJSON(context.Background(), []byte(blob))
		var ife *InputFormatError
		if !errors.As(err, &ife) {
			t.Errorf("input %s: error = %v, want InputFormatError", blob, err)
		}
	}
}

func TestNormalizeAutoDetectFallback(t *testing.T) {
	caller := &scriptedCaller{replies: []string{`{
		"patient_normalized": {
			"id": "bed-7",
			"age": 81,
			"admission": {"type": "WARD", "chief_complaint": "confusion"},
			"vitals_current": {"temperature": {"value": "38.9", "unit": "C"}}
		}
	}`}}

	got, err := testNormalizer(caller).Normalize(context.Background(), map[string]any{
		"bed":   "7",
		"notes": "81yo, febrile, confused since this morning",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SourceType != SourceAutoDetected {
		t.Errorf("source type = %q, want %q", got.SourceType, SourceAutoDetected)
	}
	if got.ID != "bed-7" {
		t.Errorf("id = %q", got.ID)
	}
	if got.VitalsCurrent["temperature"].Value != "38.9" {
		t.Errorf("vitals = %+v", got.VitalsCurrent)
	}
	if caller.calls != 1 {
		t.Errorf("caller invoked %d times, want 1", caller.calls)
	}
}

func TestNormalizeAutoDetectWithoutCallerFails(t *testing.T) {
	_, err := testNormalizer(nil).Normalize(context.Background(), map[string]any{"mystery": true})
	var ife *InputFormatError
	if !errors.As(err, &ife) {
		t.Fatalf("error = %v, want InputFormatError", err)
	}
}
