package collector

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/record"
)

// fakeStore returns canned rows and can be told to fail a single table.
type fakeStore struct {
	demo      Demographics
	admission AdmissionRow

	noPatient    bool
	noAdmissions bool
	failTable    string
}

var errStoreDown = errors.New("database is locked")

func (f *fakeStore) Demographics(_ context.Context, _ int64) (Demographics, error) {
	if f.failTable == "patients" {
		return Demographics{}, errStoreDown
	}
	if f.noPatient {
		return Demographics{}, sql.ErrNoRows
	}
	return f.demo, nil
}

func (f *fakeStore) LatestAdmission(_ context.Context, _ int64) (AdmissionRow, error) {
	if f.failTable == "admissions" {
		return AdmissionRow{}, errStoreDown
	}
	if f.noAdmissions {
		return AdmissionRow{}, sql.ErrNoRows
	}
	return f.admission, nil
}

func (f *fakeStore) LatestVitals(_ context.Context, _ int64) (map[string]record.Vital, error) {
	if f.failTable == "chartevents" {
		return nil, errStoreDown
	}
	return map[string]record.Vital{
		"heart_rate": {Value: "112", Unit: "bpm", ObservedAt: "2164-10-23 21:00:00"},
	}, nil
}

func (f *fakeStore) RecentLabs(_ context.Context, _ int64, _ int) ([]record.LabResult, error) {
	if f.failTable == "labevents" {
		return nil, errStoreDown
	}
	return []record.LabResult{{Code: "50912", Name: "Creatinine", Value: "2.1"}}, nil
}

func (f *fakeStore) Cultures(_ context.Context, _ int64) ([]record.CultureResult, error) {
	return []record.CultureResult{}, nil
}

func (f *fakeStore) Diagnoses(_ context.Context, _ int64) ([]record.ICDEntry, error) {
	return []record.ICDEntry{{Code: "42731", SeqNum: 1}}, nil
}

func (f *fakeStore) Procedures(_ context.Context, _ int64) ([]record.ICDEntry, error) {
	return []record.ICDEntry{}, nil
}

func (f *fakeStore) ConditionTitles(_ context.Context, _ int64, _ int) ([]string, error) {
	return []string{"Atrial fibrillation"}, nil
}

func (f *fakeStore) RecentPrescriptions(_ context.Context, _ int64, _ int) ([]record.Medication, error) {
	return []record.Medication{{Drug: "Warfarin"}}, nil
}

func (f *fakeStore) ICUStayCount(_ context.Context, _ int64) (int, error) {
	if f.failTable == "icustays" {
		return 0, errStoreDown
	}
	return 2, nil
}

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func happyStore() *fakeStore {
	return &fakeStore{
		demo: Demographics{Gender: "F", DOB: "2094-03-05 00:00:00"},
		admission: AdmissionRow{
			HadmID:    142345,
			AdmitTime: "2164-10-23 21:09:00",
			Type:      "EMERGENCY",
			Location:  "EMERGENCY ROOM ADMIT",
			Diagnosis: "SEPSIS",
		},
	}
}

func TestCollectRequiresExactlyOneSelector(t *testing.T) {
	c := New(happyStore(), quietLog())

	if _, err := c.Collect(context.Background(), 0, ""); !errors.Is(err, ErrSelectorRequired) {
		t.Errorf("no selector: err = %v, want ErrSelectorRequired", err)
	}
	if _, err := c.Collect(context.Background(), 10006, "some text"); !errors.Is(err, ErrSelectorRequired) {
		t.Errorf("both selectors: err = %v, want ErrSelectorRequired", err)
	}
}

func TestCollectFreeTextKeepsTextVerbatim(t *testing.T) {
	c := New(happyStore(), quietLog())
	text := "Patient 65 ans, douleur thoracique, TA: 160/95"

	rec, err := c.Collect(context.Background(), 0, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != record.FreeTextID {
		t.Errorf("id = %q, want %q", rec.ID, record.FreeTextID)
	}
	if rec.SourceType != record.SourceFreeText {
		t.Errorf("source = %q", rec.SourceType)
	}
	if rec.RawText != text {
		t.Errorf("raw text altered: %q", rec.RawText)
	}
	if len(rec.Labs) != 0 || len(rec.VitalsCurrent) != 0 {
		t.Error("free-text record must have empty structured fields")
	}
}

func TestCollectHospitalRecord(t *testing.T) {
	c := New(happyStore(), quietLog())

	rec, err := c.Collect(context.Background(), 10006, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.SourceType != record.SourceHospitalRecord {
		t.Fatalf("source = %q", rec.SourceType)
	}
	if rec.ID != "10006" {
		t.Errorf("id = %q", rec.ID)
	}
	if rec.Age == nil || *rec.Age != 70 {
		t.Errorf("age = %v, want 70", rec.Age)
	}
	if rec.Sex == nil || *rec.Sex != "female" {
		t.Errorf("sex = %v", rec.Sex)
	}
	if rec.Admission.ChiefComplaint != "SEPSIS" {
		t.Errorf("chief complaint = %q", rec.Admission.ChiefComplaint)
	}
	if rec.VitalsCurrent["heart_rate"].Value != "112" {
		t.Errorf("vitals = %+v", rec.VitalsCurrent)
	}
	if rec.MedicalHistory.ICUStays != 2 {
		t.Errorf("icu stays = %d", rec.MedicalHistory.ICUStays)
	}
	if len(rec.MedicalHistory.KnownConditions) != 1 {
		t.Errorf("conditions = %v", rec.MedicalHistory.KnownConditions)
	}
}

func TestCollectUnknownPatient(t *testing.T) {
	c := New(&fakeStore{noPatient: true}, quietLog())

	_, err := c.Collect(context.Background(), 99999, "")
	var nf *PatientNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want PatientNotFoundError", err)
	}
	if nf.SubjectID != 99999 {
		t.Errorf("subject id = %d", nf.SubjectID)
	}
}

func TestCollectNoAdmissionsIsNotFound(t *testing.T) {
	s := happyStore()
	s.noAdmissions = true

	_, err := New(s, quietLog()).Collect(context.Background(), 10006, "")
	var nf *PatientNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want PatientNotFoundError", err)
	}
}

func TestCollectStoreFailureDegradesToPlaceholder(t *testing.T) {
	for _, table := range []string{"patients", "admissions", "chartevents", "labevents", "icustays"} {
		s := happyStore()
		s.failTable = table

		rec, err := New(s, quietLog()).Collect(context.Background(), 10006, "")
		if err != nil {
			t.Fatalf("table %s: unexpected error %v", table, err)
		}
		if rec.SourceType != record.SourceDegraded {
			t.Errorf("table %s: source = %q, want degraded placeholder", table, rec.SourceType)
		}
		if !rec.Degraded() {
			t.Errorf("table %s: Degraded() = false", table)
		}
		if rec.ID != "10006" {
			t.Errorf("table %s: id = %q", table, rec.ID)
		}
	}
}
