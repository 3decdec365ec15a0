package collector

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adnlabs/clinical-navigator/internal/record"
)

const (
	labHistoryLimit       = 20
	prescriptionLimit     = 10
	conditionTitleLimit   = 5
	freeTextComplaintStub = "See raw text"
)

// Collector assembles a canonical PatientRecord from either the hospital
// record store or a free-text dossier.
type Collector struct {
	store Store
	log   *logrus.Entry
}

func New(store Store, log *logrus.Entry) *Collector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Collector{store: store, log: log}
}

// Collect requires exactly one selector: a positive subjectID or a non-empty
// freeText. The free-text path is purely structural and never touches the
// store. The subject path reads the latest admission; a subject with no
// admissions is a caller error, while store failures degrade to a
// deterministic placeholder record.
func (c *Collector) Collect(ctx context.Context, subjectID int64, freeText string) (record.PatientRecord, error) {
	hasSubject := subjectID > 0
	hasText := freeText != ""
	if hasSubject == hasText {
		return record.PatientRecord{}, ErrSelectorRequired
	}
	if hasText {
		return freeTextRecord(freeText), nil
	}
	return c.collectFromStore(ctx, subjectID)
}

func freeTextRecord(text string) record.PatientRecord {
	return record.PatientRecord{
		ID:         record.FreeTextID,
		SourceType: record.SourceFreeText,
		RawText:    text,
		Admission: &record.Admission{
			Type:           "FREE_TEXT",
			ChiefComplaint: freeTextComplaintStub,
		},
		VitalsCurrent:      map[string]record.Vital{},
		Labs:               []record.LabResult{},
		Cultures:           []record.CultureResult{},
		DiagnosesICD:       []record.ICDEntry{},
		ProceduresICD:      []record.ICDEntry{},
		MedicationsCurrent: []record.Medication{},
	}
}

func (c *Collector) collectFromStore(ctx context.Context, subjectID int64) (record.PatientRecord, error) {
	demo, err := c.store.Demographics(ctx, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return record.PatientRecord{}, &PatientNotFoundError{SubjectID: subjectID}
	}
	if err != nil {
		return c.placeholder(subjectID, "demographics", err), nil
	}

	adm, err := c.store.LatestAdmission(ctx, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return record.PatientRecord{}, &PatientNotFoundError{SubjectID: subjectID}
	}
	if err != nil {
		return c.placeholder(subjectID, "admissions", err), nil
	}

	vitals, err := c.store.LatestVitals(ctx, subjectID)
	if err != nil {
		return c.placeholder(subjectID, "chartevents", err), nil
	}
	labs, err := c.store.RecentLabs(ctx, subjectID, labHistoryLimit)
	if err != nil {
		return c.placeholder(subjectID, "labevents", err), nil
	}
	cultures, err := c.store.Cultures(ctx, subjectID)
	if err != nil {
		return c.placeholder(subjectID, "microbiologyevents", err), nil
	}
	diagnoses, err := c.store.Diagnoses(ctx, adm.HadmID)
	if err != nil {
		return c.placeholder(subjectID, "diagnoses_icd", err), nil
	}
	procedures, err := c.store.Procedures(ctx, adm.HadmID)
	if err != nil {
		return c.placeholder(subjectID, "procedures_icd", err), nil
	}
	conditions, err := c.store.ConditionTitles(ctx, adm.HadmID, conditionTitleLimit)
	if err != nil {
		return c.placeholder(subjectID, "d_icd_diagnoses", err), nil
	}
	meds, err := c.store.RecentPrescriptions(ctx, subjectID, prescriptionLimit)
	if err != nil {
		return c.placeholder(subjectID, "prescriptions", err), nil
	}
	icuStays, err := c.store.ICUStayCount(ctx, subjectID)
	if err != nil {
		return c.placeholder(subjectID, "icustays", err), nil
	}

	admitDate := adm.AdmitTime
	rec := record.PatientRecord{
		ID:         strconv.FormatInt(subjectID, 10),
		SourceType: record.SourceHospitalRecord,
		Age:        ageAtAdmission(demo.DOB, adm.AdmitTime),
		Sex:        sexLabel(demo.Gender),
		Admission: &record.Admission{
			Type:           adm.Type,
			ChiefComplaint: adm.Diagnosis,
			Date:           &admitDate,
			Location:       adm.Location,
		},
		VitalsCurrent:      vitals,
		Labs:               labs,
		Cultures:           cultures,
		DiagnosesICD:       diagnoses,
		ProceduresICD:      procedures,
		MedicationsCurrent: meds,
		MedicalHistory: record.MedicalHistory{
			KnownConditions: conditions,
			ICUStays:        icuStays,
		},
		DeathInfo: &record.DeathInfo{
			Expired:        demo.ExpireFlag,
			DateOfDeath:    demo.DOD,
			HospitalExpire: adm.HospitalExpireFlag,
		},
	}
	return rec, nil
}

// placeholder is the degraded fallback: an explicit code path, not error
// recovery by panic. The record is deterministic so downstream stages see the
// same shape regardless of which table failed.
func (c *Collector) placeholder(subjectID int64, table string, err error) record.PatientRecord {
	c.log.WithFields(logrus.Fields{
		"subject_id": subjectID,
		"table":      table,
	}).WithError(err).Warn("hospital record store failed, returning degraded placeholder")

	return record.PatientRecord{
		ID:         strconv.FormatInt(subjectID, 10),
		SourceType: record.SourceDegraded,
		Admission: &record.Admission{
			Type:           "UNKNOWN",
			ChiefComplaint: "Record unavailable",
		},
		VitalsCurrent:      map[string]record.Vital{},
		Labs:               []record.LabResult{},
		Cultures:           []record.CultureResult{},
		DiagnosesICD:       []record.ICDEntry{},
		ProceduresICD:      []record.ICDEntry{},
		MedicationsCurrent: []record.Medication{},
	}
}

func ageAtAdmission(dob, admit string) *int {
	d, ok := parseStoreTime(dob)
	if !ok {
		return nil
	}
	a, ok := parseStoreTime(admit)
	if !ok {
		return nil
	}
	years := int(a.Sub(d).Hours() / 24 / 365)
	if years < 0 {
		years = 0
	}
	return &years
}

func parseStoreTime(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func sexLabel(gender string) *string {
	var label string
	switch gender {
	case "M":
		label = "male"
	case "F":
		label = "female"
	default:
		return nil
	}
	return &label
}
