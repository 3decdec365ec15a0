package collector

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/adnlabs/clinical-navigator/internal/record"
)

// Schema is the hospital-record subset the collector reads. Column names
// follow the MIMIC-III CSV distribution so that the import tool can load the
// files without renaming anything.
const Schema = `
CREATE TABLE IF NOT EXISTS patients (
	subject_id  INTEGER PRIMARY KEY,
	gender      TEXT NOT NULL DEFAULT '',
	dob         TEXT NOT NULL DEFAULT '',
	dod         TEXT,
	expire_flag INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS admissions (
	hadm_id              INTEGER PRIMARY KEY,
	subject_id           INTEGER NOT NULL,
	admittime            TEXT NOT NULL DEFAULT '',
	admission_type       TEXT NOT NULL DEFAULT '',
	admission_location   TEXT NOT NULL DEFAULT '',
	diagnosis            TEXT NOT NULL DEFAULT '',
	hospital_expire_flag INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_admissions_subject ON admissions (subject_id);

CREATE TABLE IF NOT EXISTS chartevents (
	subject_id INTEGER NOT NULL,
	hadm_id    INTEGER,
	itemid     INTEGER NOT NULL,
	charttime  TEXT NOT NULL DEFAULT '',
	valuenum   REAL,
	valueuom   TEXT
);
CREATE INDEX IF NOT EXISTS idx_chartevents_subject ON chartevents (subject_id, itemid);

CREATE TABLE IF NOT EXISTS labevents (
	subject_id INTEGER NOT NULL,
	hadm_id    INTEGER,
	itemid     INTEGER NOT NULL,
	charttime  TEXT NOT NULL DEFAULT '',
	value      TEXT,
	valuenum   REAL,
	valueuom   TEXT,
	flag       TEXT
);
CREATE INDEX IF NOT EXISTS idx_labevents_subject ON labevents (subject_id);

CREATE TABLE IF NOT EXISTS d_labitems (
	itemid INTEGER PRIMARY KEY,
	label  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS microbiologyevents (
	subject_id     INTEGER NOT NULL,
	hadm_id        INTEGER,
	charttime      TEXT,
	spec_type_desc TEXT,
	org_name       TEXT,
	ab_name        TEXT,
	interpretation TEXT
);
CREATE INDEX IF NOT EXISTS idx_micro_subject ON microbiologyevents (subject_id);

CREATE TABLE IF NOT EXISTS diagnoses_icd (
	subject_id INTEGER NOT NULL,
	hadm_id    INTEGER NOT NULL,
	seq_num    INTEGER NOT NULL,
	icd9_code  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_diagnoses_hadm ON diagnoses_icd (hadm_id);

CREATE TABLE IF NOT EXISTS d_icd_diagnoses (
	icd9_code   TEXT PRIMARY KEY,
	short_title TEXT NOT NULL DEFAULT '',
	long_title  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS procedures_icd (
	subject_id INTEGER NOT NULL,
	hadm_id    INTEGER NOT NULL,
	seq_num    INTEGER NOT NULL,
	icd9_code  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_procedures_hadm ON procedures_icd (hadm_id);

CREATE TABLE IF NOT EXISTS prescriptions (
	subject_id  INTEGER NOT NULL,
	hadm_id     INTEGER,
	startdate   TEXT,
	drug        TEXT NOT NULL DEFAULT '',
	dose_val_rx TEXT,
	route       TEXT
);
CREATE INDEX IF NOT EXISTS idx_prescriptions_subject ON prescriptions (subject_id);

CREATE TABLE IF NOT EXISTS icustays (
	icustay_id INTEGER PRIMARY KEY,
	subject_id INTEGER NOT NULL,
	hadm_id    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_icustays_subject ON icustays (subject_id);
`

// Chart itemids carrying the vital signs the pipeline cares about.
var vitalItems = map[int64]string{
	220045: "heart_rate",
	220179: "systolic_bp",
	220180: "diastolic_bp",
	220210: "respiratory_rate",
	223761: "temperature",
	220277: "spo2",
}

// Demographics is the patients table row for one subject.
type Demographics struct {
	Gender     string  `db:"gender"`
	DOB        string  `db:"dob"`
	DOD        *string `db:"dod"`
	ExpireFlag bool    `db:"expire_flag"`
}

// AdmissionRow is one admissions table row.
type AdmissionRow struct {
	HadmID             int64  `db:"hadm_id"`
	AdmitTime          string `db:"admittime"`
	Type               string `db:"admission_type"`
	Location           string `db:"admission_location"`
	Diagnosis          string `db:"diagnosis"`
	HospitalExpireFlag bool   `db:"hospital_expire_flag"`
}

// Store is the read surface the collector needs from the hospital record
// database.
type Store interface {
	Demographics(ctx context.Context, subjectID int64) (Demographics, error)
	LatestAdmission(ctx context.Context, subjectID int64) (AdmissionRow, error)
	LatestVitals(ctx context.Context, subjectID int64) (map[string]record.Vital, error)
	RecentLabs(ctx context.Context, subjectID int64, limit int) ([]record.LabResult, error)
	Cultures(ctx context.Context, subjectID int64) ([]record.CultureResult, error)
	Diagnoses(ctx context.Context, hadmID int64) ([]record.ICDEntry, error)
	Procedures(ctx context.Context, hadmID int64) ([]record.ICDEntry, error)
	ConditionTitles(ctx context.Context, hadmID int64, limit int) ([]string, error)
	RecentPrescriptions(ctx context.Context, subjectID int64, limit int) ([]record.Medication, error)
	ICUStayCount(ctx context.Context, subjectID int64) (int, error)
}

// SQLStore reads the hospital record subset from SQLite via sqlx.
type SQLStore struct {
	db *sqlx.DB
}

func OpenStore(path string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an already-open database. Used by tests and the import
// tool.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Demographics(ctx context.Context, subjectID int64) (Demographics, error) {
	var d Demographics
	err := s.db.GetContext(ctx, &d,
		"SELECT gender, dob, dod, expire_flag FROM patients WHERE subject_id = ?", subjectID)
	return d, err
}

func (s *SQLStore) LatestAdmission(ctx context.Context, subjectID int64) (AdmissionRow, error) {
	var a AdmissionRow
	err := s.db.GetContext(ctx, &a,
		`SELECT hadm_id, admittime, admission_type, admission_location, diagnosis, hospital_expire_flag
		FROM admissions WHERE subject_id = ?
		ORDER BY admittime DESC, hadm_id DESC LIMIT 1`, subjectID)
	return a, err
}

// LatestVitals returns the most recent charted value for each tracked vital
// sign. Rows come back in chart order so the last value per item wins.
func (s *SQLStore) LatestVitals(ctx context.Context, subjectID int64) (map[string]record.Vital, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT itemid, valuenum, valueuom, charttime FROM chartevents
		WHERE subject_id = ? AND valuenum IS NOT NULL
		AND itemid IN (220045, 220179, 220180, 220210, 223761, 220277)
		ORDER BY charttime ASC`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vitals := map[string]record.Vital{}
	for rows.Next() {
		var itemID int64
		var valueNum float64
		var unit sql.NullString
		var chartTime string
		if err := rows.Scan(&itemID, &valueNum, &unit, &chartTime); err != nil {
			return nil, err
		}
		name, ok := vitalItems[itemID]
		if !ok {
			continue
		}
		vitals[name] = record.Vital{
			Value:      strconv.FormatFloat(valueNum, 'f', -1, 64),
			Unit:       unit.String,
			ObservedAt: chartTime,
		}
	}
	return vitals, rows.Err()
}

// RecentLabs returns the newest limit lab rows in chronological order.
func (s *SQLStore) RecentLabs(ctx context.Context, subjectID int64, limit int) ([]record.LabResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.itemid, COALESCE(d.label, ''), l.charttime, l.value, l.valuenum, l.valueuom, l.flag
		FROM labevents l LEFT JOIN d_labitems d ON d.itemid = l.itemid
		WHERE l.subject_id = ?
		ORDER BY l.charttime DESC LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	labs := []record.LabResult{}
	for rows.Next() {
		var itemID int64
		var label, chartTime string
		var value sql.NullString
		var valueNum sql.NullFloat64
		var unit, flag sql.NullString
		if err := rows.Scan(&itemID, &label, &chartTime, &value, &valueNum, &unit, &flag); err != nil {
			return nil, err
		}
		lab := record.LabResult{
			Code:       strconv.FormatInt(itemID, 10),
			Name:       label,
			Value:      value.String,
			ObservedAt: chartTime,
		}
		if valueNum.Valid {
			lab.ValueNum = &valueNum.Float64
		}
		if unit.Valid {
			lab.Unit = &unit.String
		}
		if flag.Valid {
			lab.Flag = &flag.String
		}
		labs = append(labs, lab)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest-first from the query; callers want chronological.
	for i, j := 0, len(labs)-1; i < j; i, j = i+1, j-1 {
		labs[i], labs[j] = labs[j], labs[i]
	}
	return labs, nil
}

func (s *SQLStore) Cultures(ctx context.Context, subjectID int64) ([]record.CultureResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT charttime, spec_type_desc, org_name, ab_name, interpretation
		FROM microbiologyevents WHERE subject_id = ? ORDER BY charttime ASC`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cultures := []record.CultureResult{}
	for rows.Next() {
		var chartTime, specType sql.NullString
		var organism, antibiotic, interp sql.NullString
		if err := rows.Scan(&chartTime, &specType, &organism, &antibiotic, &interp); err != nil {
			return nil, err
		}
		c := record.CultureResult{
			SpecimenType: specType.String,
			Status:       "NEGATIVE",
			ObservedAt:   chartTime.String,
		}
		if organism.Valid && organism.String != "" {
			c.Organism = &organism.String
			c.Status = "POSITIVE"
		}
		if antibiotic.Valid {
			c.Antibiotic = &antibiotic.String
		}
		if interp.Valid {
			c.Interpretation = &interp.String
		}
		cultures = append(cultures, c)
	}
	return cultures, rows.Err()
}

func (s *SQLStore) Diagnoses(ctx context.Context, hadmID int64) ([]record.ICDEntry, error) {
	return s.icdEntries(ctx, "diagnoses_icd", hadmID)
}

func (s *SQLStore) Procedures(ctx context.Context, hadmID int64) ([]record.ICDEntry, error) {
	return s.icdEntries(ctx, "procedures_icd", hadmID)
}

func (s *SQLStore) icdEntries(ctx context.Context, table string, hadmID int64) ([]record.ICDEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT icd9_code, seq_num FROM %s WHERE hadm_id = ? ORDER BY seq_num ASC", table), hadmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []record.ICDEntry{}
	for rows.Next() {
		var e record.ICDEntry
		if err := rows.Scan(&e.Code, &e.SeqNum); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLStore) ConditionTitles(ctx context.Context, hadmID int64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.short_title FROM diagnoses_icd di
		JOIN d_icd_diagnoses d ON d.icd9_code = di.icd9_code
		WHERE di.hadm_id = ? ORDER BY di.seq_num ASC LIMIT ?`, hadmID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	titles := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (s *SQLStore) RecentPrescriptions(ctx context.Context, subjectID int64, limit int) ([]record.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT drug, dose_val_rx, route, startdate FROM prescriptions
		WHERE subject_id = ? ORDER BY startdate DESC LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meds := []record.Medication{}
	for rows.Next() {
		var m record.Medication
		var dose, route, start sql.NullString
		if err := rows.Scan(&m.Drug, &dose, &route, &start); err != nil {
			return nil, err
		}
		if dose.Valid {
			m.Dose = &dose.String
		}
		if route.Valid {
			m.Route = &route.String
		}
		if start.Valid {
			m.StartDate = &start.String
		}
		meds = append(meds, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(meds)-1; i < j; i, j = i+1, j-1 {
		meds[i], meds[j] = meds[j], meds[i]
	}
	return meds, nil
}

func (s *SQLStore) ICUStayCount(ctx context.Context, subjectID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM icustays WHERE subject_id = ?", subjectID)
	return n, err
}

var _ Store = (*SQLStore)(nil)
