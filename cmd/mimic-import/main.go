package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/adnlabs/clinical-navigator/internal/collector"
)

// importOrder lists the tables in foreign-key-friendly order; the CSV file
// names follow the MIMIC-III distribution (PATIENTS.csv etc.).
var importOrder = []string{
	"patients",
	"admissions",
	"d_labitems",
	"d_icd_diagnoses",
	"chartevents",
	"labevents",
	"microbiologyevents",
	"diagnoses_icd",
	"procedures_icd",
	"prescriptions",
	"icustays",
}

// tableColumns restricts the import to the columns the collector schema
// carries; extra CSV columns (ROW_ID and the rest) are ignored.
var tableColumns = map[string][]string{
	"patients":           {"subject_id", "gender", "dob", "dod", "expire_flag"},
	"admissions":         {"hadm_id", "subject_id", "admittime", "admission_type", "admission_location", "diagnosis", "hospital_expire_flag"},
	"chartevents":        {"subject_id", "hadm_id", "itemid", "charttime", "valuenum", "valueuom"},
	"labevents":          {"subject_id", "hadm_id", "itemid", "charttime", "value", "valuenum", "valueuom", "flag"},
	"d_labitems":         {"itemid", "label"},
	"microbiologyevents": {"subject_id", "hadm_id", "charttime", "spec_type_desc", "org_name", "ab_name", "interpretation"},
	"diagnoses_icd":      {"subject_id", "hadm_id", "seq_num", "icd9_code"},
	"d_icd_diagnoses":    {"icd9_code", "short_title", "long_title"},
	"procedures_icd":     {"subject_id", "hadm_id", "seq_num", "icd9_code"},
	"prescriptions":      {"subject_id", "hadm_id", "startdate", "drug", "dose_val_rx", "route"},
	"icustays":           {"icustay_id", "subject_id", "hadm_id"},
}

var numericColumns = map[string]bool{
	"subject_id":           true,
	"hadm_id":              true,
	"itemid":               true,
	"seq_num":              true,
	"icustay_id":           true,
	"expire_flag":          true,
	"hospital_expire_flag": true,
	"valuenum":             true,
}

// Columns where an empty CSV cell means NULL rather than empty string.
var nullableText = map[string]bool{
	"dod":            true,
	"value":          true,
	"valueuom":       true,
	"flag":           true,
	"spec_type_desc": true,
	"org_name":       true,
	"ab_name":        true,
	"interpretation": true,
	"startdate":      true,
	"dose_val_rx":    true,
	"route":          true,
}

func main() {
	dbPath := flag.String("db", "data/hospital.db", "path to the SQLite hospital store")
	dir := flag.String("dir", ".", "directory containing the MIMIC-III CSV files")
	flag.Parse()

	logger := logrus.New()

	db, err := sqlx.Open("sqlite", *dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		logger.WithError(err).Fatalf("opening %s", *dbPath)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(collector.Schema); err != nil {
		logger.WithError(err).Fatal("creating schema")
	}

	for _, table := range importOrder {
		path := findCSV(*dir, table)
		if path == "" {
			logger.Warnf("no csv for %s, skipping", table)
			continue
		}
		n, err := importCSV(db, table, path)
		if err != nil {
			logger.WithError(err).Fatalf("importing %s", path)
		}
		logger.Infof("imported %d rows into %s", n, table)
	}
}

func findCSV(dir, table string) string {
	for _, name := range []string{strings.ToUpper(table) + ".csv", table + ".csv"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func importCSV(db *sqlx.DB, table, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	wanted := map[string]bool{}
	for _, c := range tableColumns[table] {
		wanted[c] = true
	}
	cols := []string{}
	idx := []int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if wanted[name] {
			cols = append(cols, name)
			idx = append(idx, i)
		}
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("no known columns in header %v", header)
	}

	insert := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(insert)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("row %d: %w", n+1, err)
		}
		args := make([]any, len(cols))
		for j, i := range idx {
			args[j] = cellValue(cols[j], rec[i])
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("row %d: %w", n+1, err)
		}
		n++
	}
	return n, tx.Commit()
}

func cellValue(col, raw string) any {
	v := strings.TrimSpace(raw)
	if numericColumns[col] {
		if v == "" {
			return nil
		}
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		return v
	}
	if v == "" && nullableText[col] {
		return nil
	}
	return v
}
