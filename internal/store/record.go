package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Record is one table row stored with its run.
type Record struct {
	FileName  string    `json:"file_name"`
	ClassNo   int       `json:"class_no"`
	ClassName string    `json:"class_name"`
	Landmarks []float64 `json:"landmarks"`
}

// RecordRepository provides operations on the records of a run.
type RecordRepository struct {
	db *sql.DB
}

// Records returns the record repository for this store.
func (s *Store) Records() *RecordRepository {
	return &RecordRepository{db: s.db}
}

// Add inserts records for a run in a single transaction, keeping their order.
func (r *RecordRepository) Add(runID string, records []Record) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var offset int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM run_records WHERE run_id = ?`, runID).Scan(&offset); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO run_records (run_id, seq, file_name, class_no, class_name, landmarks) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		data, err := json.Marshal(rec.Landmarks)
		if err != nil {
			return fmt.Errorf("encode landmarks for %s: %w", rec.FileName, err)
		}
		if _, err := stmt.Exec(runID, offset+i, rec.FileName, rec.ClassNo, rec.ClassName, string(data)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListByRun retrieves the records of a run in table order.
func (r *RecordRepository) ListByRun(runID string) ([]Record, error) {
	rows, err := r.db.Query(
		`SELECT file_name, class_no, class_name, landmarks FROM run_records WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var data string
		if err := rows.Scan(&rec.FileName, &rec.ClassNo, &rec.ClassName, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &rec.Landmarks); err != nil {
			return nil, fmt.Errorf("decode landmarks for %s: %w", rec.FileName, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// CountByRun returns the number of records stored for a run.
func (r *RecordRepository) CountByRun(runID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM run_records WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
