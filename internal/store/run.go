package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle state of a build run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one dataset build recorded in the catalog.
type Run struct {
	ID                 string     `json:"id"`
	ImagesDir          string     `json:"images_dir"`
	OutputCSV          string     `json:"output_csv"`
	DetectionThreshold float64    `json:"detection_threshold"`
	PerClassLimit      int        `json:"per_class_limit"`
	Status             RunStatus  `json:"status"`
	Rows               int        `json:"rows"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Classes            []Class    `json:"classes,omitempty"`
}

// Class holds the per-class counts of a run.
type Class struct {
	ClassNo int    `json:"class_no"`
	Name    string `json:"name"`
	Images  int    `json:"images"`
	Valid   int    `json:"valid"`
	Skipped int    `json:"skipped"`
}

// Message is one skip or annotation diagnostic of a run.
type Message struct {
	Reason string `json:"reason"`
	Path   string `json:"path"`
	Text   string `json:"message"`
}

// Outcome is what a finished build reports back to the catalog.
type Outcome struct {
	Rows     int
	Err      error
	Classes  []Class
	Messages []Message
}

// RunRepository provides operations on build runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new running build. An empty ID is replaced with a new UUID.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = RunRunning
	run.StartedAt = time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO runs (id, images_dir, output_csv, detection_threshold, per_class_limit, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ImagesDir, run.OutputCSV, run.DetectionThreshold, run.PerClassLimit,
		string(run.Status), run.StartedAt,
	)
	return err
}

// Finish stores the outcome of a run in a single transaction. A non-nil
// Outcome.Err marks the run failed.
func (r *RunRepository) Finish(id string, out Outcome) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	status, errText := RunSucceeded, ""
	if out.Err != nil {
		status, errText = RunFailed, out.Err.Error()
	}

	result, err := tx.Exec(
		`UPDATE runs SET status = ?, row_count = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), out.Rows, errText, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	classStmt, err := tx.Prepare(
		`INSERT INTO run_classes (run_id, class_no, name, images, valid, skipped) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer classStmt.Close()
	for _, c := range out.Classes {
		if _, err := classStmt.Exec(id, c.ClassNo, c.Name, c.Images, c.Valid, c.Skipped); err != nil {
			return err
		}
	}

	msgStmt, err := tx.Prepare(
		`INSERT INTO run_messages (run_id, seq, reason, path, message) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer msgStmt.Close()
	for i, m := range out.Messages {
		if _, err := msgStmt.Exec(id, i, m.Reason, m.Path, m.Text); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByID retrieves a run with its class summaries.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(
		`SELECT id, images_dir, output_csv, detection_threshold, per_class_limit, status, row_count, error, started_at, finished_at
		 FROM runs WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(
		`SELECT class_no, name, images, valid, skipped FROM run_classes WHERE run_id = ? ORDER BY class_no`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ClassNo, &c.Name, &c.Images, &c.Valid, &c.Skipped); err != nil {
			return nil, err
		}
		run.Classes = append(run.Classes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return run, nil
}

// List retrieves all runs, newest first. Class summaries are not loaded.
func (r *RunRepository) List() ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, images_dir, output_csv, detection_threshold, per_class_limit, status, row_count, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Messages returns the diagnostics of a run in the order they were reported.
func (r *RunRepository) Messages(id string) ([]Message, error) {
	rows, err := r.db.Query(
		`SELECT reason, path, message FROM run_messages WHERE run_id = ? ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Reason, &m.Path, &m.Text); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Delete removes a run and everything recorded for it.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var status string
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.ImagesDir, &run.OutputCSV, &run.DetectionThreshold, &run.PerClassLimit,
		&status, &run.Rows, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}
