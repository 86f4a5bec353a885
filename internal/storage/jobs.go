package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// AcquireJob atomically claims the single job slot for a new job. If no
// non-terminal row exists it inserts (or, for a retried artifact path,
// resets) the row at 0% and returns (true, nil). Otherwise it returns
// (false, active) without writing. The check-and-insert runs inside one
// transaction so concurrent acquirers cannot both succeed; the partial
// unique index on non-terminal rows backstops the same invariant.
func (s *Store) AcquireJob(job JobStatus) (bool, *JobStatus, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, nil, fmt.Errorf("beginning acquire transaction: %w", err)
	}
	defer tx.Rollback()

	active, err := scanJob(tx.QueryRow(activeJobQuery))
	if err == nil {
		return false, active, nil
	}
	if err != sql.ErrNoRows {
		return false, nil, fmt.Errorf("checking active job: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO job_status (artifact_path, id, progress, started_at, transcription_done, extracting_insights, fully_done, error)
		VALUES (?, ?, 0, ?, 0, 0, 0, NULL)
		ON CONFLICT(artifact_path) DO UPDATE SET
			id = excluded.id,
			progress = 0,
			started_at = excluded.started_at,
			transcription_done = 0,
			extracting_insights = 0,
			fully_done = 0,
			error = NULL`,
		job.ArtifactPath, job.ID, job.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, nil, fmt.Errorf("inserting job %s: %w", job.ArtifactPath, err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("committing acquire: %w", err)
	}
	return true, nil, nil
}

const activeJobQuery = `
	SELECT artifact_path, id, progress, started_at, transcription_done, extracting_insights, fully_done, error
	FROM job_status
	WHERE fully_done = 0 AND error IS NULL
	ORDER BY started_at DESC
	LIMIT 1`

// ActiveJob returns the current non-terminal job row, or ErrNotFound.
func (s *Store) ActiveJob() (*JobStatus, error) {
	job, err := scanJob(s.db.QueryRow(activeJobQuery))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns the job row for an artifact path, terminal or not.
func (s *Store) GetJob(artifactPath string) (*JobStatus, error) {
	job, err := scanJob(s.db.QueryRow(`
		SELECT artifact_path, id, progress, started_at, transcription_done, extracting_insights, fully_done, error
		FROM job_status WHERE artifact_path = ?`, artifactPath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobProgress records transcription progress. It is a no-op once the
// transcription stage has been marked done, so stray late reports cannot
// move a finished bar.
func (s *Store) UpdateJobProgress(artifactPath string, percent float64) error {
	_, err := s.db.Exec(`
		UPDATE job_status SET progress = ?
		WHERE artifact_path = ? AND transcription_done = 0`,
		percent, artifactPath)
	return err
}

// MarkTranscriptionDone finishes stage one.
func (s *Store) MarkTranscriptionDone(artifactPath string) error {
	return s.execJobUpdate(artifactPath,
		`UPDATE job_status SET transcription_done = 1 WHERE artifact_path = ?`)
}

// SetExtractingInsights toggles the insight-extraction flag.
func (s *Store) SetExtractingInsights(artifactPath string, on bool) error {
	flag := 0
	if on {
		flag = 1
	}
	_, err := s.db.Exec(`UPDATE job_status SET extracting_insights = ? WHERE artifact_path = ?`,
		flag, artifactPath)
	return err
}

// CompleteJob marks the job fully done on pipeline success, freeing the slot.
func (s *Store) CompleteJob(artifactPath string) error {
	return s.execJobUpdate(artifactPath, `
		UPDATE job_status
		SET transcription_done = 1, extracting_insights = 0, fully_done = 1
		WHERE artifact_path = ?`)
}

// FailJob records a failure and forces the row terminal regardless of
// stage, freeing the slot immediately.
func (s *Store) FailJob(artifactPath, message string) error {
	_, err := s.db.Exec(`
		UPDATE job_status
		SET error = ?, extracting_insights = 0, fully_done = 1
		WHERE artifact_path = ?`,
		message, artifactPath)
	return err
}

func (s *Store) execJobUpdate(artifactPath, query string) error {
	res, err := s.db.Exec(query, artifactPath)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row rowScanner) (*JobStatus, error) {
	var j JobStatus
	var startedAt string
	var errMsg sql.NullString
	var transcriptionDone, extracting, fullyDone int
	if err := row.Scan(&j.ArtifactPath, &j.ID, &j.Progress, &startedAt, &transcriptionDone, &extracting, &fullyDone, &errMsg); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at for job %s: %w", j.ArtifactPath, err)
	}
	j.StartedAt = t
	j.TranscriptionDone = transcriptionDone != 0
	j.ExtractingInsights = extracting != 0
	j.FullyDone = fullyDone != 0
	j.Error = errMsg.String
	return &j, nil
}
