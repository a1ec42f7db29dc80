package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Leavesfly/TinyClaw-sub001/internal/scheduler"
)

// CronStore implements scheduler.Store on the cron_jobs table. The
// scheduler persists the whole job set on every change, so Save replaces
// the table contents in one transaction, mirroring the file store's
// whole-document rewrite.
type CronStore struct {
	db *sql.DB
}

func NewCronStore(db *sql.DB) *CronStore {
	return &CronStore{db: db}
}

// Load reads every job row.
func (c *CronStore) Load() ([]*scheduler.CronJob, error) {
	rows, err := c.db.Query(`SELECT data FROM cron_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load cron jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*scheduler.CronJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		var job scheduler.CronJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("parse cron job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// Save replaces the stored job set.
func (c *CronStore) Save(jobs []*scheduler.CronJob) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cron_jobs`); err != nil {
		return fmt.Errorf("clear cron jobs: %w", err)
	}

	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", job.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO cron_jobs (id, data, created_at) VALUES ($1, $2, to_timestamp($3 / 1000.0))`,
			job.ID, data, job.CreatedAtMs,
		); err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}

	return tx.Commit()
}
