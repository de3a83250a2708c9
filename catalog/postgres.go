package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// EnsureSchema applies the embedded schema. Statements are idempotent.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schemaSQL)
	return err
}

func (r *PostgresRepo) CreateLocation(ctx context.Context, loc *Location) error {
	query := `
		INSERT INTO locations (name, min_lon, min_lat, max_lon, max_lat, longitude, latitude, from_date, to_date, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	return r.pool.QueryRow(ctx, query,
		loc.Name, loc.MinLon, loc.MinLat, loc.MaxLon, loc.MaxLat,
		loc.Longitude, loc.Latitude, loc.FromDate, loc.ToDate, loc.Active,
	).Scan(&loc.ID, &loc.CreatedAt)
}

const locationColumns = `id, name, min_lon, min_lat, max_lon, max_lat, longitude, latitude, from_date, to_date, active, created_at`

func scanLocation(row pgx.Row) (*Location, error) {
	var loc Location
	err := row.Scan(
		&loc.ID, &loc.Name, &loc.MinLon, &loc.MinLat, &loc.MaxLon, &loc.MaxLat,
		&loc.Longitude, &loc.Latitude, &loc.FromDate, &loc.ToDate, &loc.Active, &loc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &loc, nil
}

func (r *PostgresRepo) GetLocation(ctx context.Context, id int64) (*Location, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id)
	return scanLocation(row)
}

func (r *PostgresRepo) ListLocations(ctx context.Context, activeOnly bool) ([]*Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

func (r *PostgresRepo) ListLocationsByIDs(ctx context.Context, ids []int64) ([]*Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLocations(rows)
}

func collectLocations(rows pgx.Rows) ([]*Location, error) {
	var out []*Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateLocation(ctx context.Context, loc *Location) error {
	query := `
		UPDATE locations
		SET name = $1, min_lon = $2, min_lat = $3, max_lon = $4, max_lat = $5,
		    longitude = $6, latitude = $7, from_date = $8, to_date = $9, active = $10
		WHERE id = $11
	`
	result, err := r.pool.Exec(ctx, query,
		loc.Name, loc.MinLon, loc.MinLat, loc.MaxLon, loc.MaxLat,
		loc.Longitude, loc.Latitude, loc.FromDate, loc.ToDate, loc.Active, loc.ID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrLocationNotFound
	}
	return nil
}

func (r *PostgresRepo) DeleteLocation(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrLocationNotFound
	}
	return nil
}

const captureColumns = `id, main_id, secondary_id, mission_id, sensing_time, north_lat, south_lat, west_lon, east_lon,
	cloud_cover, radiometric_measure, atmospheric_level, mgrs_tile, wrs_path, wrs_row, data_type, base_url,
	backed_up, backup_date, backup_location, created_at`

func scanCapture(row pgx.Row) (*Capture, error) {
	var c Capture
	err := row.Scan(
		&c.ID, &c.MainID, &c.SecondaryID, &c.MissionID, &c.SensingTime,
		&c.NorthLat, &c.SouthLat, &c.WestLon, &c.EastLon,
		&c.CloudCover, &c.Measure, &c.AtmosphericLevel,
		&c.MGRSTile, &c.WRSPath, &c.WRSRow, &c.DataType, &c.BaseURL,
		&c.BackedUp, &c.BackupDate, &c.BackupLocation, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCaptureNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepo) CreateCapture(ctx context.Context, c *Capture) error {
	query := `
		INSERT INTO captures (main_id, secondary_id, mission_id, sensing_time, north_lat, south_lat, west_lon, east_lon,
			cloud_cover, radiometric_measure, atmospheric_level, mgrs_tile, wrs_path, wrs_row, data_type, base_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		c.MainID, c.SecondaryID, c.MissionID, c.SensingTime,
		c.NorthLat, c.SouthLat, c.WestLon, c.EastLon,
		c.CloudCover, c.Measure, c.AtmosphericLevel,
		c.MGRSTile, c.WRSPath, c.WRSRow, c.DataType, c.BaseURL,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateCapture
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) GetCapture(ctx context.Context, id int64) (*Capture, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = $1`, id)
	return scanCapture(row)
}

func (r *PostgresRepo) FindCapture(ctx context.Context, mainID, missionID string) (*Capture, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+captureColumns+` FROM captures WHERE main_id = $1 AND mission_id = $2`, mainID, missionID)
	return scanCapture(row)
}

func (r *PostgresRepo) ListCaptures(ctx context.Context, f CaptureFilter) ([]*Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures`
	var conds []string
	var args []any

	if len(f.IDs) > 0 {
		args = append(args, f.IDs)
		conds = append(conds, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if f.BackedUp != nil {
		args = append(args, *f.BackedUp)
		conds = append(conds, fmt.Sprintf("backed_up = $%d", len(args)))
	}
	if len(f.MissionLike) > 0 {
		var likes []string
		for _, m := range f.MissionLike {
			args = append(args, "%"+m+"%")
			likes = append(likes, fmt.Sprintf("mission_id LIKE $%d", len(args)))
		}
		conds = append(conds, "("+strings.Join(likes, " OR ")+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if f.NewestFirst {
		query += " ORDER BY sensing_time DESC"
	} else {
		query += " ORDER BY id"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkBackedUp(ctx context.Context, id int64, location string, at time.Time) error {
	query := `UPDATE captures SET backed_up = TRUE, backup_date = $1, backup_location = $2 WHERE id = $3`
	result, err := r.pool.Exec(ctx, query, at, location, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCaptureNotFound
	}
	return nil
}

const taskColumns = `id, task_id, task_name, capture_id, status, created_at, started_at, completed_at, duration, result, error, retries, worker_id`

func scanTask(row pgx.Row) (*TaskExecution, error) {
	var t TaskExecution
	err := row.Scan(
		&t.ID, &t.TaskID, &t.TaskName, &t.CaptureID, &t.Status,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt,
		&t.Duration, &t.Result, &t.Error, &t.Retries, &t.WorkerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *PostgresRepo) GetTaskExecution(ctx context.Context, taskID string) (*TaskExecution, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM task_executions WHERE task_id = $1`, taskID)
	return scanTask(row)
}

func (r *PostgresRepo) ListTaskExecutions(ctx context.Context, f TaskFilter) ([]*TaskExecution, error) {
	query := `SELECT ` + taskColumns + ` FROM task_executions`
	var conds []string
	var args []any
	if f.CaptureID != nil {
		args = append(args, *f.CaptureID)
		conds = append(conds, fmt.Sprintf("capture_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskExecution
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) RecordTaskStarted(ctx context.Context, taskID, taskName string, captureID *int64, workerID string, at time.Time) error {
	query := `
		INSERT INTO task_executions (task_id, task_name, capture_id, status, started_at, worker_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE
		SET status = $4, started_at = $5, worker_id = $6, retries = task_executions.retries + 1
	`
	_, err := r.pool.Exec(ctx, query, taskID, taskName, captureID, StatusStarted, at, workerID)
	return err
}

func (r *PostgresRepo) RecordTaskOutcome(ctx context.Context, taskID string, status TaskStatus, result, errText string, duration time.Duration, at time.Time) error {
	query := `
		UPDATE task_executions
		SET status = $1, completed_at = $2, duration = $3, result = $4, error = $5
		WHERE task_id = $6
	`
	res, err := r.pool.Exec(ctx, query,
		status, at, duration.Seconds(),
		Truncate(result, MaxResultLen), Truncate(errText, MaxErrorLen), taskID,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepo) RecordTaskRetry(ctx context.Context, taskID, reason string) error {
	query := `UPDATE task_executions SET status = $1, error = $2 WHERE task_id = $3`
	res, err := r.pool.Exec(ctx, query, StatusRetry, Truncate(reason, MaxErrorLen), taskID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepo) CreateJob(ctx context.Context, job *ProcessingJob) error {
	query := `
		INSERT INTO processing_jobs (id, job_type, capture_id, status, total_tasks, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	return r.pool.QueryRow(ctx, query,
		job.ID, job.JobType, job.CaptureID, job.Status, job.TotalTasks, job.Metadata,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

const jobColumns = `id, job_type, capture_id, status, total_tasks, completed_tasks, failed_tasks, metadata, created_at, updated_at`

func scanJob(row pgx.Row) (*ProcessingJob, error) {
	var j ProcessingJob
	err := row.Scan(
		&j.ID, &j.JobType, &j.CaptureID, &j.Status,
		&j.TotalTasks, &j.CompletedTasks, &j.FailedTasks,
		&j.Metadata, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *PostgresRepo) GetJob(ctx context.Context, id string) (*ProcessingJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *PostgresRepo) UpdateJobStatus(ctx context.Context, id string, status JobStatus) error {
	res, err := r.pool.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepo) AddJobTasks(ctx context.Context, id string, n int) error {
	res, err := r.pool.Exec(ctx,
		`UPDATE processing_jobs SET total_tasks = total_tasks + $1, updated_at = NOW() WHERE id = $2`, n, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepo) AddJobProgress(ctx context.Context, id string, completed, failed int) (*ProcessingJob, error) {
	query := `
		UPDATE processing_jobs
		SET completed_tasks = completed_tasks + $1, failed_tasks = failed_tasks + $2, updated_at = NOW()
		WHERE id = $3
		RETURNING ` + jobColumns
	return scanJob(r.pool.QueryRow(ctx, query, completed, failed, id))
}
