package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recognition-orchestrator/internal/models"
)

var (
	// ErrNotFound is returned when no task matches the lookup key.
	ErrNotFound = errors.New("task not found")
	// ErrTransitionRejected is returned when a status update would leave a terminal state.
	ErrTransitionRejected = errors.New("status transition rejected")
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateTaskParams collects inputs required to insert a task.
type CreateTaskParams struct {
	UserID    string
	RequestID string
	BookName  string
	PageRange string
	Language  string
	Status    models.TaskStatus
}

// CreateTask inserts a task row and returns it with its surrogate id.
func (s *Store) CreateTask(ctx context.Context, p CreateTaskParams) (models.TaskRecord, error) {
	if p.UserID == "" {
		return models.TaskRecord{}, errors.New("user id is required")
	}
	if p.RequestID == "" {
		return models.TaskRecord{}, errors.New("request id is required")
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	if !p.Status.Valid() {
		return models.TaskRecord{}, fmt.Errorf("invalid status %q", p.Status)
	}

	rec := models.TaskRecord{
		ID:        uuid.New().String(),
		UserID:    p.UserID,
		RequestID: p.RequestID,
		BookName:  p.BookName,
		PageRange: p.PageRange,
		Language:  p.Language,
		Status:    p.Status,
		CreatedAt: s.now().UTC(),
	}
	rec.UpdatedAt = rec.CreatedAt

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, user_id, request_id, book_name, page_range, language, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, rec.ID, rec.UserID, rec.RequestID, rec.BookName, rec.PageRange, rec.Language, string(rec.Status), rec.CreatedAt)
	if err != nil {
		return models.TaskRecord{}, fmt.Errorf("insert task: %w", err)
	}
	return rec, nil
}

// UpdateStatus moves the task identified by requestID to status. Rows already
// in a terminal state are never touched; ErrTransitionRejected reports that
// nothing was updated.
func (s *Store) UpdateStatus(ctx context.Context, requestID string, status models.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, updated_at = NOW()
		WHERE request_id = $1 AND status NOT IN ($3, $4, $5)
	`, requestID, string(status), string(models.StatusCompleted), string(models.StatusError), string(models.StatusTimeout))
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: request %s to %s", ErrTransitionRejected, requestID, status)
	}
	return nil
}

const taskColumns = `id, user_id, request_id, book_name, page_range, language, status, created_at, updated_at`

func scanTask(row pgx.Row) (models.TaskRecord, error) {
	var rec models.TaskRecord
	var status string
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.RequestID, &rec.BookName, &rec.PageRange, &rec.Language, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return models.TaskRecord{}, err
	}
	rec.Status = models.TaskStatus(status)
	return rec, nil
}

// GetByRequestID fetches one task by its recognition handle.
func (s *Store) GetByRequestID(ctx context.Context, requestID string) (models.TaskRecord, error) {
	rec, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE request_id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TaskRecord{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return models.TaskRecord{}, fmt.Errorf("scan task: %w", err)
	}
	return rec, nil
}

// ListByUser returns every task of a user, most recent first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.TaskRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	out := []models.TaskRecord{}
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}
