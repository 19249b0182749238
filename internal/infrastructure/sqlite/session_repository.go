package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/repoloop/internal/session"
)

// ErrSessionNotFound is returned when no stored session matches.
var ErrSessionNotFound = errors.New("stored session not found")

const sessionColumns = `id, status, model, goal, reference_material, prompt_override, name_prefix,
	iterations, current_iteration, started_at, ended_at, updated_at`

const recordColumns = `id, session_id, iteration_number, repo_name, content, technique, reasoning,
	theme, repo_url, status, error, created_at`

// summaryQuery aggregates record counts per session for listings.
const summaryQuery = `SELECT s.id, s.status, s.goal, s.model, s.name_prefix, s.iterations,
	s.started_at, s.ended_at,
	COALESCE(SUM(CASE WHEN r.status = 'created' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN r.status = 'error' THEN 1 ELSE 0 END), 0)
	FROM sessions s
	LEFT JOIN records r ON r.session_id = s.id
	GROUP BY s.id
	ORDER BY s.started_at DESC
	LIMIT ?`

// SessionRepository stores session snapshots. It satisfies session.Store.
type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ session.Store = (*SessionRepository)(nil)

func newSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

// SaveSession upserts the session row and replaces its records in one
// transaction.
func (r *SessionRepository) SaveSession(ctx context.Context, s *session.Session) error {
	model, records := toSessionModel(s, r.now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			model = excluded.model,
			goal = excluded.goal,
			reference_material = excluded.reference_material,
			prompt_override = excluded.prompt_override,
			name_prefix = excluded.name_prefix,
			iterations = excluded.iterations,
			current_iteration = excluded.current_iteration,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at`,
		model.ID, model.Status, model.Model, model.Goal, model.ReferenceMaterial, model.PromptOverride,
		model.NamePrefix, model.Iterations, model.CurrentIteration, model.StartedAt, model.EndedAt, model.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", model.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE session_id = ?`, model.ID); err != nil {
		return fmt.Errorf("clear records for %s: %w", model.ID, err)
	}

	for _, rec := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SessionID, rec.IterationNumber, rec.RepoName, rec.Content, rec.Technique,
			rec.Reasoning, rec.Theme, rec.RepoURL, rec.Status, rec.Error, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert record %d for %s: %w", rec.IterationNumber, model.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// GetSession loads the session with id and its records.
func (r *SessionRepository) GetSession(ctx context.Context, id session.ID) (*session.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id.String())
	return r.load(ctx, row, string(id))
}

// LatestSession loads the most recently started session.
func (r *SessionRepository) LatestSession(ctx context.Context) (*session.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT 1`)
	return r.load(ctx, row, "latest")
}

func (r *SessionRepository) load(ctx context.Context, row *sql.Row, label string) (*session.Session, error) {
	model, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, label)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session %s: %w", label, err)
	}

	records, err := r.records(ctx, model.ID)
	if err != nil {
		return nil, err
	}
	return toSession(model, records), nil
}

func (r *SessionRepository) records(ctx context.Context, sessionID string) ([]recordModel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE session_id = ? ORDER BY iteration_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query records for %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []recordModel
	for rows.Next() {
		var m recordModel
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.IterationNumber, &m.RepoName, &m.Content, &m.Technique,
			&m.Reasoning, &m.Theme, &m.RepoURL, &m.Status, &m.Error, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListSessions returns up to limit summaries, newest first. A limit <= 0
// returns every session.
func (r *SessionRepository) ListSessions(ctx context.Context, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, summaryQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []session.Summary{}
	for rows.Next() {
		var (
			sum     session.Summary
			id      string
			status  string
			started int64
			ended   *int64
		)
		if err := rows.Scan(&id, &status, &sum.Goal, &sum.Model, &sum.NamePrefix, &sum.Iterations,
			&started, &ended, &sum.Created, &sum.Errors); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.ID = session.ID(id)
		sum.Status = session.Status(status)
		sum.StartTime = time.UnixMilli(started)
		sum.EndTime = millisToTime(ended)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and, by cascade, its records.
func (r *SessionRepository) DeleteSession(ctx context.Context, id session.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func scanSession(scanner interface{ Scan(...any) error }) (*sessionModel, error) {
	var m sessionModel
	err := scanner.Scan(
		&m.ID, &m.Status, &m.Model, &m.Goal, &m.ReferenceMaterial, &m.PromptOverride, &m.NamePrefix,
		&m.Iterations, &m.CurrentIteration, &m.StartedAt, &m.EndedAt, &m.UpdatedAt,
	)
	return &m, err
}
