package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore implements the Remote interface against the cloud task
// table. The table itself is owned by the remote service; this client
// only consumes its documented shape:
//
//	tasks(id uuid default, user_id, date, text, done, created_at, updated_at)
//
// Change notifications are emitted by the service on the task_changes
// channel and consumed separately (see internal/realtime).
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to the remote task table and verifies the
// connection with a short ping.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InsertTasks inserts a batch of rows in one transaction, so a migration
// batch either lands completely or not at all. Row ids are assigned by
// the table's default; any id on the input rows is ignored. A zero
// CreatedAt defaults to now.
func (s *PostgresStore) InsertTasks(ctx context.Context, rows []TaskRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO tasks (user_id, date, text, done, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		updatedAt := r.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}

		if _, err := stmt.ExecContext(ctx,
			r.UserID, r.Date, r.Text, r.Done,
			createdAt.UTC(), updatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("inserting task for %s: %w", r.Date, err)
		}
	}

	return tx.Commit()
}

// UpdateTask applies a patch to the row with the given id. Nil patch
// fields are left untouched; updated_at is always refreshed.
func (s *PostgresStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	sets := []string{}
	args := []interface{}{}
	n := 1

	if patch.Text != nil {
		sets = append(sets, fmt.Sprintf("text = $%d", n))
		args = append(args, *patch.Text)
		n++
	}
	if patch.Done != nil {
		sets = append(sets, fmt.Sprintf("done = $%d", n))
		args = append(args, *patch.Done)
		n++
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", n))
	args = append(args, time.Now().UTC())
	n++
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE tasks SET %s WHERE id = $%d",
		strings.Join(sets, ", "), n,
	)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	return nil
}

// DeleteTask removes the row with the given id. Deleting a row that no
// longer exists is not an error.
func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE id = $1", id,
	); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}

// TasksInRange returns the user's rows within the inclusive day-key
// bounds, ordered by creation time ascending.
func (s *PostgresStore) TasksInRange(ctx context.Context, userID, from, to string) ([]TaskRow, error) {
	var rows []TaskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, date, text, done, created_at, updated_at
		FROM tasks
		WHERE user_id = $1 AND date >= $2 AND date <= $3
		ORDER BY created_at ASC`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tasks in [%s, %s]: %w", from, to, err)
	}
	return rows, nil
}
