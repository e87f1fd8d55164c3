package store

import (
	"context"
	"time"

	"github.com/irislikesuall/Luna-Calendar-Todo/internal/model"
)

// Local is the anonymous-session persistence contract: the task mapping
// is read and written wholesale, exactly like the browser-local storage
// it replaces. Once the migration flag is set, loads return an empty
// mapping and saves become no-ops permanently.
type Local interface {
	// LoadTasks returns the persisted day-key → task-list mapping.
	LoadTasks(ctx context.Context) (model.TaskMap, error)

	// SaveTasks replaces the persisted mapping.
	SaveTasks(ctx context.Context, m model.TaskMap) error

	// ClearTasks removes the persisted mapping.
	ClearTasks(ctx context.Context) error

	// Migrated reports whether the local data has already been pushed
	// to the remote store.
	Migrated(ctx context.Context) (bool, error)

	// SetMigrated records that migration has completed. Set at most
	// once; there is no way to unset it.
	SetMigrated(ctx context.Context) error
}

// TaskRow is one row of the remote task table. The id is server-assigned
// on insert; rows sent to InsertTasks leave it empty.
type TaskRow struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Date      string    `json:"date" db:"date"`
	Text      string    `json:"text" db:"text"`
	Done      bool      `json:"done" db:"done"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TaskPatch is a partial update applied to a remote row by id. Nil
// fields are left untouched.
type TaskPatch struct {
	Text *string
	Done *bool
}

// Remote is the consumed contract of the cloud task table.
type Remote interface {
	// InsertTasks inserts a batch of rows atomically: either every row
	// lands or none do.
	InsertTasks(ctx context.Context, rows []TaskRow) error

	// UpdateTask applies a patch to the row with the given id.
	UpdateTask(ctx context.Context, id string, patch TaskPatch) error

	// DeleteTask removes the row with the given id.
	DeleteTask(ctx context.Context, id string) error

	// TasksInRange returns the user's rows with from <= date <= to
	// (day-key bounds, inclusive), ordered by creation time ascending.
	TasksInRange(ctx context.Context, userID, from, to string) ([]TaskRow, error)
}

// GroupRows regroups remote rows into the day-key mapping the UI reads.
// Rows are expected in created_at order, which becomes the per-day
// insertion order.
func GroupRows(rows []TaskRow) model.TaskMap {
	m := make(model.TaskMap)
	for _, r := range rows {
		m[r.Date] = append(m[r.Date], model.Task{
			ID:        r.ID,
			Text:      r.Text,
			Done:      r.Done,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return m
}
