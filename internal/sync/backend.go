package sync

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/irislikesuall/Luna-Calendar-Todo/internal/calendar"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/model"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/store"
)

// backend is the storage strategy for the current session state: local
// for anonymous sessions, remote for authenticated ones. The
// synchronizer selects a backend once per auth-state change instead of
// re-branching inside every operation.
//
// Mutating methods take the current mapping and return the mapping the
// snapshot should become. On error they return cur unchanged, so a
// failed call never leaks a half-applied state into the snapshot.
type backend interface {
	// Load produces a fresh mapping for the given month anchor.
	Load(ctx context.Context, anchor time.Time) (model.TaskMap, error)

	Add(ctx context.Context, cur model.TaskMap, anchor time.Time, dayKey, text string) (model.TaskMap, error)
	AddToDates(ctx context.Context, cur model.TaskMap, anchor time.Time, dayKeys []string, text string) (model.TaskMap, error)
	Toggle(ctx context.Context, cur model.TaskMap, anchor time.Time, dayKey, id string) (model.TaskMap, error)
	Delete(ctx context.Context, cur model.TaskMap, anchor time.Time, dayKey, id string) (model.TaskMap, error)
}

// localBackend serves anonymous sessions from the persisted local
// mapping. Mutations apply in memory first and are persisted wholesale;
// persistence failures are logged and swallowed so the session keeps
// working, at the cost of losing unsaved changes on restart.
type localBackend struct {
	local  store.Local
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

// Load returns the whole persisted mapping. The local store is not
// month-scoped, so the anchor is irrelevant here.
func (b *localBackend) Load(ctx context.Context, _ time.Time) (model.TaskMap, error) {
	return b.local.LoadTasks(ctx)
}

func (b *localBackend) Add(ctx context.Context, cur model.TaskMap, _ time.Time, dayKey, text string) (model.TaskMap, error) {
	now := b.now()
	next := cur.Clone()
	next[dayKey] = append(next[dayKey], model.Task{
		ID:        b.newID(),
		Text:      text,
		Done:      false,
		CreatedAt: now,
		UpdatedAt: now,
	})
	b.persist(ctx, next)
	return next, nil
}

func (b *localBackend) AddToDates(ctx context.Context, cur model.TaskMap, _ time.Time, dayKeys []string, text string) (model.TaskMap, error) {
	// Every day gets its own task with a fresh id; text and timestamps
	// are shared across the batch.
	now := b.now()
	next := cur.Clone()
	for _, key := range dayKeys {
		next[key] = append(next[key], model.Task{
			ID:        b.newID(),
			Text:      text,
			Done:      false,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	b.persist(ctx, next)
	return next, nil
}

func (b *localBackend) Toggle(ctx context.Context, cur model.TaskMap, _ time.Time, dayKey, id string) (model.TaskMap, error) {
	next := cur.Clone()
	found := false
	for i := range next[dayKey] {
		if next[dayKey][i].ID == id {
			next[dayKey][i].Done = !next[dayKey][i].Done
			next[dayKey][i].UpdatedAt = b.now()
			found = true
			break
		}
	}
	if !found {
		return cur, nil
	}
	b.persist(ctx, next)
	return next, nil
}

func (b *localBackend) Delete(ctx context.Context, cur model.TaskMap, _ time.Time, dayKey, id string) (model.TaskMap, error) {
	tasks := cur[dayKey]
	kept := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(tasks) {
		return cur, nil
	}
	next := cur.Clone()
	next[dayKey] = kept
	b.persist(ctx, next)
	return next, nil
}

func (b *localBackend) persist(ctx context.Context, m model.TaskMap) {
	if err := b.local.SaveTasks(ctx, m); err != nil {
		b.logger.Error("persisting local tasks", "err", err)
	}
}

// remoteBackend serves authenticated sessions. Mutations go to the
// remote store and are never patched into the mapping directly: every
// successful mutation is followed by a month reload, so the UI only
// ever shows server-confirmed state.
type remoteBackend struct {
	remote store.Remote
	userID string
	now    func() time.Time
}

func (b *remoteBackend) Load(ctx context.Context, anchor time.Time) (model.TaskMap, error) {
	first, last := calendar.MonthBounds(anchor)
	rows, err := b.remote.TasksInRange(ctx, b.userID, calendar.DayKey(first), calendar.DayKey(last))
	if err != nil {
		return nil, err
	}
	return store.GroupRows(rows), nil
}

func (b *remoteBackend) Add(ctx context.Context, cur model.TaskMap, anchor time.Time, dayKey, text string) (model.TaskMap, error) {
	now := b.now()
	err := b.remote.InsertTasks(ctx, []store.TaskRow{{
		UserID:    b.userID,
		Date:      dayKey,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}})
	if err != nil {
		return cur, err
	}
	return b.reload(ctx, cur, anchor)
}

func (b *remoteBackend) AddToDates(ctx context.Context, cur model.TaskMap, anchor time.Time, dayKeys []string, text string) (model.TaskMap, error) {
	now := b.now()
	rows := make([]store.TaskRow, 0, len(dayKeys))
	for _, key := range dayKeys {
		rows = append(rows, store.TaskRow{
			UserID:    b.userID,
			Date:      key,
			Text:      text,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := b.remote.InsertTasks(ctx, rows); err != nil {
		return cur, err
	}
	return b.reload(ctx, cur, anchor)
}

func (b *remoteBackend) Toggle(ctx context.Context, cur model.TaskMap, anchor time.Time, dayKey, id string) (model.TaskMap, error) {
	var target *model.Task
	for i := range cur[dayKey] {
		if cur[dayKey][i].ID == id {
			target = &cur[dayKey][i]
			break
		}
	}
	if target == nil {
		return cur, nil
	}

	done := !target.Done
	if err := b.remote.UpdateTask(ctx, id, store.TaskPatch{Done: &done}); err != nil {
		return cur, err
	}
	return b.reload(ctx, cur, anchor)
}

func (b *remoteBackend) Delete(ctx context.Context, cur model.TaskMap, anchor time.Time, dayKey, id string) (model.TaskMap, error) {
	found := false
	for _, t := range cur[dayKey] {
		if t.ID == id {
			found = true
			break
		}
	}
	if !found {
		return cur, nil
	}

	if err := b.remote.DeleteTask(ctx, id); err != nil {
		return cur, err
	}
	return b.reload(ctx, cur, anchor)
}

// reload re-derives the month mapping after a successful mutation. If
// the reload itself fails the previous mapping is kept; the realtime
// stream or the next user action will resync.
func (b *remoteBackend) reload(ctx context.Context, cur model.TaskMap, anchor time.Time) (model.TaskMap, error) {
	m, err := b.Load(ctx, anchor)
	if err != nil {
		return cur, err
	}
	return m, nil
}
