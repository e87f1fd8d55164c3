// Package sync owns the day-key → task-list snapshot shown by the UI
// and mediates between the local persisted copy and the remote store
// depending on authentication state. Locally created tasks are pushed
// to the remote store exactly once, on the first authenticated session.
package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/irislikesuall/Luna-Calendar-Todo/internal/auth"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/model"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/realtime"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/store"
)

// opTimeout bounds operations triggered from callbacks rather than
// HTTP requests (auth-state changes, realtime notifications).
const opTimeout = 30 * time.Second

// AuthClient is the slice of the auth client the synchronizer consumes.
type AuthClient interface {
	CurrentUser(ctx context.Context) (*auth.User, error)
	OnAuthChange(fn func(*auth.User))
	SignOut(ctx context.Context) error
}

// ChangeListener is the slice of the realtime listener the synchronizer
// consumes.
type ChangeListener interface {
	Subscribe(userID string, fn func(realtime.Event)) error
	Close()
}

// Synchronizer holds the authoritative snapshot and routes mutations to
// the backend selected for the current session state.
type Synchronizer struct {
	local    store.Local
	remote   store.Remote
	authc    AuthClient
	listener ChangeListener
	logger   *log.Logger

	now   func() time.Time
	newID func() string

	mu       gosync.Mutex
	backend  backend
	snapshot model.TaskMap
	user     *auth.User
	anchor   time.Time
}

// New creates a synchronizer. remote, authc, and listener may all be nil
// for a local-only deployment; local must not be.
func New(local store.Local, remote store.Remote, authc AuthClient, listener ChangeListener, logger *log.Logger) *Synchronizer {
	return &Synchronizer{
		local:    local,
		remote:   remote,
		authc:    authc,
		listener: listener,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Initialize loads the starting snapshot for the given month anchor.
// With a persisted authenticated session it first runs the one-time
// local-to-cloud migration if still pending, then loads the month from
// the remote store and subscribes to its change stream; otherwise it
// loads the anonymous local mapping. A failed migration is logged and
// returned, but the session still comes up (the migration retries on a
// later login since the flag stays unset).
func (s *Synchronizer) Initialize(ctx context.Context, anchor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anchor = anchor
	s.backend = &localBackend{local: s.local, logger: s.logger, now: s.now, newID: s.newID}
	s.snapshot = model.TaskMap{}

	var user *auth.User
	if s.authc != nil && s.remote != nil {
		u, err := s.authc.CurrentUser(ctx)
		if err != nil {
			s.logger.Error("reading persisted session, continuing anonymous", "err", err)
		} else {
			user = u
		}
	}

	var initErr error
	if user != nil {
		initErr = s.establishUserLocked(ctx, user)
	} else {
		m, err := s.backend.Load(ctx, anchor)
		if err != nil {
			s.logger.Error("loading local tasks", "err", err)
		} else {
			s.snapshot = m
		}
	}

	if s.authc != nil {
		s.authc.OnAuthChange(s.handleAuthChange)
	}
	return initErr
}

// establishUserLocked switches the session to the given user: runs the
// pending migration if any, selects the remote backend, subscribes to
// the change stream, and loads the current month.
func (s *Synchronizer) establishUserLocked(ctx context.Context, user *auth.User) error {
	var migrationErr error
	migrated, err := s.local.Migrated(ctx)
	if err != nil {
		s.logger.Error("reading migration flag", "err", err)
	} else if !migrated {
		if migrationErr = s.migrateLocked(ctx, user); migrationErr != nil {
			// Local data and the unset flag survive for a retry on a
			// later login.
			s.logger.Error("migrating local tasks to cloud", "err", migrationErr)
		}
	}

	s.user = user
	s.backend = &remoteBackend{remote: s.remote, userID: user.ID, now: s.now}

	if s.listener != nil {
		if err := s.listener.Subscribe(user.ID, s.onRemoteChange); err != nil {
			s.logger.Error("subscribing to task changes", "err", err)
		}
	}

	m, err := s.backend.Load(ctx, s.anchor)
	if err != nil {
		s.logger.Error("loading month from remote store", "err", err)
	} else {
		s.snapshot = m
	}
	return migrationErr
}

// migrateLocked pushes every locally created task into the remote store
// as one atomic batch, carrying day key, text, done flag, and original
// creation time; local ids are dropped since the remote store assigns
// its own. With no local tasks only the flag is set.
func (s *Synchronizer) migrateLocked(ctx context.Context, user *auth.User) error {
	m, err := s.local.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("reading local tasks: %w", err)
	}

	total := m.Count()
	if total == 0 {
		if err := s.local.SetMigrated(ctx); err != nil {
			return fmt.Errorf("setting migration flag: %w", err)
		}
		return nil
	}

	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]store.TaskRow, 0, total)
	for _, key := range keys {
		for _, t := range m[key] {
			rows = append(rows, store.TaskRow{
				UserID:    user.ID,
				Date:      key,
				Text:      t.Text,
				Done:      t.Done,
				CreatedAt: t.CreatedAt,
				UpdatedAt: t.UpdatedAt,
			})
		}
	}

	if err := s.remote.InsertTasks(ctx, rows); err != nil {
		return fmt.Errorf("migrating %d local tasks: %w", total, err)
	}

	if err := s.local.SetMigrated(ctx); err != nil {
		s.logger.Error("setting migration flag after successful migration", "err", err)
	}
	if err := s.local.ClearTasks(ctx); err != nil {
		s.logger.Error("clearing migrated local tasks", "err", err)
	}

	// Cleared pending the remote load that follows.
	s.snapshot = model.TaskMap{}
	s.logger.Info("migrated local tasks to cloud", "count", total, "user", user.ID)
	return nil
}

// handleAuthChange reacts to sign-in and sign-out events from the auth
// client. This is the single place the storage backend is swapped.
func (s *Synchronizer) handleAuthChange(u *auth.User) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if u == nil {
		s.signedOutLocked()
		return
	}
	if s.remote == nil {
		s.logger.Error("signed in but no remote store configured, staying local")
		return
	}
	if s.user != nil && s.user.ID == u.ID {
		return
	}
	if err := s.establishUserLocked(ctx, u); err != nil {
		s.logger.Error("establishing authenticated session", "err", err)
	}
}

// signedOutLocked clears the authenticated state. The anonymous local
// copy is not resurrected: once migrated it is inert, and the empty
// snapshot is what a signed-out UI shows.
func (s *Synchronizer) signedOutLocked() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.user = nil
	s.backend = &localBackend{local: s.local, logger: s.logger, now: s.now, newID: s.newID}
	s.snapshot = model.TaskMap{}
}

// onRemoteChange is invoked by the realtime subscription for every
// change to the user's tasks; it triggers an unconditional month reload
// rather than patching the snapshot incrementally.
func (s *Synchronizer) onRemoteChange(ev realtime.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("remote task change", "op", ev.Op, "date", ev.Date)

	m, err := s.backend.Load(ctx, s.anchor)
	if err != nil {
		s.logger.Error("reloading month after remote change", "err", err)
		return
	}
	s.snapshot = m
}

// AddTask adds a task to one day. Empty or whitespace-only text is a
// silent no-op.
func (s *Synchronizer) AddTask(ctx context.Context, dayKey, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.backend.Add(ctx, s.snapshot, s.anchor, dayKey, text)
	if err != nil {
		s.logger.Error("adding task", "day", dayKey, "err", err)
		return err
	}
	s.snapshot = next
	return nil
}

// AddTaskToDates adds one task per given day key, all with the same
// text. Empty text or an empty day-key set is a silent no-op.
func (s *Synchronizer) AddTaskToDates(ctx context.Context, dayKeys []string, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || len(dayKeys) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.backend.AddToDates(ctx, s.snapshot, s.anchor, dayKeys, text)
	if err != nil {
		s.logger.Error("adding task to dates", "days", len(dayKeys), "err", err)
		return err
	}
	s.snapshot = next
	return nil
}

// ToggleTask flips the done flag of the identified task. A no-op if the
// id is not present under the day key.
func (s *Synchronizer) ToggleTask(ctx context.Context, dayKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.backend.Toggle(ctx, s.snapshot, s.anchor, dayKey, id)
	if err != nil {
		s.logger.Error("toggling task", "day", dayKey, "id", id, "err", err)
		return err
	}
	s.snapshot = next
	return nil
}

// DeleteTask removes the identified task. A no-op if the id is not
// present under the day key.
func (s *Synchronizer) DeleteTask(ctx context.Context, dayKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.backend.Delete(ctx, s.snapshot, s.anchor, dayKey, id)
	if err != nil {
		s.logger.Error("deleting task", "day", dayKey, "id", id, "err", err)
		return err
	}
	s.snapshot = next
	return nil
}

// ReloadMonth switches the displayed month and re-derives the snapshot
// for it. On failure the previous snapshot is kept.
func (s *Synchronizer) ReloadMonth(ctx context.Context, anchor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.backend.Load(ctx, anchor)
	if err != nil {
		s.logger.Error("reloading month", "anchor", anchor.Format("2006-01"), "err", err)
		return err
	}
	s.anchor = anchor
	s.snapshot = m
	return nil
}

// SignOut ends the authenticated session. The snapshot clears via the
// auth-change callback.
func (s *Synchronizer) SignOut(ctx context.Context) error {
	if s.authc == nil {
		return nil
	}
	return s.authc.SignOut(ctx)
}

// Snapshot returns a copy of the current day-key → task-list mapping.
func (s *Synchronizer) Snapshot() model.TaskMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone()
}

// User returns the authenticated user, or nil for anonymous sessions.
func (s *Synchronizer) User() *auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Anchor returns the currently displayed month anchor.
func (s *Synchronizer) Anchor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}
