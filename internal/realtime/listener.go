// Package realtime consumes the remote task table's change-notification
// stream. The remote service emits a NOTIFY on the task_changes channel
// for every insert, update, or delete; this listener filters the stream
// down to one user and hands matching events to a callback.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lib/pq"
)

// channelName is the notification channel the remote service publishes on.
const channelName = "task_changes"

// pingInterval bounds how long a silent connection goes unchecked.
const pingInterval = 90 * time.Second

// Event is one change notification from the remote task table.
type Event struct {
	// UserID is the owner of the changed row.
	UserID string `json:"user_id"`

	// Op is "insert", "update", or "delete".
	Op string `json:"op"`

	// ID is the changed row's id.
	ID string `json:"id"`

	// Date is the changed row's day key.
	Date string `json:"date"`
}

// Listener subscribes to task change notifications for a single user.
type Listener struct {
	dsn    string
	logger *log.Logger

	mu     sync.Mutex
	pql    *pq.Listener
	stopCh chan struct{}
}

// NewListener creates a listener against the given Postgres DSN. No
// connection is opened until Subscribe.
func NewListener(dsn string, logger *log.Logger) *Listener {
	return &Listener{
		dsn:    dsn,
		logger: logger,
	}
}

// Subscribe opens the notification connection and invokes fn for every
// event belonging to userID until Close. Events for other users are
// dropped silently. Only one subscription is active at a time; a second
// Subscribe replaces the first.
func (l *Listener) Subscribe(userID string, fn func(Event)) error {
	l.closeCurrent()

	pql := pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Error("notification connection event", "event", ev, "err", err)
		}
	})
	if err := pql.Listen(channelName); err != nil {
		pql.Close()
		return err
	}

	stopCh := make(chan struct{})

	l.mu.Lock()
	l.pql = pql
	l.stopCh = stopCh
	l.mu.Unlock()

	go l.run(pql, stopCh, userID, fn)
	return nil
}

// Close tears down the active subscription, if any.
func (l *Listener) Close() {
	l.closeCurrent()
}

func (l *Listener) closeCurrent() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopCh != nil {
		close(l.stopCh)
		l.stopCh = nil
	}
	if l.pql != nil {
		if err := l.pql.Close(); err != nil {
			l.logger.Error("closing notification connection", "err", err)
		}
		l.pql = nil
	}
}

// run receives notifications until the subscription is closed.
func (l *Listener) run(pql *pq.Listener, stopCh chan struct{}, userID string, fn func(Event)) {
	for {
		select {
		case <-stopCh:
			return
		case n, ok := <-pql.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnect marker; the next reload will resync state.
				continue
			}

			var ev Event
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				l.logger.Error("parsing change notification", "err", err, "payload", n.Extra)
				continue
			}
			if ev.UserID != userID {
				continue
			}
			fn(ev)
		case <-time.After(pingInterval):
			if err := pql.Ping(); err != nil {
				l.logger.Error("pinging notification connection", "err", err)
			}
		}
	}
}
