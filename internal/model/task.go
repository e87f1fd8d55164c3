package model

import "time"

// Task is one unit of work attached to a single calendar day. The day
// itself is not stored on the task: it is the key of the TaskMap entry
// (locally) or the date column of the remote row.
type Task struct {
	// ID is the task's opaque identifier: randomly generated for
	// anonymous local tasks, server-assigned for remote rows.
	ID string `json:"id"`

	// Text is the task body. Always non-empty and trimmed after
	// creation; empty submissions are rejected before a Task exists.
	Text string `json:"text"`

	// Done marks completion. Flipped by toggle, nothing else.
	Done bool `json:"done"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is refreshed on every toggle.
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskMap is the day-key → ordered-task-list mapping shown by the UI.
// Order within a day is insertion order. A day key may map to an empty
// list transiently after all of its tasks are deleted.
type TaskMap map[string][]Task

// Clone returns a deep copy. Snapshots handed to callers are always
// clones so the synchronizer's own state cannot be mutated from outside.
func (m TaskMap) Clone() TaskMap {
	out := make(TaskMap, len(m))
	for key, tasks := range m {
		out[key] = append([]Task(nil), tasks...)
	}
	return out
}

// Count returns the total number of tasks across all days.
func (m TaskMap) Count() int {
	n := 0
	for _, tasks := range m {
		n += len(tasks)
	}
	return n
}
