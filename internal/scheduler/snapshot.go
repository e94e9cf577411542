package scheduler

import "time"

type TaskInfo struct {
	Account string    `json:"account"`
	At      time.Time `json:"at"`
}

type Snapshot struct {
	Running     bool       `json:"running"`
	Accounts    int        `json:"accounts"`
	Pending     int        `json:"pending"`
	Next        *TaskInfo  `json:"next,omitempty"`
	Tasks       []TaskInfo `json:"tasks"`
	LastRun     time.Time  `json:"last_run,omitzero"`
	LastSuccess time.Time  `json:"last_success,omitzero"`
	LastFailure time.Time  `json:"last_failure,omitzero"`
	LastError   string     `json:"last_error,omitempty"`

	// FailingSince is the first failure since the last success.
	FailingSince time.Time `json:"failing_since,omitzero"`
}

// Snapshot returns a copy of the scheduler state for diagnostics.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.queue.Tasks()
	snap := Snapshot{
		Running:     s.running,
		Accounts:    s.store.Len(),
		Pending:     len(tasks),
		Tasks:       make([]TaskInfo, 0, len(tasks)),
		LastRun:     s.lastRun,
		LastSuccess: s.lastSuccess,
		LastFailure: s.lastFailure,
		LastError:   s.lastErr,

		FailingSince: s.failingSince,
	}
	for _, t := range tasks {
		snap.Tasks = append(snap.Tasks, TaskInfo{Account: t.Account.Hex(), At: t.At})
	}
	if len(snap.Tasks) > 0 {
		next := snap.Tasks[0]
		snap.Next = &next
	}
	return snap
}
