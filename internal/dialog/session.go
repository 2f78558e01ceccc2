package dialog

import (
	"sync"

	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/timeout"
)

type State string

const (
	StateIdle           State = "idle"
	StateAwaitingFolder State = "awaiting_folder"
	StateAwaitingJob    State = "awaiting_job"
	StateAwaitingBranch State = "awaiting_branch"
	StateAwaitingTarget State = "awaiting_target"
	StateDone           State = "done"
)

// Session is the working state of one wizard run, keyed by its prompt message.
type Session struct {
	mu sync.Mutex

	Wizard    Wizard
	State     State
	OwnerID   int64
	ChatID    int64
	MessageID int

	Folder  string
	JobPath string
	Branch  string
	Target  string

	// Rev increments every time a step consumes an action; buttons carry it.
	Rev     int
	Options []string
	Folders []string
	Params  ci.ParameterSet

	client ci.Server

	busy       bool
	committing bool
	closed     bool
	registered bool
}

func (s *Session) key() timeout.Key {
	return timeout.Key{ChatID: s.ChatID, MessageID: s.MessageID}
}

// Snapshot is a lock-free copy of the observable session fields.
type Snapshot struct {
	Wizard  Wizard
	State   State
	OwnerID int64
	Folder  string
	JobPath string
	Branch  string
	Target  string
	Rev     int
	Options []string
	Busy    bool
	Closed  bool
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Wizard:  s.Wizard,
		State:   s.State,
		OwnerID: s.OwnerID,
		Folder:  s.Folder,
		JobPath: s.JobPath,
		Branch:  s.Branch,
		Target:  s.Target,
		Rev:     s.Rev,
		Options: append([]string(nil), s.Options...),
		Busy:    s.busy,
		Closed:  s.closed,
	}
}
