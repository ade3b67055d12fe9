package domain

import "context"

// State is the full persisted contract state. Calls load it, mutate a clone,
// and commit the clone as a whole.
type State struct {
	Config   Config           `json:"config"`
	Registry AgentRegistry    `json:"registry"`
	Ledger   Ledger           `json:"ledger"`
	Agents   map[string]Agent `json:"agents"`
}

// Clone returns a deep copy used as a call's draft.
func (s *State) Clone() *State {
	out := &State{
		Config:   s.Config.Clone(),
		Registry: s.Registry.Clone(),
		Ledger:   s.Ledger.Clone(),
		Agents:   make(map[string]Agent, len(s.Agents)),
	}
	for id, a := range s.Agents {
		out.Agents[id] = a.Clone()
	}
	return out
}

// TaskChange adds or removes one entry of the task index as part of a commit.
type TaskChange struct {
	Hash   string
	Owner  string
	Remove bool
}

// StateStore persists the contract state cells.
type StateStore interface {
	// Load returns the committed state or ErrGenesisMissing.
	Load(ctx context.Context) (*State, error)
	// Commit durably replaces the committed state and applies the task
	// changes in a single atomic write.
	Commit(ctx context.Context, s *State, tasks ...TaskChange) error
}

// TaskIndex is the boundary to the task registry. Task identity, hashing
// and interval math live behind it.
type TaskIndex interface {
	Total(ctx context.Context) (uint64, error)
	HasTask(ctx context.Context, hash string) (bool, error)
}
