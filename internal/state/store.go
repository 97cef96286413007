package state

import "sync"

// Store merges snapshots into per-session canonical state. Entries are created
// lazily on first merge and removed when the session ends. Merges are atomic per
// store, so concurrent extraction passes can never interleave a torn update.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*CanonicalState
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*CanonicalState)}
}

// Merge folds one snapshot into the session's canonical state and reports
// whether the result is worth a decision request.
//
// Rules:
//   - roster: adopted only while canonical roster is nil and the snapshot's is
//     non-empty (sticky thereafter).
//   - hp/status: per-name latest-non-nil overwrite; nil never erases a value,
//     but it does register the name.
//   - active name / moves: replaced wholesale; they describe "now", not history.
//   - reportable: active name present or at least one move, and the pass was
//     not flagged anomalous.
func (s *Store) Merge(sessionID string, snap Snapshot) (CanonicalState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.sessions[sessionID]
	if !ok {
		cs = newCanonicalState()
		s.sessions[sessionID] = cs
	}

	if cs.Roster == nil && !snap.Roster.Empty() {
		cs.Roster = snap.Roster.clone()
	}

	for name, hp := range snap.HP {
		if hp != nil {
			cs.HP[name] = copyInt(hp)
		} else if _, seen := cs.HP[name]; !seen {
			cs.HP[name] = nil
		}
	}
	for name, st := range snap.Status {
		if st != nil {
			cs.Status[name] = copyString(st)
		} else if _, seen := cs.Status[name]; !seen {
			cs.Status[name] = nil
		}
	}

	cs.ActiveName = snap.ActiveName
	cs.Moves = append([]string(nil), snap.Moves...)

	reportable := !snap.Anomalous && !snap.Empty()
	return cs.Clone(), reportable
}

// Get returns a copy of the session's canonical state when one exists.
func (s *Store) Get(sessionID string) (CanonicalState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		return CanonicalState{}, false
	}
	return cs.Clone(), true
}

// Remove discards a session's state; called on battle teardown.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Sessions lists the session IDs currently tracked.
func (s *Store) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
