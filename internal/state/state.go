// Package state owns the canonical battle state for each watched session and the
// merge discipline that turns partial UI extractions into a monotonically
// improving picture of the match.
package state

// Combatant is one team member as read from the trainer sidebar.
type Combatant struct {
	Species string  `json:"species"`
	HP      int     `json:"hp"`
	Status  *string `json:"status,omitempty"`
}

// Roster is the full team listing for both sides. The UI renders team icons once,
// early in a match, so a non-empty roster is adopted exactly once per session.
type Roster struct {
	Player   []Combatant `json:"player"`
	Opponent []Combatant `json:"opponent"`
}

// Empty reports whether the roster carries no combatants at all.
func (r *Roster) Empty() bool {
	return r == nil || (len(r.Player) == 0 && len(r.Opponent) == 0)
}

func (r *Roster) clone() *Roster {
	if r == nil {
		return nil
	}
	out := &Roster{
		Player:   append([]Combatant(nil), r.Player...),
		Opponent: append([]Combatant(nil), r.Opponent...),
	}
	return out
}

// Snapshot is one extraction pass's raw, possibly-partial reading of the UI.
// Nil map values mean "the UI did not show a value for this name right now" and
// are distinct from zero values; they never overwrite known state.
type Snapshot struct {
	ActiveName string             `json:"active_name,omitempty"`
	Moves      []string           `json:"moves,omitempty"`
	Roster     *Roster            `json:"roster,omitempty"`
	HP         map[string]*int    `json:"hp,omitempty"`
	Status     map[string]*string `json:"status,omitempty"`
	// Anomalous marks a self-contradictory page state (active combatant, zero
	// moves, no forced-switch marker). Logged upstream, never reported.
	Anomalous bool `json:"anomalous,omitempty"`
}

// Empty reports whether the pass saw neither an active combatant nor any moves.
// Transition frames between turns look like this and must not trigger decisions.
func (s Snapshot) Empty() bool {
	return s.ActiveName == "" && len(s.Moves) == 0
}

// CanonicalState is the accumulated, merged state for one session. HP and Status
// hold every name ever seen; a nil value means the name was observed but no
// reading has arrived yet.
type CanonicalState struct {
	ActiveName string             `json:"active_name,omitempty"`
	Moves      []string           `json:"moves,omitempty"`
	Roster     *Roster            `json:"roster,omitempty"`
	HP         map[string]*int    `json:"hp"`
	Status     map[string]*string `json:"status"`
}

func newCanonicalState() *CanonicalState {
	return &CanonicalState{
		HP:     make(map[string]*int),
		Status: make(map[string]*string),
	}
}

// Clone returns a deep copy so callers never alias store internals.
func (c *CanonicalState) Clone() CanonicalState {
	out := CanonicalState{
		ActiveName: c.ActiveName,
		Moves:      append([]string(nil), c.Moves...),
		Roster:     c.Roster.clone(),
		HP:         make(map[string]*int, len(c.HP)),
		Status:     make(map[string]*string, len(c.Status)),
	}
	for name, v := range c.HP {
		out.HP[name] = copyInt(v)
	}
	for name, v := range c.Status {
		out.Status[name] = copyString(v)
	}
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
