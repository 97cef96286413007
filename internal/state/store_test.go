package state

import "testing"

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestMergeAdoptsRosterOnce(t *testing.T) {
	store := NewStore()

	// First frame renders only the lobby chrome: empty roster, nothing active.
	cs, reportable := store.Merge("b1", Snapshot{
		HP:     map[string]*int{},
		Status: map[string]*string{},
	})
	if reportable {
		t.Error("empty snapshot must not be reportable")
	}
	if cs.Roster != nil {
		t.Error("empty roster must not be adopted")
	}

	// Team preview renders the roster.
	roster := &Roster{
		Player:   []Combatant{{Species: "Pikachu", HP: 100}, {Species: "Garchomp", HP: 100}},
		Opponent: []Combatant{{Species: "Zapdos", HP: 100}},
	}
	cs, _ = store.Merge("b1", Snapshot{Roster: roster, HP: map[string]*int{}, Status: map[string]*string{}})
	if cs.Roster == nil || len(cs.Roster.Player) != 2 {
		t.Fatal("roster should be adopted from first non-empty render")
	}

	// Later frames render a different (partial) roster; canonical keeps the original.
	cs, _ = store.Merge("b1", Snapshot{
		Roster: &Roster{Player: []Combatant{{Species: "Pikachu", HP: 40}}},
		HP:     map[string]*int{},
		Status: map[string]*string{},
	})
	if len(cs.Roster.Player) != 2 {
		t.Errorf("roster must be sticky, got %d player entries", len(cs.Roster.Player))
	}
	if cs.Roster.Player[0].HP != 100 {
		t.Errorf("adopted roster must not be overwritten, got HP %d", cs.Roster.Player[0].HP)
	}
}

func TestMergeReadingsAreMonotonicPerName(t *testing.T) {
	store := NewStore()

	cs, _ := store.Merge("b1", Snapshot{
		ActiveName: "Pikachu",
		Moves:      []string{"Thunderbolt"},
		HP:         map[string]*int{"Pikachu": intPtr(78)},
		Status:     map[string]*string{"Pikachu": strPtr("par")},
	})
	if cs.HP["Pikachu"] == nil || *cs.HP["Pikachu"] != 78 {
		t.Fatalf("expected HP 78, got %v", cs.HP["Pikachu"])
	}

	// Bars briefly unreadable: nil readings register names but never erase values.
	cs, _ = store.Merge("b1", Snapshot{
		ActiveName: "Pikachu",
		Moves:      []string{"Thunderbolt"},
		HP:         map[string]*int{"Pikachu": nil, "Zapdos": nil},
		Status:     map[string]*string{"Pikachu": nil},
	})
	if cs.HP["Pikachu"] == nil || *cs.HP["Pikachu"] != 78 {
		t.Errorf("nil reading must not erase known HP, got %v", cs.HP["Pikachu"])
	}
	if cs.Status["Pikachu"] == nil || *cs.Status["Pikachu"] != "par" {
		t.Errorf("nil reading must not erase known status, got %v", cs.Status["Pikachu"])
	}
	if _, seen := cs.HP["Zapdos"]; !seen {
		t.Error("nil reading should still register the name")
	}
	if cs.HP["Zapdos"] != nil {
		t.Error("never-read name must map to nil")
	}

	// Fresh non-nil readings win.
	cs, _ = store.Merge("b1", Snapshot{
		ActiveName: "Pikachu",
		Moves:      []string{"Thunderbolt"},
		HP:         map[string]*int{"Pikachu": intPtr(34)},
		Status:     map[string]*string{},
	})
	if *cs.HP["Pikachu"] != 34 {
		t.Errorf("fresh reading should overwrite, got %d", *cs.HP["Pikachu"])
	}
}

func TestMergeReplacesActiveAndMovesWholesale(t *testing.T) {
	store := NewStore()

	store.Merge("b1", Snapshot{
		ActiveName: "Pikachu",
		Moves:      []string{"Thunderbolt", "Quick Attack"},
		HP:         map[string]*int{},
		Status:     map[string]*string{},
	})
	cs, _ := store.Merge("b1", Snapshot{
		ActiveName: "Garchomp",
		Moves:      []string{"Earthquake"},
		HP:         map[string]*int{},
		Status:     map[string]*string{},
	})
	if cs.ActiveName != "Garchomp" {
		t.Errorf("active name should be replaced, got %q", cs.ActiveName)
	}
	if len(cs.Moves) != 1 || cs.Moves[0] != "Earthquake" {
		t.Errorf("moves should be replaced wholesale, got %v", cs.Moves)
	}
}

func TestMergeReportability(t *testing.T) {
	store := NewStore()

	cases := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{"active only", Snapshot{ActiveName: "Pikachu", HP: map[string]*int{}, Status: map[string]*string{}}, true},
		{"moves only", Snapshot{Moves: []string{"Tackle"}, HP: map[string]*int{}, Status: map[string]*string{}}, true},
		{"neither", Snapshot{HP: map[string]*int{"X": intPtr(50)}, Status: map[string]*string{}}, false},
		{"anomalous", Snapshot{ActiveName: "Pikachu", Anomalous: true, HP: map[string]*int{}, Status: map[string]*string{}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, reportable := store.Merge("b-"+tc.name, tc.snap)
			if reportable != tc.want {
				t.Errorf("reportable = %v, want %v", reportable, tc.want)
			}
		})
	}
}

func TestMergeReturnsIsolatedClone(t *testing.T) {
	store := NewStore()
	cs, _ := store.Merge("b1", Snapshot{
		ActiveName: "Pikachu",
		Moves:      []string{"Thunderbolt"},
		HP:         map[string]*int{"Pikachu": intPtr(78)},
		Status:     map[string]*string{},
	})

	// Mutate the returned copy; the store must be unaffected.
	*cs.HP["Pikachu"] = 1
	cs.Moves[0] = "Splash"

	fresh, ok := store.Get("b1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if *fresh.HP["Pikachu"] != 78 {
		t.Errorf("store HP mutated through returned clone: %d", *fresh.HP["Pikachu"])
	}
	if fresh.Moves[0] != "Thunderbolt" {
		t.Errorf("store moves mutated through returned clone: %v", fresh.Moves)
	}
}

func TestRemoveDiscardsSession(t *testing.T) {
	store := NewStore()
	store.Merge("b1", Snapshot{ActiveName: "Pikachu", HP: map[string]*int{}, Status: map[string]*string{}})
	store.Remove("b1")

	if _, ok := store.Get("b1"); ok {
		t.Error("removed session should be gone")
	}

	// A rewatched room starts from scratch.
	cs, _ := store.Merge("b1", Snapshot{ActiveName: "Zapdos", HP: map[string]*int{}, Status: map[string]*string{}})
	if len(cs.HP) != 0 {
		t.Errorf("fresh session should carry no readings, got %v", cs.HP)
	}
}
