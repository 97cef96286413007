package facts

import (
	"context"
	"testing"
	"time"

	"battlenerd/internal/config"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(config.FactsConfig{
		Enable:          true,
		SchemaPath:      "../../schemas/battle.mg",
		FactBufferLimit: 1000,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestEngineLoadsSchema(t *testing.T) {
	engine := testEngine(t)
	if !engine.Ready() {
		t.Error("engine with loaded schema should be ready")
	}
}

func TestAddAndReadFacts(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	now := time.Now()
	err := engine.AddFacts(ctx, []Fact{
		{Predicate: "battle_state", Args: []interface{}{"b1", "Pikachu", 4, now.UnixMilli()}, Timestamp: now},
		{Predicate: "decision_request", Args: []interface{}{"b1", "battle_state", now.UnixMilli()}, Timestamp: now},
		{Predicate: "battle_state", Args: []interface{}{"b2", "Garchomp", 3, now.UnixMilli()}, Timestamp: now},
	})
	if err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	states := engine.FactsByPredicate("battle_state")
	if len(states) != 2 {
		t.Errorf("expected 2 battle_state facts, got %d", len(states))
	}
	reqs := engine.FactsByPredicate("decision_request")
	if len(reqs) != 1 {
		t.Errorf("expected 1 decision_request fact, got %d", len(reqs))
	}
	if len(engine.FactsByPredicate("move_applied")) != 0 {
		t.Error("expected no move_applied facts")
	}
	if len(engine.Facts()) != 3 {
		t.Errorf("expected 3 buffered facts, got %d", len(engine.Facts()))
	}
}

func TestQueryBindsVariables(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()
	now := time.Now()

	if err := engine.AddFacts(ctx, []Fact{
		{Predicate: "decision_result", Args: []interface{}{"b1", "Thunderbolt", true, now.UnixMilli()}, Timestamp: now},
		{Predicate: "decision_result", Args: []interface{}{"b1", "Hyper Beam", false, now.UnixMilli()}, Timestamp: now},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Query(ctx, "decision_result(Session, Move, Matched, Ts).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	moves := map[string]bool{}
	for _, r := range results {
		move, ok := r["Move"].(string)
		if !ok {
			t.Fatalf("Move binding missing or wrong type: %v", r)
		}
		moves[move] = true
	}
	if !moves["Thunderbolt"] || !moves["Hyper Beam"] {
		t.Errorf("unexpected move bindings: %v", moves)
	}
}

func TestDerivedUnmatchedMove(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()
	now := time.Now()

	if err := engine.AddFacts(ctx, []Fact{
		{Predicate: "decision_result", Args: []interface{}{"b1", "Thunderbolt", true, now.UnixMilli()}, Timestamp: now},
		{Predicate: "decision_result", Args: []interface{}{"b1", "Hyper Beam", false, now.UnixMilli()}, Timestamp: now},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Query(ctx, "unmatched_move(Session, Move, Ts).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 unmatched move, got %d: %v", len(results), results)
	}
	if results[0]["Move"] != "Hyper Beam" {
		t.Errorf("expected 'Hyper Beam', got %v", results[0]["Move"])
	}
}

func TestQueryTemporalWindow(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	recent := time.Now()
	if err := engine.AddFacts(ctx, []Fact{
		{Predicate: "advisor_error", Args: []interface{}{"b1", "timeout", old.UnixMilli()}, Timestamp: old},
		{Predicate: "advisor_error", Args: []interface{}{"b1", "rate limit", recent.UnixMilli()}, Timestamp: recent},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	within := engine.QueryTemporal("advisor_error", time.Now().Add(-time.Minute), time.Time{})
	if len(within) != 1 {
		t.Fatalf("expected 1 recent error, got %d", len(within))
	}
	if within[0].Args[1] != "rate limit" {
		t.Errorf("unexpected fact %v", within[0])
	}

	all := engine.QueryTemporal("advisor_error", time.Time{}, time.Time{})
	if len(all) != 2 {
		t.Errorf("open window should return everything, got %d", len(all))
	}
}

func TestBufferTrimKeepsNewest(t *testing.T) {
	engine, err := NewEngine(config.FactsConfig{
		Enable:          true,
		FactBufferLimit: 5,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		now := time.Now()
		if err := engine.AddFacts(ctx, []Fact{
			{Predicate: "chat_message", Args: []interface{}{"b1", i, now.UnixMilli()}, Timestamp: now},
		}); err != nil {
			t.Fatalf("AddFacts failed: %v", err)
		}
	}

	buffered := engine.Facts()
	if len(buffered) != 5 {
		t.Fatalf("expected buffer trimmed to 5, got %d", len(buffered))
	}
	if buffered[0].Args[1] != 5 {
		t.Errorf("expected oldest surviving fact to be 5, got %v", buffered[0].Args[1])
	}
	if len(engine.FactsByPredicate("chat_message")) != 5 {
		t.Errorf("index must follow the trim")
	}
}

func TestDisabledEngineIsInert(t *testing.T) {
	engine, err := NewEngine(config.FactsConfig{Enable: false})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	ctx := context.Background()
	if err := engine.AddFacts(ctx, []Fact{{Predicate: "battle_state", Args: []interface{}{"b1"}}}); err != nil {
		t.Fatalf("disabled AddFacts should be a no-op, got %v", err)
	}
	if len(engine.Facts()) != 0 {
		t.Error("disabled engine must not buffer facts")
	}
	if _, err := engine.Query(ctx, "battle_state(S, A, N, Ts)."); err == nil {
		t.Error("disabled engine should refuse queries")
	}
	if !engine.Ready() {
		t.Error("disabled engine reports ready (nothing to load)")
	}
}
