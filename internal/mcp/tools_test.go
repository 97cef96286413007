package mcp

import (
	"context"
	"testing"
	"time"

	"battlenerd/internal/advisor"
	"battlenerd/internal/browser"
	"battlenerd/internal/config"
	"battlenerd/internal/facts"
	"battlenerd/internal/llm"
	"battlenerd/internal/state"
)

type stubRequester struct {
	reply string
}

func (s *stubRequester) Request(_ context.Context, _ []llm.Message, _ config.Settings) (string, error) {
	return s.reply, nil
}

func testFixture(t *testing.T) (*Server, *config.SettingsStore, *state.Store, *facts.Engine) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Facts.SchemaPath = "../../schemas/battle.mg"

	engine, err := facts.NewEngine(cfg.Facts)
	if err != nil {
		t.Fatalf("failed to create fact engine: %v", err)
	}

	settings := config.NewSettingsStore(config.Settings{
		APIKey:       "sk-test",
		Model:        "gpt-4o",
		Enabled:      true,
		SystemPrompt: "prompt",
		HistoryLimit: 40,
	})
	adv := advisor.New(settings, &stubRequester{reply: "Thunderbolt"})
	store := state.NewStore()
	watcher := browser.NewWatcher(cfg.Browser, settings, store, adv, engine)
	adv.SetMoveApplier(watcher)

	server, err := NewServer(cfg, watcher, adv, engine, store, settings)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return server, settings, store, engine
}

func TestServerRegistersExpectedTools(t *testing.T) {
	server, _, _, _ := testFixture(t)

	expected := []string{
		"launch-browser", "shutdown-browser", "list-battles", "watch-battle",
		"attach-battle", "close-battle", "get-battle-state",
		"send-chat", "get-conversation", "get-status",
		"configure-advisor", "get-advisor-settings",
		"read-facts", "query-facts", "query-temporal",
	}
	for _, name := range expected {
		tool, ok := server.tools[name]
		if !ok {
			t.Errorf("tool %q not registered", name)
			continue
		}
		if tool.Description() == "" {
			t.Errorf("tool %q has empty description", name)
		}
		if tool.InputSchema() == nil {
			t.Errorf("tool %q has nil schema", name)
		}
	}
	if len(server.tools) != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), len(server.tools))
	}
}

func TestExecuteToolUnknownName(t *testing.T) {
	server, _, _, _ := testFixture(t)
	if _, err := server.ExecuteTool("no-such-tool", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestGetBattleStateTool(t *testing.T) {
	server, _, store, _ := testFixture(t)

	t.Run("unknown session", func(t *testing.T) {
		_, err := server.ExecuteTool("get-battle-state", map[string]interface{}{"session_id": "nope"})
		if err == nil {
			t.Error("expected error for unknown battle")
		}
	})

	t.Run("known session", func(t *testing.T) {
		hp := 78
		store.Merge("b1", state.Snapshot{
			ActiveName: "Pikachu",
			Moves:      []string{"Thunderbolt"},
			HP:         map[string]*int{"Pikachu": &hp},
			Status:     map[string]*string{},
		})

		result, err := server.ExecuteTool("get-battle-state", map[string]interface{}{"session_id": "b1"})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		payload := result.(map[string]interface{})
		if payload["active"] != "Pikachu" {
			t.Errorf("unexpected active %v", payload["active"])
		}
	})
}

func TestSendChatAndConversationTools(t *testing.T) {
	server, _, _, _ := testFixture(t)

	result, err := server.ExecuteTool("send-chat", map[string]interface{}{
		"session_id": "b1",
		"text":       "what should I click?",
	})
	if err != nil {
		t.Fatalf("send-chat failed: %v", err)
	}
	if result.(map[string]interface{})["status"] != "submitted" {
		t.Errorf("unexpected result %v", result)
	}

	// The completion runs asynchronously; poll until both turns land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		result, err := server.ExecuteTool("get-conversation", map[string]interface{}{"session_id": "b1"})
		if err == nil {
			turns := result.(map[string]interface{})["turns"].([]llm.Message)
			if len(turns) == 2 {
				if turns[0].Role != llm.RoleUser || turns[1].Content != "Thunderbolt" {
					t.Errorf("unexpected turns %v", turns)
				}
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("conversation never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The chat reply is queued in the poll log too.
	status, err := server.ExecuteTool("get-status", map[string]interface{}{"session_id": "b1"})
	if err != nil {
		t.Fatalf("get-status failed: %v", err)
	}
	payload := status.(map[string]interface{})
	replies := payload["chat_replies"].([]chatEntry)
	if len(replies) != 1 || replies[0].Text != "Thunderbolt" {
		t.Errorf("unexpected chat replies %v", replies)
	}
	if len(payload["status"].([]statusEntry)) == 0 {
		t.Error("expected lifecycle signals in the status log")
	}
}

func TestSendChatValidation(t *testing.T) {
	server, _, _, _ := testFixture(t)
	if _, err := server.ExecuteTool("send-chat", map[string]interface{}{"session_id": "b1"}); err == nil {
		t.Error("expected error without text")
	}
	if _, err := server.ExecuteTool("send-chat", map[string]interface{}{"text": "hi"}); err == nil {
		t.Error("expected error without session_id")
	}
}

func TestConfigureAdvisorTool(t *testing.T) {
	server, settings, _, _ := testFixture(t)

	result, err := server.ExecuteTool("configure-advisor", map[string]interface{}{
		"model":                   "gpt-4o-mini",
		"temperature":             0.2,
		"enabled":                 false,
		"history_limit":           8,
		"request_timeout_seconds": 10,
	})
	if err != nil {
		t.Fatalf("configure-advisor failed: %v", err)
	}

	got := settings.Get()
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model not updated: %q", got.Model)
	}
	if got.Temperature != 0.2 {
		t.Errorf("temperature not updated: %v", got.Temperature)
	}
	if got.Enabled {
		t.Error("enabled not updated")
	}
	if got.HistoryLimit != 8 {
		t.Errorf("history limit not updated: %d", got.HistoryLimit)
	}
	if got.RequestTimeout != 10*time.Second {
		t.Errorf("request timeout not updated: %v", got.RequestTimeout)
	}
	// Untouched fields survive.
	if got.SystemPrompt != "prompt" {
		t.Errorf("system prompt should be untouched, got %q", got.SystemPrompt)
	}

	// The echoed settings never leak the key.
	echoed := result.(map[string]interface{})["settings"].(config.Settings)
	if echoed.APIKey != "***" {
		t.Errorf("expected masked key, got %q", echoed.APIKey)
	}
}

func TestGetAdvisorSettingsToolMasksKey(t *testing.T) {
	server, _, _, _ := testFixture(t)
	result, err := server.ExecuteTool("get-advisor-settings", nil)
	if err != nil {
		t.Fatalf("get-advisor-settings failed: %v", err)
	}
	echoed := result.(map[string]interface{})["settings"].(config.Settings)
	if echoed.APIKey != "***" {
		t.Errorf("expected masked key, got %q", echoed.APIKey)
	}
}

func TestFactTools(t *testing.T) {
	server, _, _, engine := testFixture(t)
	ctx := context.Background()
	now := time.Now()

	if err := engine.AddFacts(ctx, []facts.Fact{
		{Predicate: "decision_result", Args: []interface{}{"b1", "Thunderbolt", true, now.UnixMilli()}, Timestamp: now},
		{Predicate: "decision_result", Args: []interface{}{"b1", "Hyper Beam", false, now.UnixMilli()}, Timestamp: now},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	t.Run("read-facts", func(t *testing.T) {
		result, err := server.ExecuteTool("read-facts", map[string]interface{}{"predicate": "decision_result"})
		if err != nil {
			t.Fatalf("read-facts failed: %v", err)
		}
		payload := result.(map[string]interface{})
		if payload["count"] != 2 {
			t.Errorf("expected 2 facts, got %v", payload["count"])
		}
	})

	t.Run("read-facts requires predicate", func(t *testing.T) {
		if _, err := server.ExecuteTool("read-facts", map[string]interface{}{}); err == nil {
			t.Error("expected error without predicate")
		}
	})

	t.Run("query-facts", func(t *testing.T) {
		result, err := server.ExecuteTool("query-facts", map[string]interface{}{
			"query": "unmatched_move(Session, Move, Ts).",
		})
		if err != nil {
			t.Fatalf("query-facts failed: %v", err)
		}
		payload := result.(map[string]interface{})
		if payload["count"] != 1 {
			t.Errorf("expected 1 unmatched move, got %v", payload["count"])
		}
	})

	t.Run("query-temporal", func(t *testing.T) {
		result, err := server.ExecuteTool("query-temporal", map[string]interface{}{
			"predicate": "decision_result",
			"after":     now.Add(-time.Minute).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatalf("query-temporal failed: %v", err)
		}
		payload := result.(map[string]interface{})
		if payload["count"] != 2 {
			t.Errorf("expected 2 facts in window, got %v", payload["count"])
		}
	})

	t.Run("query-temporal rejects bad time", func(t *testing.T) {
		_, err := server.ExecuteTool("query-temporal", map[string]interface{}{
			"predicate": "decision_result",
			"after":     "yesterday",
		})
		if err == nil {
			t.Error("expected error for unparseable time")
		}
	})
}

func TestListBattlesToolEmpty(t *testing.T) {
	server, _, _, _ := testFixture(t)
	result, err := server.ExecuteTool("list-battles", nil)
	if err != nil {
		t.Fatalf("list-battles failed: %v", err)
	}
	battles := result.(map[string]interface{})["battles"].([]browser.BattleSession)
	if len(battles) != 0 {
		t.Errorf("expected no battles, got %v", battles)
	}
}

func TestHelperGetters(t *testing.T) {
	args := map[string]interface{}{
		"s":  "text",
		"i":  float64(7),
		"b":  true,
		"f":  1.5,
		"fi": 3,
	}

	if getStringArg(args, "s") != "text" {
		t.Error("string arg")
	}
	if getStringArg(args, "missing") != "" {
		t.Error("missing string arg should be empty")
	}
	if getIntArg(args, "i", 0) != 7 {
		t.Error("JSON numbers arrive as float64 and must convert")
	}
	if getIntArg(args, "missing", 42) != 42 {
		t.Error("int fallback")
	}
	if !getBoolArg(args, "b", false) {
		t.Error("bool arg")
	}
	if getBoolArg(args, "missing", true) != true {
		t.Error("bool fallback")
	}
	if v, ok := getFloatArg(args, "f"); !ok || v != 1.5 {
		t.Error("float arg")
	}
	if v, ok := getFloatArg(args, "fi"); !ok || v != 3 {
		t.Error("int-typed float arg")
	}
	if _, ok := getFloatArg(args, "missing"); ok {
		t.Error("missing float arg should report !ok")
	}
	if _, ok := getFloatArg(args, "s"); ok {
		t.Error("non-numeric float arg should report !ok")
	}
}

func TestStatusLogRing(t *testing.T) {
	log := newStatusLog(3)
	for i := 0; i < 5; i++ {
		log.AdvisorStatus("b1", advisor.Status{Detail: string(rune('a' + i))})
	}
	log.AdvisorStatus("b2", advisor.Status{Detail: "other"})

	recent := log.Recent("", 10)
	if len(recent) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(recent))
	}
	if recent[0].Status.Detail != "other" {
		t.Errorf("expected newest first, got %q", recent[0].Status.Detail)
	}

	filtered := log.Recent("b1", 10)
	for _, e := range filtered {
		if e.SessionID != "b1" {
			t.Errorf("filter leaked session %q", e.SessionID)
		}
	}
}
