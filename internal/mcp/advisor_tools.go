package mcp

import (
	"context"
	"fmt"
	"time"

	"battlenerd/internal/advisor"
	"battlenerd/internal/config"
)

// SendChatTool submits a user chat message into a battle conversation.
type SendChatTool struct {
	adv *advisor.Advisor
}

func (t *SendChatTool) Name() string { return "send-chat" }
func (t *SendChatTool) Description() string {
	return `Send a free-form chat message to the advisor for a battle session.

WHAT HAPPENS:
- The message is appended to the session conversation immediately
- A completion request is issued (unless one is already in flight, in which
  case the trigger is dropped and the message stays in history)
- The reply lands in the status/chat log; poll get-status to read it

The reply is conversational text, not a move click.`
}
func (t *SendChatTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Battle session the message belongs to",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Message text",
			},
		},
		"required": []string{"session_id", "text"},
	}
}
func (t *SendChatTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	text := getStringArg(args, "text")
	if sessionID == "" || text == "" {
		return nil, fmt.Errorf("session_id and text are required")
	}

	t.adv.HandleUserChat(ctx, sessionID, text)
	return map[string]interface{}{
		"status":     "submitted",
		"session_id": sessionID,
	}, nil
}

// GetConversationTool reads a session's conversation history.
type GetConversationTool struct {
	adv *advisor.Advisor
}

func (t *GetConversationTool) Name() string { return "get-conversation" }
func (t *GetConversationTool) Description() string {
	return `Read the persisted conversation for a battle session.

Returns user and assistant turns in order. The system prompt and the ephemeral
battle-state turns are never part of history, so they never appear here.`
}
func (t *GetConversationTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Battle session to read",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *GetConversationTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	history, ok := t.adv.History(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	return map[string]interface{}{
		"session_id": sessionID,
		"turns":      history,
		"dropped":    t.adv.DroppedTriggers(sessionID),
	}, nil
}

// GetStatusTool polls recent advisor lifecycle signals and chat replies.
type GetStatusTool struct {
	adv       *advisor.Advisor
	statusLog *statusLog
	chatLog   *chatLog
}

func (t *GetStatusTool) Name() string { return "get-status" }
func (t *GetStatusTool) Description() string {
	return `Poll recent advisor activity.

Returns the newest lifecycle signals (requesting/done/failed with detail) and
chat replies, newest first. Omit session_id to see activity across all battles.

Status signals are observational only; they never feed back into the pipeline.`
}
func (t *GetStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional session filter",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max entries per list (default 10)",
			},
		},
	}
}
func (t *GetStatusTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	limit := getIntArg(args, "limit", 10)
	if limit <= 0 {
		limit = 10
	}

	return map[string]interface{}{
		"sessions":     t.adv.Sessions(),
		"status":       t.statusLog.Recent(sessionID, limit),
		"chat_replies": t.chatLog.Recent(sessionID, limit),
	}, nil
}

// ConfigureAdvisorTool updates live advisor settings. Changes affect only
// requests issued afterwards; in-flight requests keep their snapshot.
type ConfigureAdvisorTool struct {
	settings *config.SettingsStore
}

func (t *ConfigureAdvisorTool) Name() string { return "configure-advisor" }
func (t *ConfigureAdvisorTool) Description() string {
	return `Update advisor settings at runtime.

All fields are optional; only the ones provided change. In-flight requests
keep the settings they started with.

FIELDS:
- enabled: master switch. Disabling stops new requests but never cancels one
  already in flight.
- api_key, model, base_url: provider wiring
- temperature, max_tokens, top_p, presence_penalty, frequency_penalty
- system_prompt: always sent as the first message, never persisted
- history_limit: conversation turns kept per session (oldest evicted first)
- request_timeout_seconds: per-request HTTP timeout

Returns the updated settings with the API key masked.`
}
func (t *ConfigureAdvisorTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"enabled":                 map[string]interface{}{"type": "boolean"},
			"api_key":                 map[string]interface{}{"type": "string"},
			"model":                   map[string]interface{}{"type": "string"},
			"base_url":                map[string]interface{}{"type": "string"},
			"system_prompt":           map[string]interface{}{"type": "string"},
			"temperature":             map[string]interface{}{"type": "number"},
			"max_tokens":              map[string]interface{}{"type": "integer"},
			"top_p":                   map[string]interface{}{"type": "number"},
			"presence_penalty":        map[string]interface{}{"type": "number"},
			"frequency_penalty":       map[string]interface{}{"type": "number"},
			"history_limit":           map[string]interface{}{"type": "integer"},
			"request_timeout_seconds": map[string]interface{}{"type": "integer"},
		},
	}
}
func (t *ConfigureAdvisorTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	updated := t.settings.Update(func(s *config.Settings) {
		if _, ok := args["enabled"]; ok {
			s.Enabled = getBoolArg(args, "enabled", s.Enabled)
		}
		if v, ok := args["api_key"]; ok {
			s.APIKey = fmt.Sprintf("%v", v)
		}
		if v := getStringArg(args, "model"); v != "" {
			s.Model = v
		}
		if _, ok := args["base_url"]; ok {
			s.BaseURL = getStringArg(args, "base_url")
		}
		if v := getStringArg(args, "system_prompt"); v != "" {
			s.SystemPrompt = v
		}
		if v, ok := getFloatArg(args, "temperature"); ok {
			s.Temperature = v
		}
		if v := getIntArg(args, "max_tokens", -1); v >= 0 {
			s.MaxTokens = v
		}
		if v, ok := getFloatArg(args, "top_p"); ok {
			s.TopP = v
		}
		if v, ok := getFloatArg(args, "presence_penalty"); ok {
			s.PresencePenalty = v
		}
		if v, ok := getFloatArg(args, "frequency_penalty"); ok {
			s.FrequencyPenalty = v
		}
		if v := getIntArg(args, "history_limit", -1); v > 0 {
			s.HistoryLimit = v
		}
		if v := getIntArg(args, "request_timeout_seconds", -1); v > 0 {
			s.RequestTimeout = time.Duration(v) * time.Second
		}
	})

	return map[string]interface{}{"settings": updated.Redacted()}, nil
}

// GetAdvisorSettingsTool reads the live settings with the API key masked.
type GetAdvisorSettingsTool struct {
	settings *config.SettingsStore
}

func (t *GetAdvisorSettingsTool) Name() string { return "get-advisor-settings" }
func (t *GetAdvisorSettingsTool) Description() string {
	return `Read the current advisor settings.

The API key is masked in the output; it can be set but never read back.`
}
func (t *GetAdvisorSettingsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetAdvisorSettingsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"settings": t.settings.Get().Redacted()}, nil
}
