package mcp

import (
	"fmt"
	"sync"
	"time"

	"battlenerd/internal/advisor"
)

const (
	statusLogCapacity = 64
	chatLogCapacity   = 32
)

// statusEntry is a status signal tagged with its session for the ring buffer.
type statusEntry struct {
	SessionID string         `json:"session_id"`
	Status    advisor.Status `json:"status"`
}

// statusLog keeps the most recent advisor lifecycle signals so tool callers
// can poll instead of streaming.
type statusLog struct {
	mu      sync.Mutex
	entries []statusEntry
	cap     int
}

func newStatusLog(capacity int) *statusLog {
	return &statusLog{cap: capacity}
}

func (l *statusLog) AdvisorStatus(sessionID string, status advisor.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, statusEntry{SessionID: sessionID, Status: status})
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

// Recent returns up to limit newest entries, optionally filtered by session.
func (l *statusLog) Recent(sessionID string, limit int) []statusEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]statusEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID != "" && l.entries[i].SessionID != sessionID {
			continue
		}
		out = append(out, l.entries[i])
	}
	return out
}

// chatEntry is one assistant chat reply held for polling.
type chatEntry struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

type chatLog struct {
	mu      sync.Mutex
	entries []chatEntry
	cap     int
}

func newChatLog(capacity int) *chatLog {
	return &chatLog{cap: capacity}
}

func (l *chatLog) ChatReply(sessionID, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, chatEntry{SessionID: sessionID, Text: text, At: time.Now()})
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

func (l *chatLog) Recent(sessionID string, limit int) []chatEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]chatEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID != "" && l.entries[i].SessionID != sessionID {
			continue
		}
		out = append(out, l.entries[i])
	}
	return out
}

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}

// getFloatArg extracts a float argument; returns ok=false when absent or not
// numeric so callers can leave settings untouched.
func getFloatArg(args map[string]interface{}, key string) (float64, bool) {
	val, ok := args[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
