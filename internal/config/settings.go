package config

import (
	"sync"
	"time"
)

// Settings is the immutable per-request snapshot of the advisor configuration.
// The core never mutates it; changes land via the SettingsStore and only affect
// requests issued after the change.
type Settings struct {
	APIKey           string        `json:"api_key,omitempty"`
	Model            string        `json:"model"`
	Temperature      float64       `json:"temperature"`
	SystemPrompt     string        `json:"system_prompt"`
	Enabled          bool          `json:"enabled"`
	BaseURL          string        `json:"base_url,omitempty"`
	MaxTokens        int           `json:"max_tokens"`
	TopP             float64       `json:"top_p"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	HistoryLimit     int           `json:"history_limit"`
	RequestTimeout   time.Duration `json:"request_timeout"`
}

// Redacted returns a copy safe for tool output: the key is masked, never echoed.
func (s Settings) Redacted() Settings {
	if s.APIKey != "" {
		s.APIKey = "***"
	}
	return s
}

// SettingsStore holds the live advisor settings. Readers get value copies, so an
// in-flight request keeps the snapshot it started with regardless of concurrent
// updates. Writers are the MCP settings tools; the pipeline itself only reads.
type SettingsStore struct {
	mu      sync.RWMutex
	current Settings
	subs    []chan Settings
}

func NewSettingsStore(initial Settings) *SettingsStore {
	return &SettingsStore{current: initial}
}

// Get returns the current settings snapshot.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies a mutation and notifies subscribers with the new snapshot.
func (s *SettingsStore) Update(mutate func(*Settings)) Settings {
	s.mu.Lock()
	mutate(&s.current)
	updated := s.current
	subs := make([]chan Settings, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- updated:
		default:
			// Slow subscriber; it will pick up the state on its next Get.
		}
	}
	return updated
}

// Subscribe returns a channel that receives a snapshot after every update.
func (s *SettingsStore) Subscribe() <-chan Settings {
	ch := make(chan Settings, 4)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}
