// Package advisor orchestrates decision requests per battle session: it owns
// conversation memory, enforces the single-flight policy, and routes replies
// back to the page or the chat surface.
package advisor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"battlenerd/internal/config"
	"battlenerd/internal/facts"
	"battlenerd/internal/llm"
	"battlenerd/internal/state"
)

// Phase is the lifecycle signal emitted around each decision request.
type Phase string

const (
	PhaseRequesting Phase = "requesting"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Status is a one-way observational signal; it never feeds back into
// orchestration state.
type Status struct {
	Phase  Phase     `json:"phase"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// StatusSink receives lifecycle signals for a session.
type StatusSink interface {
	AdvisorStatus(sessionID string, status Status)
}

// ChatSink receives free-form assistant replies for user-triggered exchanges.
type ChatSink interface {
	ChatReply(sessionID, text string)
}

// MoveApplier clicks a recommended move into the battle UI. Reports whether an
// exactly matching move existed.
type MoveApplier interface {
	ApplyMove(ctx context.Context, sessionID, move string) (bool, error)
}

// FactSink is the minimal interface we need from the diagnostics journal.
type FactSink interface {
	AddFacts(ctx context.Context, fs []facts.Fact) error
}

// SettingsSource yields the immutable per-request settings snapshot.
type SettingsSource interface {
	Get() config.Settings
}

type triggerKind int

const (
	triggerBattleState triggerKind = iota
	triggerUserChat
)

// session is one battle's slice of orchestrator state. The inFlight slot is the
// single-flight guard: while a request is out, every further trigger is dropped
// (not queued) — the next natural mutation after completion re-reports fresher
// state anyway, and queued stale triggers could reorder conversation turns.
type session struct {
	id       string
	mu       sync.Mutex
	inFlight bool
	history  []llm.Message
	dropped  int
}

// Advisor is the per-session decision orchestrator. Sessions are created
// lazily on first contact and removed via EndSession.
type Advisor struct {
	settings  SettingsSource
	requester llm.Requester

	mu       sync.RWMutex
	sessions map[string]*session

	applier     MoveApplier
	statusSinks []StatusSink
	chatSinks   []ChatSink
	factSink    FactSink
}

func New(settings SettingsSource, requester llm.Requester) *Advisor {
	return &Advisor{
		settings:  settings,
		requester: requester,
		sessions:  make(map[string]*session),
	}
}

// SetMoveApplier binds the UI-side move clicker. Set after construction because
// the browser watcher and the advisor reference each other.
func (a *Advisor) SetMoveApplier(applier MoveApplier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applier = applier
}

// SetFactSink binds the diagnostics journal.
func (a *Advisor) SetFactSink(sink FactSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.factSink = sink
}

// AddStatusSink registers a lifecycle signal consumer.
func (a *Advisor) AddStatusSink(sink StatusSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusSinks = append(a.statusSinks, sink)
}

// AddChatSink registers a chat reply consumer.
func (a *Advisor) AddChatSink(sink ChatSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chatSinks = append(a.chatSinks, sink)
}

// HandleBattleState ingests a reportable canonical state update. The state is
// passed to the model as ephemeral request context only; it never becomes a
// persisted conversation turn.
func (a *Advisor) HandleBattleState(ctx context.Context, sessionID string, cs state.CanonicalState) {
	settings := a.settings.Get()
	if !settings.Enabled {
		return
	}

	s := a.session(sessionID)
	s.mu.Lock()
	if s.inFlight {
		s.dropped++
		s.mu.Unlock()
		log.Printf("[session:%s] battle-state trigger dropped, request in flight", sessionID)
		return
	}
	s.inFlight = true
	stateTurn := llm.Message{Role: llm.RoleUser, Content: renderState(cs)}
	messages := buildMessages(settings.SystemPrompt, s.history, &stateTurn)
	s.mu.Unlock()

	a.emitStatus(sessionID, Status{Phase: PhaseRequesting, Detail: "battle state update", At: time.Now()})
	a.addFact(ctx, "decision_request", sessionID, "battle_state")
	// Once issued, the request runs to completion regardless of the trigger's
	// lifetime; only the per-request timeout bounds it.
	go a.complete(context.WithoutCancel(ctx), s, settings, messages, triggerBattleState)
}

// HandleUserChat ingests a user-submitted chat message. The user turn is
// appended immediately so it survives even when the request fails.
func (a *Advisor) HandleUserChat(ctx context.Context, sessionID, text string) {
	settings := a.settings.Get()
	if !settings.Enabled {
		return
	}

	s := a.session(sessionID)
	s.mu.Lock()
	if s.inFlight {
		s.dropped++
		s.mu.Unlock()
		log.Printf("[session:%s] chat trigger dropped, request in flight", sessionID)
		return
	}
	s.inFlight = true
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})
	s.evictLocked(settings.HistoryLimit)
	messages := buildMessages(settings.SystemPrompt, s.history, nil)
	s.mu.Unlock()

	a.emitStatus(sessionID, Status{Phase: PhaseRequesting, Detail: "user chat", At: time.Now()})
	a.addFact(ctx, "chat_message", sessionID, text)
	// Detached like the battle-state path: a tool call returning (and its
	// context dying) must never abort the request it triggered.
	go a.complete(context.WithoutCancel(ctx), s, settings, messages, triggerUserChat)
}

// complete runs the external call and the post-response transition. The session
// returns to idle unconditionally; only successful exchanges touch history.
func (a *Advisor) complete(ctx context.Context, s *session, settings config.Settings, messages []llm.Message, kind triggerKind) {
	reply, err := a.requester.Request(ctx, messages, settings)

	s.mu.Lock()
	s.inFlight = false
	if err == nil {
		s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
		s.evictLocked(settings.HistoryLimit)
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("[session:%s] decision request failed: %v", s.id, err)
		a.emitStatus(s.id, Status{Phase: PhaseFailed, Detail: err.Error(), At: time.Now()})
		a.addFact(ctx, "advisor_error", s.id, err.Error())
		return
	}

	switch kind {
	case triggerBattleState:
		a.routeMove(ctx, s.id, reply)
	case triggerUserChat:
		for _, sink := range a.chatSinksCopy() {
			sink.ChatReply(s.id, reply)
		}
		a.emitStatus(s.id, Status{Phase: PhaseDone, Detail: "chat reply delivered", At: time.Now()})
	}
}

// routeMove interprets a battle-triggered reply as a move name. A hallucinated
// name is a silent no-op on the page but stays observable via status detail.
func (a *Advisor) routeMove(ctx context.Context, sessionID, move string) {
	applier := a.applierCopy()
	if applier == nil {
		a.emitStatus(sessionID, Status{Phase: PhaseDone, Detail: fmt.Sprintf("recommended %q (no applier bound)", move), At: time.Now()})
		return
	}

	matched, err := applier.ApplyMove(ctx, sessionID, move)
	switch {
	case err != nil:
		log.Printf("[session:%s] apply move %q: %v", sessionID, move, err)
		a.emitStatus(sessionID, Status{Phase: PhaseDone, Detail: fmt.Sprintf("recommended %q but applying failed: %v", move, err), At: time.Now()})
	case !matched:
		a.emitStatus(sessionID, Status{Phase: PhaseDone, Detail: fmt.Sprintf("recommended %q did not match any available move", move), At: time.Now()})
	default:
		a.emitStatus(sessionID, Status{Phase: PhaseDone, Detail: fmt.Sprintf("selected move %q", move), At: time.Now()})
	}
	a.addFact(ctx, "decision_result", sessionID, move, matched)
}

// History returns a copy of the session's conversation.
func (a *Advisor) History(sessionID string) ([]llm.Message, bool) {
	a.mu.RLock()
	s, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...), true
}

// DroppedTriggers reports how many triggers the single-flight gate discarded.
func (a *Advisor) DroppedTriggers(sessionID string) int {
	a.mu.RLock()
	s, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// EndSession discards a session's conversation and slot. A session that failed
// mid-request simply vanishes; the goroutine's final writes land on an
// unreachable record.
func (a *Advisor) EndSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

// Sessions lists session IDs with live conversations.
func (a *Advisor) Sessions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (a *Advisor) session(id string) *session {
	a.mu.RLock()
	s, ok := a.sessions[id]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[id]; ok {
		return s
	}
	s = &session{id: id}
	a.sessions[id] = s
	return s
}

// evictLocked drops oldest turns beyond the cap. The system prompt is never
// part of history, so a plain front trim is exact. Caller holds s.mu.
func (s *session) evictLocked(limit int) {
	if limit <= 0 || len(s.history) <= limit {
		return
	}
	trimmed := make([]llm.Message, limit)
	copy(trimmed, s.history[len(s.history)-limit:])
	s.history = trimmed
}

// buildMessages assembles the request: system prompt first (always fresh from
// settings, never persisted), then history, then the ephemeral state turn for
// battle-triggered requests.
func buildMessages(systemPrompt string, history []llm.Message, ephemeral *llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	if ephemeral != nil {
		messages = append(messages, *ephemeral)
	}
	return messages
}

// renderState flattens canonical state into the ephemeral request turn.
func renderState(cs state.CanonicalState) string {
	var b strings.Builder
	b.WriteString("Current battle state:\n")
	if cs.ActiveName != "" {
		fmt.Fprintf(&b, "Active Pokémon: %s\n", cs.ActiveName)
	}
	if len(cs.Moves) > 0 {
		fmt.Fprintf(&b, "Available moves: %s\n", strings.Join(cs.Moves, ", "))
	}
	if cs.Roster != nil {
		writeTeam(&b, "Your team", cs.Roster.Player)
		writeTeam(&b, "Opponent team", cs.Roster.Opponent)
	}
	writeReadings(&b, "Known HP", cs.HP, func(v *int) string { return fmt.Sprintf("%d", *v) })
	writeReadings(&b, "Known status", cs.Status, func(v *string) string { return *v })
	b.WriteString("Reply with the name of the best available move, exactly as written.")
	return b.String()
}

func writeTeam(b *strings.Builder, label string, team []state.Combatant) {
	if len(team) == 0 {
		return
	}
	parts := make([]string, 0, len(team))
	for _, c := range team {
		part := fmt.Sprintf("%s (%d HP", c.Species, c.HP)
		if c.Status != nil {
			part += ", " + *c.Status
		}
		parts = append(parts, part+")")
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(parts, ", "))
}

func writeReadings[V any](b *strings.Builder, label string, readings map[string]*V, format func(*V) string) {
	if len(readings) == 0 {
		return
	}
	names := make([]string, 0, len(readings))
	for name, v := range readings {
		if v != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %s", name, format(readings[name])))
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(parts, ", "))
}

func (a *Advisor) emitStatus(sessionID string, status Status) {
	a.mu.RLock()
	sinks := append([]StatusSink(nil), a.statusSinks...)
	a.mu.RUnlock()
	for _, sink := range sinks {
		sink.AdvisorStatus(sessionID, status)
	}
}

func (a *Advisor) chatSinksCopy() []ChatSink {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]ChatSink(nil), a.chatSinks...)
}

func (a *Advisor) applierCopy() MoveApplier {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.applier
}

func (a *Advisor) addFact(ctx context.Context, predicate, sessionID string, extra ...interface{}) {
	a.mu.RLock()
	sink := a.factSink
	a.mu.RUnlock()
	if sink == nil {
		return
	}
	args := append([]interface{}{sessionID}, extra...)
	args = append(args, time.Now().UnixMilli())
	if err := sink.AddFacts(ctx, []facts.Fact{{
		Predicate: predicate,
		Args:      args,
		Timestamp: time.Now(),
	}}); err != nil {
		log.Printf("[session:%s] %s fact error: %v", sessionID, predicate, err)
	}
}
