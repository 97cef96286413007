// Package browser owns the detached Chrome instance, tracks one session per
// watched battle room, and bridges DOM mutation bursts into the extraction and
// decision pipeline.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"battlenerd/internal/config"
	"battlenerd/internal/extract"
	"battlenerd/internal/facts"
	"battlenerd/internal/state"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// BattleSession describes the public metadata for a tracked battle room.
type BattleSession struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type battleRecord struct {
	meta   BattleSession
	page   *rod.Page
	cancel context.CancelFunc
}

// Pipeline is the minimal interface we need from the orchestration layer.
type Pipeline interface {
	HandleBattleState(ctx context.Context, sessionID string, cs state.CanonicalState)
	EndSession(sessionID string)
}

// FactSink receives battle lifecycle facts for the diagnostics journal.
type FactSink interface {
	AddFacts(ctx context.Context, fs []facts.Fact) error
}

// SettingsSource gates the pipeline; a disabled advisor suppresses extraction
// entirely.
type SettingsSource interface {
	Get() config.Settings
}

// injectScript hooks a MutationObserver onto the battle container. It only
// counts; the Go side samples the counter and decides when the page settled.
// Returns false when no battle container exists, which leaves the watcher
// inert for that page.
const injectScript = `
() => {
	const container = document.getElementById('battle') || document.querySelector('.battle');
	if (!container) return false;
	const w = window;
	if (w.__battlenerdHooked) return true;
	w.__battlenerdHooked = true;
	w.__battlenerdDirty = 0;
	const obs = new MutationObserver(() => { w.__battlenerdDirty++; });
	obs.observe(container, { childList: true, subtree: true, characterData: true, attributes: true });
	return true;
}
`

const dirtyScript = `() => window.__battlenerdDirty || 0`

// applyScript clicks the move button whose first text line equals the given
// move exactly. A miss returns false and clicks nothing.
const applyScript = `
(move) => {
	const firstLine = (s) => (s || '').trim().split('\n')[0].trim();
	const buttons = Array.from(document.querySelectorAll('button[name="chooseMove"]'));
	const target = buttons.find((btn) => firstLine(btn.textContent) === move);
	if (!target) return false;
	target.click();
	return true;
}
`

// Watcher owns the browser connection and the per-battle extraction pumps.
type Watcher struct {
	cfg      config.BrowserConfig
	settings SettingsSource
	store    *state.Store
	pipeline Pipeline
	engine   FactSink

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	battles    map[string]*battleRecord
}

func NewWatcher(cfg config.BrowserConfig, settings SettingsSource, store *state.Store, pipeline Pipeline, sink FactSink) *Watcher {
	return &Watcher{
		cfg:      cfg,
		settings: settings,
		store:    store,
		pipeline: pipeline,
		engine:   sink,
		battles:  make(map[string]*battleRecord),
	}
}

// Start connects to an existing Chrome or launches a new one via Rod's
// launcher.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.browser != nil {
		if _, err := w.browser.Version(); err == nil {
			return nil
		}
		log.Printf("Stale browser connection detected, reconnecting...")
		// Tracked battles die with the connection: stop each pump and drop
		// its downstream state, not just the map entries.
		for id, rec := range w.battles {
			delete(w.battles, id)
			w.releaseRecord(rec)
		}
		_ = w.browser.Close()
		w.browser = nil
		w.controlURL = ""
	}

	controlURL := w.cfg.DebuggerURL
	if controlURL == "" && len(w.cfg.Launch) > 0 {
		bin := w.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(w.cfg.IsHeadless())
		for _, rawFlag := range w.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(w.cfg.IsHeadless())
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			controlURL = alt
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	w.browser = browser
	w.controlURL = controlURL
	log.Printf("Browser connected at %s", controlURL)
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (w *Watcher) ControlURL() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.controlURL
}

// IsConnected reports whether the browser is currently connected.
func (w *Watcher) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.browser != nil
}

// Shutdown closes tracked pages and the underlying browser.
func (w *Watcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	records := make([]*battleRecord, 0, len(w.battles))
	for id, rec := range w.battles {
		records = append(records, rec)
		delete(w.battles, id)
	}
	browser := w.browser
	w.browser = nil
	w.controlURL = ""
	w.mu.Unlock()

	for _, rec := range records {
		w.releaseRecord(rec)
	}

	var err error
	if browser != nil {
		err = browser.Close()
	}
	log.Printf("Browser shutdown complete")
	return err
}

// List returns lightweight metadata for all watched battles.
func (w *Watcher) List() []BattleSession {
	w.mu.RLock()
	defer w.mu.RUnlock()
	results := make([]BattleSession, 0, len(w.battles))
	for _, rec := range w.battles {
		results = append(results, rec.meta)
	}
	return results
}

// GetBattle returns the current session metadata when available.
func (w *Watcher) GetBattle(sessionID string) (BattleSession, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.battles[sessionID]
	if !ok {
		return BattleSession{}, false
	}
	return rec.meta, true
}

// WatchBattle opens the battle URL in a new page and starts the extraction
// pump for it.
func (w *Watcher) WatchBattle(ctx context.Context, url string) (*BattleSession, error) {
	w.mu.RLock()
	browser := w.browser
	w.mu.RUnlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	if !strings.Contains(url, "://") {
		url = strings.TrimRight(w.cfg.ShowdownURL, "/") + "/" + strings.TrimLeft(url, "/")
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	// Best-effort load; a slow lobby page is not fatal for watching.
	_ = page.Timeout(w.cfg.NavigationTimeout()).WaitLoad()

	return w.track(ctx, page, url)
}

// AttachBattle binds to an existing tab by CDP TargetID, the closest analogue
// to the content script riding along in the player's own tab.
func (w *Watcher) AttachBattle(ctx context.Context, targetID string) (*BattleSession, error) {
	w.mu.RLock()
	browser := w.browser
	w.mu.RUnlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	page, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	return w.track(ctx, page, "")
}

func (w *Watcher) track(ctx context.Context, page *rod.Page, url string) (*BattleSession, error) {
	meta := BattleSession{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "watching",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}

	pumpCtx, cancel := newPumpContext(ctx)
	rec := &battleRecord{meta: meta, page: page, cancel: cancel}

	w.mu.Lock()
	w.battles[meta.ID] = rec
	w.mu.Unlock()

	go w.pump(pumpCtx, meta.ID, page)
	return &meta, nil
}

// newPumpContext detaches the pump from the caller's context: the tool call
// that starts a watch returns immediately, and its context dying must not
// stop the pump. The returned cancel (via CloseBattle/Shutdown) is the only
// way to end it.
func newPumpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(ctx))
}

// CloseBattle tears down one battle: pump, page, canonical state, and the
// advisor session all go together.
func (w *Watcher) CloseBattle(sessionID string) error {
	w.mu.Lock()
	rec, ok := w.battles[sessionID]
	if ok {
		delete(w.battles, sessionID)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown battle: %s", sessionID)
	}

	w.releaseRecord(rec)
	log.Printf("[session:%s] battle closed", sessionID)
	return nil
}

// releaseRecord stops one battle's pump, closes its page, and discards the
// canonical state and advisor conversation tied to it. Does not touch w.mu,
// so it is safe both under the lock and after a record leaves the map.
func (w *Watcher) releaseRecord(rec *battleRecord) {
	if rec.cancel != nil {
		rec.cancel()
	}
	if rec.page != nil {
		_ = rec.page.Close()
	}
	w.store.Remove(rec.meta.ID)
	if w.pipeline != nil {
		w.pipeline.EndSession(rec.meta.ID)
	}
}

// ApplyMove clicks the matching move button. A model-invented move name that
// matches nothing is a no-op, reported as matched=false.
func (w *Watcher) ApplyMove(ctx context.Context, sessionID, move string) (bool, error) {
	w.mu.RLock()
	rec, ok := w.battles[sessionID]
	w.mu.RUnlock()
	if !ok || rec.page == nil {
		return false, fmt.Errorf("unknown battle: %s", sessionID)
	}

	res, err := rec.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      applyScript,
		JSArgs:  []interface{}{move},
		ByValue: true,
	})
	if err != nil {
		return false, fmt.Errorf("click move %q: %w", move, err)
	}
	if res == nil {
		return false, fmt.Errorf("click move %q: no result", move)
	}

	matched := res.Value.Bool()
	if matched {
		w.addFact(ctx, facts.Fact{
			Predicate: "move_applied",
			Args:      []interface{}{sessionID, move, time.Now().UnixMilli()},
			Timestamp: time.Now(),
		})
	}
	return matched, nil
}

// pump drives one battle: observer injection, navigation teardown watch, and
// the settle-gated extraction loop.
func (w *Watcher) pump(ctx context.Context, sessionID string, page *rod.Page) {
	hooked, err := w.injectObserver(ctx, page)
	if err != nil {
		log.Printf("[session:%s] observer injection failed: %v", sessionID, err)
		return
	}
	if !hooked {
		// No battle container on this page; stay inert rather than fail.
		log.Printf("[session:%s] no battle container found, watcher inert", sessionID)
		w.updateStatus(sessionID, "inert")
		return
	}

	waitNav := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if strings.Contains(ev.Frame.URL, "/battle-") {
			w.updateURL(sessionID, ev.Frame.URL)
			return
		}
		// Navigating away from the battle room ends the session.
		log.Printf("[session:%s] navigated away (%s), ending session", sessionID, ev.Frame.URL)
		_ = w.CloseBattle(sessionID)
	})
	go waitNav()

	// Initial report, mirroring the first extraction a fresh page gets.
	w.runExtraction(ctx, sessionID, page)

	gate := newSettleGate(w.cfg.SettleWindowDuration())
	ticker := time.NewTicker(w.cfg.PollIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.settings.Get().Enabled {
				continue
			}
			count, err := w.readDirtyCounter(ctx, page)
			if err != nil {
				continue
			}
			now := time.Now()
			gate.Observe(count, now)
			if gate.Ready(now) {
				w.runExtraction(ctx, sessionID, page)
			}
		}
	}
}

func (w *Watcher) injectObserver(ctx context.Context, page *rod.Page) (bool, error) {
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           injectScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (w *Watcher) readDirtyCounter(ctx context.Context, page *rod.Page) (int, error) {
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      dirtyScript,
		ByValue: true,
	})
	if err != nil || res == nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// runExtraction performs one extract -> merge -> report pass. The master
// switch is honored per pass, so the initial report obeys it too.
func (w *Watcher) runExtraction(ctx context.Context, sessionID string, page *rod.Page) {
	if !w.settings.Get().Enabled {
		return
	}

	snap, err := extract.Extract(page.Context(ctx))
	if err != nil {
		log.Printf("[session:%s] extraction failed: %v", sessionID, err)
		return
	}
	if snap.Anomalous {
		log.Printf("[session:%s] extraction anomaly: active %q with no moves and no switch prompt", sessionID, snap.ActiveName)
	}

	cs, reportable := w.store.Merge(sessionID, snap)
	w.touch(sessionID)

	w.addFact(ctx, facts.Fact{
		Predicate: "battle_state",
		Args:      []interface{}{sessionID, cs.ActiveName, len(cs.Moves), time.Now().UnixMilli()},
		Timestamp: time.Now(),
	})

	if reportable && w.pipeline != nil {
		w.pipeline.HandleBattleState(ctx, sessionID, cs)
	}
}

func (w *Watcher) touch(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.battles[sessionID]; ok {
		rec.meta.LastActive = time.Now()
	}
}

func (w *Watcher) updateStatus(sessionID, status string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.battles[sessionID]; ok {
		rec.meta.Status = status
	}
}

func (w *Watcher) updateURL(sessionID, url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.battles[sessionID]; ok {
		rec.meta.URL = url
		rec.meta.LastActive = time.Now()
	}
}

func (w *Watcher) addFact(ctx context.Context, f facts.Fact) {
	if w.engine == nil {
		return
	}
	if err := w.engine.AddFacts(ctx, []facts.Fact{f}); err != nil {
		log.Printf("%s fact error: %v", f.Predicate, err)
	}
}
