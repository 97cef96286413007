// Package extract reads the Showdown battle DOM into a state.Snapshot. The DOM
// round-trip is a single JS evaluation returning a JSON document; everything
// after that is a pure decode so it can be tested without a browser.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"battlenerd/internal/state"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// collectScript gathers every field of interest in one pass. The selectors
// mirror the battle client's markup: `.active .pokename` for the active
// combatant, `button[name="chooseMove"]` for the move choices (first text line,
// visual order), `.switchmenu` as the forced-switch marker, trainer team icons
// for the one-time roster render, and `.statbar` rows for live hp/status.
const collectScript = `
() => {
	const firstLine = (s) => (s || '').trim().split('\n')[0].trim();

	const active = document.querySelector('.active .pokename');
	const moves = Array.from(document.querySelectorAll('button[name="chooseMove"]'))
		.map((btn) => firstLine(btn.textContent))
		.filter((m) => m.length > 0);

	const icons = (side) => Array.from(
		document.querySelectorAll(side + ' .teamicons .picon, ' + side + ' .teamicons span')
	).map((el) => el.getAttribute('aria-label') || el.getAttribute('title') || '');

	const bars = Array.from(document.querySelectorAll('.statbar')).map((el) => {
		const name = el.querySelector('strong');
		const hp = el.querySelector('.hptext');
		const status = Array.from(el.querySelectorAll('.status')).map((s) => (s.textContent || '').trim());
		return {
			name: name ? name.textContent : '',
			hpText: hp ? hp.textContent : '',
			status
		};
	});

	return {
		active: active ? active.textContent.trim() : '',
		moves,
		forcedSwitch: !!document.querySelector('.switchmenu'),
		playerIcons: icons('.leftbar'),
		opponentIcons: icons('.rightbar'),
		bars
	};
}
`

// Extract runs one extraction pass against a live page.
func Extract(page *rod.Page) (state.Snapshot, error) {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS:           collectScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("evaluate battle collector: %w", err)
	}
	return remoteSnapshot(res)
}

// remoteSnapshot unpacks an evaluation result. A nil result is its own
// failure mode, distinct from an evaluation error.
func remoteSnapshot(res *proto.RuntimeRemoteObject) (state.Snapshot, error) {
	if res == nil {
		return state.Snapshot{}, errors.New("battle collector returned no result")
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("marshal battle document: %w", err)
	}
	return Decode(raw)
}

type rawBattle struct {
	Active        string       `json:"active"`
	Moves         []string     `json:"moves"`
	ForcedSwitch  bool         `json:"forcedSwitch"`
	PlayerIcons   []string     `json:"playerIcons"`
	OpponentIcons []string     `json:"opponentIcons"`
	Bars          []rawStatbar `json:"bars"`
}

type rawStatbar struct {
	Name   string   `json:"name"`
	HPText string   `json:"hpText"`
	Status []string `json:"status"`
}

// Decode turns a collected battle document into a Snapshot. Every field
// tolerates absence; the UI renders incrementally and fields come and go
// between frames.
func Decode(raw []byte) (state.Snapshot, error) {
	var doc rawBattle
	if err := json.Unmarshal(raw, &doc); err != nil {
		return state.Snapshot{}, fmt.Errorf("decode battle document: %w", err)
	}

	snap := state.Snapshot{
		ActiveName: strings.TrimSpace(doc.Active),
		HP:         make(map[string]*int),
		Status:     make(map[string]*string),
	}

	for _, m := range doc.Moves {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			snap.Moves = append(snap.Moves, trimmed)
		}
	}

	roster := &state.Roster{
		Player:   decodeTeamIcons(doc.PlayerIcons),
		Opponent: decodeTeamIcons(doc.OpponentIcons),
	}
	if !roster.Empty() {
		snap.Roster = roster
	}

	for _, bar := range doc.Bars {
		name := cleanCombatantName(bar.Name)
		if name == "" {
			continue
		}
		snap.HP[name] = parseHPText(bar.HPText)
		snap.Status[name] = normalizeStatus(bar.Status)
	}

	// Active combatant with no moves and no switch prompt is a contradictory
	// frame; keep the data but never report it.
	if snap.ActiveName != "" && len(snap.Moves) == 0 && !doc.ForcedSwitch {
		snap.Anomalous = true
	}

	return snap, nil
}

// Team icon labels look like "Pikachu (75% health)", "Zapdos (fainted)" or just
// "Garchomp"; a trailing "; burned" style clause carries the status condition.
func decodeTeamIcons(labels []string) []state.Combatant {
	var team []state.Combatant
	for _, label := range labels {
		c, ok := parseTeamIcon(label)
		if !ok {
			continue
		}
		team = append(team, c)
	}
	return team
}

func parseTeamIcon(label string) (state.Combatant, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return state.Combatant{}, false
	}

	name := label
	detail := ""
	if i := strings.Index(label, " ("); i >= 0 && strings.HasSuffix(label, ")") {
		name = strings.TrimSpace(label[:i])
		detail = strings.TrimSuffix(label[i+2:], ")")
	}
	if name == "" {
		return state.Combatant{}, false
	}

	c := state.Combatant{Species: name, HP: 100}
	for _, part := range strings.FieldsFunc(detail, func(r rune) bool { return r == ';' || r == ',' }) {
		part = strings.TrimSpace(strings.ToLower(part))
		switch {
		case part == "":
		case part == "fainted":
			c.HP = 0
			fnt := "fnt"
			c.Status = &fnt
		case strings.Contains(part, "%"):
			if hp, err := strconv.Atoi(strings.TrimSpace(strings.Split(part, "%")[0])); err == nil {
				c.HP = hp
			}
		case strings.HasSuffix(part, "health"):
			// "NN% health" already handled; bare "full health" keeps the default.
		default:
			st := part
			c.Status = &st
		}
	}
	return c, true
}

var levelSuffix = regexp.MustCompile(`\s+L\d+$`)

// Statbar titles render as "Pikachu L88" plus gender glyphs; strip both.
func cleanCombatantName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.TrimRight(name, "♂♀")
	name = levelSuffix.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// parseHPText reads "78%" or "78/100" hp bar text. Unreadable text yields nil,
// which registers the name without overwriting a known value downstream.
func parseHPText(raw string) *int {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	if i := strings.Index(text, "%"); i >= 0 {
		text = text[:i]
	} else if i := strings.Index(text, "/"); i >= 0 {
		text = text[:i]
	}
	hp, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil
	}
	return &hp
}

func normalizeStatus(badges []string) *string {
	for _, b := range badges {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			st := strings.ToLower(trimmed)
			return &st
		}
	}
	return nil
}
