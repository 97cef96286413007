package mcp

import (
	"context"
	"fmt"

	"battlenerd/internal/browser"
	"battlenerd/internal/state"
)

// LaunchBrowserTool starts Chrome using the configured launch command.
type LaunchBrowserTool struct {
	watcher *browser.Watcher
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Start a Chrome browser instance for battle watching.

CALL THIS FIRST unless the server was started with auto_start.

WHAT IT DOES:
- Launches Chrome with DevTools Protocol enabled (or connects to debugger_url)
- Configures based on server settings (headless, launch flags)
- Returns control URL for debugging

Idempotent: safe to call when already connected.

Returns: {status: "started"|"already_connected", control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.watcher.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.watcher.ControlURL(),
		}, nil
	}

	if err := t.watcher.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.watcher.ControlURL(),
	}, nil
}

// ShutdownBrowserTool stops the managed Chrome instance and ends all battles.
type ShutdownBrowserTool struct {
	watcher *browser.Watcher
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop the Chrome browser and tear down all watched battles.

WHAT IT DOES:
- Closes all tracked battle pages
- Discards canonical battle state and advisor conversations
- Terminates the Chrome process

NOTE: the fact journal persists after shutdown.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.watcher.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "stopped"}, nil
}

// ListBattlesTool lists watched battle rooms.
type ListBattlesTool struct {
	watcher *browser.Watcher
}

func (t *ListBattlesTool) Name() string { return "list-battles" }
func (t *ListBattlesTool) Description() string {
	return `List all battle rooms currently being watched.

USE THIS FIRST to discover session IDs needed by the other battle tools.

Returns: Array of {id, target_id, url, status, created_at, last_active}.`
}
func (t *ListBattlesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListBattlesTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"battles": t.watcher.List()}, nil
}

// WatchBattleTool opens a battle room in a new tab and starts extraction.
type WatchBattleTool struct {
	watcher *browser.Watcher
}

func (t *WatchBattleTool) Name() string { return "watch-battle" }
func (t *WatchBattleTool) Description() string {
	return `Open a Pokemon Showdown battle room and start watching it.

PREREQUISITE: Browser must be running (use launch-browser first if needed).

WHAT IT DOES:
- Opens the battle URL in a new tab
- Hooks a MutationObserver onto the battle container
- Extracts battle state after each mutation burst settles
- Feeds reportable state to the advisor, which clicks the recommended move

ACCEPTS either a full URL or a bare room name:
- "https://play.pokemonshowdown.com/battle-gen9ou-12345"
- "battle-gen9ou-12345" (joined to the configured showdown_url)

Returns: {session: {id, target_id, url, status}} - Use the ID for other tools.`
}
func (t *WatchBattleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Battle URL or bare room name",
			},
		},
		"required": []string{"url"},
	}
}
func (t *WatchBattleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	sess, err := t.watcher.WatchBattle(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

// AttachBattleTool binds to an existing tab by CDP TargetID.
type AttachBattleTool struct {
	watcher *browser.Watcher
}

func (t *AttachBattleTool) Name() string { return "attach-battle" }
func (t *AttachBattleTool) Description() string {
	return `Attach the watcher to an existing Chrome tab by its CDP TargetID.

USE INSTEAD OF watch-battle when the player already has the battle open in a
manually driven tab and you want advice in place.

HOW TO GET target_id:
- From Chrome DevTools Protocol directly
- From chrome://inspect

Returns: {session: {id, target_id, url, status}}.`
}
func (t *AttachBattleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": map[string]interface{}{
				"type":        "string",
				"description": "CDP TargetID of the tab showing the battle",
			},
		},
		"required": []string{"target_id"},
	}
}
func (t *AttachBattleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}

	sess, err := t.watcher.AttachBattle(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

// CloseBattleTool stops watching one battle.
type CloseBattleTool struct {
	watcher *browser.Watcher
}

func (t *CloseBattleTool) Name() string { return "close-battle" }
func (t *CloseBattleTool) Description() string {
	return `Stop watching a battle and discard everything tied to it.

WHAT IT DOES:
- Stops the extraction pump and closes the tab
- Removes canonical battle state
- Ends the advisor conversation for the session

A new watch of the same room starts from scratch.`
}
func (t *CloseBattleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Battle session to close",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *CloseBattleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if err := t.watcher.CloseBattle(sessionID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "closed", "session_id": sessionID}, nil
}

// GetBattleStateTool reads the merged canonical state for a battle.
type GetBattleStateTool struct {
	store *state.Store
}

func (t *GetBattleStateTool) Name() string { return "get-battle-state" }
func (t *GetBattleStateTool) Description() string {
	return `Read the canonical merged state for a watched battle.

WHAT YOU GET:
- active: current active Pokemon name
- moves: the currently offered move names
- roster: both teams as adopted at battle start
- hp / status: per-Pokemon readings accumulated across snapshots

Readings are sticky: a Pokemon whose HP was once read keeps that value until a
fresher reading arrives; a null means the name was seen but never read.`
}
func (t *GetBattleStateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Battle session to inspect",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *GetBattleStateTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	cs, ok := t.store.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown battle: %s", sessionID)
	}
	return map[string]interface{}{
		"session_id": sessionID,
		"active":     cs.ActiveName,
		"moves":      cs.Moves,
		"roster":     cs.Roster,
		"hp":         cs.HP,
		"status":     cs.Status,
	}, nil
}
