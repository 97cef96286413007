package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"battlenerd/internal/advisor"
	"battlenerd/internal/browser"
	"battlenerd/internal/config"
	"battlenerd/internal/facts"
	"battlenerd/internal/llm"
	mcpserver "battlenerd/internal/mcp"
	"battlenerd/internal/recorder"
	"battlenerd/internal/state"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the BattleNERD MCP config file")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol)
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			// If we can't open log file, disable logging to avoid stderr pollution
			log.SetOutput(io.Discard)
		}
	}

	engine, err := facts.NewEngine(cfg.Facts)
	if err != nil {
		log.Fatalf("failed to initialize fact engine: %v", err)
	}

	settings := config.NewSettingsStore(cfg.Advisor.Settings())
	requester := llm.NewOpenAIRequester()
	adv := advisor.New(settings, requester)
	adv.SetFactSink(engine)

	store := state.NewStore()
	watcher := browser.NewWatcher(cfg.Browser, settings, store, adv, engine)
	adv.SetMoveApplier(watcher)

	rec, err := recorder.NewRecorder(cfg.Server.TraceDir)
	if err != nil {
		log.Printf("flight recorder unavailable: %v", err)
	} else {
		if err := rec.Start("advisor"); err != nil {
			log.Printf("flight recorder start failed: %v", err)
		} else {
			adv.AddStatusSink(rec)
			adv.AddChatSink(rec)
			defer rec.Close()
		}
	}

	if cfg.Browser.AutoStart {
		if err := watcher.Start(ctx); err != nil {
			log.Fatalf("failed to start browser watcher: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; use MCP tools to launch/attach later")
	}

	server, err := mcpserver.NewServer(cfg, watcher, adv, engine, store, settings)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting BattleNERD MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting BattleNERD MCP stdio server")
		startErr = server.Start(ctx)
	}

	_ = watcher.Shutdown(context.Background())

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}
