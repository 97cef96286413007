// Package mcp exposes the battle watcher, advisor, and fact journal as MCP
// tools over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"battlenerd/internal/advisor"
	"battlenerd/internal/browser"
	"battlenerd/internal/config"
	"battlenerd/internal/facts"
	"battlenerd/internal/state"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Server wires the MCP runtime, the battle watcher, and the advisor.
type Server struct {
	cfg       config.Config
	watcher   *browser.Watcher
	adv       *advisor.Advisor
	engine    *facts.Engine
	store     *state.Store
	settings  *config.SettingsStore
	statusLog *statusLog
	chatLog   *chatLog
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the battlenerd MCP server and registers all tools. The
// server's status and chat ring buffers register themselves as advisor sinks
// so tool callers can poll recent activity.
func NewServer(cfg config.Config, watcher *browser.Watcher, adv *advisor.Advisor, engine *facts.Engine, store *state.Store, settings *config.SettingsStore) (*Server, error) {
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		watcher:   watcher,
		adv:       adv,
		engine:    engine,
		store:     store,
		settings:  settings,
		statusLog: newStatusLog(statusLogCapacity),
		chatLog:   newChatLog(chatLogCapacity),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	adv.AddStatusSink(server.statusLog)
	adv.AddChatSink(server.chatLog)

	server.registerAllTools()
	return server, nil
}

// Start launches the stdio server (Claude/Gemini CLI default).
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by demos/tests).
func (s *Server) ExecuteTool(name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(context.Background(), args)
}

func (s *Server) registerAllTools() {
	// Browser lifecycle and battle tracking
	s.registerTool(&LaunchBrowserTool{watcher: s.watcher})
	s.registerTool(&ShutdownBrowserTool{watcher: s.watcher})
	s.registerTool(&ListBattlesTool{watcher: s.watcher})
	s.registerTool(&WatchBattleTool{watcher: s.watcher})
	s.registerTool(&AttachBattleTool{watcher: s.watcher})
	s.registerTool(&CloseBattleTool{watcher: s.watcher})
	s.registerTool(&GetBattleStateTool{store: s.store})

	// Advisor conversation and settings
	s.registerTool(&SendChatTool{adv: s.adv})
	s.registerTool(&GetConversationTool{adv: s.adv})
	s.registerTool(&GetStatusTool{adv: s.adv, statusLog: s.statusLog, chatLog: s.chatLog})
	s.registerTool(&ConfigureAdvisorTool{settings: s.settings})
	s.registerTool(&GetAdvisorSettingsTool{settings: s.settings})

	// Fact journal
	s.registerTool(&ReadFactsTool{engine: s.engine})
	s.registerTool(&QueryFactsTool{engine: s.engine})
	s.registerTool(&QueryTemporalTool{engine: s.engine})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
