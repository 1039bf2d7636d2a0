package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeforge/internal/analysis"
	"github.com/rendis/nodeforge/internal/engine"
	"github.com/rendis/nodeforge/internal/expressions"
	"github.com/rendis/nodeforge/internal/logging"
	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/internal/store"
	"github.com/rendis/nodeforge/internal/validation"
)

// Version is reported to MCP clients during initialization.
const Version = "0.4.0"

// SaveMarker is told about manual saves so autosave skips an unchanged
// document.
type SaveMarker interface {
	MarkSaved(rev uint64)
}

// Options tunes the analysis tools.
type Options struct {
	// MaxGroupMembers flags groups holding more nodes. Zero disables the check.
	MaxGroupMembers int
	MinGap          float64
	MinSpacing      float64
}

// ServerDeps holds the dependencies for creating a Server. Executor,
// Registry and Schemas are required; Store enables the persistence tools.
type ServerDeps struct {
	Executor   *engine.Executor
	Registry   *registry.Registry
	Schemas    *validation.SchemaValidator
	Store      store.Store
	Events     engine.EventAppender
	Predicates analysis.Predicate
	Queries    *expressions.GoJQEngine
	Autosave   SaveMarker
	Options    Options
	Logger     *slog.Logger
}

// Server wraps an MCP server with the graph tools.
type Server struct {
	executor   *engine.Executor
	registry   *registry.Registry
	schemas    *validation.SchemaValidator
	store      store.Store
	events     engine.EventAppender
	predicates analysis.Predicate
	queries    *expressions.GoJQEngine
	autosave   SaveMarker
	opts       Options
	logger     *slog.Logger

	sessions *SessionRegistry
	catalog  []server.ServerTool
	// localSession identifies calls that arrive without a transport session.
	localSession string
	mcpServer    *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	s := &Server{
		executor:     deps.Executor,
		registry:     deps.Registry,
		schemas:      deps.Schemas,
		store:        deps.Store,
		events:       deps.Events,
		predicates:   deps.Predicates,
		queries:      deps.Queries,
		autosave:     deps.Autosave,
		opts:         deps.Options,
		logger:       logging.OrDefault(deps.Logger),
		sessions:     NewSessionRegistry(),
		localSession: "local-" + uuid.NewString()[:8],
	}
	if s.queries == nil {
		s.queries = expressions.NewGoJQEngine(0)
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Touch(session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"nodeforge",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithToolHandlerMiddleware(s.correlate),
		server.WithInstructions("nodeforge edits a node-graph workflow. Mutation tools (create_node, create_node_link, update_widget, ...) each run as one atomic transaction; "+
			"use batch to combine several and refer to nodes created earlier in the batch with $refs. "+
			"Inspect with get_workflow, find_nodes and validate_workflow; undo reverts committed transactions."),
	)

	s.catalog = s.tools()
	mcpSrv.AddTools(s.catalog...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the registry of connected sessions.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// correlate tags every tool call with its session and tool name so the
// executor's logs and events can be traced back to a client.
func (s *Server) correlate(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := s.localSession
		if session := server.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
			sessionID = session.SessionID()
		}
		s.sessions.Touch(sessionID)

		ctx = logging.WithSessionID(ctx, sessionID)
		ctx = logging.WithTool(ctx, req.Params.Name)
		start := time.Now()
		res, err := next(ctx, req)
		logging.LogWith(ctx, s.logger).Debug("tool call",
			"duration", time.Since(start),
			"is_error", err != nil || (res != nil && res.IsError))
		return res, err
	}
}
