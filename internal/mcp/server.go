// Package mcp exposes workbench operations as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mint/backend/internal/auth"
	"mint/backend/internal/logging"
	"mint/backend/internal/services"
)

type Server struct {
	mcpServer *server.MCPServer
	scenarios *services.ScenarioService
	threads   *services.ThreadService
	execution *services.ExecutionService
	logger    *logging.Logger
}

func NewServer(scenarios *services.ScenarioService, threads *services.ThreadService,
	execution *services.ExecutionService, logger *logging.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"MINT Workbench",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		scenarios: scenarios,
		threads:   threads,
		execution: execution,
		logger:    logger.Component("mcp"),
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_scenarios",
			mcp.WithDescription("List modeling scenarios"),
			mcp.WithString("owner", mcp.Description("Owner email. Defaults to the caller, \"all\" lists every scenario")),
		),
		s.handleListScenarios,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_thread",
			mcp.WithDescription("Get a modeling thread with its models, bindings and run summaries"),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The ID of the thread")),
		),
		s.handleGetThread,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"generate_ensembles",
			mcp.WithDescription("Rebuild the executable ensembles of a model from the thread's bindings"),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The ID of the thread")),
			mcp.WithString("model_id", mcp.Required(), mcp.Description("The ID of a model selected in the thread")),
		),
		s.handleGenerateEnsembles,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_thread",
			mcp.WithDescription("Submit the pending ensembles of a model for execution"),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The ID of the thread")),
			mcp.WithString("model_id", mcp.Required(), mcp.Description("The ID of a model selected in the thread")),
		),
		s.handleRunThread,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"thread_results",
			mcp.WithDescription("Get run status, progress and outputs of a model's ensembles"),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The ID of the thread")),
			mcp.WithString("model_id", mcp.Required(), mcp.Description("The ID of a model selected in the thread")),
		),
		s.handleThreadResults,
	)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// threadAndModel reads the two arguments shared by the model-level tools.
func threadAndModel(request mcp.CallToolRequest) (string, string, error) {
	threadID, err := request.RequireString("thread_id")
	if err != nil {
		return "", "", err
	}
	modelID, err := request.RequireString("model_id")
	if err != nil {
		return "", "", err
	}
	return threadID, modelID, nil
}

func (s *Server) handleListScenarios(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := request.GetString("owner", auth.UserFromContext(ctx))
	if owner == "all" {
		owner = ""
	}
	scenarios, err := s.scenarios.ListScenarios(ctx, owner)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list scenarios: %v", err)), nil
	}
	return jsonResult(scenarios)
}

func (s *Server) handleGetThread(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := request.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get thread: %v", err)), nil
	}
	return jsonResult(t)
}

func (s *Server) handleGenerateEnsembles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, modelID, err := threadAndModel(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	gen, err := s.threads.GenerateEnsembles(ctx, threadID, modelID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to generate ensembles: %v", err)), nil
	}
	return jsonResult(gen)
}

func (s *Server) handleRunThread(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, modelID, err := threadAndModel(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.execution.RunThread(ctx, threadID, modelID)
	if err != nil {
		s.logger.Warn("run_thread failed", "thread_id", threadID, "model_id", modelID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run thread: %v", err)), nil
	}
	return jsonResult(report)
}

func (s *Server) handleThreadResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, modelID, err := threadAndModel(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.execution.Results(ctx, threadID, modelID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get results: %v", err)), nil
	}
	return jsonResult(res)
}

// MountHTTPHandlers serves the SSE transport under /mcp. The authenticated user of each
// HTTP request is carried into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return auth.WithUser(ctx, auth.UserFromContext(r.Context()))
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
