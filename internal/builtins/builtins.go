// ABOUTME: Builtin tool packs exposed by the plugin over its own MCP surface.
// ABOUTME: Wires the LSP pool, MCP pool, and background manager into tool handlers.

package builtins

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/coven-plugin/internal/background"
	"github.com/2389/coven-plugin/internal/lsp"
	mcppool "github.com/2389/coven-plugin/internal/mcp"
)

// Deps carries the shared subsystems the tool packs close over.
type Deps struct {
	// WorkspaceRoot anchors language servers and relative paths.
	WorkspaceRoot string
	LSP           *lsp.Pool
	MCP           *mcppool.Pool
	Tasks         *background.Manager
}

// Register adds every builtin tool to the server.
func Register(s *server.MCPServer, deps Deps) {
	lspTools := &lspHandlers{workspaceRoot: deps.WorkspaceRoot, pool: deps.LSP}
	s.AddTool(lspTools.definitionTool(), lspTools.handleDefinition)
	s.AddTool(lspTools.referencesTool(), lspTools.handleReferences)
	s.AddTool(lspTools.diagnosticsTool(), lspTools.handleDiagnostics)
	s.AddTool(lspTools.renameTool(), lspTools.handleRename)

	bgTools := &backgroundHandlers{tasks: deps.Tasks}
	s.AddTool(bgTools.taskTool(), bgTools.handleTask)
	s.AddTool(bgTools.outputTool(), bgTools.handleOutput)
	s.AddTool(bgTools.cancelTool(), bgTools.handleCancel)

	skillTools := &skillHandlers{pool: deps.MCP}
	s.AddTool(skillTools.listToolsTool(), skillTools.handleListTools)
	s.AddTool(skillTools.callToolTool(), skillTools.handleCallTool)
	s.AddTool(skillTools.readResourceTool(), skillTools.handleReadResource)
	s.AddTool(skillTools.getPromptTool(), skillTools.handleGetPrompt)
}

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers decode as float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}
