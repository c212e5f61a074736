// ABOUTME: Language intelligence tools backed by the pooled LSP clients.
// ABOUTME: Positions cross the boundary 1-based for lines, 0-based for characters.

package builtins

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/coven-plugin/internal/lsp"
)

type lspHandlers struct {
	workspaceRoot string
	pool          *lsp.Pool
}

func (h *lspHandlers) definitionTool() mcp.Tool {
	return mcp.NewTool("lsp_goto_definition",
		mcp.WithDescription(
			"Find where a symbol is defined. Uses the language server for the file's "+
				"language, so results are semantically exact rather than text matches.",
		),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the file containing the symbol"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("Line number of the symbol (1-based)"),
		),
		mcp.WithNumber("character",
			mcp.Required(),
			mcp.Description("Character offset within the line (0-based)"),
		),
	)
}

func (h *lspHandlers) handleDefinition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, line, character, errResult := h.positionArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	client, release, err := h.pool.Acquire(ctx, h.workspaceRoot, path)
	if err != nil {
		return lspError(err), nil
	}
	defer release()

	locations, err := client.Definition(ctx, path, line, character)
	if err != nil {
		return lspError(err), nil
	}
	if len(locations) == 0 {
		return mcp.NewToolResultText("No definition found."), nil
	}
	return mcp.NewToolResultText(lsp.FormatLocations(locations)), nil
}

func (h *lspHandlers) referencesTool() mcp.Tool {
	return mcp.NewTool("lsp_find_references",
		mcp.WithDescription(
			"Find every reference to the symbol at a position across the workspace.",
		),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the file containing the symbol"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("Line number of the symbol (1-based)"),
		),
		mcp.WithNumber("character",
			mcp.Required(),
			mcp.Description("Character offset within the line (0-based)"),
		),
		mcp.WithBoolean("include_declaration",
			mcp.Description("Include the declaration itself in the results (default: true)"),
		),
	)
}

func (h *lspHandlers) handleReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, line, character, errResult := h.positionArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	includeDeclaration := boolArg(req, "include_declaration", true)

	client, release, err := h.pool.Acquire(ctx, h.workspaceRoot, path)
	if err != nil {
		return lspError(err), nil
	}
	defer release()

	locations, err := client.References(ctx, path, line, character, includeDeclaration)
	if err != nil {
		return lspError(err), nil
	}
	if len(locations) == 0 {
		return mcp.NewToolResultText("No references found."), nil
	}
	return mcp.NewToolResultText(lsp.FormatLocations(locations)), nil
}

func (h *lspHandlers) diagnosticsTool() mcp.Tool {
	return mcp.NewTool("lsp_diagnostics",
		mcp.WithDescription(
			"Get compiler and linter diagnostics for a file from its language server.",
		),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the file to check"),
		),
		mcp.WithString("severity",
			mcp.Description("Only report this severity: error, warning, information, or hint"),
		),
	)
}

func (h *lspHandlers) handleDiagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := h.resolvePath(req.GetString("file_path", ""))
	if path == "" {
		return mcp.NewToolResultError("'file_path' is required"), nil
	}
	severity := req.GetString("severity", "")

	client, release, err := h.pool.Acquire(ctx, h.workspaceRoot, path)
	if err != nil {
		return lspError(err), nil
	}
	defer release()

	diagnostics, err := client.Diagnostics(ctx, path)
	if err != nil {
		return lspError(err), nil
	}
	if len(diagnostics) == 0 {
		return mcp.NewToolResultText("No diagnostics."), nil
	}
	formatted := lsp.FormatDiagnostics(diagnostics, severity)
	if formatted == "" {
		return mcp.NewToolResultText(fmt.Sprintf("No %s diagnostics.", severity)), nil
	}
	return mcp.NewToolResultText(formatted), nil
}

func (h *lspHandlers) renameTool() mcp.Tool {
	return mcp.NewTool("lsp_rename",
		mcp.WithDescription(
			"Rename the symbol at a position across the whole workspace. "+
				"Edits are applied to disk; the result lists every changed file.",
		),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the file containing the symbol"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("Line number of the symbol (1-based)"),
		),
		mcp.WithNumber("character",
			mcp.Required(),
			mcp.Description("Character offset within the line (0-based)"),
		),
		mcp.WithString("new_name",
			mcp.Required(),
			mcp.Description("The new symbol name"),
		),
	)
}

func (h *lspHandlers) handleRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, line, character, errResult := h.positionArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	newName := req.GetString("new_name", "")
	if newName == "" {
		return mcp.NewToolResultError("'new_name' is required"), nil
	}

	client, release, err := h.pool.Acquire(ctx, h.workspaceRoot, path)
	if err != nil {
		return lspError(err), nil
	}
	defer release()

	edit, err := client.Rename(ctx, path, line, character, newName)
	if err != nil {
		return lspError(err), nil
	}
	summary := lsp.ApplyWorkspaceEdit(edit)
	if summary == "" {
		return mcp.NewToolResultText("No edits needed."), nil
	}
	return mcp.NewToolResultText(summary), nil
}

// positionArgs extracts the common (file_path, line, character) triple.
func (h *lspHandlers) positionArgs(req mcp.CallToolRequest) (string, int, int, *mcp.CallToolResult) {
	path := h.resolvePath(req.GetString("file_path", ""))
	if path == "" {
		return "", 0, 0, mcp.NewToolResultError("'file_path' is required")
	}
	line := intArg(req, "line", 0)
	if line < 1 {
		return "", 0, 0, mcp.NewToolResultError("'line' must be a positive 1-based line number")
	}
	character := intArg(req, "character", -1)
	if character < 0 {
		return "", 0, 0, mcp.NewToolResultError("'character' must be a non-negative 0-based offset")
	}
	return path, line, character, nil
}

func (h *lspHandlers) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(h.workspaceRoot, path)
}

// lspError renders pool and client failures. The typed errors carry
// actionable detail (install hints, warmup state, captured stderr) that the
// generic rendering would bury.
func lspError(err error) *mcp.CallToolResult {
	var notInstalled *lsp.NotInstalledError
	var unsupported *lsp.UnsupportedFileError
	var stillInit *lsp.StillInitializingError
	switch {
	case errors.As(err, &notInstalled), errors.As(err, &unsupported), errors.As(err, &stillInit):
		return mcp.NewToolResultError(err.Error())
	default:
		return mcp.NewToolResultError("language server request failed: " + err.Error())
	}
}
