// ABOUTME: Tools that proxy skill-scoped external MCP servers through the client pool.

package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	mcppool "github.com/2389/coven-plugin/internal/mcp"
)

type skillHandlers struct {
	pool *mcppool.Pool
}

// sessionArg scopes pooled MCP clients. Callers that do not track sessions
// share one client per skill server.
func sessionArg(req mcp.CallToolRequest) string {
	return req.GetString("session_id", "default")
}

func withSkillServer() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("skill",
			mcp.Required(),
			mcp.Description("The skill whose MCP server to use"),
		),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description("The MCP server name within the skill"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session scope for the pooled connection (default: shared)"),
		),
	}
}

func (h *skillHandlers) acquire(ctx context.Context, req mcp.CallToolRequest) (*mcppool.Client, func(), *mcp.CallToolResult) {
	skill := req.GetString("skill", "")
	server := req.GetString("server", "")
	if skill == "" || server == "" {
		return nil, nil, mcp.NewToolResultError("'skill' and 'server' are required")
	}
	client, release, err := h.pool.Acquire(ctx, sessionArg(req), skill, server)
	if err != nil {
		return nil, nil, mcp.NewToolResultError(err.Error())
	}
	return client, release, nil
}

func (h *skillHandlers) listToolsTool() mcp.Tool {
	opts := append(withSkillServer(),
		mcp.WithDescription("List the tools an external skill MCP server offers."))
	return mcp.NewTool("skill_list_tools", opts...)
}

func (h *skillHandlers) handleListTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, release, errResult := h.acquire(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	defer release()

	result, err := client.ListTools(ctx)
	if err != nil {
		return mcp.NewToolResultError("listing tools: " + err.Error()), nil
	}
	if len(result.Tools) == 0 {
		return mcp.NewToolResultText("The server offers no tools."), nil
	}

	var b strings.Builder
	for _, tool := range result.Tools {
		fmt.Fprintf(&b, "%s: %s\n", tool.Name, tool.Description)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *skillHandlers) callToolTool() mcp.Tool {
	opts := append(withSkillServer(),
		mcp.WithDescription("Call a tool on an external skill MCP server."),
		mcp.WithString("tool",
			mcp.Required(),
			mcp.Description("The tool name to call"),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments for the tool"),
		),
	)
	return mcp.NewTool("skill_call_tool", opts...)
}

func (h *skillHandlers) handleCallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolName := req.GetString("tool", "")
	if toolName == "" {
		return mcp.NewToolResultError("'tool' is required"), nil
	}
	args, _ := req.GetArguments()["arguments"].(map[string]any)

	client, release, errResult := h.acquire(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	defer release()

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("calling %s: %v", toolName, err)), nil
	}
	text := renderContent(result.Content)
	if result.IsError {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (h *skillHandlers) readResourceTool() mcp.Tool {
	opts := append(withSkillServer(),
		mcp.WithDescription("Read a resource from an external skill MCP server."),
		mcp.WithString("uri",
			mcp.Required(),
			mcp.Description("The resource URI"),
		),
	)
	return mcp.NewTool("skill_read_resource", opts...)
}

func (h *skillHandlers) handleReadResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri := req.GetString("uri", "")
	if uri == "" {
		return mcp.NewToolResultError("'uri' is required"), nil
	}

	client, release, errResult := h.acquire(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	defer release()

	result, err := client.ReadResource(ctx, uri)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading %s: %v", uri, err)), nil
	}

	var parts []string
	for _, contents := range result.Contents {
		if contents.Text != "" {
			parts = append(parts, contents.Text)
		} else if len(contents.Blob) > 0 {
			parts = append(parts, fmt.Sprintf("<binary resource, %d bytes, %s>", len(contents.Blob), contents.MIMEType))
		}
	}
	if len(parts) == 0 {
		return mcp.NewToolResultText("The resource is empty."), nil
	}
	return mcp.NewToolResultText(strings.Join(parts, "\n\n")), nil
}

func (h *skillHandlers) getPromptTool() mcp.Tool {
	opts := append(withSkillServer(),
		mcp.WithDescription("Fetch a prompt template from an external skill MCP server."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The prompt name"),
		),
		mcp.WithObject("arguments",
			mcp.Description("String arguments for the prompt template"),
		),
	)
	return mcp.NewTool("skill_get_prompt", opts...)
}

func (h *skillHandlers) handleGetPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	promptName := req.GetString("prompt", "")
	if promptName == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}
	args := make(map[string]string)
	if raw, ok := req.GetArguments()["arguments"].(map[string]any); ok {
		for k, v := range raw {
			args[k] = fmt.Sprint(v)
		}
	}

	client, release, errResult := h.acquire(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	defer release()

	result, err := client.GetPrompt(ctx, promptName, args)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fetching prompt %s: %v", promptName, err)), nil
	}

	var b strings.Builder
	for _, msg := range result.Messages {
		text := renderContent([]sdk.Content{msg.Content})
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, text)
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("The prompt is empty."), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

// renderContent flattens SDK content parts to text. Non-text parts are noted,
// not dropped silently.
func renderContent(content []sdk.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case *sdk.TextContent:
			parts = append(parts, v.Text)
		case *sdk.ImageContent:
			parts = append(parts, fmt.Sprintf("<image %s, %d bytes>", v.MIMEType, len(v.Data)))
		default:
			parts = append(parts, fmt.Sprintf("<%T content>", c))
		}
	}
	return strings.Join(parts, "\n")
}
