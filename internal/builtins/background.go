// ABOUTME: Tools for launching and managing background agent tasks.
// ABOUTME: Every task response carries a session id footer so follow-ups can resume.

package builtins

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/coven-plugin/internal/background"
)

const defaultOutputWait = 60 * time.Second

type backgroundHandlers struct {
	tasks *background.Manager
}

// taskMetadata is the footer appended to every background_task response,
// success or failure, so the caller always learns the session id to resume.
func taskMetadata(sessionID string) string {
	return fmt.Sprintf("\n\n<task_metadata>session_id: %s</task_metadata>", sessionID)
}

func (h *backgroundHandlers) taskTool() mcp.Tool {
	return mcp.NewTool("background_task",
		mcp.WithDescription(
			"Run a prompt in a separate agent session. By default returns immediately "+
				"with a task id to poll via background_output; with sync=true, waits for "+
				"the result. Pass session_id to continue a previous task's session.",
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The task prompt for the background agent"),
		),
		mcp.WithString("description",
			mcp.Description("Short human-readable task title"),
		),
		mcp.WithBoolean("sync",
			mcp.Description("Wait for the task to finish and return its result (default: false)"),
		),
		mcp.WithString("session_id",
			mcp.Description("Resume an existing session instead of creating a new one"),
		),
		mcp.WithString("agent",
			mcp.Description("Agent profile to run the task with"),
		),
		mcp.WithString("variant",
			mcp.Description("Model variant hint passed through to the session host"),
		),
	)
}

func (h *backgroundHandlers) handleTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := req.GetString("prompt", "")
	if prompt == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}

	task, err := h.tasks.Launch(ctx, background.LaunchRequest{
		Prompt:      prompt,
		Description: req.GetString("description", ""),
		SessionID:   req.GetString("session_id", ""),
		Agent:       req.GetString("agent", ""),
		Variant:     req.GetString("variant", ""),
	})
	if err != nil {
		return mcp.NewToolResultError("starting background task: " + err.Error()), nil
	}

	if !boolArg(req, "sync", false) {
		text := fmt.Sprintf("Background task started.\ntask_id: %s", task.ID)
		return mcp.NewToolResultText(text + taskMetadata(task.SessionID)), nil
	}

	final, err := h.tasks.Wait(ctx, task.ID)
	if err != nil {
		// The wait was abandoned, not the task. Cancel it so a dropped sync
		// call does not leave a session grinding on unobserved.
		h.tasks.Cancel(task.ID)
		return mcp.NewToolResultError("Cancelled by user" + taskMetadata(task.SessionID)), nil
	}
	return taskResult(final), nil
}

func (h *backgroundHandlers) outputTool() mcp.Tool {
	return mcp.NewTool("background_output",
		mcp.WithDescription(
			"Fetch the status or result of a background task started by background_task.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("The task id returned by background_task"),
		),
		mcp.WithBoolean("block",
			mcp.Description("Wait for the task to finish instead of returning its current state (default: false)"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("How long a blocking call waits before giving up (default: 60)"),
		),
	)
}

func (h *backgroundHandlers) handleOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}

	task, ok := h.tasks.Get(taskID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no background task %q", taskID)), nil
	}

	if boolArg(req, "block", false) {
		wait := time.Duration(intArg(req, "timeout_seconds", int(defaultOutputWait/time.Second))) * time.Second
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		final, err := h.tasks.Wait(waitCtx, taskID)
		if err != nil {
			return mcp.NewToolResultText(
				fmt.Sprintf("Task %s is still running after %s.", taskID, wait) + taskMetadata(task.SessionID)), nil
		}
		return taskResult(final), nil
	}
	if !task.Terminal() {
		elapsed := time.Since(task.StartedAt).Round(time.Second)
		return mcp.NewToolResultText(
			fmt.Sprintf("Task %s is still running (%s elapsed).", taskID, elapsed) + taskMetadata(task.SessionID)), nil
	}
	return taskResult(task), nil
}

func (h *backgroundHandlers) cancelTool() mcp.Tool {
	return mcp.NewTool("background_cancel",
		mcp.WithDescription(
			"Cancel a running background task, or all of them.",
		),
		mcp.WithString("task_id",
			mcp.Description("The task to cancel; omit with all=true to cancel everything"),
		),
		mcp.WithBoolean("all",
			mcp.Description("Cancel every running task (default: false)"),
		),
	)
}

func (h *backgroundHandlers) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if boolArg(req, "all", false) {
		n := h.tasks.CancelAll()
		return mcp.NewToolResultText(fmt.Sprintf("Cancelled %d task(s).", n)), nil
	}

	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("either 'task_id' or 'all' is required"), nil
	}
	if !h.tasks.Cancel(taskID) {
		return mcp.NewToolResultError(fmt.Sprintf("no running background task %q", taskID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cancelled task %s.", taskID)), nil
}

// taskResult renders a terminal task, footer included on both outcomes.
func taskResult(task background.Task) *mcp.CallToolResult {
	footer := taskMetadata(task.SessionID)
	if task.Status == background.StatusFailed {
		return mcp.NewToolResultError(task.Error + footer)
	}
	return mcp.NewToolResultText(task.Result + footer)
}
