package api

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/gatekeeper/internal/jobs"
	"github.com/kalambet/gatekeeper/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Tracker  *jobs.Tracker
	Archiver Archiver
}

// NewMCPServer creates an MCP server with the admin tools and resources
// registered. It exposes the same read and trigger surface as the HTTP
// API; agents cannot approve or reject candidates through it.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"gatekeeper",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("gatekeeper — membership admission and audio transcription bot. Tools report membership statistics and transcription job state."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("show_stats",
			mcp.WithDescription("Show membership statistics: total users and counts per admission state."),
		),
		mcpShowStats(deps),
	)

	s.AddTool(
		mcp.NewTool("check_job_status",
			mcp.WithDescription("Report the currently running transcription job, its phase and progress."),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("export_users",
			mcp.WithDescription("Export the user table as CSV and upload it to the configured Drive folder."),
		),
		mcpExportUsers(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"users://pending",
			"Pending Join Requests",
			mcp.WithResourceDescription("Users awaiting an approve/reject decision, with their survey answers"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpShowStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := deps.Store.CountByState()
		if err != nil {
			return mcpError(fmt.Sprintf("counting users: %v", err)), nil
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		return mcpText(fmt.Sprintf(
			"Total users: %d\nPending requests: %d\nApproved: %d\nRejected: %d",
			total,
			counts[storage.StateInSurvey]+counts[storage.StatePendingApproval],
			counts[storage.StateApproved],
			counts[storage.StateRejected])), nil
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		job, err := deps.Tracker.QueryActive()
		if err != nil {
			return mcpError(fmt.Sprintf("querying active job: %v", err)), nil
		}
		if job == nil {
			return mcpText("No transcription job is running."), nil
		}
		return mcpText(fmt.Sprintf("File: %s\nPhase: %s\nStarted: %s",
			filepath.Base(job.ArtifactPath), jobs.Phase(job),
			job.StartedAt.Format("2006-01-02 15:04:05 MST"))), nil
	}
}

func mcpExportUsers(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Archiver.ExportAndArchive(ctx); err != nil {
			return mcpError(fmt.Sprintf("exporting users: %v", err)), nil
		}
		return mcpText("User data exported and uploaded to Google Drive."), nil
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		users, err := deps.Store.ListUsers()
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		pending := make([]userView, 0)
		for _, u := range users {
			if u.State != storage.StatePendingApproval && u.State != storage.StatePendingRejection {
				continue
			}
			pending = append(pending, userView{
				ID:       u.ID,
				Username: u.Username,
				State:    string(u.State),
				JoinedAt: u.JoinedAt,
				Answers:  u.Answers,
			})
		}
		data, err := json.MarshalIndent(pending, "", "  ")
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
