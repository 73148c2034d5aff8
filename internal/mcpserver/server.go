// Package mcpserver exposes the workflow over MCP (Model Context
// Protocol) stdio transport, so an LLM assistant can submit tasks,
// draft plans, and request approvals without bypassing the gate.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/stage"
	"github.com/mckinley/stagehand/internal/workflow"
)

// Server wraps the MCP server with workflow tools.
type Server struct {
	mcp *server.MCPServer
	svc *workflow.Service
}

// New creates an MCP server with all workflow tools registered.
func New(svc *workflow.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Stagehand",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("submit_task",
		mcp.WithDescription("Create a new task record in Needs_Action."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source kind: filesystem, mail, social, or manual")),
		mcp.WithString("priority", mcp.Description("Priority: high, medium, or low (default medium)")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Free-text Markdown body")),
	), s.submitTask)

	s.mcp.AddTool(mcp.NewTool("list_stage",
		mcp.WithDescription("List the records currently in one stage collection."),
		mcp.WithString("stage", mcp.Required(), mcp.Description("Stage name, e.g. Needs_Action or Pending_Approval")),
	), s.listStage)

	s.mcp.AddTool(mcp.NewTool("read_record",
		mcp.WithDescription("Read one record by identity, wherever it currently lives."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record identity")),
	), s.readRecord)

	s.mcp.AddTool(mcp.NewTool("request_approval",
		mcp.WithDescription("Propose an externally visible action for a task. The action is held "+
			"in Pending_Approval until a human approves or rejects it; nothing is sent now."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Identity of the task the action belongs to")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action kind: send_message, create_post, schedule_post, or other")),
		mcp.WithString("payload", mcp.Required(), mcp.Description("The opaque action payload to gate")),
	), s.requestApproval)

	s.mcp.AddTool(mcp.NewTool("approve_request",
		mcp.WithDescription("Resolve a pending approval request as approved. Execution happens on "+
			"the orchestrator's next pass."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Approval request identity")),
	), s.approveRequest)

	s.mcp.AddTool(mcp.NewTool("reject_request",
		mcp.WithDescription("Resolve a pending approval request as rejected."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Approval request identity")),
	), s.rejectRequest)

	s.mcp.AddTool(mcp.NewTool("create_plan",
		mcp.WithDescription("Create a multi-step plan linked to a task. Read the record contract "+
			"first via get_record_contract or the stagehand://record-format resource."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Identity of the originating task")),
		mcp.WithString("objective", mcp.Required(), mcp.Description("What the plan accomplishes")),
		mcp.WithString("steps", mcp.Required(), mcp.Description("Step descriptions, one per line")),
	), s.createPlan)

	s.mcp.AddTool(mcp.NewTool("advance_plan_step",
		mcp.WithDescription("Mark one plan step complete (zero-based index)."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Plan identity")),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("Zero-based step index")),
	), s.advancePlanStep)

	s.mcp.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Aggregate workflow status: per-stage counts, approvals nearing expiry, alerts."),
	), s.getStatus)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the canonical record format contract."),
	), s.getRecordContract)

	// Resource: record format contract.
	s.mcp.AddResource(
		mcp.NewResource("stagehand://record-format", "Record Format Contract",
			mcp.WithResourceDescription("Canonical record format for tasks, approval requests, and plans."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) submitTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	priority := ""
	if p, err := req.RequireString("priority"); err == nil {
		priority = p
	}
	task, err := s.svc.Submit(ctx, record.Source(source), record.Priority(priority), nil, body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", task.ID)), nil
}

func (s *Server) listStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st := stage.Stage(name)
	if !st.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown stage: %s", name)), nil
	}
	items, err := s.svc.ListStage(ctx, st)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.GetRecord(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(detail, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) requestApproval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := req.RequireString("payload")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	approvalReq, err := s.svc.RequestApproval(ctx, taskID, record.ActionKind(action), payload)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("pending approval: %s (expires %s)",
		approvalReq.ID, approvalReq.Expires.UTC().Format(time.RFC3339))), nil
}

func (s *Server) approveRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Approve(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("approved: %s", id)), nil
}

func (s *Server) rejectRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Reject(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("rejected: %s", id)), nil
}

func (s *Server) createPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	objective, err := req.RequireString("objective")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("steps")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var steps []string
	for _, line := range strings.Split(raw, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			steps = append(steps, trimmed)
		}
	}
	p, err := s.svc.CreatePlan(ctx, taskID, objective, steps, time.Time{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("plan created: %s (%d steps)", p.ID, len(steps))), nil
}

func (s *Server) advancePlanStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	index, err := req.RequireFloat("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.AdvanceStep(ctx, id, int(index))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("plan %s status: %s", p.ID, p.Status)), nil
}

func (s *Server) getStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.svc.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(snap, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getRecordContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readRecordFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "stagehand://record-format",
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
