package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeforge/internal/engine"
	"github.com/rendis/nodeforge/internal/patch"
	"github.com/rendis/nodeforge/pkg/schema"
)

// handleMutation runs one allow-listed command as its own transaction, so
// a multi-item call is atomic as well.
func (s *Server) handleMutation(tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cmd := engine.RawCommand{"tool": tool, "params": req.GetArguments()}
		res, err := s.executor.Execute(ctx, []engine.RawCommand{cmd}, engine.ExecOptions{})
		env := res.Envelope(err)
		if err == nil && len(res.Results) == 1 {
			env["result"] = res.Results[0].Result
			delete(env, "results")
		}
		return envelope(env)
	}
}

// batchArgs is the input of the batch tool.
type batchArgs struct {
	Commands     []engine.RawCommand `json:"commands"`
	DryRun       bool                `json:"dry_run"`
	ValidateOnly bool                `json:"validate_only"`
	Label        string              `json:"label"`
}

// handleBatch runs several commands as one transaction.
func (s *Server) handleBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args batchArgs
	if err := req.BindArguments(&args); err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "commands must be a list of command objects").WithCause(err))
	}
	if args.ValidateOnly {
		v := s.executor.Validate(args.Commands)
		env := schema.Success(map[string]any{"valid": v.Valid(), "errors": v.Errors, "commands": len(args.Commands)})
		return envelope(env)
	}
	res, err := s.executor.Execute(ctx, args.Commands, engine.ExecOptions{DryRun: args.DryRun, Label: args.Label})
	return envelope(res.Envelope(err))
}

// handleUndo reverts committed transactions.
func (s *Server) handleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.executor.Undo(ctx, req.GetInt("count", 1))
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{
		"undone":    res.Undone,
		"labels":    res.Labels,
		"remaining": res.Remaining,
		"revision":  res.Revision,
	})
}

// handlePatch applies RFC 6902 operations to the document JSON.
func (s *Server) handlePatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Patches []patch.Operation `json:"patches"`
	}
	if err := req.BindArguments(&args); err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "patches must be a list of operations").WithCause(err))
	}
	if len(args.Patches) == 0 {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "patches must not be empty"))
	}
	res, err := s.executor.ApplyPatch(ctx, args.Patches)
	if err != nil {
		return failure(err)
	}
	return documentEnvelope(res)
}

// handleSetJSON replaces the whole document.
func (s *Server) handleSetJSON(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflow, ok := req.GetArguments()["workflow"]
	if !ok || workflow == nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "workflow is required"))
	}
	res, err := s.executor.Replace(ctx, workflow)
	if err != nil {
		return failure(err)
	}
	return documentEnvelope(res)
}

// --- Result helpers ---

func documentEnvelope(res *engine.DocumentResult) (*mcp.CallToolResult, error) {
	fields := map[string]any{
		"revision": res.Revision,
		"nodes":    res.Nodes,
		"links":    res.Links,
		"groups":   res.Groups,
	}
	if res.Issues != nil {
		fields["issues"] = res.Issues.Errors
	}
	return success(fields)
}

func success(fields map[string]any) (*mcp.CallToolResult, error) {
	return envelope(schema.Success(fields))
}

func failure(err error) (*mcp.CallToolResult, error) {
	return envelope(schema.Failure(err))
}

// envelope converts an envelope to a JSON text tool result. Failed
// envelopes are flagged as tool errors.
func envelope(env schema.Envelope) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	res, err := mcp.NewToolResultJSON(json.RawMessage(data))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res.IsError = !env.OK()
	return res, nil
}
