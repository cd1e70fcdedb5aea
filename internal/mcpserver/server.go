// Package mcpserver exposes pipeline parsing and execution as MCP tools
// over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/marcelocantos/pipecmd/internal/broker"
	"github.com/marcelocantos/pipecmd/internal/pipeline"
)

const instructions = `pipecmd runs process pipelines without a shell.
A description is a sequence of stages separated by =>; each stage is a
comma-separated list of expressions, the first naming the program:
  "ls", "-l" => "grep", "go" => "wc", "-l"
Only the last stage's output and exit status are reported.`

// handler holds what the tool handlers share.
type handler struct {
	broker *broker.Broker
	log    *zap.Logger
}

// NewServer returns an MCP server with the pipe_* tools registered.
func NewServer(b *broker.Broker, version string) *server.MCPServer {
	h := &handler{broker: b, log: b.Log}
	if h.log == nil {
		h.log = zap.NewNop()
	}

	s := server.NewMCPServer("pipecmd", version,
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions),
	)

	s.AddTool(mcp.NewTool("pipe_parse",
		mcp.WithDescription("Parse a pipeline description and return its stages as JSON without running anything."),
		mcp.WithString("pipeline", mcp.Required(), mcp.Description("Pipeline description, e.g. \"ls\" => \"wc\", \"-l\"")),
		mcp.WithBoolean("literal", mcp.Description("Treat expressions as bare words or quoted strings instead of evaluating them")),
	), h.parseHandler)

	s.AddTool(mcp.NewTool("pipe_output",
		mcp.WithDescription(`Run a pipeline and return the last stage's captured stdout, stderr and exit code.

Earlier stages write their stderr to the server's stderr. Returns JSON
{run_id, stdout, stderr, exit_code}.`),
		mcp.WithString("pipeline", mcp.Required(), mcp.Description("Pipeline description")),
		mcp.WithString("stdin", mcp.Description("Data fed to the first stage's stdin")),
		mcp.WithBoolean("literal", mcp.Description("Treat expressions as bare words or quoted strings instead of evaluating them")),
		mcp.WithBoolean("allow", mcp.Description("Bypass configured rules (hardcoded safety rules still apply)")),
	), h.outputHandler)

	s.AddTool(mcp.NewTool("pipe_status",
		mcp.WithDescription("Run a pipeline, discard the last stage's output and return JSON {run_id, exit_code}."),
		mcp.WithString("pipeline", mcp.Required(), mcp.Description("Pipeline description")),
		mcp.WithString("stdin", mcp.Description("Data fed to the first stage's stdin")),
		mcp.WithBoolean("literal", mcp.Description("Treat expressions as bare words or quoted strings instead of evaluating them")),
		mcp.WithBoolean("allow", mcp.Description("Bypass configured rules (hardcoded safety rules still apply)")),
	), h.statusHandler)

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(b *broker.Broker, version string) error {
	return server.ServeStdio(NewServer(b, version))
}

type outputResult struct {
	RunID    string `json:"run_id"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type statusResult struct {
	RunID    string `json:"run_id"`
	ExitCode int    `json:"exit_code"`
}

func (h *handler) parseHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	desc, err := req.RequireString("pipeline")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stages, err := h.parse(req, desc)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(stages)
}

func (h *handler) outputHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.run(req, broker.ModeOutput)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(outputResult{
		RunID:    res.RunID,
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		ExitCode: res.Status.Code,
	})
}

func (h *handler) statusHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.run(req, broker.ModeStatus)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(statusResult{RunID: res.RunID, ExitCode: res.Status.Code})
}

func (h *handler) run(req mcp.CallToolRequest, mode broker.Mode) (*broker.Result, error) {
	desc, err := req.RequireString("pipeline")
	if err != nil {
		return nil, err
	}
	stages, err := h.parse(req, desc)
	if err != nil {
		return nil, err
	}
	h.log.Debug("tool call", zap.String("tool", req.Params.Name), zap.String("pipeline", desc))

	// Stdin and stdout carry the protocol; neither may leak into a stage.
	return h.broker.Run(broker.Request{
		Stages: stages,
		Mode:   mode,
		Allow:  req.GetBool("allow", false),
		Source: "mcp",
		Stdin:  strings.NewReader(req.GetString("stdin", "")),
		Stdout: io.Discard,
	})
}

func (h *handler) parse(req mcp.CallToolRequest, desc string) ([]pipeline.Stage, error) {
	if req.GetBool("literal", false) {
		return h.broker.ParseLiteral(desc)
	}
	return h.broker.ParseExpr(desc)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports err to the client with the phase that produced it.
func errorResult(err error) *mcp.CallToolResult {
	var denied *broker.DeniedError
	if errors.As(err, &denied) {
		return mcp.NewToolResultError(err.Error())
	}
	if phase := pipeline.PhaseOf(err); phase != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", phase, err))
	}
	return mcp.NewToolResultError(err.Error())
}
