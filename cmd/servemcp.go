package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/freeitw/freeitw/internal/bootstrap"
	"github.com/freeitw/freeitw/internal/catalog"
	"github.com/freeitw/freeitw/internal/config"
	"github.com/freeitw/freeitw/internal/lambda"
	"github.com/freeitw/freeitw/internal/stream"
)

var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Expose ad-hoc script execution as an MCP tool over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServeMCP()
	},
}

func init() {
	rootCmd.AddCommand(serveMCPCmd)
}

func runServeMCP() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = &config.Config{}
	}
	if _, err := bootstrap.Run(cfg); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	cat := catalog.New()
	rebuildSandboxes(cat, cfg, nil)

	s := newMCPExecServer(cat)
	return server.ServeStdio(s)
}

// newMCPExecServer builds an MCP server exposing one "exec" tool that runs
// an ad-hoc script in one of cat's sandboxes and returns its combined
// output followed by its exit status line, reusing the same materializer and stream multiplexer the HTTP
// execution endpoint drives.
func newMCPExecServer(cat *catalog.Catalog) *server.MCPServer {
	s := server.NewMCPServer("freeitw", "0.1.0")

	execTool := mcp.NewTool(
		"exec",
		mcp.WithDescription("Run an ad-hoc bash or python script inside a named sandbox and return its combined stdout/stderr followed by its exit status."),
		mcp.WithString("language", mcp.Description("\"bash\" or \"py\""), mcp.Required()),
		mcp.WithString("script", mcp.Description("The script body"), mcp.Required()),
		mcp.WithString("sandbox", mcp.Description("Sandbox name (default \"host\")")),
		mcp.WithString("args", mcp.Description("Space-separated arguments")),
		mcp.WithString("entrypoint", mcp.Description("Python entrypoint function name, if language is py")),
		mcp.WithString("stdin", mcp.Description("Text to deliver on the script's standard input")),
	)

	s.AddTool(execTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		language, err := req.RequireString("language")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: language"), nil
		}
		script, err := req.RequireString("script")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: script"), nil
		}
		sandboxName := stringParam(req, "sandbox", "host")
		args := strings.Fields(stringParam(req, "args", ""))
		entrypoint := stringParam(req, "entrypoint", "")
		stdin := stringParam(req, "stdin", "")

		var l *lambda.Lambda
		switch language {
		case "bash":
			l = &lambda.Lambda{Kind: lambda.KindBash, Script: script}
		case "py":
			l = &lambda.Lambda{Kind: lambda.KindPython, PyCode: script, Entrypoint: entrypoint}
		default:
			return mcp.NewToolResultError(`language must be "bash" or "py"`), nil
		}

		sb, ok := cat.Sandboxs.Get(sandboxName)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown sandbox %q", sandboxName)), nil
		}

		child, err := lambda.Spawn(l, sb, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var out bytes.Buffer
		for ev := range stream.Run(ctx, child, strings.NewReader(stdin), true) {
			if ev.Kind == stream.EventError {
				return mcp.NewToolResultError(ev.Err.Error()), nil
			}
			out.Write(ev.Data)
		}
		return mcp.NewToolResultText(out.String()), nil
	})

	return s
}

func stringParam(req mcp.CallToolRequest, name, def string) string {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		if v, ok := args[name]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return def
}
