package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

// gatewayClient issues read-only requests against a running braid gateway.
type gatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *gatewayClient) get(ctx context.Context, path string, query url.Values) (string, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func mcpCmd() *cobra.Command {
	var (
		baseURL string
		token   string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve braid introspection tools over MCP stdio",
		Long:  "Exposes read-only session, usage and stream introspection of a running braid gateway as MCP tools on stdin/stdout.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &gatewayClient{
				baseURL: baseURL,
				token:   token,
				http:    &http.Client{Timeout: 30 * time.Second},
			}
			return runMCPServer(client)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://127.0.0.1:8080", "Base URL of the running gateway")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for the gateway API")
	return cmd
}

func runMCPServer(client *gatewayClient) error {
	s := server.NewMCPServer("braid", version,
		server.WithToolCapabilities(false),
	)

	textTool := func(tool mcp.Tool, fn func(ctx context.Context, req mcp.CallToolRequest) (string, error)) {
		s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			out, err := fn(ctx, req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(out), nil
		})
	}

	textTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List all conversation sessions"),
	), func(ctx context.Context, _ mcp.CallToolRequest) (string, error) {
		return client.get(ctx, "/api/sessions", nil)
	})

	textTool(mcp.NewTool("get_thread",
		mcp.WithDescription("Fetch the resolved message thread of a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("branch_id", mcp.Description("Branch to resolve; the active branch when omitted")),
	), func(ctx context.Context, req mcp.CallToolRequest) (string, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return "", err
		}
		q := url.Values{}
		if branch := req.GetString("branch_id", ""); branch != "" {
			q.Set("branch_id", branch)
		}
		return client.get(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/thread", q)
	})

	textTool(mcp.NewTool("list_branches",
		mcp.WithDescription("List the branches of a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), func(ctx context.Context, req mcp.CallToolRequest) (string, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return "", err
		}
		return client.get(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/branches", nil)
	})

	textTool(mcp.NewTool("session_usage",
		mcp.WithDescription("Report token usage for a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), func(ctx context.Context, req mcp.CallToolRequest) (string, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return "", err
		}
		return client.get(ctx, "/api/usage/sessions/"+url.PathEscape(sessionID), nil)
	})

	textTool(mcp.NewTool("active_streams",
		mcp.WithDescription("List streams currently in flight"),
	), func(ctx context.Context, _ mcp.CallToolRequest) (string, error) {
		return client.get(ctx, "/api/streams", nil)
	})

	textTool(mcp.NewTool("server_status",
		mcp.WithDescription("Report gateway uptime, session count and provider names"),
	), func(ctx context.Context, _ mcp.CallToolRequest) (string, error) {
		return client.get(ctx, "/api/status", nil)
	})

	return server.ServeStdio(s)
}
