package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/emmett/voxmsg/internal/server/mcp"
)

// MCPHandler runs the MCP server over stdio.
type MCPHandler struct {
	version    string
	gitCommit  string
	configPath string
	log        io.Writer
}

func NewMCPHandler(version, gitCommit, configPath string) *MCPHandler {
	return &MCPHandler{
		version:    version,
		gitCommit:  gitCommit,
		configPath: configPath,
		log:        os.Stderr,
	}
}

type mcpServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// ClientConfig returns the mcpServers JSON block for registering this binary.
func (h *MCPHandler) ClientConfig(execPath string) ([]byte, error) {
	var args []string
	if h.configPath != "" {
		args = append(args, "-config", h.configPath)
	}
	return json.MarshalIndent(map[string]map[string]mcpServerEntry{
		"mcpServers": {
			"voxmsg": {Command: execPath, Args: args},
		},
	}, "", "  ")
}

// Run serves until ctx is done or stdin closes. Stdout carries the protocol,
// so all human-readable output goes to stderr.
func (h *MCPHandler) Run(ctx context.Context, p *Pipeline) error {
	fmt.Fprintf(h.log, "Starting MCP server (stdio), version %s (commit: %s)\n", h.version, h.gitCommit)

	execPath, err := os.Executable()
	if err != nil {
		execPath = "voxmsg-mcp"
	}
	if cfg, err := h.ClientConfig(execPath); err == nil {
		fmt.Fprintf(h.log, "MCP client configuration:\n%s\n\n", cfg)
	}

	server := mcp.NewServer(mcp.Config{
		ServerName:    "voxmsg",
		ServerVersion: h.version,
	}, p, p.Logger)

	err = server.Run(ctx)
	p.Close()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
