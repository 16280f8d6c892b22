// Package mcp exposes the voice message pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/voxmsg/internal/audio"
	"github.com/emmett/voxmsg/internal/errlog"
	"github.com/emmett/voxmsg/internal/upload"
)

// Backend is the part of the pipeline the tools call.
type Backend interface {
	SendFile(ctx context.Context, path, conversationID string, durationSeconds float64, onProgress upload.ProgressFunc) (upload.Result, error)
	SendAudio(ctx context.Context, data []byte, conversationID string, durationSeconds float64, onProgress upload.ProgressFunc) (upload.Result, error)
	PlayMessage(ctx context.Context, messageID string) error
	RecentErrors(n int) []errlog.Entry
	Devices() ([]audio.DeviceInfo, error)
}

type Config struct {
	ServerName    string
	ServerVersion string
}

type Server struct {
	config    Config
	backend   Backend
	logger    *slog.Logger
	mcpServer *sdk.Server
}

func NewServer(cfg Config, backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:  cfg,
		backend: backend,
		logger:  logger.With("component", "mcp"),
	}

	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)
	s.registerTools()

	return s
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &sdk.StdioTransport{})
}

// RunTransport serves over t.
func (s *Server) RunTransport(ctx context.Context, t sdk.Transport) error {
	s.logger.Info("mcp server running", "name", s.config.ServerName, "version", s.config.ServerVersion)
	return s.mcpServer.Run(ctx, t)
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "send_voice_file",
		Description: "Send an audio file from disk as a voice message",
	}, s.handleSendFile)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "send_voice_audio",
		Description: "Send base64-encoded audio as a voice message",
	}, s.handleSendAudio)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "play_message",
		Description: "Play a sent voice message on the local speakers",
	}, s.handlePlayMessage)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "recent_errors",
		Description: "List recent pipeline errors with user-facing explanations",
	}, s.handleRecentErrors)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_devices",
		Description: "List microphones and speakers",
	}, s.handleListDevices)
}
