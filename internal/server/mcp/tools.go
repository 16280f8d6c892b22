package mcp

import (
	"context"
	"encoding/base64"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/voxmsg/internal/common"
	"github.com/emmett/voxmsg/internal/errlog"
	"github.com/emmett/voxmsg/internal/upload"
)

const defaultErrorLimit = 10

func textResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

// toolError reports a failure to the model instead of as a protocol error.
// The model sees only the user-facing message; the cause goes to the log.
func (s *Server) toolError(err error) *sdk.CallToolResult {
	s.logger.Warn("tool call failed", "error", err)
	res := textResult(errlog.FriendlyMessage(err))
	res.IsError = true
	return res
}

func (s *Server) sent(res upload.Result, err error) (*sdk.CallToolResult, any, error) {
	if err != nil {
		return s.toolError(err), nil, nil
	}
	return textResult(fmt.Sprintf("Sent voice message %s (%s)", res.MessageID, res.AudioPath)), nil, nil
}

func (s *Server) handleSendFile(ctx context.Context, req *sdk.CallToolRequest, args SendFileArgs) (*sdk.CallToolResult, any, error) {
	if args.Path == "" {
		return s.toolError(fmt.Errorf("%w: path is required", common.ErrValidation)), nil, nil
	}
	return s.sent(s.backend.SendFile(ctx, args.Path, args.ConversationID, args.DurationSeconds, nil))
}

func (s *Server) handleSendAudio(ctx context.Context, req *sdk.CallToolRequest, args SendAudioArgs) (*sdk.CallToolResult, any, error) {
	data, err := base64.StdEncoding.DecodeString(args.Audio)
	if err != nil {
		return s.toolError(fmt.Errorf("invalid base64 audio: %w", err)), nil, nil
	}
	return s.sent(s.backend.SendAudio(ctx, data, args.ConversationID, args.DurationSeconds, nil))
}

func (s *Server) handlePlayMessage(ctx context.Context, req *sdk.CallToolRequest, args PlayMessageArgs) (*sdk.CallToolResult, any, error) {
	if err := s.backend.PlayMessage(ctx, args.MessageID); err != nil {
		return s.toolError(err), nil, nil
	}
	return textResult("Played " + args.MessageID), nil, nil
}

func (s *Server) handleRecentErrors(ctx context.Context, req *sdk.CallToolRequest, args RecentErrorsArgs) (*sdk.CallToolResult, any, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = defaultErrorLimit
	}
	entries := s.backend.RecentErrors(limit)

	content := []sdk.Content{
		&sdk.TextContent{Text: fmt.Sprintf("Recent errors (%d):", len(entries))},
	}
	for _, e := range entries {
		content = append(content, &sdk.TextContent{Text: fmt.Sprintf("- %s [%s/%s] %s",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Category, e.Severity, e.Message)})
	}
	return &sdk.CallToolResult{Content: content}, nil, nil
}

func (s *Server) handleListDevices(ctx context.Context, req *sdk.CallToolRequest, args ListDevicesArgs) (*sdk.CallToolResult, any, error) {
	devices, err := s.backend.Devices()
	if err != nil {
		return s.toolError(err), nil, nil
	}

	content := []sdk.Content{
		&sdk.TextContent{Text: fmt.Sprintf("Audio devices (%d):", len(devices))},
	}
	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " [default]"
		}
		content = append(content, &sdk.TextContent{Text: fmt.Sprintf("- %s %s: %s%s", d.Type, d.ID, d.Name, marker)})
	}
	return &sdk.CallToolResult{Content: content}, nil, nil
}
