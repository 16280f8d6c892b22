// Package upload sends voice recordings to the messaging server with
// progress reporting, a per-attempt watchdog, bounded retry and cancellation.
package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/emmett/voxmsg/internal/audio"
)

// Status of an upload task.
type Status string

const (
	StatusUploading   Status = "uploading"
	StatusCompressing Status = "compressing"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// Item is one recording to deliver to a conversation.
type Item struct {
	// ID correlates progress and cancellation. Generated when empty.
	ID              string
	ConversationID  string
	Audio           *audio.Blob
	DurationSeconds float64
}

// MessageID accepts both string and numeric ids from the server.
type MessageID string

func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = MessageID(n.String())
	return nil
}

// Message is the server's record of a delivered voice message.
type Message struct {
	ID            MessageID `json:"id"`
	Sender        string    `json:"sender"`
	Type          string    `json:"type"`
	AudioPath     string    `json:"audio_path"`
	AudioDuration float64   `json:"audio_duration"`
	CreatedAt     string    `json:"created_at"`
	Deleted       bool      `json:"deleted"`
	DeliveredAt   *string   `json:"delivered_at,omitempty"`
	ReadAt        *string   `json:"read_at,omitempty"`
}

// Result of an upload. Build it with succeeded or failed only.
type Result struct {
	Success   bool
	MessageID string
	AudioPath string
	Message   *Message
	Err       error
}

func succeeded(msg *Message) Result {
	return Result{
		Success:   true,
		MessageID: string(msg.ID),
		AudioPath: msg.AudioPath,
		Message:   msg,
	}
}

func failed(err error) Result {
	return Result{Err: err}
}

// ProgressFunc receives upload progress as a percentage in [0, 100].
type ProgressFunc func(percent int)
