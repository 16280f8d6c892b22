package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// SentMessage describes a delivered voice message.
type SentMessage struct {
	Index           int       `json:"index"`
	MessageID       string    `json:"message_id"`
	AudioPath       string    `json:"audio_path"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// Event represents a pipeline event such as a phase change or failure.
type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Formatter renders results for scripts and humans.
type Formatter interface {
	WriteSent(msg SentMessage) error
	WriteEvent(eventType, message string) error
	Close() error
}

// NewFormatter returns the formatter for name ("json" or "text").
func NewFormatter(name string, w io.Writer) (Formatter, error) {
	switch name {
	case "json":
		return NewJSONFormatter(w), nil
	case "text", "":
		return NewPlainTextFormatter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", name)
	}
}

// JSONFormatter writes one JSON object per line.
type JSONFormatter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	sent    []SentMessage
}

func NewJSONFormatter(writer io.Writer) *JSONFormatter {
	return &JSONFormatter{encoder: json.NewEncoder(writer)}
}

func (j *JSONFormatter) WriteSent(msg SentMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sent = append(j.sent, msg)
	return j.encoder.Encode(struct {
		Type string `json:"type"`
		SentMessage
	}{Type: "sent", SentMessage: msg})
}

func (j *JSONFormatter) WriteEvent(eventType, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.encoder.Encode(Event{Type: eventType, Message: message, Timestamp: time.Now()})
}

func (j *JSONFormatter) Close() error { return nil }

// Sent returns every message written so far.
func (j *JSONFormatter) Sent() []SentMessage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]SentMessage(nil), j.sent...)
}

// PlainTextFormatter writes timestamped human-readable lines.
type PlainTextFormatter struct {
	mu     sync.Mutex
	writer io.Writer
}

func NewPlainTextFormatter(writer io.Writer) *PlainTextFormatter {
	return &PlainTextFormatter{writer: writer}
}

func (p *PlainTextFormatter) WriteSent(msg SentMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.writer, "[%s] sent voice message %s (%ds) -> %s\n",
		msg.Timestamp.Format("15:04:05"), msg.MessageID, msg.DurationSeconds, msg.AudioPath)
	return err
}

func (p *PlainTextFormatter) WriteEvent(eventType, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.writer, "[%s] [%s] %s\n", time.Now().Format("15:04:05"), eventType, message)
	return err
}

func (p *PlainTextFormatter) Close() error { return nil }
