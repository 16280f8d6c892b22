package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/emmett/voxmsg/internal/common"
)

// Transport performs a single upload attempt.
type Transport interface {
	// Send delivers item and returns the created message. onProgress, when
	// not nil, receives bytes sent and the total body size.
	Send(ctx context.Context, item Item, onProgress func(sent, total int64)) (*Message, error)
}

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *HTTPError) Error() string { return e.Message }

func (e *HTTPError) Unwrap() error { return e.kind }

// HTTPTransport posts recordings as multipart/form-data to
// {BaseURL}/api/voice-messages.
type HTTPTransport struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPTransport returns a transport using client, or http.DefaultClient.
// Deadlines come from the request context, not the client.
func NewHTTPTransport(baseURL, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  client,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, item Item, onProgress func(sent, total int64)) (*Message, error) {
	body, contentType, err := encodeForm(item)
	if err != nil {
		return nil, fmt.Errorf("%w: build request body: %v", common.ErrUpload, err)
	}

	total := int64(len(body))
	var reader io.Reader = bytes.NewReader(body)
	if onProgress != nil {
		reader = &progressReader{r: reader, total: total, fn: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/api/voice-messages", reader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", common.ErrUpload, err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("%w: read response: %w", common.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp.StatusCode, data)
	}
	return decodeMessage(data)
}

func encodeForm(item Item) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// CreateFormFile would force application/octet-stream.
	contentType := item.Audio.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="voice.%s"`, item.Audio.Extension()))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(item.Audio.Data); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("conversationId", item.ConversationID); err != nil {
		return nil, "", err
	}
	duration := strconv.FormatInt(int64(math.Round(item.DurationSeconds)), 10)
	if err := writer.WriteField("duration", duration); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func responseError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := fmt.Sprintf("Upload failed with status %d", status)
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		msg = payload.Error
	}

	kind := common.ErrUpload
	if status == http.StatusRequestEntityTooLarge {
		kind = common.ErrSizeExceeded
	}
	return &HTTPError{StatusCode: status, Message: msg, kind: kind}
}

func decodeMessage(body []byte) (*Message, error) {
	var payload struct {
		Message *Message `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMetadata, err)
	}

	msg := payload.Message
	if msg == nil {
		return nil, fmt.Errorf("%w: response has no message", common.ErrMetadata)
	}

	var missing []string
	if msg.ID == "" {
		missing = append(missing, "id")
	}
	if msg.Sender == "" {
		missing = append(missing, "sender")
	}
	if msg.CreatedAt == "" {
		missing = append(missing, "created_at")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", common.ErrMetadata, strings.Join(missing, ", "))
	}
	return msg, nil
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
