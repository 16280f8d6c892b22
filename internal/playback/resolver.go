// Package playback fetches voice messages through short-lived signed URLs
// and plays them on an output device.
package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/emmett/voxmsg/internal/common"
)

// Resolver turns a message id into a fetchable audio URL.
type Resolver interface {
	Resolve(ctx context.Context, messageID string) (string, error)
}

// HTTPResolver asks the server for a signed URL at
// {BaseURL}/api/voice-messages/{id}/url.
type HTTPResolver struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPResolver(baseURL, token string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, Client: client}
}

func (r *HTTPResolver) Resolve(ctx context.Context, messageID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/voice-messages/%s/url", r.BaseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return "", fmt.Errorf("resolve audio url: %s", payload.Error)
		}
		return "", fmt.Errorf("resolve audio url: status %d", resp.StatusCode)
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.URL == "" {
		return "", fmt.Errorf("resolve audio url: response has no url")
	}
	return r.absolute(payload.URL)
}

// absolute resolves server-relative URLs against BaseURL.
func (r *HTTPResolver) absolute(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("resolve audio url: %w", err)
	}
	if ref.IsAbs() {
		return raw, nil
	}
	base, err := url.Parse(r.BaseURL + "/")
	if err != nil {
		return "", fmt.Errorf("resolve audio url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
