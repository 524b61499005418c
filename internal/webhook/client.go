// Package webhook posts JSON payloads to the automation host.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ExpeditionFlow/internal/config"

	"go.uber.org/zap"
)

type Client struct {
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg *config.Config, log *zap.Logger) *Client {
	return &Client{http: &http.Client{Timeout: cfg.Webhooks.Timeout}, log: log.Named("webhook")}
}

// Response is a 2xx answer. JSON is set when the body parsed as JSON.
type Response struct {
	StatusCode int
	Body       []byte
	JSON       bool
}

// Decode unmarshals a JSON body into out.
func (r *Response) Decode(out any) error {
	if !r.JSON {
		return &MalformedError{Reason: "body is not JSON", Body: string(r.Body)}
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &MalformedError{Reason: err.Error(), Body: string(r.Body)}
	}
	return nil
}

// Post sends payload as JSON. name identifies the purpose in errors and logs.
func (c *Client) Post(ctx context.Context, name, url string, payload any) (*Response, error) {
	if url == "" {
		return nil, &ConfigError{Name: name}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: marshal payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("webhook %s: build request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: read response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Name: name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	trimmed := bytes.TrimSpace(body)
	out := &Response{StatusCode: resp.StatusCode, Body: body, JSON: len(trimmed) > 0 && json.Valid(trimmed)}
	c.log.Debug("webhook answered", zap.String("webhook", name), zap.Int("status", resp.StatusCode), zap.Bool("json", out.JSON))
	return out, nil
}

// GeneratedFile is a document created by the automation host.
type GeneratedFile struct {
	ID          string `json:"id"`
	WebViewLink string `json:"webViewLink"`
}

// GenerateDocument posts payload and expects [{id, webViewLink}] or a single such
// object back.
func (c *Client) GenerateDocument(ctx context.Context, name, url string, payload any) (GeneratedFile, error) {
	resp, err := c.Post(ctx, name, url, payload)
	if err != nil {
		return GeneratedFile{}, err
	}
	if !resp.JSON {
		return GeneratedFile{}, &MalformedError{Name: name, Reason: "body is not JSON", Body: string(resp.Body)}
	}

	var file GeneratedFile
	trimmed := bytes.TrimSpace(resp.Body)
	if strings.HasPrefix(string(trimmed), "[") {
		var files []GeneratedFile
		if err := json.Unmarshal(trimmed, &files); err != nil {
			return GeneratedFile{}, &MalformedError{Name: name, Reason: err.Error(), Body: string(resp.Body)}
		}
		if len(files) == 0 {
			return GeneratedFile{}, &MalformedError{Name: name, Reason: "empty file list", Body: string(resp.Body)}
		}
		file = files[0]
	} else if err := json.Unmarshal(trimmed, &file); err != nil {
		return GeneratedFile{}, &MalformedError{Name: name, Reason: err.Error(), Body: string(resp.Body)}
	}

	if file.ID == "" || file.WebViewLink == "" {
		return GeneratedFile{}, &MalformedError{Name: name, Reason: "missing id or webViewLink", Body: string(resp.Body)}
	}
	return file, nil
}
