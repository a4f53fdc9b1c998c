// Package ollama classifies photos with a multimodal chat model served by
// Ollama.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"photosort/internal/logging"
)

// ConnectionOK is returned by TestConnection on success.
const ConnectionOK = "연결 성공"

// ErrStreamEnded means the NDJSON stream closed before a done line.
var ErrStreamEnded = errors.New("ollama stream ended unexpectedly")

// Config configures a Client.
type Config struct {
	BaseURL string
	Model   string
	Think   bool
	Timeout time.Duration
}

// Client talks to one Ollama server and model.
type Client struct {
	baseURL string
	model   string
	think   bool
	client  *http.Client
}

// NewClient creates a client. A zero timeout means 5 minutes.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		think:   cfg.Think,
		client:  &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// BaseURL returns the server URL without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// apiError is a non-2xx answer.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("ollama error %d: %s", e.status, e.body)
}

func (c *Client) chatURL() string { return c.baseURL + "/api/chat" }

func (c *Client) post(ctx context.Context, req chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	return resp, nil
}

// readError consumes a failed response.
func readError(resp *http.Response) *apiError {
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return &apiError{status: resp.StatusCode, body: string(data)}
}

func isFormatProblem(body string) bool {
	l := strings.ToLower(body)
	for _, s := range []string{"format", "json schema", "schema", "expected", "unknown field"} {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

func isThinkUnsupported(body string) bool {
	l := strings.ToLower(body)
	return strings.Contains(l, "unknown field") && strings.Contains(l, "think")
}

// ladder sends the request with the JSON schema format, then "json" if the
// server objected to the format, then with no format. It returns the first
// successful response with its body unread.
func (c *Client) ladder(ctx context.Context, b64 string, stream, withThinkField bool) (*http.Response, error) {
	base := newChatRequest(c.model, b64, stream, c.think, withThinkField)

	req := base
	req.Format = outputSchema
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	apiErr := readError(resp)
	logging.OllamaDebug("schema format rejected (%d): %s", apiErr.status, apiErr.body)

	if isFormatProblem(apiErr.body) {
		req = base
		req.Format = "json"
		if resp, err = c.post(ctx, req); err != nil {
			return nil, err
		}
		if resp.StatusCode/100 == 2 {
			return resp, nil
		}
		apiErr = readError(resp)
		logging.OllamaDebug("json format rejected (%d): %s", apiErr.status, apiErr.body)
	}

	if resp, err = c.post(ctx, base); err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	return nil, readError(resp)
}

// open runs the ladder, retrying once without the think field when the
// server does not know it, and maps the final failure to a hint.
func (c *Client) open(ctx context.Context, b64 string, stream bool) (*http.Response, error) {
	if strings.TrimSpace(c.model) == "" {
		return nil, errors.New("ollama model is empty")
	}

	resp, err := c.ladder(ctx, b64, stream, true)
	var apiErr *apiError
	if errors.As(err, &apiErr) && !c.think && isThinkUnsupported(apiErr.body) {
		logging.Ollama("server rejected the think field, retrying without it")
		resp, err = c.ladder(ctx, b64, stream, false)
	}
	if err != nil {
		if errors.As(err, &apiErr) {
			return nil, c.hint(apiErr)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) hint(e *apiError) error {
	l := strings.ToLower(e.body)
	if e.status == http.StatusNotFound && strings.Contains(l, "model") {
		return fmt.Errorf("ollama model not found (%s). Run `ollama pull %s` then retry. raw: %s", c.model, c.model, e.body)
	}
	if strings.Contains(l, "does not support image") || strings.Contains(l, "images are not supported") {
		return fmt.Errorf("ollama model does not support images (%s). Choose a vision model (e.g. llava / qwen2.5vl). raw: %s", c.model, e.body)
	}
	return e
}

// Classify sends one base64 JPEG and parses the structured answer.
func (c *Client) Classify(ctx context.Context, b64 string) (*Analysis, error) {
	timer := logging.StartTimer(logging.CategoryOllama, "classify")
	defer timer.Stop()

	resp, err := c.open(ctx, b64, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var outer chatResponse
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if outer.Message.Content == "" {
		return nil, errors.New("missing message content")
	}

	out, err := ParseOutput(outer.Message.Content)
	if err != nil {
		var fallbackErr error
		if out, fallbackErr = ParseOutput(strings.TrimSpace(string(raw))); fallbackErr != nil {
			return nil, err
		}
	}
	out.Log = fmt.Sprintf("url: %s\nmodel: %s\nthink: %t\n\nmessage.content:\n%s\n",
		c.chatURL(), c.model, c.think, truncateRunes(outer.Message.Content, logContentLimit))
	return out, nil
}

// ClassifyStream is Classify over an NDJSON stream. Every content delta is
// passed to onDelta as it arrives.
func (c *Client) ClassifyStream(ctx context.Context, b64 string, onDelta func(string)) (*Analysis, error) {
	resp, err := c.open(ctx, b64, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var acc strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			var chunk chatResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &chunk); err == nil {
				if d := chunk.Message.Content; d != "" {
					acc.WriteString(d)
					if onDelta != nil {
						onDelta(d)
					}
				}
				if chunk.Done {
					return c.finishStream(acc.String())
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil, ErrStreamEnded
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to read stream: %w", readErr)
		}
	}
}

func (c *Client) finishStream(accumulated string) (*Analysis, error) {
	content := strings.TrimSpace(accumulated)
	out, err := ParseOutput(content)
	if err != nil {
		return nil, err
	}
	out.Log = fmt.Sprintf("url: %s\nmodel: %s\nthink: %t\nstream: true\n\nmessage.content(accumulated):\n%s\n",
		c.chatURL(), c.model, c.think, truncateRunes(accumulated, logContentLimit))
	return out, nil
}

// TestConnection checks that /api/tags answers within 5 seconds.
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	resp, err := c.getTags(ctx, 5*time.Second)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return ConnectionOK, nil
}

// ListModels returns the installed model names, sorted and deduplicated.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.getTags(ctx, 10*time.Second)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if tags.Models == nil {
		return nil, errors.New("missing models field")
	}

	seen := make(map[string]bool)
	var names []string
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) getTags(ctx context.Context, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := readError(resp)
		cancel()
		return nil, apiErr
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
