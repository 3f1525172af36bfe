package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"voltguard/internal/faults"
	"voltguard/internal/metrics"
)

// TokenSource supplies the bearer token for authenticated calls. *session.Session implements it.
type TokenSource interface {
	AccessToken() string
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *slog.Logger
}

func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Tokens:     tokens,
		Logger:     slog.Default(),
	}
}

// WithTokens returns a copy of c that authenticates with tokens.
func (c *Client) WithTokens(tokens TokenSource) *Client {
	cp := *c
	cp.Tokens = tokens
	return &cp
}

type errorBody struct {
	Detail  any    `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (b errorBody) text() string {
	switch d := b.Detail.(type) {
	case string:
		if d != "" {
			return d
		}
	case nil:
	default:
		// FastAPI-style validation errors carry a list here.
		if raw, err := json.Marshal(d); err == nil {
			return string(raw)
		}
	}
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}

// do sends one JSON request. auth=true requires a token before anything touches the network.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, auth bool, in, out any) error {
	var token string
	if auth {
		if c.Tokens != nil {
			token = c.Tokens.AccessToken()
		}
		if token == "" {
			return faults.Authf("no access token; sign in first")
		}
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.APIRequestDuration.WithLabelValues(method, "transport").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &faults.Error{Kind: faults.ErrTransient, Message: fmt.Sprintf("%s %s: %v", method, path, err)}
	}
	defer resp.Body.Close()
	metrics.APIRequestDuration.WithLabelValues(method, fmt.Sprintf("%dxx", resp.StatusCode/100)).
		Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &eb)
		apiErr := faults.FromStatus(resp.StatusCode, eb.text())
		c.logger().Debug("backend call failed",
			"method", method, "path", path, "status", resp.StatusCode, "request_id", reqID, "error", apiErr.Message)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
