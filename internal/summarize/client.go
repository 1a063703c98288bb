// Package summarize talks to the external summarization collaborator and
// tracks the summarization state of each request.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/newmanjulien/overbase/internal/errors"
	"github.com/newmanjulien/overbase/internal/retry"
)

const (
	serviceName     = "summarizer"
	secretHeader    = "X-Overbase-Secret"
	maxResponseSize = 1 << 20
	stubSummaryLen  = 140
)

// Input is the collaborator request body.
type Input struct {
	Text      string `json:"text"`
	RequestID string `json:"requestId,omitempty"`
	OwnerID   string `json:"ownerId,omitempty"`
}

// Item is one clarifying question the collaborator extracted.
type Item struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Result is the collaborator response body.
type Result struct {
	SummaryJSON  string `json:"summaryJson"`
	SummaryItems []Item `json:"summaryItems"`
	// ServerUpdated means the collaborator already stored the result.
	ServerUpdated bool `json:"serverUpdated"`
}

// Text returns the plain-text summary carried by the result. SummaryJSON
// may hold a JSON string, an object with a "summary" field, or plain text;
// without it the question/answer items are joined.
func (r Result) Text() string {
	raw := strings.TrimSpace(r.SummaryJSON)
	if raw != "" {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return strings.TrimSpace(s)
		}
		var obj struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj.Summary != "" {
			return strings.TrimSpace(obj.Summary)
		}
		return raw
	}
	lines := make([]string, 0, len(r.SummaryItems))
	for _, it := range r.SummaryItems {
		if it.Answer == "" {
			lines = append(lines, it.Question)
			continue
		}
		lines = append(lines, it.Question+" "+it.Answer)
	}
	return strings.Join(lines, "\n")
}

// Summarizer is the collaborator boundary.
type Summarizer interface {
	Summarize(ctx context.Context, in Input) (Result, error)
}

// Client calls the collaborator over HTTP.
type Client struct {
	baseURL string
	secret  string
	client  *http.Client
	retry   retry.Config
	logger  zerolog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

func WithSecret(secret string) ClientOption {
	return func(c *Client) { c.secret = secret }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

func WithRetry(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient constructs a client for the collaborator at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   retry.Config{MaxAttempts: 1},
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With().Str("component", "summarize.client").Logger()
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("Retrying summarizer call")
		}
	}
	return c
}

// Summarize posts the text to {base}/summarize. Non-2xx responses and
// malformed bodies are errors.
func (c *Client) Summarize(ctx context.Context, in Input) (Result, error) {
	var out Result
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		res, err := c.do(ctx, in)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (c *Client) do(ctx context.Context, in Input) (Result, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/summarize", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(secretHeader, c.secret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: summarizer http: %v", perrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Result{}, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return Result{}, perrors.NewAPIError(serviceName, resp.StatusCode, msg)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, fmt.Errorf("decode summarizer response: %w", err)
	}
	c.logger.Debug().Str("request_id", in.RequestID).Int("items", len(res.SummaryItems)).Msg("Summary received")
	return res, nil
}

// Stub summarizes locally without a collaborator: the summary is the
// prompt's first line, shortened.
type Stub struct{}

func (Stub) Summarize(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	line := strings.TrimSpace(strings.SplitN(in.Text, "\n", 2)[0])
	if r := []rune(line); len(r) > stubSummaryLen {
		line = strings.TrimSpace(string(r[:stubSummaryLen])) + "…"
	}
	return Result{SummaryJSON: line}, nil
}
