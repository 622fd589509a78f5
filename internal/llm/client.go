package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/metrics"
	"github.com/voc-classifier/backend/pkg/logger"
)

const (
	// MissingContentText is the text of a Reply whose response had no choices.
	MissingContentText = "Error: Generation response missing expected content"

	requestDateLayout = "2006-01-02T15:04:05.000Z"
)

// TokenSource supplies bearer tokens for the generation endpoint.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Message is one chat turn.
type Message = openai.ChatCompletionMessage

func SystemMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleUser, Content: content}
}

type ReplyKind int

const (
	// ReplyContent carries the first choice's message content.
	ReplyContent ReplyKind = iota
	// ReplyRawBody carries a 2xx body that was not JSON, verbatim.
	ReplyRawBody
	// ReplyMissingContent means the JSON body had no choices.
	ReplyMissingContent
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyContent:
		return "content"
	case ReplyRawBody:
		return "raw_body"
	case ReplyMissingContent:
		return "missing_content"
	default:
		return "unknown"
	}
}

type Reply struct {
	Kind    ReplyKind
	Content string
}

// Text returns the reply as plain text, using MissingContentText when the
// response carried no choices.
func (r Reply) Text() string {
	if r.Kind == ReplyMissingContent {
		return MissingContentText
	}
	return r.Content
}

// GenerationError reports a failed generation request. StatusCode is zero
// when the request never produced a response.
type GenerationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("generation request failed: %v", e.Err)
	}
	return fmt.Sprintf("generation request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type Config struct {
	Endpoint   string
	Model      string
	ClientID   string
	UseCaseID  string
	HTTPClient *http.Client
	Now        func() time.Time
}

type Client struct {
	endpoint   string
	model      string
	clientID   string
	useCaseID  string
	tokens     TokenSource
	httpClient *http.Client
	now        func() time.Time
}

type generateRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	TopP        float32   `json:"top_p"`
	Temperature float32   `json:"temperature"`
}

func NewClient(cfg Config, tokens TokenSource) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger.Info("Generation client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("model", cfg.Model),
	)

	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		clientID:   cfg.ClientID,
		useCaseID:  cfg.UseCaseID,
		tokens:     tokens,
		httpClient: cfg.HTTPClient,
		now:        cfg.Now,
	}
}

// Generate sends one chat request with fixed sampling (temperature 0, top_p 1).
// Token failures are returned unchanged; transport failures and non-2xx
// statuses become *GenerationError.
func (c *Client) Generate(ctx context.Context, messages []Message) (Reply, error) {
	payload, err := json.Marshal(generateRequest{
		Model:       c.model,
		Messages:    messages,
		TopP:        1,
		Temperature: 0,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return Reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, &GenerationError{Err: err}
	}
	c.setHeaders(req, token)

	logger.Info("Sending generation request",
		zap.String("request_id", req.Header.Get("x-wf-request-id")),
		zap.Int("messages", len(messages)),
		zap.Int("payload_bytes", len(payload)),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	metrics.GenerationDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.GenerationRequests.WithLabelValues("error").Inc()
		logger.Error("Generation request failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return Reply{}, &GenerationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GenerationRequests.WithLabelValues("error").Inc()
		return Reply{}, &GenerationError{StatusCode: resp.StatusCode, Err: err}
	}

	logger.Info("Generation request completed",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.GenerationRequests.WithLabelValues("error").Inc()
		if resp.StatusCode == http.StatusUnauthorized {
			// a revoked token would otherwise be reused until it expires
			if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		return Reply{}, &GenerationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	reply := decodeReply(body)
	metrics.GenerationRequests.WithLabelValues(reply.Kind.String()).Inc()

	switch reply.Kind {
	case ReplyRawBody:
		logger.Warn("Generation response is not valid JSON")
	case ReplyMissingContent:
		logger.Warn("Generation response missing expected content")
	default:
		logger.Debug("Generated response", zap.Int("length", len(reply.Content)))
	}

	return reply, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("x-wf-request-id", uuid.New().String())
	req.Header.Set("x-wf-request-date", c.now().UTC().Format(requestDateLayout))
	req.Header.Set("x-wf-correlation-id", uuid.New().String())
	req.Header.Set("x-wf-client-id", c.clientID)
	req.Header.Set("x-wf-usecase-id", c.useCaseID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
}

func decodeReply(body []byte) Reply {
	if !json.Valid(body) {
		return Reply{Kind: ReplyRawBody, Content: string(body)}
	}

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return Reply{Kind: ReplyMissingContent}
	}

	return Reply{Kind: ReplyContent, Content: resp.Choices[0].Message.Content}
}
