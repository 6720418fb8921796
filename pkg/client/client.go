// Package client is the HTTP side of the chat backend: it opens the event
// stream, calls the non-streaming fallback, and attaches the session's bearer
// token to every request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/logger"
	"github.com/papercomputeco/streamchat/pkg/stream"
	"github.com/papercomputeco/streamchat/pkg/tokenstore"
)

const (
	StreamPath = "/chat/stream"
	ChatPath   = "/chat"

	// RequestIDHeader correlates client and backend logs for one request.
	RequestIDHeader = "X-Request-ID"

	defaultRequestTimeout = 2 * time.Minute
	maxErrorBody          = 4 << 10
)

var (
	// ErrUnauthorized is wrapped by the TransportError of a 401 response.
	ErrUnauthorized = errors.New("unauthorized: please log in again")

	// ErrChatFailed is returned when the fallback endpoint answers with status "fail".
	ErrChatFailed = errors.New("chat request failed")
)

// Config is the client configuration.
type Config struct {
	// BaseURL of the chat backend (e.g., "http://localhost:8080/api")
	BaseURL string

	// RequestTimeout bounds a non-streaming Chat call. Streams are bounded by
	// IdleTimeout instead, since a healthy stream can run for minutes.
	RequestTimeout time.Duration

	// IdleTimeout fails a stream when no bytes arrive for this long. Zero
	// disables it.
	IdleTimeout time.Duration

	// StrictTermination reports a stream that closes without a done or error
	// event as stream.ErrSilentTermination.
	StrictTermination bool
}

// Client talks to the chat backend.
type Client struct {
	config         Config
	tokens         tokenstore.Store
	httpClient     *http.Client
	logger         *zap.Logger
	onUnauthorized func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout must be zero
// or streams will be cut off mid-reply.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger.OrNop(l)
	}
}

// WithUnauthorizedHandler is called after a 401 has cleared the stored token,
// so the front end can send the user back to login.
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// New creates a Client. tokens may be nil for unauthenticated backends.
func New(config Config, tokens tokenstore.Store, opts ...Option) *Client {
	if tokens == nil {
		tokens = tokenstore.NewMemory("")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	c := &Client{
		config:     config,
		tokens:     tokens,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream opens POST {BaseURL}/chat/stream and returns its events. Every
// failure, including an invalid request or a non-2xx status, arrives as a
// single Failed event before any chunk.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) <-chan stream.Event {
	if err := req.Validate(); err != nil {
		return failed(err)
	}

	httpReq, requestID, err := c.newRequest(ctx, StreamPath, req)
	if err != nil {
		return failed(err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	log := c.logger.With(zap.String("request_id", requestID))
	log.Debug("opening chat stream",
		zap.String("url", httpReq.URL.String()),
		zap.Int("message_count", len(req.Messages)),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error("chat stream request failed", zap.Error(err))
		return failed(&stream.TransportError{Err: err})
	}

	if err := c.checkStatus(resp, log); err != nil {
		return failed(err)
	}

	opts := []stream.Option{
		stream.WithLogger(log),
		stream.WithIdleTimeout(c.config.IdleTimeout),
	}
	if c.config.StrictTermination {
		opts = append(opts, stream.WithStrictTermination())
	}
	return stream.Read(ctx, resp.Body, opts...)
}

// Chat calls the non-streaming POST {BaseURL}/chat endpoint. A "fail"
// envelope is returned together with an error wrapping ErrChatFailed.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatEnvelope, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	httpReq, requestID, err := c.newRequest(ctx, ChatPath, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	log := c.logger.With(zap.String("request_id", requestID))
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error("chat request failed", zap.Error(err))
		return nil, &stream.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, log); err != nil {
		return nil, err
	}

	var env llm.ChatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}

	log.Debug("chat response",
		zap.String("status", env.Status),
		zap.Duration("duration", time.Since(start)),
	)

	if !env.OK() {
		msg := env.Message
		if msg == "" {
			msg = "no response data"
		}
		return &env, fmt.Errorf("%w: %s", ErrChatFailed, msg)
	}
	return &env, nil
}

func (c *Client) newRequest(ctx context.Context, path string, req llm.ChatRequest) (*http.Request, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	if token := c.tokens.Token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, requestID, nil
}

// checkStatus turns a non-2xx response into a TransportError and closes its
// body. A 401 also clears the stored token.
func (c *Client) checkStatus(resp *http.Response, log *zap.Logger) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	te := &stream.TransportError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	log.Error("backend returned error",
		zap.Int("status", resp.StatusCode),
		zap.String("body", te.Body),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		te.Err = ErrUnauthorized
		if err := c.tokens.Clear(resp.Request.Context()); err != nil {
			log.Warn("failed to clear token after 401", zap.Error(err))
		}
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
	}
	return te
}

func failed(err error) <-chan stream.Event {
	ch := make(chan stream.Event, 1)
	ch <- stream.Failed(err)
	close(ch)
	return ch
}
