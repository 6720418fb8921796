// Package relay is a development backend that speaks the chat stream contract
// in front of an Ollama-compatible model server. Streaming replies are
// re-framed from upstream ndjson into "data: " event lines, and every
// completed turn is stored in a Merkle DAG.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/logger"
	"github.com/papercomputeco/streamchat/pkg/merkle"
	"github.com/papercomputeco/streamchat/pkg/stream"
)

const (
	upstreamChatPath       = "/api/chat"
	defaultUpstreamTimeout = 5 * time.Minute
)

// errIncompleteUpstream is reported to the client when the upstream stream
// ends without a done chunk.
var errIncompleteUpstream = errors.New("upstream closed the stream before completing")

// Relay serves /chat/stream and /chat for streamchat clients.
type Relay struct {
	config     Config
	storer     merkle.Storer
	logger     *zap.Logger
	httpClient *http.Client
	server     *fiber.App
}

// New creates a new Relay, opening the SQLite store at config.DBPath or an
// in-memory store when it is empty.
func New(config Config, l *zap.Logger) (*Relay, error) {
	l = logger.OrNop(l)

	var storer merkle.Storer
	if config.DBPath != "" {
		s, err := merkle.NewSQLiteStorer(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		storer = s
		l.Info("using SQLite storage", zap.String("path", config.DBPath))
	} else {
		storer = merkle.NewMemoryStorer()
		l.Info("using in-memory storage")
	}

	return newRelay(config, storer, l), nil
}

func newRelay(config Config, storer merkle.Storer, l *zap.Logger) *Relay {
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = defaultUpstreamTimeout
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	r := &Relay{
		config: config,
		storer: storer,
		logger: logger.OrNop(l),
		server: app,
		// streams are bounded by the request context, not a client timeout
		httpClient: &http.Client{},
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	app.Post("/chat/stream", r.requireToken, r.handleStream)
	app.Post("/chat", r.requireToken, r.handleChat)

	app.Get("/dag/stats", r.handleDAGStats)
	app.Get("/dag/history", r.handleListHistories)
	app.Get("/dag/history/:hash", r.handleGetHistory)

	return r
}

// App returns the underlying fiber app.
func (r *Relay) App() *fiber.App {
	return r.server
}

// Run starts the relay on the configured listening address.
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		zap.String("listen", r.config.ListenAddr),
		zap.String("upstream", r.config.UpstreamURL),
		zap.String("model", r.config.Model),
		zap.Bool("auth", r.config.Token != ""),
	)

	return r.server.Listen(r.config.ListenAddr)
}

// Shutdown stops the server and closes the store.
func (r *Relay) Shutdown(ctx context.Context) error {
	err := r.server.ShutdownWithContext(ctx)
	return errors.Join(err, r.storer.Close())
}

func (r *Relay) requireToken(c *fiber.Ctx) error {
	if r.config.Token == "" {
		return c.Next()
	}

	got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || got != r.config.Token {
		r.logger.Warn("rejected unauthenticated request", zap.String("path", c.Path()))
		return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: "invalid or missing token"})
	}
	return c.Next()
}

func (r *Relay) parseRequest(c *fiber.Ctx) (*llm.ChatRequest, error) {
	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.logger.Debug("received chat request",
		zap.String("request_id", c.Get("X-Request-ID")),
		zap.Int("message_count", len(req.Messages)),
	)
	return &req, nil
}

// handleStream relays a streaming reply as "data: " event lines.
func (r *Relay) handleStream(c *fiber.Ctx) error {
	startTime := time.Now()

	req, err := r.parseRequest(c)
	if err != nil {
		r.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	// the body writer outlives this handler, so the upstream call gets its own context
	upstreamCtx, cancel := context.WithCancel(context.Background())
	httpResp, err := r.openUpstream(upstreamCtx, req, true)
	if err != nil {
		cancel()
		r.logger.Error("upstream request failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}

	if httpResp.StatusCode != http.StatusOK {
		defer cancel()
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4<<10))
		r.logger.Error("upstream returned error",
			zap.Int("status", httpResp.StatusCode),
			zap.String("body", string(body)),
		)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream error"})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer httpResp.Body.Close()

		reply, final, err := r.pipe(httpResp.Body, w)
		if err != nil {
			r.logger.Warn("stream ended with error",
				zap.Error(err),
				zap.Int("partial_bytes", len(reply)),
				zap.Duration("duration", time.Since(startTime)),
			)
			return
		}

		r.logger.Debug("streaming complete",
			zap.String("reply_preview", truncate(reply, 200)),
			zap.Duration("duration", time.Since(startTime)),
		)
		r.store(context.Background(), req, llm.ChatMessage{Role: llm.RoleAssistant, Content: reply}, final.Model)
	}))

	return nil
}

// pipe copies upstream chunks to w as events until the upstream finishes or
// fails. The accumulated reply and the final chunk are returned on success;
// on failure an error event has already been written.
func (r *Relay) pipe(upstream io.Reader, w *bufio.Writer) (string, *llm.UpstreamChunk, error) {
	var reply strings.Builder

	fail := func(err error) (string, *llm.UpstreamChunk, error) {
		if werr := writeEvent(w, llm.StreamEvent{Error: err.Error()}); werr != nil {
			r.logger.Debug("client went away", zap.Error(werr))
		}
		return reply.String(), nil, err
	}

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var chunk llm.UpstreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fail(fmt.Errorf("malformed upstream chunk: %w", err))
		}
		if chunk.Error != "" {
			return fail(errors.New(chunk.Error))
		}

		reply.WriteString(chunk.Message.Content)
		if err := writeEvent(w, llm.StreamEvent{Content: chunk.Message.Content, Done: chunk.Done}); err != nil {
			// the client disconnected; nothing more can be delivered
			return reply.String(), nil, err
		}

		if chunk.Done {
			return reply.String(), &chunk, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("reading upstream: %w", err))
	}
	return fail(errIncompleteUpstream)
}

func writeEvent(w *bufio.Writer, ev llm.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	w.WriteString(stream.DataPrefix)
	w.Write(data)
	w.WriteString("\n\n")
	return w.Flush()
}

// handleChat answers with a single envelope.
func (r *Relay) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()

	req, err := r.parseRequest(c)
	if err != nil {
		r.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ChatEnvelope{Status: llm.StatusFail, Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.UpstreamTimeout)
	defer cancel()

	resp, err := r.forward(ctx, req)
	if err != nil {
		r.logger.Error("failed to forward request", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(llm.ChatEnvelope{Status: llm.StatusFail, Message: "upstream request failed"})
	}

	r.logger.Debug("received response from upstream",
		zap.String("model", resp.Model),
		zap.String("content_preview", truncate(resp.Message.Content, 100)),
		zap.Duration("duration", time.Since(startTime)),
	)

	r.store(ctx, req, llm.ChatMessage{Role: llm.RoleAssistant, Content: resp.Message.Content}, resp.Model)

	return c.JSON(llm.ChatEnvelope{
		Status: llm.StatusSuccess,
		Data: &llm.ChatData{
			Response: resp.Message.Content,
			Usage:    resp.Usage(),
		},
	})
}

func (r *Relay) openUpstream(ctx context.Context, req *llm.ChatRequest, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(llm.UpstreamRequest{
		Model:    r.config.Model,
		Messages: req.Messages,
		Stream:   streaming,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	upstreamURL := strings.TrimRight(r.config.UpstreamURL, "/") + upstreamChatPath
	r.logger.Debug("forwarding request to upstream",
		zap.String("url", upstreamURL),
		zap.Bool("stream", streaming),
		zap.Int("body_size", len(body)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// forward performs a non-streaming upstream call.
func (r *Relay) forward(ctx context.Context, req *llm.ChatRequest) (*llm.UpstreamChunk, error) {
	httpResp, err := r.openUpstream(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d: %s", httpResp.StatusCode, truncate(string(body), 200))
	}

	var resp llm.UpstreamChunk
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
