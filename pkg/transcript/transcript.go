// Package transcript records chat sessions into a merkle DAG and reads them
// back. A conversation is addressed by the hash of its last message.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/logger"
	"github.com/papercomputeco/streamchat/pkg/merkle"
)

// Summary describes one stored conversation.
type Summary struct {
	// Head is the hash of the conversation's last message.
	Head string `json:"head_hash"`

	// Title is the first user message.
	Title string `json:"title"`

	// Messages is the number of messages from root to head.
	Messages int `json:"messages"`
}

// Recorder appends each committed message to the DAG, chaining it to the
// previous message of the same session.
type Recorder struct {
	store  merkle.Storer
	logger *zap.Logger

	mu    sync.Mutex
	heads map[string]*merkle.Node
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store merkle.Storer, l *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.OrNop(l),
		heads:  make(map[string]*merkle.Node),
	}
}

// Record stores msg as the new head of sessionID.
func (r *Recorder) Record(ctx context.Context, sessionID string, msg llm.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node := merkle.NewNode(merkle.MessageBucket(msg), r.heads[sessionID])
	if err := r.store.Put(ctx, node); err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	r.heads[sessionID] = node

	r.logger.Debug("recorded message",
		zap.String("session_id", sessionID),
		zap.String("hash", node.Hash),
		zap.String("role", string(msg.Role)),
	)
	return nil
}

// Head returns the hash of the last message recorded for sessionID.
func (r *Recorder) Head(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.heads[sessionID]
	if !ok {
		return "", false
	}
	return n.Hash, true
}

// Resume continues sessionID from the stored conversation ending at hash and
// returns its messages, oldest first, for seeding a chat session.
func (r *Recorder) Resume(ctx context.Context, sessionID, hash string) ([]llm.ChatMessage, error) {
	head, err := r.store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}

	msgs, err := History(ctx, r.store, hash)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.heads[sessionID] = head
	r.mu.Unlock()
	return msgs, nil
}

// History returns the messages of the conversation ending at hash, oldest
// first.
func History(ctx context.Context, store merkle.Storer, hash string) ([]llm.ChatMessage, error) {
	nodes, err := merkle.Conversation(ctx, store, hash)
	if err != nil {
		var notFound merkle.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("no conversation %s: %w", hash, err)
		}
		return nil, err
	}

	msgs := make([]llm.ChatMessage, 0, len(nodes))
	for _, n := range nodes {
		if n.Bucket.Type != merkle.BucketTypeMessage {
			continue
		}
		msgs = append(msgs, n.Bucket.Message())
	}
	return msgs, nil
}

// List summarizes every stored conversation, one per leaf.
func List(ctx context.Context, store merkle.Storer) ([]Summary, error) {
	leaves, err := store.Leaves(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]Summary, 0, len(leaves))
	for _, leaf := range leaves {
		nodes, err := merkle.Conversation(ctx, store, leaf.Hash)
		if err != nil {
			return nil, err
		}

		s := Summary{Head: leaf.Hash, Messages: len(nodes)}
		for _, n := range nodes {
			if n.Bucket.Role == llm.RoleUser {
				s.Title = n.Bucket.Content
				break
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// ErrAmbiguous is returned by Resolve when a prefix matches several nodes.
var ErrAmbiguous = errors.New("hash prefix is ambiguous")

// Resolve expands a hash prefix into the full hash of the one node it
// matches.
func Resolve(ctx context.Context, store merkle.Storer, prefix string) (string, error) {
	if ok, err := store.Has(ctx, prefix); err != nil {
		return "", err
	} else if ok {
		return prefix, nil
	}

	nodes, err := store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list nodes: %w", err)
	}

	var match string
	for _, n := range nodes {
		if !strings.HasPrefix(n.Hash, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
		}
		match = n.Hash
	}
	if match == "" {
		return "", merkle.ErrNotFound{Hash: prefix}
	}
	return match, nil
}
