package relay

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/llm"
	"github.com/papercomputeco/streamchat/pkg/merkle"
	"github.com/papercomputeco/streamchat/pkg/transcript"
)

// store records a completed turn. Storage failures are logged and never fail
// the request that produced the reply.
func (r *Relay) store(ctx context.Context, req *llm.ChatRequest, reply llm.ChatMessage, model string) {
	headHash, err := r.storeConversationTurn(ctx, req, reply, model)
	if err != nil {
		r.logger.Error("failed to store conversation", zap.Error(err))
		return
	}
	r.logger.Info("conversation stored", zap.String("head_hash", truncate(headHash, 16)))
}

// storeConversationTurn stores every request message followed by the reply,
// each linked to the one before, and returns the hash of the reply node.
// Replaying an identical history hashes to the same nodes, so only the new
// tail is written; a different reply to the same history becomes a branch.
func (r *Relay) storeConversationTurn(ctx context.Context, req *llm.ChatRequest, reply llm.ChatMessage, model string) (string, error) {
	var parent *merkle.Node

	for _, msg := range req.Messages {
		node := merkle.NewNode(merkle.MessageBucket(msg), parent)
		if err := r.storer.Put(ctx, node); err != nil {
			return "", fmt.Errorf("storing message node: %w", err)
		}
		parent = node
	}

	bucket := merkle.MessageBucket(reply)
	bucket.Model = model
	node := merkle.NewNode(bucket, parent)
	if err := r.storer.Put(ctx, node); err != nil {
		return "", fmt.Errorf("storing response node: %w", err)
	}

	r.logger.Debug("stored response in DAG",
		zap.String("hash", truncate(node.Hash, 16)),
		zap.String("content_preview", truncate(reply.Content, 50)),
	)
	return node.Hash, nil
}

// handleDAGStats returns statistics about the DAG.
func (r *Relay) handleDAGStats(c *fiber.Ctx) error {
	ctx := c.Context()

	nodes, err := r.storer.List(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list nodes"})
	}

	roots, err := r.storer.Roots(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get roots"})
	}

	leaves, err := r.storer.Leaves(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get leaves"})
	}

	return c.JSON(map[string]any{
		"total_nodes": len(nodes),
		"root_count":  len(roots),
		"leaf_count":  len(leaves),
	})
}

// HistoryResponse is one stored conversation.
type HistoryResponse struct {
	// HeadHash is the hash of the conversation's last message
	HeadHash string `json:"head_hash"`
	// Messages oldest first, up to and including the head
	Messages []llm.ChatMessage `json:"messages"`
}

// handleListHistories summarizes every stored conversation.
func (r *Relay) handleListHistories(c *fiber.Ctx) error {
	summaries, err := transcript.List(c.Context(), r.storer)
	if err != nil {
		r.logger.Error("failed to list histories", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list histories"})
	}

	return c.JSON(map[string]any{
		"count":     len(summaries),
		"histories": summaries,
	})
}

// handleGetHistory returns the conversation ending at :hash.
func (r *Relay) handleGetHistory(c *fiber.Ctx) error {
	hash := c.Params("hash")

	msgs, err := transcript.History(c.Context(), r.storer, hash)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "node not found"})
	}

	return c.JSON(HistoryResponse{HeadHash: hash, Messages: msgs})
}
