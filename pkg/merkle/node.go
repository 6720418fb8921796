// Package merkle stores conversation messages as a content-addressed Merkle
// DAG: each message node hashes its content together with its parent's hash,
// so a conversation is identified by the hash of its last message and shared
// prefixes are stored once.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/papercomputeco/streamchat/pkg/llm"
)

// BucketTypeMessage is the Bucket type of a committed chat message.
const BucketTypeMessage = "message"

// Bucket is the hashable content of a node.
type Bucket struct {
	Type    string   `json:"type"`
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`

	// Model that produced an assistant message, when known.
	Model string `json:"model,omitempty"`
}

// MessageBucket wraps a committed chat message.
func MessageBucket(msg llm.ChatMessage) Bucket {
	return Bucket{Type: BucketTypeMessage, Role: msg.Role, Content: msg.Content}
}

// Message converts the bucket back into a chat message.
func (b Bucket) Message() llm.ChatMessage {
	return llm.ChatMessage{Role: b.Role, Content: b.Content}
}

// Node represents a single content-addressed node in a Merkle DAG
type Node struct {
	// Hash is the content-addressed identifier (SHA-256, hex-encoded)
	Hash string `json:"hash"`

	// ParentHash links to the previous node hash.
	// This will be nil for root nodes.
	ParentHash *string `json:"parent_hash"`

	// Bucket is the hashable content for the node
	Bucket Bucket `json:"bucket"`
}

// input is the canonical form that gets hashed.
type input struct {
	Bucket Bucket `json:"bucket"`
	Parent string `json:"parent,omitempty"`
}

// NewNode creates a new node with the computed hash for the provided content
func NewNode(bucket Bucket, parent *Node) *Node {
	n := &Node{
		Bucket: bucket,
	}

	if parent != nil {
		h := parent.Hash
		n.ParentHash = &h
	}

	n.Hash = n.computeHash()
	return n
}

func (n *Node) computeHash() string {
	i := &input{
		Bucket: n.Bucket,
	}

	if n.ParentHash != nil {
		i.Parent = *n.ParentHash
	}

	// struct field order makes the encoding deterministic
	data, err := json.Marshal(i)
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Verify reports whether the node's hash matches its content and parent.
func (n *Node) Verify() bool {
	return n.Hash == n.computeHash()
}
