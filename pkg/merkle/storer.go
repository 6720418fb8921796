package merkle

import "context"

// Storer persists and traverses nodes of the DAG. Identical content with an
// identical parent produces an identical hash, so storing a node twice is a
// no-op.
type Storer interface {
	// Put stores a node. If the node already exists (by hash), this is a no-op.
	Put(ctx context.Context, node *Node) error

	// Get retrieves a node by its hash. Returns ErrNotFound if the node doesn't exist.
	Get(ctx context.Context, hash string) (*Node, error)

	// Has checks if a node exists by its hash.
	Has(ctx context.Context, hash string) (bool, error)

	// GetByParent retrieves all nodes that have the given parent hash.
	// Pass nil to get root nodes (nodes with no parent).
	GetByParent(ctx context.Context, parentHash *string) ([]*Node, error)

	// List returns all nodes in the store.
	List(ctx context.Context) ([]*Node, error)

	// Roots returns all root nodes (nodes with no parent).
	Roots(ctx context.Context) ([]*Node, error)

	// Leaves returns all leaf nodes (nodes with no children).
	Leaves(ctx context.Context) ([]*Node, error)

	// Ancestry returns the path from a node back to its root (node first, root last).
	Ancestry(ctx context.Context, hash string) ([]*Node, error)

	// Depth returns the depth of a node (0 for roots).
	Depth(ctx context.Context, hash string) (int, error)

	// Close closes the store and releases any resources.
	Close() error
}

// ErrNotFound is returned when a node doesn't exist in the store.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	if e.Hash == "" {
		return "node not found"
	}

	return "node not found: " + e.Hash
}

// Conversation returns the messages from the root to hash, oldest first.
func Conversation(ctx context.Context, s Storer, hash string) ([]*Node, error) {
	ancestry, err := s.Ancestry(ctx, hash)
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, len(ancestry))
	for i, n := range ancestry {
		nodes[len(ancestry)-1-i] = n
	}
	return nodes, nil
}

func ancestry(ctx context.Context, s Storer, hash string) ([]*Node, error) {
	var path []*Node
	seen := make(map[string]bool)

	for current := &hash; current != nil; {
		if seen[*current] {
			break
		}
		seen[*current] = true

		node, err := s.Get(ctx, *current)
		if err != nil {
			return nil, err
		}
		path = append(path, node)
		current = node.ParentHash
	}
	return path, nil
}
