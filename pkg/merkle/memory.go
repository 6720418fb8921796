package merkle

import (
	"context"
	"errors"
	"sync"
)

var errNilNode = errors.New("cannot store nil node")

// MemoryStorer is an in-memory Storer. Nodes are lost when the process exits.
type MemoryStorer struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
}

// NewMemoryStorer creates an empty in-memory store.
func NewMemoryStorer() *MemoryStorer {
	return &MemoryStorer{nodes: make(map[string]*Node)}
}

func (s *MemoryStorer) Put(_ context.Context, node *Node) error {
	if node == nil {
		return errNilNode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[node.Hash]; ok {
		return nil
	}
	cp := *node
	s.nodes[node.Hash] = &cp
	s.order = append(s.order, node.Hash)
	return nil
}

func (s *MemoryStorer) Get(_ context.Context, hash string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStorer) Has(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.nodes[hash]
	return ok, nil
}

func (s *MemoryStorer) GetByParent(_ context.Context, parentHash *string) ([]*Node, error) {
	return s.filter(func(n *Node) bool {
		if parentHash == nil {
			return n.ParentHash == nil
		}
		return n.ParentHash != nil && *n.ParentHash == *parentHash
	}), nil
}

func (s *MemoryStorer) List(_ context.Context) ([]*Node, error) {
	return s.filter(func(*Node) bool { return true }), nil
}

func (s *MemoryStorer) Roots(ctx context.Context) ([]*Node, error) {
	return s.GetByParent(ctx, nil)
}

func (s *MemoryStorer) Leaves(_ context.Context) ([]*Node, error) {
	s.mu.RLock()
	parents := make(map[string]bool, len(s.nodes))
	for _, n := range s.nodes {
		if n.ParentHash != nil {
			parents[*n.ParentHash] = true
		}
	}
	s.mu.RUnlock()

	return s.filter(func(n *Node) bool { return !parents[n.Hash] }), nil
}

func (s *MemoryStorer) Ancestry(ctx context.Context, hash string) ([]*Node, error) {
	return ancestry(ctx, s, hash)
}

func (s *MemoryStorer) Depth(ctx context.Context, hash string) (int, error) {
	path, err := s.Ancestry(ctx, hash)
	if err != nil {
		return 0, err
	}
	return len(path) - 1, nil
}

func (s *MemoryStorer) Close() error {
	return nil
}

// filter returns copies of matching nodes in insertion order.
func (s *MemoryStorer) filter(keep func(*Node) bool) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Node{}
	for _, h := range s.order {
		n := s.nodes[h]
		if keep(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}
