package services

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/leafbus/internal/store"
)

// TokenIssuer mints the long-lived token a gateway authenticates with.
type TokenIssuer interface {
	GatewayToken(tree *store.Tree) (string, error)
}

// TreeSecrets builds a tree's secrets bundle from the tree store: its
// public domain, its record, and a freshly minted gateway token.
type TreeSecrets struct {
	Trees  store.TreeStore
	Tokens TokenIssuer
	Domain string
}

var _ Provider = (*TreeSecrets)(nil)

func (s *TreeSecrets) Get(ctx context.Context, treeID string) (Bundle, error) {
	tree, err := s.Trees.GetTree(ctx, treeID)
	if err != nil {
		return Bundle{}, err
	}
	token, err := s.Tokens.GatewayToken(tree)
	if err != nil {
		return Bundle{}, fmt.Errorf("gateway token for %s: %w", treeID, err)
	}
	return Bundle{
		Data: map[string]any{
			"domain":        TreeDomain(tree.ID, s.Domain),
			"tree":          tree,
			"gateway-token": token,
		},
		Version: tree.Version(),
	}, nil
}

func (s *TreeSecrets) Version(ctx context.Context, treeID string) (string, error) {
	tree, err := s.Trees.GetTree(ctx, treeID)
	if err != nil {
		return "", err
	}
	return tree.Version(), nil
}

// TreeDomain is the public host name of a tree's gateway.
func TreeDomain(treeID, domain string) string {
	return treeID + ".ws." + domain
}
