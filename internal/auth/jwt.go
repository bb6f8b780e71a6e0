// Package auth verifies the tokens presented during the connection
// handshake and mints gateway tokens for the secrets bundle.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alfredjeanlab/leafbus/internal/store"
)

// Token kinds.
const (
	KindGateway = "gateway"
	KindClient  = "client"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrDisabled     = errors.New("tree disabled")
)

// Claims are the JWT claims understood by the hub. For gateway tokens the
// subject is the tree id; for client tokens it is the user.
type Claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

// ClientAddrs hands out "@N" addresses in increasing order.
type ClientAddrs struct {
	next atomic.Int64
}

// Next returns the next unused client address.
func (c *ClientAddrs) Next() string {
	return "@" + strconv.FormatInt(c.next.Add(1), 10)
}

// JWT authenticates HS256-signed tokens.
type JWT struct {
	secret     []byte
	clients    *ClientAddrs
	trees      store.TreeStore
	gatewayTTL time.Duration
}

// NewJWT returns an authenticator for tokens signed with secret. trees,
// if non-nil, is consulted to refuse disabled trees.
func NewJWT(secret string, trees store.TreeStore) *JWT {
	return &JWT{
		secret:     []byte(secret),
		clients:    &ClientAddrs{},
		trees:      trees,
		gatewayTTL: 365 * 24 * time.Hour,
	}
}

// Authenticate returns the bus identity for token: the tree id for a
// gateway, a fresh "@N" for a client.
func (j *JWT) Authenticate(ctx context.Context, token string) (string, error) {
	claims, err := j.parse(token)
	if err != nil {
		return "", err
	}
	switch claims.Kind {
	case KindGateway:
		if claims.Subject == "" {
			return "", fmt.Errorf("%w: gateway token without subject", ErrInvalidToken)
		}
		if j.trees != nil {
			tree, err := j.trees.GetTree(ctx, claims.Subject)
			if err != nil {
				return "", fmt.Errorf("gateway %s: %w", claims.Subject, err)
			}
			if tree.Disabled {
				return "", fmt.Errorf("gateway %s: %w", claims.Subject, ErrDisabled)
			}
		}
		return claims.Subject, nil
	case KindClient:
		return j.clients.Next(), nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, claims.Kind)
	}
}

func (j *JWT) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	return claims, nil
}

// GatewayToken mints a token a tree's gateway can connect with.
func (j *JWT) GatewayToken(tree *store.Tree) (string, error) {
	return j.sign(tree.ID, KindGateway, j.gatewayTTL)
}

// ClientToken mints a token for a UI client.
func (j *JWT) ClientToken(user string, ttl time.Duration) (string, error) {
	return j.sign(user, KindClient, ttl)
}

func (j *JWT) sign(subject, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: kind,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
