// Package certstore serves per-tree TLS certificates to gateways. The
// certificates are issued elsewhere; this package only reads them from a
// directory or an S3 bucket laid out as <domain>/cert.pem and
// <domain>/privkey.pem.
package certstore

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/services"
	"github.com/alfredjeanlab/leafbus/internal/store"
)

const (
	certFile = "cert.pem"
	keyFile  = "privkey.pem"
)

// MissingVersion is the version reported when a tree has no certificate.
var MissingVersion = store.FormatVersion(time.Unix(0, 0))

// Source reads raw files. It returns store.ErrNotFound for missing files.
type Source interface {
	Read(ctx context.Context, domain, name string) ([]byte, error)
}

// Provider builds certificate bundles from a Source.
type Provider struct {
	src    Source
	domain string
}

var _ services.Provider = (*Provider)(nil)

// New returns a provider for trees under domain.
func New(src Source, domain string) *Provider {
	return &Provider{src: src, domain: domain}
}

func (p *Provider) Get(ctx context.Context, treeID string) (services.Bundle, error) {
	domain := services.TreeDomain(treeID, p.domain)
	cert, expiry, err := p.cert(ctx, domain)
	if err != nil {
		return services.Bundle{}, err
	}
	key, err := p.pemBase64(ctx, domain, keyFile)
	if err != nil {
		return services.Bundle{}, err
	}
	return services.Bundle{
		Data: map[string]any{
			"tree_id": treeID,
			"domain":  domain,
			"cert":    cert,
			"privkey": key,
		},
		Version: version(expiry),
	}, nil
}

// Version is the certificate's expiry time.
func (p *Provider) Version(ctx context.Context, treeID string) (string, error) {
	_, expiry, err := p.cert(ctx, services.TreeDomain(treeID, p.domain))
	if err != nil {
		return "", err
	}
	return version(expiry), nil
}

func (p *Provider) cert(ctx context.Context, domain string) (string, time.Time, error) {
	raw, err := p.src.Read(ctx, domain, certFile)
	if errors.Is(err, store.ErrNotFound) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read certificate for %s: %w", domain, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return "", time.Time{}, fmt.Errorf("certificate for %s: no PEM block", domain)
	}
	c, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("certificate for %s: %w", domain, err)
	}
	return base64.StdEncoding.EncodeToString(block.Bytes), c.NotAfter, nil
}

func (p *Provider) pemBase64(ctx context.Context, domain, name string) (string, error) {
	raw, err := p.src.Read(ctx, domain, name)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s for %s: %w", name, domain, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return "", fmt.Errorf("%s for %s: no PEM block", name, domain)
	}
	return base64.StdEncoding.EncodeToString(block.Bytes), nil
}

func version(expiry time.Time) string {
	if expiry.IsZero() {
		return MissingVersion
	}
	return store.FormatVersion(expiry)
}
