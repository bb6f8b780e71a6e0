package certstore

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alfredjeanlab/leafbus/internal/store"
)

// selfSigned returns PEM-encoded certificate and key expiring at notAfter.
func selfSigned(t *testing.T, host string, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
}

func writeCert(t *testing.T, dir, domain string, notAfter time.Time) []byte {
	t.Helper()
	certPEM, keyPEM := selfSigned(t, domain, notAfter)
	if err := os.MkdirAll(filepath.Join(dir, domain), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, domain, certFile), certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, domain, keyFile), keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	return certPEM
}

func TestDirProvider(t *testing.T) {
	dir := t.TempDir()
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	certPEM := writeCert(t, dir, "oak.ws.example.org", expiry)

	p := New(Dir(dir), "example.org")
	ctx := context.Background()

	v, err := p.Version(ctx, "oak")
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "2030-01-02T03:04:05" {
		t.Errorf("Version() = %q", v)
	}

	b, err := p.Get(ctx, "oak")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Version != v {
		t.Errorf("bundle version %q, want %q", b.Version, v)
	}
	block, _ := pem.Decode(certPEM)
	if b.Data["cert"] != base64.StdEncoding.EncodeToString(block.Bytes) {
		t.Error("cert is not the base64 DER of cert.pem")
	}
	if b.Data["privkey"] == "" {
		t.Error("expected private key")
	}
	if b.Data["domain"] != "oak.ws.example.org" || b.Data["tree_id"] != "oak" {
		t.Errorf("unexpected bundle data: %v", b.Data)
	}
}

func TestDirProvider_Missing(t *testing.T) {
	p := New(Dir(t.TempDir()), "example.org")
	b, err := p.Get(context.Background(), "pine")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Version != MissingVersion || MissingVersion != "1970-01-01T00:00:00" {
		t.Errorf("version = %q, want epoch", b.Version)
	}
	if b.Data["cert"] != "" {
		t.Errorf("cert = %v, want empty", b.Data["cert"])
	}
}

func TestDirProvider_Garbage(t *testing.T) {
	dir := t.TempDir()
	domain := "elm.ws.example.org"
	_ = os.MkdirAll(filepath.Join(dir, domain), 0o755)
	_ = os.WriteFile(filepath.Join(dir, domain, certFile), []byte("not pem"), 0o600)

	if _, err := New(Dir(dir), "example.org").Version(context.Background(), "elm"); err == nil {
		t.Error("expected error for non-PEM certificate")
	}
}

type fakeS3 struct {
	objects map[string][]byte
	keys    []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.keys = append(f.keys, *in.Key)
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Source(t *testing.T) {
	expiry := time.Date(2031, 6, 1, 0, 0, 0, 0, time.UTC)
	certPEM, keyPEM := selfSigned(t, "oak.ws.example.org", expiry)
	fake := &fakeS3{objects: map[string][]byte{
		"certs/oak.ws.example.org/cert.pem":    certPEM,
		"certs/oak.ws.example.org/privkey.pem": keyPEM,
	}}
	src := &S3{client: fake, bucket: "b", prefix: "certs"}
	ctx := context.Background()

	v, err := New(src, "example.org").Version(ctx, "oak")
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "2031-06-01T00:00:00" {
		t.Errorf("Version() = %q", v)
	}

	if _, err := src.Read(ctx, "nope.ws.example.org", certFile); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing key: got %v, want ErrNotFound", err)
	}
	if fake.keys[0] != "certs/oak.ws.example.org/cert.pem" {
		t.Errorf("first key = %q", fake.keys[0])
	}
}
