package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

func newTestUpdater(t *testing.T, fallback string) (*Updater, string) {
	t.Helper()
	dir := t.TempDir()
	return NewUpdater("t1:gateway", filepath.Join(dir, "secrets.json"), filepath.Join(dir, "certs"), fallback, nil), dir
}

func putSecrets(dst, doc string) wire.Event {
	return &wire.PutSecrets{Header: wire.Header{Type: wire.TypePutSecrets, Src: addr.Earth, Dst: dst}, Data: json.RawMessage(doc)}
}

func TestUpdater_Secrets(t *testing.T) {
	u, dir := newTestUpdater(t, "initial")
	if u.Token() != "initial" || u.SecretsVersion() != "" {
		t.Fatalf("fresh updater: token=%q version=%q", u.Token(), u.SecretsVersion())
	}

	ctx := context.Background()
	if err := u.Receive(ctx, putSecrets("t9:gateway", `{"gateway-token":"stolen","version":"x"}`)); err != nil {
		t.Fatal(err)
	}
	if u.Token() != "initial" {
		t.Errorf("secrets for another gateway were applied")
	}

	if err := u.Receive(ctx, putSecrets("t1:gateway", `{"gateway-token":"fresh","version":"2024-03-01T00:00:00"}`)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if u.Token() != "fresh" || u.SecretsVersion() != "2024-03-01T00:00:00" {
		t.Errorf("token=%q version=%q", u.Token(), u.SecretsVersion())
	}

	// A restarted gateway picks the saved token over its configured one.
	again := NewUpdater("t1:gateway", filepath.Join(dir, "secrets.json"), filepath.Join(dir, "certs"), "initial", nil)
	if again.Token() != "fresh" {
		t.Errorf("reloaded token = %q, want fresh", again.Token())
	}
}

func TestUpdater_RejectsBadSecrets(t *testing.T) {
	u, dir := newTestUpdater(t, "initial")
	if err := u.Receive(context.Background(), putSecrets("t1:gateway", `["not", "an", "object"]`)); err == nil {
		t.Error("expected an error")
	}
	if _, err := os.Stat(filepath.Join(dir, "secrets.json")); !os.IsNotExist(err) {
		t.Errorf("secrets file written for a bad document: %v", err)
	}
}

func TestUpdater_Certificate(t *testing.T) {
	u, dir := newTestUpdater(t, "")
	if u.CertVersion() != "" {
		t.Fatalf("CertVersion() = %q before any bundle", u.CertVersion())
	}
	data, _ := json.Marshal(map[string]string{
		"cert":    base64.StdEncoding.EncodeToString([]byte("cert-der")),
		"privkey": base64.StdEncoding.EncodeToString([]byte("key-der")),
		"version": "2025-01-01T00:00:00",
	})
	e := &wire.PutCert{Header: wire.Header{Type: wire.TypePutCert, Src: addr.Earth, Dst: "t1:gateway"}, Data: data}
	if err := u.Receive(context.Background(), e); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if u.CertVersion() != "2025-01-01T00:00:00" {
		t.Errorf("CertVersion() = %q", u.CertVersion())
	}
	for name, want := range map[string]struct{ typ, body string }{
		"cert.pem":    {"CERTIFICATE", "cert-der"},
		"privkey.pem": {"PRIVATE KEY", "key-der"},
	} {
		raw, err := os.ReadFile(filepath.Join(dir, "certs", name))
		if err != nil {
			t.Fatal(err)
		}
		block, _ := pem.Decode(raw)
		if block == nil || block.Type != want.typ || string(block.Bytes) != want.body {
			t.Errorf("%s: got %+v", name, block)
		}
	}
	info, err := os.Stat(filepath.Join(dir, "certs", "privkey.pem"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("privkey.pem mode = %o, want 600", perm)
	}
}

func TestUpdater_MissingCertificateRecordsVersion(t *testing.T) {
	u, dir := newTestUpdater(t, "")
	e := &wire.PutCert{
		Header: wire.Header{Type: wire.TypePutCert, Src: addr.Earth, Dst: "t1:gateway"},
		Data:   json.RawMessage(`{"cert":"","privkey":"","version":"1970-01-01T00:00:00"}`),
	}
	if err := u.Receive(context.Background(), e); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if u.CertVersion() != "1970-01-01T00:00:00" {
		t.Errorf("CertVersion() = %q", u.CertVersion())
	}
	if _, err := os.Stat(filepath.Join(dir, "certs", "cert.pem")); !os.IsNotExist(err) {
		t.Errorf("cert.pem written without a certificate")
	}
}
