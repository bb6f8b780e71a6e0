package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alfredjeanlab/leafbus/internal/store"
	"github.com/alfredjeanlab/leafbus/internal/store/filestore"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

const versionFile = "version"

// Updater persists the secrets and certificate bundles the hub sends in
// reply to get_secrets and get_cert, and keeps the gateway token current.
type Updater struct {
	self    string
	secrets *filestore.File
	certDir string
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewUpdater returns an updater for the gateway at self. The token stored
// in the secrets file wins over fallback.
func NewUpdater(self, secretsPath, certDir, fallback string, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	u := &Updater{
		self:    self,
		secrets: &filestore.File{Path: secretsPath},
		certDir: certDir,
		logger:  logger,
		token:   fallback,
	}
	if doc, err := u.secrets.Read(); err == nil {
		if tok := gatewayToken(doc); tok != "" {
			u.token = tok
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("updater: ignoring unreadable secrets", "path", secretsPath, "err", err)
	}
	return u
}

// Token is the token to present on the next handshake.
func (u *Updater) Token() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.token
}

func (u *Updater) SecretsVersion() string { return u.secrets.Version() }

// CertVersion is the version of the installed certificate, or "" if none
// has been installed.
func (u *Updater) CertVersion() string {
	data, err := os.ReadFile(filepath.Join(u.certDir, versionFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (u *Updater) Receive(_ context.Context, e wire.Event) error {
	switch v := e.(type) {
	case *wire.PutSecrets:
		if v.Dst != u.self {
			return nil
		}
		return u.saveSecrets(v.Data)
	case *wire.PutCert:
		if v.Dst != u.self {
			return nil
		}
		return u.saveCert(v.Data)
	}
	return nil
}

func (u *Updater) saveSecrets(doc json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		u.logger.Warn("updater: rejected secrets", "err", err)
		return fmt.Errorf("secrets: %w", err)
	}
	if err := u.secrets.Write(doc); err != nil {
		return err
	}
	if tok := gatewayToken(doc); tok != "" {
		u.mu.Lock()
		u.token = tok
		u.mu.Unlock()
	}
	u.logger.Info("updater: secrets saved", "version", u.secrets.Version())
	return nil
}

type certBundle struct {
	Cert    string `json:"cert"`
	PrivKey string `json:"privkey"`
	Version string `json:"version"`
}

func (u *Updater) saveCert(doc json.RawMessage) error {
	var b certBundle
	if err := json.Unmarshal(doc, &b); err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	if err := os.MkdirAll(u.certDir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", u.certDir, err)
	}
	// A bundle without a certificate still records its version, so the
	// gateway stops asking until the hub has one.
	if b.Cert != "" {
		if err := writePEM(filepath.Join(u.certDir, "cert.pem"), "CERTIFICATE", b.Cert, 0o644); err != nil {
			return err
		}
		if err := writePEM(filepath.Join(u.certDir, "privkey.pem"), "PRIVATE KEY", b.PrivKey, 0o600); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(u.certDir, versionFile), []byte(b.Version+"\n"), 0o644); err != nil {
		return fmt.Errorf("write certificate version: %w", err)
	}
	u.logger.Info("updater: certificate saved", "version", b.Version)
	return nil
}

func writePEM(path, blockType, b64 string, perm os.FileMode) error {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func gatewayToken(doc json.RawMessage) string {
	var v struct {
		Token string `json:"gateway-token"`
	}
	_ = json.Unmarshal(doc, &v)
	return v.Token
}
