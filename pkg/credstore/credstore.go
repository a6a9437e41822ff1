// Package credstore persists a credential configuration to a JSON file.
// The secret part is sealed by a caller supplied Sealer and never written
// in plaintext; the package does not pick a cipher.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
)

// DocumentVersion is the format version written by Save.
const DocumentVersion = 1

var (
	// ErrNotFound is returned by Load when no document exists.
	ErrNotFound = errors.New("credstore: no stored credential")

	// ErrUnsupportedVersion is returned for documents from a newer format.
	ErrUnsupportedVersion = errors.New("credstore: unsupported document version")

	// ErrNoSealer is returned when a secret must be sealed or opened but the
	// store has no Sealer.
	ErrNoSealer = errors.New("credstore: no sealer configured")
)

// Sealer encrypts and authenticates secrets.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Flow names persisted in documents.
const (
	FlowClientCredentials = "client_credentials"
	FlowRefreshToken      = "refresh_token"
	FlowPassword          = "password"
)

// Document is the persisted form of a credential.
type Document struct {
	Version     int      `json:"version"`
	Flow        string   `json:"flow"`
	ClientID    string   `json:"client_id"`
	Cloud       string   `json:"cloud"`
	Tenant      string   `json:"tenant"`
	Scopes      []string `json:"scopes"`
	RedirectURI string   `json:"redirect_uri,omitempty"`
	Username    string   `json:"username,omitempty"`

	// AuthorityHost overrides the cloud's login host
	AuthorityHost string `json:"authority_host,omitempty"`

	// Secret is the sealed client secret, refresh token or password,
	// base64 encoded on disk
	Secret []byte `json:"secret,omitempty"`
}

// Store reads and writes one document at path.
type Store struct {
	path   string
	sealer Sealer
}

// New returns a store for path. sealer may be nil for documents without
// secrets.
func New(path string, sealer Sealer) *Store {
	return &Store{path: path, sealer: sealer}
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Save seals secret into doc and writes it atomically with mode 0600.
func (s *Store) Save(doc Document, secret string) error {
	doc.Version = DocumentVersion
	doc.Secret = nil

	if secret != "" {
		if s.sealer == nil {
			return ErrNoSealer
		}
		sealed, err := s.sealer.Seal([]byte(secret))
		if err != nil {
			return fmt.Errorf("credstore: failed to seal secret: %w", err)
		}
		doc.Secret = sealed
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: failed to encode document: %w", err)
	}
	return writeFileAtomic(s.path, data, 0o600)
}

// Load reads the document and opens its secret.
func (s *Store) Load() (*Document, string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("credstore: failed to read document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("credstore: failed to decode document: %w", err)
	}
	if doc.Version > DocumentVersion {
		return nil, "", fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	if len(doc.Secret) == 0 {
		return &doc, "", nil
	}
	if s.sealer == nil {
		return nil, "", ErrNoSealer
	}
	secret, err := s.sealer.Open(doc.Secret)
	if err != nil {
		return nil, "", fmt.Errorf("credstore: failed to open secret: %w", err)
	}
	return &doc, string(secret), nil
}

// Delete removes the document. A missing document is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: failed to delete document: %w", err)
	}
	return nil
}

// Credential rebuilds the credential described by doc.
func (doc *Document) Credential(secret string) (authsdk.Credential, error) {
	cloud, err := authority.ParseCloud(doc.Cloud)
	if err != nil {
		return nil, err
	}
	tenant, err := authority.ParseTenant(doc.Tenant)
	if err != nil {
		return nil, err
	}

	b := authsdk.NewBuilder(doc.ClientID).
		Cloud(cloud).
		Tenant(tenant).
		Scopes(doc.Scopes...)
	if doc.RedirectURI != "" {
		b = b.RedirectURI(doc.RedirectURI)
	}
	if doc.AuthorityHost != "" {
		b = b.Host(doc.AuthorityHost)
	}

	switch strings.ToLower(doc.Flow) {
	case FlowClientCredentials:
		return b.ClientSecret(secret), nil
	case FlowRefreshToken:
		return b.RefreshToken(secret), nil
	case FlowPassword:
		return b.Password(doc.Username, secret), nil
	default:
		return nil, fmt.Errorf("credstore: flow %q cannot be restored", doc.Flow)
	}
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it into place so readers never see a partial document.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credstore: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("credstore: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: failed to close document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("credstore: failed to replace document: %w", err)
	}
	return nil
}
