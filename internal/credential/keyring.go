// Package credential stores per-tenant logins for external sources.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "anyarchie"

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

type Config struct {
	// Backend is "file" (encrypted files under FileDir) or "system"
	// (OS keychain, falling back to files).
	Backend      string
	FileDir      string
	FilePassword string
}

type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Provider reads and writes credentials keyed by tenant and service.
type Provider struct {
	ring keyring.Keyring
}

// Open returns a Provider backed by the configured keyring.
func Open(cfg Config) (*Provider, error) {
	backends := []keyring.BackendType{keyring.FileBackend}
	if cfg.Backend == "system" {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}
	dir := cfg.FileDir
	if dir == "" {
		dir = "./credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Provider{ring: ring}, nil
}

// NewProvider wraps an already opened keyring.
func NewProvider(ring keyring.Keyring) *Provider {
	return &Provider{ring: ring}
}

// Key is the item key for a tenant's credential for service, e.g.
// "<tenant-id>/gmail".
func Key(tenantID, service string) string {
	return strings.TrimSpace(tenantID) + "/" + strings.ToLower(strings.TrimSpace(service))
}

func (p *Provider) Get(tenantID, service string) (Credential, error) {
	key := Key(tenantID, service)
	item, err := p.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("getting credential %q: %w", key, err)
	}
	var c Credential
	if err := json.Unmarshal(item.Data, &c); err != nil {
		return Credential{}, fmt.Errorf("decoding credential %q: %w", key, err)
	}
	return c, nil
}

func (p *Provider) Set(tenantID, service string, c Credential) error {
	if c.Username == "" || c.Password == "" {
		return errors.New("credential needs username and password")
	}
	key := Key(tenantID, service)
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := p.ring.Set(keyring.Item{Key: key, Data: data, Label: serviceName + " " + service}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func (p *Provider) Delete(tenantID, service string) error {
	key := Key(tenantID, service)
	err := p.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
