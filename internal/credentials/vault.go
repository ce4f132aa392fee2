package credentials

import (
	"context"
	"fmt"

	"fund-terminal-bridge/config"
	"fund-terminal-bridge/internal/terminal"

	"github.com/hashicorp/vault/api"
)

// VaultStore resolves terminal logins from a HashiCorp Vault KV v2 mount.
// Secrets are read per login, not cached, so rotation in Vault takes
// effect on the next sweep without a restart.
type VaultStore struct {
	client *api.Client
	config config.VaultConfig
}

var _ Store = (*VaultStore)(nil)

// NewVaultStore creates a Vault-backed store.
func NewVaultStore(cfg config.VaultConfig) (*VaultStore, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &VaultStore{client: client, config: cfg}, nil
}

// Resolve reads the account's login secret from Vault.
func (s *VaultStore) Resolve(ctx context.Context, accountID int64) (terminal.Credentials, error) {
	path := s.secretPath(accountID)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return terminal.Credentials{}, fmt.Errorf("failed to read login from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return terminal.Credentials{}, ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return terminal.Credentials{}, fmt.Errorf("invalid secret format at %s", path)
	}

	creds := terminal.Credentials{
		Password: getString(data, "password"),
		Server:   getString(data, "server"),
	}
	if creds.Password == "" {
		return terminal.Credentials{}, ErrNotFound
	}

	return creds, nil
}

// Health checks the Vault connection.
func (s *VaultStore) Health(ctx context.Context) error {
	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

func (s *VaultStore) secretPath(accountID int64) string {
	return fmt.Sprintf("%s/data/%s/%d", s.config.MountPath, s.config.SecretPath, accountID)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
