package secrets

import (
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring
// (Linux: Secret Service, macOS: Keychain, Windows: Credential Manager).
const keyringService = "pocketclaw"

// Canonical secret names. Vault entries, keyring entries and environment
// variables all use the same names, so one name resolves everywhere.
const (
	SecretTelegramToken = "TELEGRAM_BOT_TOKEN"
	SecretDiscordToken  = "DISCORD_BOT_TOKEN"
	SecretDeepgramKey   = "DEEPGRAM_API_KEY"
	SecretGatewayToken  = "POCKETCLAW_GATEWAY_TOKEN"
)

// EnvVaultPassword unlocks the vault non-interactively
// (PM2, systemd, Docker).
const EnvVaultPassword = "POCKETCLAW_VAULT_PASSWORD"

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found or the keyring is unavailable.
func GetKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(name string) error {
	return keyring.Delete(keyringService, name)
}

// KeyringAvailable checks if the OS keyring is accessible by running a
// write+delete cycle with a probe key.
func KeyringAvailable() bool {
	const probe = "__pocketclaw_probe__"
	if err := keyring.Set(keyringService, probe, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// Resolver resolves secrets through the priority chain:
// encrypted vault → OS keyring → environment variable → config value.
type Resolver struct {
	vault  *Vault
	logger *slog.Logger
}

// OpenResolver prepares the resolution chain. If a vault file exists at
// vaultPath it is unlocked using EnvVaultPassword, falling back to an
// interactive prompt when stdin is a terminal. An unlockable vault is
// skipped with a warning, never fatal: the rest of the chain still works.
// Unlocked vault secrets are injected into the process environment so
// that ${VAR} references in the config file resolve.
func OpenResolver(vaultPath string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "secrets")

	r := &Resolver{logger: logger}

	vault := NewVault(vaultPath)
	if !vault.Exists() {
		return r
	}

	if pass := os.Getenv(EnvVaultPassword); pass != "" {
		if err := vault.Unlock(pass); err != nil {
			logger.Warn("failed to unlock vault with "+EnvVaultPassword, "error", err)
		} else {
			logger.Info("vault unlocked via " + EnvVaultPassword)
		}
	}

	if !vault.IsUnlocked() {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			password, err := ReadPassword("Vault password: ")
			if err != nil {
				logger.Warn("failed to read vault password", "error", err)
			} else if err := vault.Unlock(password); err != nil {
				logger.Warn("failed to unlock vault", "error", err)
			}
		} else {
			logger.Info("vault exists but is locked (non-interactive, no "+EnvVaultPassword+"), using keyring/env",
				"path", vault.Path())
		}
	}

	if vault.IsUnlocked() {
		if n := vault.InjectEnv(); n > 0 {
			logger.Info("vault secrets injected into process environment", "count", n)
		}
		r.vault = vault
	}
	return r
}

// Lookup resolves one secret by its canonical name. The config value is
// the last resort; an unresolved ${VAR} reference in it counts as unset.
func (r *Resolver) Lookup(name, configValue string) string {
	if r.vault != nil {
		if val, err := r.vault.Get(name); err == nil && val != "" {
			r.logger.Debug("secret resolved from vault", "name", name)
			return val
		}
	}
	if val := GetKeyring(name); val != "" {
		r.logger.Debug("secret resolved from OS keyring", "name", name)
		return val
	}
	if val := os.Getenv(name); val != "" {
		r.logger.Debug("secret resolved from environment", "name", name)
		return val
	}
	if configValue != "" && !IsEnvReference(configValue) {
		return configValue
	}
	return ""
}

// Vault returns the unlocked vault, or nil when no vault is in use.
// CLI commands reuse it for vault-set and vault-list.
func (r *Resolver) Vault() *Vault {
	return r.vault
}

// IsEnvReference reports whether a config value is still an unexpanded
// ${VAR} reference, which means the variable was not set.
func IsEnvReference(value string) bool {
	return strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}")
}

// MigrateToKeyring stores a secret in the OS keyring so it can be
// removed from .env and the config file.
func MigrateToKeyring(name, value string, logger *slog.Logger) error {
	if err := StoreKeyring(name, value); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("secret stored in OS keyring", "service", keyringService, "name", name)
	}
	return nil
}
