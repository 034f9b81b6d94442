package secrets

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestLookupFromEnv(t *testing.T) {
	const name = "POCKETCLAW_TEST_ENV_SECRET"
	t.Setenv(name, "env-value")

	r := OpenResolver(filepath.Join(t.TempDir(), "missing.vault"), testLogger())
	if got := r.Lookup(name, "config-value"); got != "env-value" {
		t.Errorf("Lookup = %q, want %q", got, "env-value")
	}
}

func TestLookupConfigFallback(t *testing.T) {
	r := OpenResolver(filepath.Join(t.TempDir(), "missing.vault"), testLogger())
	if got := r.Lookup("POCKETCLAW_TEST_UNSET", "from-config"); got != "from-config" {
		t.Errorf("Lookup = %q, want %q", got, "from-config")
	}
}

func TestLookupUnresolvedReference(t *testing.T) {
	r := OpenResolver(filepath.Join(t.TempDir(), "missing.vault"), testLogger())
	if got := r.Lookup("POCKETCLAW_TEST_UNSET", "${POCKETCLAW_TEST_UNSET}"); got != "" {
		t.Errorf("Lookup with unresolved reference = %q, want empty", got)
	}
}

func TestLookupVaultPriority(t *testing.T) {
	const name = "POCKETCLAW_TEST_VAULT_SECRET"
	t.Setenv(name, "env-value")
	t.Setenv(EnvVaultPassword, "master")

	path := filepath.Join(t.TempDir(), "test.vault")
	v := NewVault(path)
	if err := v.Create("master"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := v.Set(name, "vault-value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	r := OpenResolver(path, testLogger())
	if r.Vault() == nil {
		t.Fatal("resolver should have unlocked the vault via " + EnvVaultPassword)
	}
	if got := r.Lookup(name, "config-value"); got != "vault-value" {
		t.Errorf("Lookup = %q, want vault value %q", got, "vault-value")
	}

	// Unlocking also injects secrets into the environment for ${VAR}
	// config references.
	if got := os.Getenv(name); got != "vault-value" {
		t.Errorf("env %s = %q, want injected %q", name, got, "vault-value")
	}
}

func TestOpenResolverWrongVaultPassword(t *testing.T) {
	t.Setenv(EnvVaultPassword, "wrong")

	path := filepath.Join(t.TempDir(), "test.vault")
	if err := NewVault(path).Create("master"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Wrong password is a warning, not a failure: the resolver still
	// serves the rest of the chain.
	r := OpenResolver(path, testLogger())
	if r.Vault() != nil {
		t.Error("vault should not be unlocked with a wrong password")
	}
	if got := r.Lookup("POCKETCLAW_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("Lookup = %q, want %q", got, "fallback")
	}
}

func TestOpenResolverNilLogger(t *testing.T) {
	r := OpenResolver(filepath.Join(t.TempDir(), "missing.vault"), nil)
	if r == nil {
		t.Fatal("OpenResolver returned nil")
	}
	if got := r.Lookup("POCKETCLAW_TEST_UNSET", ""); got != "" {
		t.Errorf("Lookup = %q, want empty", got)
	}
}

func TestIsEnvReference(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"${TELEGRAM_BOT_TOKEN}", true},
		{"${DEEPGRAM_API_KEY:-}", true},
		{"plain-token", false},
		{"", false},
		{"${partial", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := IsEnvReference(tt.value); got != tt.want {
				t.Errorf("IsEnvReference(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
