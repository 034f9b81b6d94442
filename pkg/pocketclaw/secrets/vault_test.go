package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func createTestVault(t *testing.T, password string) *Vault {
	t.Helper()
	v := NewVault(filepath.Join(t.TempDir(), "test.vault"))
	if err := v.Create(password); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return v
}

func TestVaultCreateAndReopen(t *testing.T) {
	v := createTestVault(t, "master")
	if err := v.Set(SecretTelegramToken, "123456:ABC"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened := NewVault(v.Path())
	if !reopened.Exists() {
		t.Fatal("vault file should exist on disk")
	}
	if err := reopened.Unlock("master"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	got, err := reopened.Get(SecretTelegramToken)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "123456:ABC" {
		t.Errorf("Get = %q, want %q", got, "123456:ABC")
	}
}

func TestVaultCreateExisting(t *testing.T) {
	v := createTestVault(t, "master")
	if err := v.Create("another"); err == nil {
		t.Error("Create on existing vault should fail")
	}
}

func TestVaultWrongPassword(t *testing.T) {
	v := createTestVault(t, "correct")

	reopened := NewVault(v.Path())
	err := reopened.Unlock("wrong")
	if !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Unlock with wrong password = %v, want ErrWrongPassword", err)
	}
	if reopened.IsUnlocked() {
		t.Error("vault should stay locked after failed unlock")
	}
}

func TestVaultWrongPasswordEmptyVault(t *testing.T) {
	// The verification entry is written on Create, so even a vault with
	// no user secrets rejects a wrong password.
	v := createTestVault(t, "correct")

	reopened := NewVault(v.Path())
	if err := reopened.Unlock("wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Unlock = %v, want ErrWrongPassword", err)
	}
}

func TestVaultLockedOperations(t *testing.T) {
	v := createTestVault(t, "master")
	v.Lock()

	if v.IsUnlocked() {
		t.Fatal("vault should be locked after Lock")
	}
	if err := v.Set("x", "y"); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Set on locked vault = %v, want ErrVaultLocked", err)
	}
	if _, err := v.Get("x"); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Get on locked vault = %v, want ErrVaultLocked", err)
	}
	if err := v.Delete("x"); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Delete on locked vault = %v, want ErrVaultLocked", err)
	}
	if _, err := v.Keys(); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Keys on locked vault = %v, want ErrVaultLocked", err)
	}
	if v.Has("x") {
		t.Error("Has on locked vault should report false")
	}
}

func TestVaultGetMissing(t *testing.T) {
	v := createTestVault(t, "master")
	got, err := v.Get("NOPE")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if got != "" {
		t.Errorf("Get missing = %q, want empty", got)
	}
}

func TestVaultDelete(t *testing.T) {
	v := createTestVault(t, "master")
	if err := v.Set(SecretDeepgramKey, "dg-key"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.Delete(SecretDeepgramKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if v.Has(SecretDeepgramKey) {
		t.Error("secret should be gone after Delete")
	}
}

func TestVaultKeysSortedAndFiltered(t *testing.T) {
	v := createTestVault(t, "master")
	for _, name := range []string{SecretTelegramToken, SecretDeepgramKey, SecretDiscordToken} {
		if err := v.Set(name, "value"); err != nil {
			t.Fatalf("Set %s: %v", name, err)
		}
	}

	keys, err := v.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{SecretDeepgramKey, SecretDiscordToken, SecretTelegramToken}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestVaultChangePassword(t *testing.T) {
	v := createTestVault(t, "old-pass")
	if err := v.Set(SecretDiscordToken, "discord-token"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.ChangePassword("new-pass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	stale := NewVault(v.Path())
	if err := stale.Unlock("old-pass"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Unlock with old password = %v, want ErrWrongPassword", err)
	}

	fresh := NewVault(v.Path())
	if err := fresh.Unlock("new-pass"); err != nil {
		t.Fatalf("Unlock with new password: %v", err)
	}
	got, err := fresh.Get(SecretDiscordToken)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "discord-token" {
		t.Errorf("Get after ChangePassword = %q, want %q", got, "discord-token")
	}
}

func TestVaultInjectEnv(t *testing.T) {
	const name = "POCKETCLAW_TEST_INJECTED"
	t.Setenv(name, "")

	v := createTestVault(t, "master")
	if err := v.Set(name, "from-vault"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if n := v.InjectEnv(); n != 1 {
		t.Errorf("InjectEnv = %d, want 1", n)
	}
	if got := os.Getenv(name); got != "from-vault" {
		t.Errorf("env %s = %q, want %q", name, got, "from-vault")
	}
}

func TestVaultFilePermissions(t *testing.T) {
	v := createTestVault(t, "master")
	info, err := os.Stat(v.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("vault file mode = %o, want 600", perm)
	}
}

func TestNewVaultDefaultPath(t *testing.T) {
	v := NewVault("")
	if v.Path() != VaultFile {
		t.Errorf("Path = %q, want %q", v.Path(), VaultFile)
	}
}
