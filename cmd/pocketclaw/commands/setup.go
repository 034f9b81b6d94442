package commands

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/bot"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/secrets"
)

// newSetupCmd creates the `pocketclaw setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that creates your initial pocketclaw.yml.
Asks for the bot name, your user ID, channel tokens and assistant settings.
Tokens are stored in an encrypted vault (AES-256-GCM) or the OS keyring,
never in plaintext.

Examples:
  pocketclaw setup`,
		RunE: runSetup,
	}
}

// storageMethod tracks where the tokens were stored during setup.
type storageMethod int

const (
	storageNone    storageMethod = iota
	storageVault                 // encrypted vault (.pocketclaw.vault)
	storageKeyring               // OS keyring
)

// runSetup guides the user through config creation step by step.
func runSetup(_ *cobra.Command, _ []string) error {
	reader := bufio.NewReader(os.Stdin)
	cfg := bot.DefaultConfig()
	tokenStorage := storageNone

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║         PocketClaw  -  Setup Wizard          ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	// ── Step 1: Bot name ──
	fmt.Printf("1. Bot name [%s]: ", cfg.Name)
	if name := readLine(reader); name != "" {
		cfg.Name = name
	}

	// ── Step 2: Your user ID ──
	fmt.Println()
	fmt.Println("   Only listed user IDs can talk to the bot.")
	fmt.Println("   Telegram: message @userinfobot to find your numeric ID.")
	fmt.Println("   Discord: enable Developer Mode, right-click yourself, Copy User ID.")
	fmt.Println()
	fmt.Print("2. Your user ID (admin, Enter to skip): ")
	if admin := readLine(reader); admin != "" {
		cfg.Access.Admins = []string{admin}
	} else {
		fmt.Println("   [!] No admin set. ANYONE who finds the bot can use it.")
	}

	fmt.Print("   Additional allowed users (comma-separated, Enter to skip): ")
	if extra := readLine(reader); extra != "" {
		for _, id := range strings.Split(extra, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Access.AllowedUsers = append(cfg.Access.AllowedUsers, id)
			}
		}
	}

	// ── Steps 3-5: Channel tokens ──
	fmt.Println()
	fmt.Println("   Tokens are encrypted before they touch the disk. The config file")
	fmt.Println("   only ever holds ${VAR} references.")
	fmt.Println()

	tokens := make(map[string]string)

	if tok := readSecret(reader, "3. Telegram bot token (from @BotFather, hidden, Enter to skip): "); tok != "" {
		tokens[secrets.SecretTelegramToken] = tok
	}
	if tok := readSecret(reader, "4. Discord bot token (hidden, Enter to skip): "); tok != "" {
		tokens[secrets.SecretDiscordToken] = tok
	}
	if tok := readSecret(reader, "5. Deepgram API key for voice notes (hidden, Enter to skip): "); tok != "" {
		tokens[secrets.SecretDeepgramKey] = tok
	}

	if len(tokens) > 0 {
		tokenStorage = storeSecrets(tokens)
		if tokenStorage == storageNone {
			fmt.Println("   [!] Could not store the tokens securely.")
			fmt.Println("   Export them as environment variables before running 'pocketclaw serve'.")
		}
	}

	// The config file never contains real tokens, only references.
	if _, ok := tokens[secrets.SecretTelegramToken]; ok {
		cfg.Channels.Telegram.Token = "${" + secrets.SecretTelegramToken + "}"
	}
	if _, ok := tokens[secrets.SecretDiscordToken]; ok {
		cfg.Channels.Discord.Token = "${" + secrets.SecretDiscordToken + "}"
	}
	if _, ok := tokens[secrets.SecretDeepgramKey]; ok {
		cfg.Transcription.APIKey = "${" + secrets.SecretDeepgramKey + "}"
	}

	// ── Step 6: Assistant settings ──
	fmt.Println()
	fmt.Printf("6. Claude Code binary [%s]: ", cfg.Claude.Binary)
	if binary := readLine(reader); binary != "" {
		cfg.Claude.Binary = binary
	}

	fmt.Print("   Model (Enter keeps the CLI default): ")
	if model := readLine(reader); model != "" {
		cfg.Claude.Model = model
	}

	fmt.Printf("   Max agentic turns per message [%d]: ", cfg.Claude.MaxTurns)
	if turns := readLine(reader); turns != "" {
		if n, err := strconv.Atoi(turns); err == nil && n > 0 {
			cfg.Claude.MaxTurns = n
		} else {
			fmt.Printf("   [!] Invalid number, keeping %d.\n", cfg.Claude.MaxTurns)
		}
	}

	fmt.Print("   Working directory for the assistant (Enter inherits current): ")
	if dir := readLine(reader); dir != "" {
		cfg.Claude.WorkDir = dir
	}

	// ── Step 7: Session behavior ──
	fmt.Println()
	fmt.Println("   Session settings:")
	fmt.Println()

	fmt.Printf("   Auto-compact long conversations? (y/n) [y]: ")
	if c := readLine(reader); strings.ToLower(c) == "n" {
		cfg.Sessions.AutoCompact = false
	}

	fmt.Printf("   Echo voice transcripts back before answering? (y/n) [y]: ")
	if e := readLine(reader); strings.ToLower(e) == "n" {
		cfg.Sessions.VoiceReplies = false
	}

	// ── Summary ──
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println("  Configuration summary:")
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("  Name:      %s\n", cfg.Name)
	if len(cfg.Access.Admins) > 0 {
		fmt.Printf("  Admin:     %s\n", cfg.Access.Admins[0])
	} else {
		fmt.Printf("  Admin:     (none, open access)\n")
	}
	fmt.Printf("  Telegram:  %s\n", tokenMark(tokens, secrets.SecretTelegramToken))
	fmt.Printf("  Discord:   %s\n", tokenMark(tokens, secrets.SecretDiscordToken))
	fmt.Printf("  Voice:     %s\n", tokenMark(tokens, secrets.SecretDeepgramKey))
	switch tokenStorage {
	case storageVault:
		fmt.Println("  Storage:   **** (encrypted vault)")
	case storageKeyring:
		fmt.Println("  Storage:   **** (OS keyring)")
	default:
		if len(tokens) > 0 {
			fmt.Println("  Storage:   (not stored, use environment variables)")
		}
	}
	fmt.Printf("  Binary:    %s\n", cfg.Claude.Binary)
	if cfg.Claude.Model != "" {
		fmt.Printf("  Model:     %s\n", cfg.Claude.Model)
	}
	fmt.Printf("  Max turns: %d\n", cfg.Claude.MaxTurns)
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println()

	// ── Confirm and save ──
	target := "pocketclaw.yml"
	fmt.Printf("Save to %s? (y/n) [y]: ", target)
	if confirm := readLine(reader); strings.ToLower(confirm) == "n" {
		fmt.Println("Setup cancelled.")
		return nil
	}

	if _, err := os.Stat(target); err == nil {
		fmt.Printf("File %s already exists. Overwrite? (y/n) [n]: ", target)
		if overwrite := readLine(reader); strings.ToLower(overwrite) != "y" {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := bot.SaveToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\n%s created successfully!\n\n", target)

	fmt.Println("Security:")
	switch tokenStorage {
	case storageVault:
		fmt.Println("  - Tokens encrypted in the vault (AES-256-GCM + Argon2id)")
		fmt.Println("  - Even with filesystem access, nobody can read them without your password")
	case storageKeyring:
		fmt.Println("  - Tokens encrypted in the OS keyring")
	default:
		fmt.Println("  - No tokens stored yet")
	}
	fmt.Printf("  - %s has no secrets (permissions: 600)\n", target)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run: pocketclaw serve")
	if tokenStorage == storageVault {
		fmt.Println("  2. Enter your vault password when prompted")
		fmt.Println("     (headless hosts: set " + secrets.EnvVaultPassword + " instead)")
	}
	fmt.Println("  3. Message your bot and watch the first turn run")
	fmt.Println()

	return nil
}

// storeSecrets puts the collected tokens into the encrypted vault, falling
// back to the OS keyring. Returns the storage method used.
func storeSecrets(tokens map[string]string) storageMethod {
	fmt.Println()
	fmt.Println("   Creating encrypted vault...")
	fmt.Println("   Choose a master password (minimum 8 characters).")
	fmt.Println("   This password is NEVER stored, only you know it.")
	fmt.Println()

	password, err := secrets.ReadPassword("   Master password: ")
	if err != nil {
		fmt.Printf("   [!] Failed to read password: %v\n", err)
		return tryKeyringFallback(tokens)
	}

	vault := secrets.NewVault(secrets.VaultFile)

	if vault.Exists() {
		// An existing vault is kept; wrong password falls through to the
		// keyring rather than destroying it.
		if err := vault.Unlock(password); err != nil {
			fmt.Printf("   [!] Could not unlock the existing vault: %v\n", err)
			return tryKeyringFallback(tokens)
		}
	} else {
		if len(password) < 8 {
			fmt.Println("   [!] Password too short (minimum 8 characters).")
			return tryKeyringFallback(tokens)
		}
		confirm, err := secrets.ReadPassword("   Confirm password: ")
		if err != nil || password != confirm {
			fmt.Println("   [!] Passwords don't match.")
			return tryKeyringFallback(tokens)
		}
		if err := vault.Create(password); err != nil {
			fmt.Printf("   [!] Vault creation failed: %v\n", err)
			return tryKeyringFallback(tokens)
		}
	}

	for name, value := range tokens {
		if err := vault.Set(name, value); err != nil {
			fmt.Printf("   [!] Failed to store %s in vault: %v\n", name, err)
			vault.Lock()
			return tryKeyringFallback(tokens)
		}
	}

	vault.Lock()
	fmt.Println()
	fmt.Println("   Tokens encrypted and stored in the vault.")
	return storageVault
}

// tryKeyringFallback attempts to store the tokens in the OS keyring as a
// fallback when the vault path fails.
func tryKeyringFallback(tokens map[string]string) storageMethod {
	if !secrets.KeyringAvailable() {
		return storageNone
	}
	fmt.Println("   Trying OS keyring as fallback...")
	for name, value := range tokens {
		if err := secrets.StoreKeyring(name, value); err != nil {
			fmt.Printf("   [!] Keyring rejected %s: %v\n", name, err)
			return storageNone
		}
	}
	fmt.Println("   Tokens stored in the OS keyring.")
	return storageKeyring
}

// readSecret reads a token with hidden input, falling back to a visible
// prompt when the terminal cannot hide it.
func readSecret(reader *bufio.Reader, prompt string) string {
	value, err := secrets.ReadPassword(prompt)
	if err != nil {
		fmt.Print(strings.Replace(prompt, "hidden, ", "", 1))
		value = readLine(reader)
	}
	return strings.TrimSpace(value)
}

// readLine reads a single line from the reader, trimming whitespace.
func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// tokenMark renders whether a token was provided during setup.
func tokenMark(tokens map[string]string, name string) string {
	if _, ok := tokens[name]; ok {
		return "configured"
	}
	return "skipped"
}
