package bot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/secrets"
)

// envVarPattern matches environment variable references in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if unset
//   - ${VAR_NAME:?error}   - load error if unset
//   - $VAR_NAME            - bare variable (no default/error support)
//
// Capture groups:
//   - Group 1: variable name (${} syntax)
//   - Group 2: modifier type ("-" for default, "?" for error)
//   - Group 3: default value or error message
//   - Group 4: variable name (bare $VAR syntax)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFromFile reads and parses a YAML configuration file. .env files are
// loaded first and ${VAR} references are expanded before parsing. A
// ${VAR:?error} reference whose variable is unset fails the load.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// Parse parses YAML bytes into a Config. Starts with the defaults and
// overlays the values present in the YAML; absent keys keep their
// defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes a Config as YAML. Token values that are already
// present in the environment are replaced with ${VAR} references so the
// file never stores a live secret it does not have to. The existing file
// is kept as a .bak backup before overwriting.
func SaveToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Channels.Telegram.Token = sanitizeSecret(cfg.Channels.Telegram.Token, secrets.SecretTelegramToken)
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, secrets.SecretDiscordToken)
	sanitized.Transcription.APIKey = sanitizeSecret(cfg.Transcription.APIKey, secrets.SecretDeepgramKey)
	sanitized.Gateway.AuthToken = sanitizeSecret(cfg.Gateway.AuthToken, secrets.SecretGatewayToken)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Sanity check: refuse to write YAML we cannot read back.
	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if existing, err := os.ReadFile(path); err == nil {
			_ = os.WriteFile(path+".bak", existing, 0o600)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"pocketclaw.yml",
		"pocketclaw.yaml",
		"config.yml",
		"config.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// AuditSecrets warns about tokens hardcoded in the config file. Called
// once on startup.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	check := func(value, name string) {
		if value != "" && !secrets.IsEnvReference(value) && looksLikeRealSecret(value) {
			logger.Warn("secret appears to be hardcoded in config, use an environment variable instead",
				"secret", name,
				"hint", fmt.Sprintf("set 'token: ${%s}' and export the variable, or run 'pocketclaw setup'", name))
		}
	}
	check(cfg.Channels.Telegram.Token, secrets.SecretTelegramToken)
	check(cfg.Channels.Discord.Token, secrets.SecretDiscordToken)
	check(cfg.Transcription.APIKey, secrets.SecretDeepgramKey)
	check(cfg.Gateway.AuthToken, secrets.SecretGatewayToken)
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations. godotenv does
// not overwrite variables that are already set.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnv replaces ${VAR}, ${VAR:-default}, ${VAR:?error}, and $VAR
// references with their environment values. Unset variables without a
// modifier keep their placeholder so the secret resolver can still see
// the reference later. Unset ${VAR:?error} references fail the expansion.
func expandEnv(input string) (string, error) {
	var missing []string

	expanded := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Groups: 1=varName, 2=modifier(-|?), 3=value, 4=bareVar
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, modValue, bareVar := sub[1], sub[2], sub[3], sub[4]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		switch modifier {
		case "?":
			msg := modValue
			if msg == "" {
				msg = "required environment variable not set"
			}
			missing = append(missing, fmt.Sprintf("%s (%s)", varName, msg))
			return match
		case "-":
			return modValue
		}

		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// resolveRelativePaths converts relative paths to absolute paths based on
// the config file's directory, so paths keep working regardless of the
// working directory pocketclaw was started from.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)

	cfg.Sessions.Path = resolvePathFromConfig(cfg.Sessions.Path, configDir)
	cfg.Audit.Path = resolvePathFromConfig(cfg.Audit.Path, configDir)
	cfg.Claude.WorkDir = resolvePathFromConfig(cfg.Claude.WorkDir, configDir)
	cfg.Claude.SessionsRoot = resolvePathFromConfig(cfg.Claude.SessionsRoot, configDir)
}

// resolvePathFromConfig makes a path absolute, resolving relative paths
// against the config file's directory. Expands ~ to the home directory.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}

	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(configDir, path)
}

// sanitizeSecret replaces a real secret with an env var reference for
// safe storage in config files. The value is kept verbatim when it does
// not match the environment, the user put it there on purpose.
func sanitizeSecret(value, envVar string) string {
	if value == "" || secrets.IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// looksLikeRealSecret heuristically checks whether a string looks like a
// live credential rather than a placeholder.
func looksLikeRealSecret(s string) bool {
	if secrets.IsEnvReference(s) {
		return false
	}
	return len(s) > 20
}

// checkFilePermissions warns if the config file is group- or
// world-readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
