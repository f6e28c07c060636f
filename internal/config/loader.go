package config

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable Load reads.
const EnvPrefix = "CONCEPTD_"

const maxConfigFileSize = 1024 * 1024 // 1MB

//go:embed defaults.yaml
var defaultsYAML []byte

// Load builds the configuration from defaults, the YAML file at configPath
// and CONCEPTD_* environment variables, in increasing order of precedence.
//
// An empty configPath means ~/.config/conceptd/config.yaml, which may be
// absent. An explicit configPath must exist. Config files must live in
// ~/.config/conceptd/ or /etc/conceptd/, be at most 1MB and carry 0600 or
// 0400 permissions.
//
// Environment variables map to keys by stripping the prefix and splitting on
// the first underscore:
//
//	CONCEPTD_BATCH_MAX_CHARS       -> batch.max_chars
//	CONCEPTD_EXTRACTION_API_KEY    -> extraction.api_key
//	CONCEPTD_TRANSPORT_SESSIONS    -> transport.sessions (comma separated)
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "conceptd", "config.yaml")
	}

	content, err := readConfigFile(configPath, explicit)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyFallbacks(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransform maps CONCEPTD_SECTION_FIELD_NAME to section.field_name.
// Variables without a field part are ignored.
func envTransform(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok || section == "" || field == "" {
		return "", nil
	}
	path := section + "." + field
	if path == "transport.sessions" {
		var ids []string
		for _, id := range strings.Split(value, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return path, ids
	}
	return path, value
}

// applyFallbacks fills values that conventionally come from provider-specific
// environment variables.
func applyFallbacks(cfg *Config) {
	if !cfg.Extraction.APIKey.IsSet() {
		switch cfg.Extraction.Provider {
		case "openai":
			cfg.Extraction.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
		case "anthropic":
			cfg.Extraction.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
		}
	}
	if cfg.Transport.URL == "" && cfg.Transport.Provider == "nats" {
		cfg.Transport.URL = cfg.Bus.URL
	}
}

// readConfigFile returns the validated file content, or nil when the default
// file does not exist.
func readConfigFile(path string, mustExist bool) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate through the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks that path resolves inside an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet.
		resolved = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	for _, dir := range allowedConfigDirs(home) {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/conceptd/ or /etc/conceptd/")
}

func allowedConfigDirs(home string) []string {
	dirs := []string{
		filepath.Join(home, ".config", "conceptd"),
		"/etc/conceptd",
	}
	// Home may itself sit behind a symlink (macOS /var -> /private/var).
	if resolvedHome, err := filepath.EvalSymlinks(home); err == nil && resolvedHome != home {
		dirs = append(dirs, filepath.Join(resolvedHome, ".config", "conceptd"))
	}
	return dirs
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
