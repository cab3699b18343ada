package config

import (
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

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// sections lists the top-level keys an environment variable may target.
var sections = map[string]bool{
	"server":      true,
	"search":      true,
	"webhook":     true,
	"vision":      true,
	"embeddings":  true,
	"vectorstore": true,
	"cms":         true,
	"sync":        true,
	"logging":     true,
	"telemetry":   true,
}

// envAliases maps conventional deployment variables onto config keys.
var envAliases = map[string]string{
	"PORT":                        "server.port",
	"OPENAI_API_KEY":              "vision.api_key",
	"CONTENTSTACK_API_KEY":        "cms.api_key",
	"CONTENTSTACK_DELIVERY_TOKEN": "cms.delivery_token",
	"CONTENTSTACK_ENVIRONMENT":    "cms.environment",
	"CONTENTSTACK_REGION":         "cms.region",
}

// listKeys are keys whose environment values are comma-separated lists.
var listKeys = map[string]bool{
	"server.cors_origins": true,
	"sync.content_types":  true,
}

// LoadWithFile loads configuration from a YAML or TOML file, then overrides
// with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, WEBHOOK_PASSWORD, etc.)
//  2. Config file (~/.config/cmssearch/config.yaml when configPath is empty)
//  3. Hardcoded defaults
//
// The file format is chosen by extension: .toml uses the TOML parser,
// anything else is parsed as YAML. A missing file is not an error.
//
// # Security Considerations
//
// The config file may hold credentials, so it MUST have 0600 or 0400
// permissions and be no larger than 1MB.
//
// # Environment Variable Mapping
//
// Variables are split on the first underscore into section.field:
//
//	SERVER_PORT              -> server.port
//	VECTORSTORE_QDRANT_HOST  -> vectorstore.qdrant_host
//	SYNC_CONTENT_TYPES=a,b   -> sync.content_types = [a b]
//
// A few conventional names are also recognized, such as PORT,
// OPENAI_API_KEY and CONTENTSTACK_DELIVERY_TOKEN.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "cmssearch", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), parserFor(configPath)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// parserFor picks the koanf parser for a config file path.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TOMLParser()
	default:
		return yaml.Parser()
	}
}

// transformEnv maps an environment variable onto a config key. Variables
// outside the known sections, and empty values, are ignored by returning an
// empty key so they never clobber file values.
func transformEnv(name, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	if key, ok := envAliases[name]; ok {
		return key, value
	}

	lower := strings.ToLower(name)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || parts[1] == "" || !sections[parts[0]] {
		return "", nil
	}

	key := parts[0] + "." + parts[1]
	if listKeys[key] {
		return key, splitList(value)
	}
	return key, value
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
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
