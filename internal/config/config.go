// Package config loads process-level configuration from the environment,
// read once at boot — distinct from internal/configstore's DB-backed,
// hot-reloadable tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pik-systems/identity-kernel/infrastructure/runtime"
	"github.com/pik-systems/identity-kernel/infrastructure/utils"
)

// Config holds every environment-driven setting the server needs at boot.
type Config struct {
	Port          string
	DatabaseURL   string
	Env           runtime.Environment
	CORSOrigins   []string
	WebAuthnRPName string
	WebAuthnRPID   string
	WebAuthnOrigin string
	LogLevel      string
	LogFormat     string
}

// fileOverlay is an optional YAML defaults file (PIK_CONFIG_FILE):
// environment variables always take precedence over it, so it's useful for
// checked-in per-environment defaults that ops still override ad hoc.
type fileOverlay struct {
	Port           string   `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	WebAuthnRPName string   `yaml:"webauthn_rp_name"`
	WebAuthnRPID   string   `yaml:"webauthn_rp_id"`
	WebAuthnOrigin string   `yaml:"webauthn_origin"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
}

func loadFileOverlay() (*fileOverlay, error) {
	path := strings.TrimSpace(os.Getenv("PIK_CONFIG_FILE"))
	if path == "" {
		return &fileOverlay{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &overlay, nil
}

// Load reads a `.env` file when present (a local-dev convenience), then an
// optional YAML defaults file, then resolves every setting from the process
// environment (which always wins over both).
func Load() (*Config, error) {
	_ = godotenv.Load()

	overlay, err := loadFileOverlay()
	if err != nil {
		return nil, err
	}

	env := runtime.Env()

	cfg := &Config{
		Port:           getenvOrOverlay("PORT", overlay.Port, "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Env:            env,
		CORSOrigins:    firstNonEmptyList(utils.TrimEmpty(utils.SplitTrim(os.Getenv("CORS_ORIGINS"), ",")), overlay.CORSOrigins),
		WebAuthnRPName: getenvOrOverlay("WEBAUTHN_RP_NAME", overlay.WebAuthnRPName, ""),
		WebAuthnRPID:   getenvOrOverlay("WEBAUTHN_RP_ID", overlay.WebAuthnRPID, ""),
		WebAuthnOrigin: getenvOrOverlay("WEBAUTHN_ORIGIN", overlay.WebAuthnOrigin, ""),
		LogLevel:       getenvOrOverlay("LOG_LEVEL", overlay.LogLevel, "info"),
		LogFormat:      getenvOrOverlay("LOG_FORMAT", overlay.LogFormat, "text"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	if env == runtime.Production {
		if cfg.WebAuthnRPName == "" || cfg.WebAuthnRPID == "" || cfg.WebAuthnOrigin == "" {
			return nil, fmt.Errorf("config: WEBAUTHN_RP_NAME, WEBAUTHN_RP_ID and WEBAUTHN_ORIGIN are required in production")
		}
	} else {
		if cfg.WebAuthnRPName == "" {
			cfg.WebAuthnRPName = "Persistent Identity Kernel"
		}
		if cfg.WebAuthnRPID == "" {
			cfg.WebAuthnRPID = "localhost"
		}
		if cfg.WebAuthnOrigin == "" {
			cfg.WebAuthnOrigin = "http://localhost:" + cfg.Port
		}
	}

	return cfg, nil
}

// getenvOrOverlay resolves a setting env-first, then the YAML overlay value,
// then the hardcoded fallback.
func getenvOrOverlay(key, overlayValue, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if v := strings.TrimSpace(overlayValue); v != "" {
		return v
	}
	return fallback
}

func firstNonEmptyList(envValue, overlayValue []string) []string {
	if len(envValue) > 0 {
		return envValue
	}
	return overlayValue
}

// ParseRateLimitInt reads an integer env var, falling back when unset or invalid.
func ParseRateLimitInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
