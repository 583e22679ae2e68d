package abireport

import (
	"bufio"
	"os"
	"strings"
)

// Config holds the key=value configuration plus the derived policy knobs.
type Config struct {
	Values map[string]string
}

// LoadConfig reads /etc/abireport.conf (or the given path) and applies
// defaults. A missing file is not an error; ABIREPORT_* environment
// variables override file values.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	mergeEnvOverrides(cfg)

	if cfg.Values["STORE_DIR"] == "" {
		cfg.Values["STORE_DIR"] = "/var/db/abireport"
	}

	return cfg, nil
}

// Merge ABIREPORT_* env overrides, stripping the prefix so ABIREPORT_STORE_DIR
// lands on STORE_DIR.
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "ABIREPORT_") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, "ABIREPORT_"), "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			cfg.Values[parts[0]] = parts[1]
		}
	}
}

// CapturePolicy derives the capture strictness from configuration.
func (cfg *Config) CapturePolicy() CapturePolicy {
	return CapturePolicy{RequireSymbols: cfg.Values["REQUIRE_SYMBOLS"] == "1"}
}

// HashPolicy derives the fingerprint channels from configuration.
func (cfg *Config) HashPolicy() HashPolicy {
	return HashPolicy{HashImports: cfg.Values["HASH_IMPORTS"] == "1"}
}

// UnknownPolicy derives the bootstrap policy from configuration. Conservative
// is the documented default: an unprovable dependency triggers a rebuild
// recommendation.
func (cfg *Config) UnknownPolicy() UnknownPolicy {
	if cfg.Values["UNKNOWN_POLICY"] == "optimistic" {
		return UnknownOptimistic
	}
	return UnknownConservative
}

// StoreDir returns the local record store root.
func (cfg *Config) StoreDir() string {
	return cfg.Values["STORE_DIR"]
}
