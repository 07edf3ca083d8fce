// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Recognized key files: analysis-api-key, openai-api-key, anthropic-api-key.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/customer-engine/pkg/types"
)

// Key file names.
const (
	KeyAnalysis  = "analysis-api-key"
	KeyOpenAI    = "openai-api-key"
	KeyAnthropic = "anthropic-api-key"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory is not an error; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, logger *slog.Logger) (map[string]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", "key", name, "error", err)
			continue
		}

		if value := strings.TrimSpace(string(data)); value != "" {
			secrets[name] = value
		}
	}
	return secrets, nil
}

// APIKeyFor returns the key for provider. The provider-specific file wins
// over the generic analysis-api-key; ollama and none need no key.
func APIKeyFor(provider types.AnalysisProvider, secrets map[string]string) string {
	switch provider {
	case types.ProviderOpenAI:
		if k := secrets[KeyOpenAI]; k != "" {
			return k
		}
	case types.ProviderAnthropic:
		if k := secrets[KeyAnthropic]; k != "" {
			return k
		}
	case types.ProviderHTTP:
	default:
		return ""
	}
	return secrets[KeyAnalysis]
}

// Apply fills cfg.APIKey from secrets when the configuration leaves it empty.
func Apply(cfg *types.AnalysisConfig, secrets map[string]string) {
	if cfg.APIKey == "" {
		cfg.APIKey = APIKeyFor(cfg.Provider, secrets)
	}
}
