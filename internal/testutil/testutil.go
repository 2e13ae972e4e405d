package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/modelmux/internal/config"
)

// NewTestConfig returns a valid config whose backends are all synthetic,
// so nothing in it reaches the network or the keyring.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Engine.TokenEncoding = ""
	cfg.Backends = []config.BackendConfig{
		{
			ID:              "deep",
			Kind:            "synthetic",
			StrengthTags:    []string{"reasoning", "analysis", "long-context"},
			SpeedTier:       "slow",
			CostTier:        "premium",
			MaxOutputTokens: 4096,
			ContextWindow:   200000,
			Enabled:         true,
		},
		{
			ID:              "quick",
			Kind:            "synthetic",
			StrengthTags:    []string{"speed", "structured-output"},
			SpeedTier:       "very-fast",
			CostTier:        "low",
			MaxOutputTokens: 1024,
			ContextWindow:   32000,
			Enabled:         true,
		},
	}
	return cfg
}

// TempDir creates a temporary directory for test data.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}
