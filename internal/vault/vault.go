package vault

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "modelmux"
	envPrefix   = "MODELMUX_KEY_"
)

// ErrNotFound is returned when no secret exists for a provider.
var ErrNotFound = errors.New("key not found")

// KnownProviders are the credential slots listed by List.
var KnownProviders = []string{"anthropic", "openai", "google", "deepseek"}

// Vault stores provider API keys in the OS keychain, falling back to
// MODELMUX_KEY_<PROVIDER> environment variables.
type Vault struct{}

// New creates a Vault.
func New() *Vault {
	return &Vault{}
}

// Set stores key for provider in the OS keychain.
func (v *Vault) Set(provider, key string) error {
	if provider == "" || key == "" {
		return fmt.Errorf("provider and key must not be empty")
	}
	return keyring.Set(serviceName, provider, key)
}

// Get returns the key for provider from the keychain or the environment.
func (v *Vault) Get(provider string) (string, error) {
	if secret, err := keyring.Get(serviceName, provider); err == nil && secret != "" {
		return secret, nil
	}
	envKey := envVarFor(provider)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w for provider %q: not in keychain and %s not set", ErrNotFound, provider, envKey)
}

// Delete removes the key for provider from the keychain.
func (v *Vault) Delete(provider string) error {
	if err := keyring.Delete(serviceName, provider); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w for provider %q", ErrNotFound, provider)
		}
		return err
	}
	return nil
}

// List returns the known providers that currently have a key available.
func (v *Vault) List() []string {
	var out []string
	for _, p := range KnownProviders {
		if _, err := v.Get(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// ResolveKeyRef resolves a backend key_ref. Supported forms:
//
//	keyring://modelmux/<provider>
//	env:VARIABLE_NAME
//	file:///path/to/key
func (v *Vault) ResolveKeyRef(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "keyring://"):
		service, provider, ok := strings.Cut(strings.TrimPrefix(ref, "keyring://"), "/")
		if !ok || service != serviceName || provider == "" {
			return "", fmt.Errorf("invalid key reference %q (expected \"keyring://%s/<provider>\")", ref, serviceName)
		}
		return v.Get(provider)

	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		if val := os.Getenv(name); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("%w: environment variable %q is not set", ErrNotFound, name)

	case strings.HasPrefix(ref, "file://"):
		path := strings.TrimPrefix(ref, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", path, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", path)
		}
		return key, nil
	}
	return "", fmt.Errorf("invalid key reference %q (expected keyring://, env: or file://)", ref)
}

func envVarFor(provider string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
}
