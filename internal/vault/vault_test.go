package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestResolveKeyRef_Env(t *testing.T) {
	t.Setenv("TEST_MODELMUX_VAULT_KEY", "sk-test-1234")

	got, err := New().ResolveKeyRef("env:TEST_MODELMUX_VAULT_KEY")
	if err != nil {
		t.Fatalf("ResolveKeyRef(env:): %v", err)
	}
	if got != "sk-test-1234" {
		t.Errorf("got %q, want sk-test-1234", got)
	}
}

func TestResolveKeyRef_EnvUnset(t *testing.T) {
	os.Unsetenv("NONEXISTENT_MODELMUX_KEY")

	_, err := New().ResolveKeyRef("env:NONEXISTENT_MODELMUX_KEY")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveKeyRef_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	if err := os.WriteFile(path, []byte("  file-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := New().ResolveKeyRef("file://" + path)
	if err != nil {
		t.Fatalf("ResolveKeyRef(file://): %v", err)
	}
	if got != "file-secret" {
		t.Errorf("got %q, want file-secret", got)
	}

	empty := filepath.Join(dir, "empty")
	os.WriteFile(empty, []byte("\n"), 0o600)
	if _, err := New().ResolveKeyRef("file://" + empty); err == nil {
		t.Error("expected error for empty key file")
	}
}

func TestResolveKeyRef_Keyring(t *testing.T) {
	keyring.MockInit()

	v := New()
	if err := v.Set("openai", "sk-from-keyring"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := v.ResolveKeyRef("keyring://modelmux/openai")
	if err != nil {
		t.Fatalf("ResolveKeyRef(keyring://): %v", err)
	}
	if got != "sk-from-keyring" {
		t.Errorf("got %q", got)
	}
}

func TestResolveKeyRef_Invalid(t *testing.T) {
	for _, ref := range []string{
		"plaintext:secret",
		"keyring://badformat",
		"keyring://other-service/anthropic",
		"keyring://modelmux/",
	} {
		if _, err := New().ResolveKeyRef(ref); err == nil {
			t.Errorf("ResolveKeyRef(%q): expected error", ref)
		}
	}
}

func TestGet_EnvFallback(t *testing.T) {
	keyring.MockInit()
	t.Setenv("MODELMUX_KEY_DEEPSEEK", "ds-key")

	got, err := New().Get("deepseek")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "ds-key" {
		t.Errorf("got %q, want ds-key", got)
	}
}

func TestListAndDelete(t *testing.T) {
	keyring.MockInit()
	for _, p := range KnownProviders {
		os.Unsetenv(envVarFor(p))
	}

	v := New()
	if err := v.Set("anthropic", "a"); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODELMUX_KEY_GOOGLE", "g")

	got := v.List()
	if len(got) != 2 || got[0] != "anthropic" || got[1] != "google" {
		t.Errorf("List: got %v", got)
	}

	if err := v.Delete("anthropic"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := v.Delete("anthropic"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}
}

func TestSet_RejectsEmpty(t *testing.T) {
	keyring.MockInit()
	if err := New().Set("openai", ""); err == nil {
		t.Error("expected error for empty key")
	}
}
