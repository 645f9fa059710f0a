package vault

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFileVault(t *testing.T) *FileVault {
	t.Helper()
	fv, err := OpenFileVault(filepath.Join(t.TempDir(), "vault.sealed"), discard())
	if err != nil {
		t.Fatal(err)
	}
	return fv
}

func TestFileVault_SetResolveDelete(t *testing.T) {
	fv := testFileVault(t)

	if err := fv.Set("github", "prod", "api_token", "tok-abc123"); err != nil {
		t.Fatal(err)
	}
	got, err := fv.Resolve("github", "prod", "api_token")
	if err != nil {
		t.Fatal(err)
	}
	if got != "tok-abc123" {
		t.Errorf("got %q, want tok-abc123", got)
	}

	if err := fv.Delete("github", "prod", "api_token"); err != nil {
		t.Fatal(err)
	}
	if _, err := fv.Resolve("github", "prod", "api_token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileVault_MissingKeyIsNotFound(t *testing.T) {
	fv := testFileVault(t)
	_, err := fv.Resolve("github", "prod", "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileVault_ScopedByInstance(t *testing.T) {
	fv := testFileVault(t)
	if err := fv.Set("github", "prod", "api_token", "prod-secret"); err != nil {
		t.Fatal(err)
	}
	if err := fv.Set("github", "staging", "api_token", "staging-secret"); err != nil {
		t.Fatal(err)
	}
	got, err := fv.Resolve("github", "staging", "api_token")
	if err != nil {
		t.Fatal(err)
	}
	if got != "staging-secret" {
		t.Errorf("instance scoping broken: got %q", got)
	}
}

func TestFileVault_SecretNotStoredInPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.sealed")
	fv, err := OpenFileVault(path, discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := fv.Set("github", "prod", "api_token", "hunter2-plaintext"); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("hunter2-plaintext")) {
		t.Error("secret value appears unencrypted in the vault file")
	}
}

func TestFileVault_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.sealed")
	fv, err := OpenFileVault(path, discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := fv.Set("aws", "default", "secret_key", "s3cr3t"); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFileVault(path, discard())
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Resolve("aws", "default", "secret_key")
	if err != nil {
		t.Fatal(err)
	}
	if got != "s3cr3t" {
		t.Errorf("got %q after reopen", got)
	}
}

func TestStatic_Resolve(t *testing.T) {
	s := Static{"web/prod/token": "abc"}
	got, err := s.Resolve("web", "prod", "token")
	if err != nil {
		t.Fatal(err)
	}
	if got != "abc" {
		t.Errorf("got %q", got)
	}
	if _, err := s.Resolve("web", "prod", "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEntryKey(t *testing.T) {
	if got := entryKey("github", "prod", "api_token"); got != "github/prod/api_token" {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(entryKey("a", "b", "c"), "/") {
		t.Error("entry key should be slash-scoped")
	}
}
