package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// FileVault is an encrypted file-backed Store used on hosts without a
// keychain service. The sealing key is derived from a stable machine id,
// so the file is unreadable when copied to another host.
type FileVault struct {
	mu     sync.Mutex
	path   string
	key    []byte
	logger *slog.Logger
}

type sealedPayload struct {
	Version    int    `json:"version"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// OpenFileVault opens or creates an encrypted vault file.
func OpenFileVault(path string, logger *slog.Logger) (*FileVault, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	return &FileVault{path: path, key: deriveKey(), logger: logger}, nil
}

// Resolve reads a credential from the sealed file.
func (f *FileVault) Resolve(skillName, instance, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := secrets[entryKey(skillName, instance, key)]
	if !ok {
		return "", fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return v, nil
}

// Set stores a credential in the sealed file.
func (f *FileVault) Set(skillName, instance, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.load()
	if err != nil {
		return err
	}
	secrets[entryKey(skillName, instance, key)] = value
	return f.save(secrets)
}

// Delete removes a credential from the sealed file.
func (f *FileVault) Delete(skillName, instance, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.load()
	if err != nil {
		return err
	}
	name := entryKey(skillName, instance, key)
	if _, ok := secrets[name]; !ok {
		return fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	delete(secrets, name)
	return f.save(secrets)
}

func (f *FileVault) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("read vault file: %w", err)
	}

	var payload sealedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse vault file: %w", err)
	}
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	plain, err := aead.Open(nil, payload.Nonce, payload.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal vault file: %w", err)
	}

	secrets := make(map[string]string)
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return nil, fmt.Errorf("parse vault contents: %w", err)
	}
	return secrets, nil
}

func (f *FileVault) save(secrets map[string]string) error {
	plain, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal vault contents: %w", err)
	}
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	payload := sealedPayload{
		Version:    1,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plain, nil),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal vault file: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0600); err != nil {
		return fmt.Errorf("write vault file: %w", err)
	}
	return nil
}

// deriveKey builds the 32-byte sealing key from a machine identifier.
func deriveKey() []byte {
	id := machineID()
	sum := sha256.Sum256([]byte("skillclaw-vault-v1:" + id))
	return sum[:]
}

func machineID() string {
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	return hostname + ":" + home
}
