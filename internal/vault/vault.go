// Package vault resolves credential references against an OS-level secret
// store. Resolved values are handed to the execution context only; they
// must never reach logs, audit events or caller-visible error strings.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "skillclaw"

// ErrNotFound marks a missing credential, as opposed to a store failure.
// Callers map it to CredentialMissing; anything else is an engine defect.
var ErrNotFound = errors.New("credential not found")

// Resolver materializes a (skill, instance, key) triple into a secret.
type Resolver interface {
	Resolve(skillName, instance, key string) (string, error)
}

// Store is a Resolver that can also write and delete credentials.
type Store interface {
	Resolver
	Set(skillName, instance, key, value string) error
	Delete(skillName, instance, key string) error
}

// entryKey builds the vault entry name: "{skill}/{instance}/{key}".
func entryKey(skillName, instance, key string) string {
	return fmt.Sprintf("%s/%s/%s", skillName, instance, key)
}

// Keyring is a Store backed by the platform keychain (macOS Keychain,
// Windows Credential Manager, Secret Service on Linux), falling back to
// an encrypted file on headless hosts.
type Keyring struct {
	mu       sync.Mutex
	ring     keyring.Keyring
	fallback *FileVault
	logger   *slog.Logger
}

// OpenKeyring opens the platform keychain. fallbackPath is used when no
// keychain service is reachable; empty disables the fallback.
func OpenKeyring(fallbackPath string, logger *slog.Logger) (*Keyring, error) {
	v := &Keyring{logger: logger}

	ring, err := keyring.Open(keyring.Config{ServiceName: serviceName})
	if err == nil {
		v.ring = ring
	} else {
		logger.Warn("platform keychain unavailable", "error", err)
	}

	if fallbackPath != "" {
		fv, ferr := OpenFileVault(fallbackPath, logger)
		if ferr != nil {
			if v.ring == nil {
				return nil, fmt.Errorf("open file vault: %w", ferr)
			}
			logger.Warn("file vault unavailable", "error", ferr)
		} else {
			v.fallback = fv
		}
	}
	if v.ring == nil && v.fallback == nil {
		return nil, fmt.Errorf("no credential backend available")
	}
	return v, nil
}

// Resolve reads a credential. Errors reference the key name, never the
// value.
func (v *Keyring) Resolve(skillName, instance, key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	name := entryKey(skillName, instance, key)
	if v.ring != nil {
		item, err := v.ring.Get(name)
		if err == nil {
			return string(item.Data), nil
		}
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("keychain read for key %q: %w", key, err)
		}
	}
	if v.fallback != nil {
		return v.fallback.Resolve(skillName, instance, key)
	}
	return "", fmt.Errorf("key %q: %w", key, ErrNotFound)
}

// Set stores a credential.
func (v *Keyring) Set(skillName, instance, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	name := entryKey(skillName, instance, key)
	if v.ring != nil {
		if err := v.ring.Set(keyring.Item{Key: name, Data: []byte(value)}); err == nil {
			v.logger.Debug("credential stored", "skill", skillName, "instance", instance, "key", key)
			return nil
		} else if v.fallback == nil {
			return fmt.Errorf("keychain write for key %q: %w", key, err)
		}
	}
	if v.fallback != nil {
		return v.fallback.Set(skillName, instance, key, value)
	}
	return fmt.Errorf("no credential backend available")
}

// Delete removes a credential.
func (v *Keyring) Delete(skillName, instance, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	name := entryKey(skillName, instance, key)
	var ringErr error
	if v.ring != nil {
		ringErr = v.ring.Remove(name)
		if ringErr == nil {
			return nil
		}
	}
	if v.fallback != nil {
		return v.fallback.Delete(skillName, instance, key)
	}
	if ringErr != nil {
		return fmt.Errorf("keychain delete for key %q: %w", key, ringErr)
	}
	return fmt.Errorf("key %q: %w", key, ErrNotFound)
}

// Static is an in-memory Resolver for tests.
type Static map[string]string

// Resolve looks up "{skill}/{instance}/{key}" in the map.
func (s Static) Resolve(skillName, instance, key string) (string, error) {
	v, ok := s[entryKey(skillName, instance, key)]
	if !ok {
		return "", fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return v, nil
}
