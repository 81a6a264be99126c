package config

import (
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// keychainService is the entry tscope secrets live under in the OS
// keychain: Keychain Access on macOS, Credential Manager on Windows,
// Secret Service (libsecret) on Linux.
const keychainService = "tscope"

// Names of the secrets tscope stores.
const (
	SecretOpenAIKey   = "openai-api-key"
	SecretGeminiKey   = "gemini-api-key"
	SecretGitHubToken = "github-token"
)

// Keychain stores named secrets in the OS keychain. The zero value is
// usable; the keychain itself is process-global state.
type Keychain struct{}

func NewKeychain() *Keychain { return &Keychain{} }

// Get returns the stored secret, or "" when it was never set.
func (k *Keychain) Get(name string) (string, error) {
	secret, err := keyring.Get(keychainService, name)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s from keychain: %w", name, err)
	}
	return secret, nil
}

// Set stores a secret under the given name.
func (k *Keychain) Set(name, value string) error {
	if value == "" {
		return fmt.Errorf("refusing to store empty %s", name)
	}
	if err := keyring.Set(keychainService, name, value); err != nil {
		return fmt.Errorf("write %s to keychain: %w", name, err)
	}
	return nil
}

// Delete removes a secret. Deleting one that was never stored is fine.
func (k *Keychain) Delete(name string) error {
	err := keyring.Delete(keychainService, name)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("delete %s from keychain: %w", name, err)
	}
	return nil
}

// Available reports whether the OS keychain can be used. CI and
// headless environments fall back to the credentials file.
func (k *Keychain) Available() bool {
	if os.Getenv("CI") != "" || os.Getenv("TSCOPE_NO_KEYRING") != "" {
		return false
	}
	_, err := keyring.Get(keychainService, SecretOpenAIKey)
	return err == nil || err == keyring.ErrNotFound
}
