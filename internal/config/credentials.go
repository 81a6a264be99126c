package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/teamscope/teamscope/internal/errors"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// CredentialManager handles credential retrieval with a priority chain:
// Environment Variables → Keychain → Config File → Interactive Prompt
type CredentialManager struct {
	keychain   *Keychain
	configPath string
}

// Credentials holds user credentials persisted in the config file
type Credentials struct {
	OpenAIAPIKey string `yaml:"openai_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GitHubToken  string `yaml:"github_token"`
}

// NewCredentialManager creates a new credential manager
func NewCredentialManager() *CredentialManager {
	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".config", "tscope", "credentials.yaml")

	return &CredentialManager{
		keychain:   NewKeychain(),
		configPath: configPath,
	}
}

// GetOpenAIAPIKey retrieves the OpenAI API key using the priority chain
func (cm *CredentialManager) GetOpenAIAPIKey() (string, error) {
	// 1. Environment variable (highest priority)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key, nil
	}

	// 2. Keychain
	if cm.keychain.Available() {
		if key, err := cm.keychain.Get(SecretOpenAIKey); err == nil && key != "" {
			return key, nil
		}
	}

	// 3. Config file
	if creds, err := cm.loadConfigFile(); err == nil && creds.OpenAIAPIKey != "" {
		return creds.OpenAIAPIKey, nil
	}

	// 4. Interactive prompt
	if isInteractive() {
		fmt.Println("\nOpenAI API Key not found.")
		fmt.Println("Create one at: https://platform.openai.com/api-keys")
		fmt.Println()
		return cm.promptForSecret("OpenAI API key")
	}

	return "", errors.ConfigError(
		"OPENAI_API_KEY not found. Set it via:\n"+
			"  1. Environment variable: export OPENAI_API_KEY=sk-...\n"+
			"  2. Run: tscope configure (to set up keychain)\n"+
			"  3. Config file: %s", cm.configPath)
}

// GetGitHubToken retrieves the GitHub token using the priority chain
func (cm *CredentialManager) GetGitHubToken() (string, error) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token, nil
	}

	if cm.keychain.Available() {
		if token, err := cm.keychain.Get(SecretGitHubToken); err == nil && token != "" {
			return token, nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.GitHubToken != "" {
		return creds.GitHubToken, nil
	}

	if isInteractive() {
		fmt.Println("\nGitHub token not found.")
		fmt.Println("Create one at: https://github.com/settings/tokens")
		fmt.Println()
		return cm.promptForSecret("GitHub token")
	}

	return "", errors.ConfigError(
		"GITHUB_TOKEN not found. Set it via environment variable or run: tscope configure")
}

// SaveCredentials persists credentials to keychain when available,
// falling back to the config file with restricted permissions
func (cm *CredentialManager) SaveCredentials(creds Credentials) error {
	if cm.keychain.Available() {
		for name, value := range map[string]string{
			SecretOpenAIKey:   creds.OpenAIAPIKey,
			SecretGeminiKey:   creds.GeminiAPIKey,
			SecretGitHubToken: creds.GitHubToken,
		} {
			if value == "" {
				continue
			}
			if err := cm.keychain.Set(name, value); err != nil {
				return err
			}
		}
		return nil
	}
	return cm.saveConfigFile(creds)
}

// loadConfigFile reads credentials from the YAML config file
func (cm *CredentialManager) loadConfigFile() (*Credentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", cm.configPath, err)
	}
	return &creds, nil
}

// saveConfigFile writes credentials to the YAML config file (0600)
func (cm *CredentialManager) saveConfigFile(creds Credentials) error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", cm.configPath, err)
	}
	return nil
}

// promptForSecret reads a secret from the terminal without echo
func (cm *CredentialManager) promptForSecret(label string) (string, error) {
	fmt.Printf("Enter %s: ", label)

	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", label, err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	// Non-tty stdin (piped input)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	return strings.TrimSpace(line), nil
}

// isInteractive reports whether stdin is attached to a terminal
func isInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin)) && os.Getenv("CI") == ""
}
