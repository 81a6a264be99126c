package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teamscope/teamscope/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Store API credentials",
	Long: `Interactively stores the OpenAI API key and GitHub token in the
system keychain (or ~/.config/tscope/credentials.yaml when no keychain
is available). Leave a prompt empty to keep the current value.`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("TeamScope credential setup")
	fmt.Println("Press Enter to skip a credential and keep its current value.")
	fmt.Println()

	creds := config.Credentials{}
	var err error

	if creds.OpenAIAPIKey, err = readSecret("OpenAI API key"); err != nil {
		return err
	}
	if creds.GeminiAPIKey, err = readSecret("Gemini API key"); err != nil {
		return err
	}
	if creds.GitHubToken, err = readSecret("GitHub token"); err != nil {
		return err
	}

	if creds.OpenAIAPIKey == "" && creds.GeminiAPIKey == "" && creds.GitHubToken == "" {
		fmt.Println("Nothing to save.")
		return nil
	}

	if err := config.NewCredentialManager().SaveCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	fmt.Println("Credentials saved.")
	return nil
}

// readSecret reads a value without echo when stdin is a terminal.
func readSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)

	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", label, err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	return strings.TrimSpace(line), nil
}
