// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage prospector configuration",
	Long:  `Manage configuration files and secrets for prospector.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example prospector.yaml configuration file in ~/.prospector/`,
	Run:   runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save a secret to the system keyring",
	Long: `Save a secret to the system keyring securely.

The value will be stored in your system's secure credential storage
(Keychain on macOS, Credential Manager on Windows, Secret Service on Linux).

Run 'prospector config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	Run:  runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve a secret from the system keyring",
	Long:  `Retrieve a secret from the system keyring (for verification, shown masked).`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete a secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources).`,
	Run:   runConfigShow,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	Run:   runConfigListKeys,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configListKeysCmd)
}

var exampleConfig = heredoc.Doc(`
	# Prospector configuration. Values here are overridden by
	# PROSPECTOR_* environment variables and command line flags.

	server:
	  addr: ":8080"
	  # cors_origins:
	  #   - "http://localhost:3000"

	database:
	  host: localhost
	  port: 5432
	  database: prospector
	  user: prospector
	  # password comes from the keyring (database_password) or
	  # PROSPECTOR_DATABASE_PASSWORD
	  ssl_mode: disable

	redis:
	  addr: localhost:6379

	engines:
	  searxng:
	    enabled: true
	    base_url: http://localhost:8888
	  brave:
	    enabled: false
	    # api_key comes from the keyring (brave_api_key)
	    rate_limit: 60
	    rate_window: 1m
	  serper:
	    enabled: false
	  perplexity:
	    enabled: false

	llm:
	  provider: openai
	  # model defaults to the provider default
	  # api_key comes from the keyring (llm_api_key)

	pipeline:
	  # confidence scores are hundredths: 60 means 0.60
	  confidence_threshold: 60
	  anti_spam_policy: zero

	scheduler:
	  # library_path: /etc/prospector/library.yaml
	  at: "02:00"
	  timezone: Europe/Sofia
	  criteria:
	    fundingSourceTypes: [GRANT, DONATION]
	    geographicScopes: [Bulgaria]
	    recipientTypes: [NONPROFIT]
	    maxResultsPerQuery: 20
	    queryCount: 5

	logging:
	  level: info
	  format: text
`)

func runConfigInit(cmd *cobra.Command, args []string) {
	configDir := ConfigDir()
	configPath := filepath.Join(configDir, DefaultConfigFileName+".yaml")

	if err := os.MkdirAll(configDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists: %s\n", configPath)
		fmt.Print("Overwrite? (y/N): ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Config file created: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("1. Store secrets for the engines you enable:")
	fmt.Println("   prospector config set-key brave_api_key")
	fmt.Println("2. Apply the database schema:")
	fmt.Println("   prospector migrate up")
	fmt.Println("3. Start the server:")
	fmt.Println("   prospector serve")
}

func runConfigSetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	availableKeys := ListAvailableSecretKeys()
	validKeys := make(map[string]bool)
	for _, k := range availableKeys {
		validKeys[k] = true
	}

	if !validKeys[keyName] {
		fmt.Fprintf(os.Stderr, "Invalid key name: %s\n", keyName)
		fmt.Fprintf(os.Stderr, "Available keys:\n")
		for _, k := range availableKeys {
			fmt.Fprintf(os.Stderr, "  - %s\n", k)
		}
		os.Exit(1)
	}

	// Read secret from stdin (without echo)
	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}

	secret := string(secretBytes)
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Secret cannot be empty\n")
		os.Exit(1)
	}

	if err := SetSecret(keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	secret, err := GetSecret(keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error retrieving key: %v\n", err)
		fmt.Fprintf(os.Stderr, "Key not found in keyring. Set it with: prospector config set-key %s\n", keyName)
		os.Exit(1)
	}

	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) {
	keyName := args[0]

	if err := DeleteSecret(keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %s from system keyring\n", keyName)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()

	fmt.Println("Server:")
	fmt.Printf("  Addr: %s\n", config.Server.Addr)
	if len(config.Server.CORSOrigins) > 0 {
		fmt.Printf("  CORS Origins: %s\n", strings.Join(config.Server.CORSOrigins, ", "))
	}
	fmt.Println()

	fmt.Println("Database:")
	if config.Database.DSN != "" {
		fmt.Printf("  DSN: (set)\n")
	} else {
		fmt.Printf("  Host: %s:%d\n", config.Database.Host, config.Database.Port)
		fmt.Printf("  Database: %s\n", config.Database.Database)
		fmt.Printf("  User: %s\n", config.Database.User)
		fmt.Printf("  Password: %s\n", secretState(config.Database.Password))
	}
	fmt.Println()

	fmt.Println("Redis:")
	fmt.Printf("  Addr: %s\n", config.Redis.Addr)
	fmt.Printf("  Password: %s\n", secretState(config.Redis.Password))
	fmt.Println()

	fmt.Println("Engines:")
	for _, name := range sortedEngineNames(config) {
		eng := config.Engines[name]
		fmt.Printf("  %s:\n", name)
		fmt.Printf("    Enabled: %t\n", eng.Enabled)
		if eng.BaseURL != "" {
			fmt.Printf("    Base URL: %s\n", eng.BaseURL)
		}
		fmt.Printf("    API Key: %s\n", secretState(eng.APIKey))
	}
	fmt.Println()

	fmt.Println("LLM:")
	fmt.Printf("  Provider: %s\n", config.LLM.Provider)
	if config.LLM.Model != "" {
		fmt.Printf("  Model: %s\n", config.LLM.Model)
	}
	fmt.Printf("  API Key: %s\n", secretState(config.LLM.APIKey))
	fmt.Println()

	fmt.Println("Pipeline:")
	fmt.Printf("  Confidence Threshold: %s\n", config.Pipeline.ConfidenceThreshold)
	fmt.Printf("  Anti-Spam Policy: %s\n", config.Pipeline.AntiSpamPolicy)
	fmt.Println()

	fmt.Println("Scheduler:")
	if config.Scheduler.LibraryPath == "" {
		fmt.Printf("  Library: (not configured)\n")
	} else {
		fmt.Printf("  Library: %s\n", config.Scheduler.LibraryPath)
	}
	fmt.Printf("  Fires At: %s %s\n", config.Scheduler.At, config.Scheduler.Timezone)
	fmt.Println()

	fmt.Println("Logging:")
	fmt.Printf("  Level: %s\n", config.Logging.Level)
	fmt.Printf("  Format: %s\n", config.Logging.Format)
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	keys := ListAvailableSecretKeys()
	fmt.Println("Available secret keys:")
	fmt.Println("======================")
	for _, key := range keys {
		fmt.Printf("  - %s\n", key)
	}
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  prospector config set-key <key-name>")
	fmt.Println("  prospector config get-key <key-name>")
	fmt.Println("  prospector config delete-key <key-name>")
}

// maskSecret masks a secret for display.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func secretState(s string) string {
	if s == "" {
		return "(not set)"
	}
	return maskSecret(s)
}

func sortedEngineNames(config *Config) []string {
	names := make([]string, 0, len(config.Engines))
	for name := range config.Engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
