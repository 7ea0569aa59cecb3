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

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teradata-labs/prospector/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "prospector",
	Short: "Prospector - automated funding source discovery",
	Long: heredoc.Doc(`
		Prospector discovers funding sources (grants, scholarships, donation and
		sponsorship programs) by fanning search queries out to web search engines,
		validating and scoring the results, and queueing candidates for human review.

		The serve command runs the full pipeline: REST API, stage consumers,
		daily scheduler, and statistics streaming. The remaining commands are
		thin clients and operator tools for a running deployment.`),
	Version: version.Get(),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the prospector version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get())
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(versionCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.prospector/prospector.yaml)")

	// Server flags
	rootCmd.PersistentFlags().String("addr", ":8080", "HTTP listen address")

	// Storage flags
	rootCmd.PersistentFlags().String("db-dsn", "", "PostgreSQL DSN (overrides host/port/database fields)")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address")

	// Client flags (commands that talk to a running server)
	rootCmd.PersistentFlags().String("server-url", "http://localhost:8080", "base URL of a running prospector server")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	_ = viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	_ = viper.BindPFlag("client.server_url", rootCmd.PersistentFlags().Lookup("server-url"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
