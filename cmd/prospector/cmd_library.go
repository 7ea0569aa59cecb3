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

	"github.com/spf13/cobra"

	"github.com/teradata-labs/prospector/pkg/scheduler"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Work with the query library file",
}

var libraryValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Parse and validate a query library file",
	Long: `Parse a query library YAML file and report its queries. The scheduler
reloads the configured file on change, so validate edits here before
saving them into place.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLibraryValidate,
}

func init() {
	libraryCmd.AddCommand(libraryValidateCmd)
	rootCmd.AddCommand(libraryCmd)
}

func runLibraryValidate(cmd *cobra.Command, args []string) {
	path := config.Scheduler.LibraryPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "No library path given and scheduler.library_path is not configured")
		os.Exit(1)
	}

	queries, err := scheduler.LoadLibrary(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid library file: %v\n", err)
		os.Exit(1)
	}

	enabled := 0
	for _, q := range queries {
		if q.Enabled {
			enabled++
		}
	}
	fmt.Printf("%s: %d queries (%d enabled)\n", path, len(queries), enabled)
	for _, q := range queries {
		state := " "
		if !q.Enabled {
			state = "-"
		}
		fmt.Printf("  %s %-9s %-30s %q\n", state, q.DayOfWeek, q.Name, q.Text)
	}
}
