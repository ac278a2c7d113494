/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/politone/internal/config"
)

var version = "0.1.0"

var (
	cfgFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "politone",
	Short: "Korean tone rewriting with a validation safety net",
	Long: `A service and CLI that rewrites Korean messages into the register a
recipient expects, while keeping names, dates, numbers and other facts
untouched.

Each request is analysed, its fixed expressions are masked, an LLM rewrites
the rest and a rule-based validator checks the result. Candidates that fail
validation are regenerated on a stronger model tier.

Use "politone serve" to start the HTTP API or "politone transform --help"
for one-shot rewrites.`,
	Version:      version,
	SilenceUsage:  true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./politone.yaml or $XDG_CONFIG_HOME/politone/politone.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides cache.db_path)")
}

// loadConfig reads the config and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Cache.DBPath = dbPath
	}
	return cfg, nil
}
