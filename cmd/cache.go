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
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/politone/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
	Long:  `List, inspect, invalidate and clear the persistent result cache.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cached results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListCache(ctx)
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No entries in the result cache.")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FINGERPRINT\tPERSONA\tTONE\tUSED\tLAST USED\tEXPIRES\tSTATE\tTEXT")
			for _, e := range entries {
				state := "active"
				switch {
				case e.Invalidated:
					state = "invalid"
				case !e.ExpiresAt.After(now):
					state = "expired"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					e.Fingerprint[:12], e.Persona, e.ToneLevel, e.UsageCount,
					e.LastUsed.Format("2006-01-02 15:04"), e.ExpiresAt.Format("2006-01-02 15:04"),
					state, snippet(e.SourceText, 30))
			}
			return w.Flush()
		})
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show result cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			stats, err := db.Stats(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			fmt.Printf("Total entries:   %d\n", stats.TotalEntries)
			fmt.Printf("Active entries:  %d\n", stats.ActiveEntries)
			fmt.Printf("Invalid entries: %d\n", stats.InvalidEntries)
			fmt.Printf("Expired entries: %d\n", stats.ExpiredEntries)
			fmt.Printf("Total usage:     %d\n", stats.TotalUsage)
			return nil
		})
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <fingerprint>",
	Short: "Delete a cached result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			fp, err := resolveFingerprint(ctx, db, args[0])
			if err != nil {
				return err
			}
			if err := db.DeleteCached(ctx, fp); err != nil {
				return fmt.Errorf("failed to delete entry: %w", err)
			}
			fmt.Printf("Deleted entry: %s\n", fp)
			return nil
		})
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <fingerprint>",
	Short: "Mark a cached result as bad so it is never served again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			fp, err := resolveFingerprint(ctx, db, args[0])
			if err != nil {
				return err
			}
			if err := db.InvalidateCached(ctx, fp); err != nil {
				return fmt.Errorf("failed to invalidate entry: %w", err)
			}
			fmt.Printf("Invalidated entry: %s\n", fp)
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			n, err := db.ClearCache(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Printf("Cleared %d entries from the result cache.\n", n)
			return nil
		})
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			n, err := db.PurgeExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("failed to purge cache: %w", err)
			}
			fmt.Printf("Purged %d entries.\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

// resolveFingerprint expands the shortened fingerprint printed by "cache
// list" to the full key.
func resolveFingerprint(ctx context.Context, db *store.Store, prefix string) (string, error) {
	entries, err := db.ListCache(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list entries: %w", err)
	}
	var match string
	for _, e := range entries {
		if strings.HasPrefix(e.Fingerprint, prefix) {
			if match != "" {
				return "", fmt.Errorf("fingerprint prefix %q is ambiguous", prefix)
			}
			match = e.Fingerprint
		}
	}
	if match == "" {
		return "", fmt.Errorf("no cache entry matches %q", prefix)
	}
	return match, nil
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return string(r)
}
