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

	"github.com/spf13/cobra"

	"github.com/valpere/politone/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently served transformations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListHistory(ctx, historyLimit)
			if err != nil {
				return fmt.Errorf("failed to list history: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No history yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPERSONA\tCONTEXTS\tTONE\tTRY\tTIER\tCACHED\tMS\tFLAGS\tTEXT")
			for _, e := range entries {
				text := snippet(e.TransformedText, 30)
				if e.Error != "" {
					text = "error: " + snippet(e.Error, 30)
				}
				kind := e.Request.Persona
				if e.Request.Partial {
					kind += " (partial)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%v\t%d\t%s\t%s\n",
					e.Request.Timestamp.Format("2006-01-02 15:04"), kind, e.Request.Contexts,
					e.Request.ToneLevel, e.Attempts, e.Tier, e.Cached, e.LatencyMs,
					strings.Join(e.RiskFlags, ","), text)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show (0 = all)")
}
