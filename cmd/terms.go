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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/politone/internal/store"
)

var termsCmd = &cobra.Command{
	Use:   "terms",
	Short: "Manage always-locked terms",
	Long: `Add, list, and delete locked terms.

A locked term is copied into every rewrite exactly as written: product
names, people's names, project codes and similar expressions the model must
never paraphrase.`,
}

var termsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all locked terms",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			terms, err := db.ListLockedTerms(ctx)
			if err != nil {
				return fmt.Errorf("failed to list terms: %w", err)
			}

			if len(terms) == 0 {
				fmt.Println("No locked terms.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTERM\tNOTE\tADDED")
			for _, t := range terms {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Term, t.Note, t.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		})
	},
}

var termsAddNote string

var termsAddCmd = &cobra.Command{
	Use:   "add <term>",
	Short: "Add or update a locked term",
	Long: `Add a term that every rewrite must keep verbatim.

Example:
  politone terms add "프로젝트 하늘" --note "internal project name"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			id, err := db.AddLockedTerm(ctx, args[0], termsAddNote)
			if err != nil {
				return fmt.Errorf("failed to add term: %w", err)
			}
			fmt.Printf("Added: %q (%s)\n", args[0], id)
			return nil
		})
	},
}

var termsDeleteCmd = &cobra.Command{
	Use:   "delete <id|term>",
	Short: "Delete a locked term by ID or text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			if err := db.DeleteLockedTerm(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete term: %w", err)
			}
			fmt.Printf("Deleted term: %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(termsCmd)

	termsAddCmd.Flags().StringVarP(&termsAddNote, "note", "n", "", "Why the term is locked")

	termsCmd.AddCommand(termsListCmd)
	termsCmd.AddCommand(termsAddCmd)
	termsCmd.AddCommand(termsDeleteCmd)
}
