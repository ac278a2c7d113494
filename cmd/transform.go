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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/orchestrator"
	"github.com/valpere/politone/internal/tone"
)

var (
	inputFile  string
	outputFile string

	persona    string
	contexts   []string
	toneLevel  string
	userPrompt string
	senderInfo string
	selection  string

	showPhases bool
	jsonOutput bool
	noCache    bool
)

var transformCmd = &cobra.Command{
	Use:   "transform [text]",
	Short: "Rewrite one message",
	Long: `Rewrite one Korean message for the given recipient and situation.

The text is taken from the argument, from --input, or from stdin.

Personas:    ` + joinNames(tone.Personas()) + `
Contexts:    ` + joinNames(tone.Contexts()) + `
Tone levels: ` + joinNames(tone.Levels()) + `

Rewrite only part of the message with --selection; the rest of the text is
kept as-is and used as surrounding context.

Example:
  politone transform --persona boss --context schedule_delay \
    "팀장님 보고서 내일까지 드릴게요"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(cmd, args)
		if err != nil {
			return err
		}

		req, err := buildRequest(text)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if noCache {
			cfg.Cache.Enabled = false
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var obs orchestrator.Observer
		if showPhases {
			obs = printPhase(cmd.ErrOrStderr())
		}

		var res *internal.TransformResult
		if selection != "" {
			res, err = a.service.TransformPartial(ctx, internal.PartialRequest{TransformRequest: req, SelectedText: selection}, obs)
		} else {
			res, err = a.service.TransformStream(ctx, req, obs)
		}
		if err != nil {
			return err
		}

		return writeResult(cmd, res)
	},
}

func init() {
	rootCmd.AddCommand(transformCmd)

	transformCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Read the message from a file")
	transformCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the rewritten message to a file")

	transformCmd.Flags().StringVarP(&persona, "persona", "p", "", "Recipient persona (required)")
	transformCmd.Flags().StringSliceVarP(&contexts, "context", "c", nil, "Situation contexts (comma-separated, at least one)")
	transformCmd.Flags().StringVarP(&toneLevel, "tone", "t", string(tone.LevelPolite), "Tone level")
	transformCmd.Flags().StringVar(&userPrompt, "prompt", "", "Extra instructions for the rewrite")
	transformCmd.Flags().StringVar(&senderInfo, "sender", "", "Who is sending the message")
	transformCmd.Flags().StringVar(&selection, "selection", "", "Rewrite only this part of the message")

	transformCmd.Flags().BoolVar(&showPhases, "phases", false, "Print pipeline phases to stderr")
	transformCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")
	transformCmd.Flags().BoolVar(&noCache, "no-cache", false, "Do not read or write the persistent result cache")

	transformCmd.MarkFlagRequired("persona")
	transformCmd.MarkFlagRequired("context")
}

func joinNames[T ~string](vals []T) string {
	names := make([]string, len(vals))
	for i, v := range vals {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) == 1 && inputFile != "":
		return "", fmt.Errorf("pass the text either as an argument or with --input, not both")
	case len(args) == 1:
		return args[0], nil
	case inputFile != "":
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func buildRequest(text string) (internal.TransformRequest, error) {
	p, err := tone.ParsePersona(persona)
	if err != nil {
		return internal.TransformRequest{}, err
	}
	cs, err := tone.ParseContexts(contexts)
	if err != nil {
		return internal.TransformRequest{}, err
	}
	lvl, err := tone.ParseLevel(toneLevel)
	if err != nil {
		return internal.TransformRequest{}, err
	}
	return internal.TransformRequest{
		Persona:      p,
		Contexts:     cs,
		ToneLevel:    lvl,
		OriginalText: strings.TrimSpace(text),
		UserPrompt:   userPrompt,
		SenderInfo:   senderInfo,
	}, nil
}

func printPhase(w io.Writer) orchestrator.Observer {
	return func(ev orchestrator.Event) {
		line := fmt.Sprintf("[%s]", ev.Phase)
		if ev.Attempt > 0 {
			line += fmt.Sprintf(" attempt=%d tier=%d", ev.Attempt, ev.Tier)
		}
		if ev.Model != "" {
			line += " model=" + ev.Model
		}
		if ev.Spans > 0 {
			line += fmt.Sprintf(" locked=%d", ev.Spans)
		}
		for _, is := range ev.Issues {
			line += fmt.Sprintf(" %s/%s", is.Severity, is.Type)
		}
		fmt.Fprintln(w, line)
	}
}

func writeResult(cmd *cobra.Command, res *internal.TransformResult) error {
	var out string
	if jsonOutput {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		out = string(data)
	} else {
		out = res.TransformedText
		for _, f := range res.RiskFlags {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: unresolved %s\n", f)
		}
	}

	if outputFile == "" {
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(out+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
