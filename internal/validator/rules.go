package validator

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// ErrRulesNotFound is returned by LoadRules when the rule file does not exist.
var ErrRulesNotFound = errors.New("rules file not found")

// Rules holds the lexicons and thresholds the checks run against. They are
// data, not code, so they can be tuned per deployment.
type Rules struct {
	ForbiddenPhrases   []string `yaml:"forbidden_phrases"`
	PerspectivePhrases []string `yaml:"perspective_phrases"`
	Endings            []string `yaml:"endings"`
	RepeatedClosings   []string `yaml:"repeated_closings"`

	// EndingRun is how many consecutive identical endings raise a warning.
	EndingRun int `yaml:"ending_run"`
	// ClosingLimit is how many occurrences of one closing phrase raise a warning.
	ClosingLimit int `yaml:"closing_limit"`
	// MinLengthForRatio is the original length (runes) below which the
	// expansion ratio is not checked.
	MinLengthForRatio int `yaml:"min_length_for_ratio"`
	// MaxExpansionRatio is the output/original length ratio that is tolerated.
	MaxExpansionRatio float64 `yaml:"max_expansion_ratio"`
	// MinFactDigits is the minimum digit count for a number to be treated as a fact.
	MinFactDigits int `yaml:"min_fact_digits"`
}

// DefaultRules returns the embedded rule tables. The table is checked by the
// package tests, so a malformed rules.yaml never reaches a build.
func DefaultRules() Rules {
	r, err := parseRules(defaultRulesYAML, Rules{})
	if err != nil {
		panic(fmt.Sprintf("validator: embedded rules.yaml is invalid: %v", err))
	}
	return r
}

// parseRules decodes data over base. Unknown keys are rejected so a
// misspelled key does not silently keep its default.
func parseRules(data []byte, base Rules) (Rules, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&base); err != nil && !errors.Is(err, io.EOF) {
		return base, err
	}
	if err := base.Validate(); err != nil {
		return base, err
	}
	return base, nil
}

// LoadRules reads a YAML rule file and merges it over the defaults. Keys the
// file omits keep their default value.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return rules, ErrRulesNotFound
		}
		return rules, fmt.Errorf("failed to read rules: %w", err)
	}

	merged, err := parseRules(data, rules)
	if err != nil {
		return rules, fmt.Errorf("invalid rules %s: %w", path, err)
	}
	return merged, nil
}

// Validate checks that thresholds are usable.
func (r Rules) Validate() error {
	switch {
	case r.EndingRun < 2:
		return fmt.Errorf("ending_run must be at least 2, got %d", r.EndingRun)
	case r.ClosingLimit < 2:
		return fmt.Errorf("closing_limit must be at least 2, got %d", r.ClosingLimit)
	case r.MaxExpansionRatio <= 1:
		return fmt.Errorf("max_expansion_ratio must be greater than 1, got %v", r.MaxExpansionRatio)
	case r.MinFactDigits < 1:
		return fmt.Errorf("min_fact_digits must be positive, got %d", r.MinFactDigits)
	case r.MinLengthForRatio < 0:
		return fmt.Errorf("min_length_for_ratio must be non-negative, got %d", r.MinLengthForRatio)
	}
	return nil
}

// sortedEndings returns a copy of endings ordered longest first so that
// "습니다" wins over "니다".
func sortedEndings(endings []string) []string {
	out := append([]string(nil), endings...)
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i]) > utf8.RuneCountInString(out[j])
	})
	return out
}
