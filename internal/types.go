package internal

import (
	"time"

	"github.com/valpere/politone/internal/tone"
)

// TransformRequest is a full-text rewrite request.
type TransformRequest struct {
	Persona      tone.Persona   `json:"persona"`
	Contexts     []tone.Context `json:"contexts"`
	ToneLevel    tone.Level     `json:"toneLevel"`
	OriginalText string         `json:"originalText"`
	UserPrompt   string         `json:"userPrompt,omitempty"`
	SenderInfo   string         `json:"senderInfo,omitempty"`
}

// PartialRequest rewrites only SelectedText; the rest of OriginalText is
// used as read-only surroundings.
type PartialRequest struct {
	TransformRequest
	SelectedText       string `json:"selectedText"`
	SurroundingContext string `json:"surroundingContext,omitempty"`
}

// TransformResult is what callers receive for a completed run.
type TransformResult struct {
	TransformedText string   `json:"transformedText"`
	AnalysisContext *string  `json:"analysisContext,omitempty"`
	RiskFlags       []string `json:"riskFlags,omitempty"`
}

// TransformRecord is a history row describing one served request.
type TransformRecord struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Persona     string    `json:"persona"`
	Contexts    string    `json:"contexts"`
	ToneLevel   string    `json:"tone_level"`
	SourceText  string    `json:"source_text"`
	UserPrompt  string    `json:"user_prompt"`
	Partial     bool      `json:"partial"`
	Timestamp   time.Time `json:"timestamp"`
}
