package rewriter

import (
	"fmt"
	"strings"

	"github.com/valpere/politone/internal/placeholder"
	"github.com/valpere/politone/internal/tone"
	"github.com/valpere/politone/internal/validator"
)

const systemPrompt = `당신은 한국어 메시지의 말투를 상황에 맞게 다듬는 편집자입니다.
내용과 사실은 바꾸지 않고, 받는 사람과의 관계와 상황에 어울리는 말투로만 고쳐 씁니다.`

// avoidRules are the negative constraints added after a failed validation,
// keyed by the issue type that failed.
var avoidRules = map[validator.IssueType]string{
	validator.IssueEmoji:               "이모지나 그림 문자를 절대 쓰지 마세요.",
	validator.IssueForbiddenPhrase:     `"다음과 같이", "변환 결과" 같은 설명 문구 없이 결과 문장만 쓰세요.`,
	validator.IssueHallucinatedFact:    "원문에 없는 숫자, 날짜, 금액을 만들어 넣지 마세요.",
	validator.IssueEndingRepetition:    "같은 종결어미를 세 번 이상 연달아 쓰지 말고, 맺음말도 반복하지 마세요.",
	validator.IssueLengthOverexpansion: "원문보다 지나치게 길게 늘이지 마세요.",
	validator.IssuePerspectiveError:    `보내는 사람의 입장에서 쓰세요. "처리해 드리겠습니다" 같은 응대용 표현은 쓰지 마세요.`,
	validator.IssueLockedSpanMissing:   "{{LOCKED_숫자}} 표시를 하나도 빠뜨리지 말고 그대로 옮기세요.",
}

// AvoidRule returns the negative constraint for typ, or "" if none exists.
func AvoidRule(typ validator.IssueType) string {
	return avoidRules[typ]
}

const outputRule = "결과 문장만 출력하세요. 설명, 인사말 추가, 따옴표, 이모지, 마크다운, 군더더기 표현은 넣지 마세요."

func writeRequest(sb *strings.Builder, in Input) {
	req := in.Request
	fmt.Fprintf(sb, "# 조건\n")
	fmt.Fprintf(sb, "- 받는 사람: %s\n", tone.PersonaLabel(req.Persona))
	fmt.Fprintf(sb, "- 상황: %s\n", tone.ContextLabels(req.Contexts))
	fmt.Fprintf(sb, "- 말투: %s\n", tone.LevelLabel(req.ToneLevel))
	if req.SenderInfo != "" {
		fmt.Fprintf(sb, "- 보내는 사람: %s\n", req.SenderInfo)
	}
	if req.UserPrompt != "" {
		fmt.Fprintf(sb, "- 추가 요청: %s\n", req.UserPrompt)
	}
}

func writeConstraints(sb *strings.Builder, in Input) {
	sb.WriteString("\n# 지켜야 할 점\n")
	if in.SpanCount > 0 {
		sb.WriteString("- " + placeholder.InstructionHint() + "\n")
	}
	seen := make(map[validator.IssueType]bool)
	for _, typ := range in.Avoid {
		if rule := AvoidRule(typ); rule != "" && !seen[typ] {
			seen[typ] = true
			sb.WriteString("- " + rule + "\n")
		}
	}
	sb.WriteString("- " + outputRule + "\n")
}

func buildPrompt(in Input) string {
	var sb strings.Builder
	writeRequest(&sb, in)

	if in.Analysis != "" {
		sb.WriteString("\n# 분석\n")
		sb.WriteString(in.Analysis)
		sb.WriteString("\n")
	}

	sb.WriteString("\n# 원문\n")
	sb.WriteString(in.MaskedText)
	sb.WriteString("\n")

	writeConstraints(&sb, in)
	return sb.String()
}

func buildPartialPrompt(in Input) string {
	var sb strings.Builder
	writeRequest(&sb, in)

	sb.WriteString("\n# 앞뒤 문맥 (고치지 마세요)\n")
	if in.Before != "" {
		sb.WriteString("앞: " + in.Before + "\n")
	}
	if in.After != "" {
		sb.WriteString("뒤: " + in.After + "\n")
	}

	sb.WriteString("\n# 고칠 부분\n")
	sb.WriteString(in.MaskedText)
	sb.WriteString("\n")

	writeConstraints(&sb, in)
	sb.WriteString("- 고칠 부분만 다시 써서 출력하고, 앞뒤 문맥과 자연스럽게 이어지게 하세요.\n")
	return sb.String()
}
