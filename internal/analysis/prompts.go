package analysis

import (
	"fmt"
	"strings"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/chunker"
	"github.com/valpere/politone/internal/tone"
)

const systemPrompt = `당신은 한국어 비즈니스 커뮤니케이션 분석가입니다.
메시지를 고쳐 쓰지 말고, 요청받은 분석만 간결하게 작성하세요.`

func describeRequest(req internal.TransformRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "받는 사람: %s\n", tone.PersonaLabel(req.Persona))
	fmt.Fprintf(&sb, "상황: %s\n", tone.ContextLabels(req.Contexts))
	fmt.Fprintf(&sb, "원하는 말투: %s\n", tone.LevelLabel(req.ToneLevel))
	if req.SenderInfo != "" {
		fmt.Fprintf(&sb, "보내는 사람: %s\n", req.SenderInfo)
	}
	if req.UserPrompt != "" {
		fmt.Fprintf(&sb, "추가 요청: %s\n", req.UserPrompt)
	}
	return sb.String()
}

func buildSituationPrompt(req internal.TransformRequest) string {
	return fmt.Sprintf(`%s
# 원문
%s

# 할 일
보내는 사람의 의도, 받는 사람과의 관계, 메시지에서 오해나 불쾌감을 줄 수 있는 부분을
각각 한두 문장으로 정리하세요. 목록 형식으로 세 줄 이내로 답하세요.`, describeRequest(req), req.OriginalText)
}

func buildLockedPrompt(req internal.TransformRequest) string {
	return fmt.Sprintf(`# 원문
%s

# 할 일
말투를 바꾸더라도 글자 그대로 유지해야 하는 표현(사람 이름, 직함, 회사명, 제품명, 날짜,
시간, 금액, 수량, 장소, 고유한 용어)을 원문에서 그대로 찾아 주세요.
반드시 아래 JSON 형식으로만 답하세요. 없으면 빈 배열을 쓰세요.
{"locked":[{"text":"원문에 있는 그대로의 표현","reason":"유지해야 하는 이유"}]}`, req.OriginalText)
}

func buildDecomposePrompt(segments []string) string {
	return fmt.Sprintf(`# 원문 (문장별)
%s

# 할 일
각 문장을 번호 순서대로 "핵심 내용 / 요청 또는 전달 사항 / 감정 표현" 으로 나누어
한 줄씩 정리하세요. 원문에 없는 내용은 추가하지 마세요.`, chunker.Number(segments))
}
