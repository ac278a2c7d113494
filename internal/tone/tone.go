// Package tone defines the closed vocabularies a rewrite request is built
// from: who the message is for (Persona), what the message is about
// (Context) and how polite the result should sound (Level).
//
// The values are plain tagged strings so they travel unchanged through JSON,
// SQLite and prompts. Behaviour lives in the free functions below.
package tone

import (
	"fmt"
	"sort"
	"strings"
)

// Persona is the relationship between the sender and the recipient.
type Persona string

const (
	PersonaBoss      Persona = "BOSS"
	PersonaClient    Persona = "CLIENT"
	PersonaParent    Persona = "PARENT"
	PersonaProfessor Persona = "PROFESSOR"
	PersonaColleague Persona = "COLLEAGUE"
	PersonaOfficial  Persona = "OFFICIAL"
	PersonaOther     Persona = "OTHER"
)

// Context is a situation tag. A request carries one or more of them.
type Context string

const (
	ContextRequest       Context = "REQUEST"
	ContextScheduleDelay Context = "SCHEDULE_DELAY"
	ContextUrging        Context = "URGING"
	ContextRejection     Context = "REJECTION"
	ContextApology       Context = "APOLOGY"
	ContextComplaint     Context = "COMPLAINT"
	ContextAnnouncement  Context = "ANNOUNCEMENT"
	ContextFeedback      Context = "FEEDBACK"
	ContextInquiry       Context = "INQUIRY"
	ContextReport        Context = "REPORT"
	ContextGratitude     Context = "GRATITUDE"
	ContextOther         Context = "OTHER"
)

// Level is the requested politeness register.
type Level string

const (
	LevelVeryPolite        Level = "VERY_POLITE"
	LevelPolite            Level = "POLITE"
	LevelNeutral           Level = "NEUTRAL"
	LevelFirmButRespectful Level = "FIRM_BUT_RESPECTFUL"
)

var personaLabels = map[Persona]string{
	PersonaBoss:      "직장 상사",
	PersonaClient:    "고객 또는 거래처",
	PersonaParent:    "학부모",
	PersonaProfessor: "교수님",
	PersonaColleague: "직장 동료",
	PersonaOfficial:  "공공기관 또는 공식 담당자",
	PersonaOther:     "기타 상대",
}

var contextLabels = map[Context]string{
	ContextRequest:       "요청",
	ContextScheduleDelay: "일정 지연 안내",
	ContextUrging:        "독촉",
	ContextRejection:     "거절",
	ContextApology:       "사과",
	ContextComplaint:     "항의 또는 불만 제기",
	ContextAnnouncement:  "공지",
	ContextFeedback:      "피드백",
	ContextInquiry:       "문의",
	ContextReport:        "보고",
	ContextGratitude:     "감사 인사",
	ContextOther:         "기타",
}

var levelLabels = map[Level]string{
	LevelVeryPolite:        "매우 정중한 격식체",
	LevelPolite:            "정중한 존댓말",
	LevelNeutral:           "담백하고 중립적인 존댓말",
	LevelFirmButRespectful: "단호하지만 예의를 갖춘 존댓말",
}

// Personas returns every persona in declaration order.
func Personas() []Persona {
	return []Persona{
		PersonaBoss, PersonaClient, PersonaParent, PersonaProfessor,
		PersonaColleague, PersonaOfficial, PersonaOther,
	}
}

// Contexts returns every situation tag in declaration order.
func Contexts() []Context {
	return []Context{
		ContextRequest, ContextScheduleDelay, ContextUrging, ContextRejection,
		ContextApology, ContextComplaint, ContextAnnouncement, ContextFeedback,
		ContextInquiry, ContextReport, ContextGratitude, ContextOther,
	}
}

// Levels returns every tone level from most to least deferential.
func Levels() []Level {
	return []Level{LevelVeryPolite, LevelPolite, LevelNeutral, LevelFirmButRespectful}
}

// ParsePersona accepts the enum name in any case.
func ParsePersona(s string) (Persona, error) {
	p := Persona(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := personaLabels[p]; !ok {
		return "", fmt.Errorf("unknown persona %q", s)
	}
	return p, nil
}

// ParseContext accepts the enum name in any case.
func ParseContext(s string) (Context, error) {
	c := Context(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := contextLabels[c]; !ok {
		return "", fmt.Errorf("unknown situation context %q", s)
	}
	return c, nil
}

// ParseLevel accepts the enum name in any case.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelLabels[l]; !ok {
		return "", fmt.Errorf("unknown tone level %q", s)
	}
	return l, nil
}

// ParseContexts parses and normalises a list of context names.
func ParseContexts(names []string) ([]Context, error) {
	out := make([]Context, 0, len(names))
	for _, n := range names {
		c, err := ParseContext(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return NormalizeContexts(out), nil
}

// NormalizeContexts drops duplicates and sorts the tags so that two requests
// naming the same set compare (and fingerprint) equal.
func NormalizeContexts(cs []Context) []Context {
	seen := make(map[Context]bool, len(cs))
	out := make([]Context, 0, len(cs))
	for _, c := range cs {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidPersona reports whether p is one of the declared personas.
func ValidPersona(p Persona) bool { _, ok := personaLabels[p]; return ok }

// ValidContext reports whether c is one of the declared situation tags.
func ValidContext(c Context) bool { _, ok := contextLabels[c]; return ok }

// ValidLevel reports whether l is one of the declared tone levels.
func ValidLevel(l Level) bool { _, ok := levelLabels[l]; return ok }

// IsReceiverSide reports whether the persona is the party that normally
// performs a service for the sender (a customer or an official desk). For
// these recipients "처리해 드리겠습니다"-style phrasing is expected.
func IsReceiverSide(p Persona) bool {
	return p == PersonaClient || p == PersonaOfficial
}

// PersonaLabel returns the Korean description used in prompts.
func PersonaLabel(p Persona) string {
	if l, ok := personaLabels[p]; ok {
		return l
	}
	return string(p)
}

// ContextLabel returns the Korean description used in prompts.
func ContextLabel(c Context) string {
	if l, ok := contextLabels[c]; ok {
		return l
	}
	return string(c)
}

// LevelLabel returns the Korean description used in prompts.
func LevelLabel(l Level) string {
	if s, ok := levelLabels[l]; ok {
		return s
	}
	return string(l)
}

// ContextLabels joins the Korean labels of cs with ", ".
func ContextLabels(cs []Context) string {
	labels := make([]string, len(cs))
	for i, c := range cs {
		labels[i] = ContextLabel(c)
	}
	return strings.Join(labels, ", ")
}
