// Package moderation ищет в сообщениях шаблоны, на которые реагирует бот.
package moderation

import (
	"regexp"
	"strings"
)

type ViolationType string

const (
	ViolationAskToAsk ViolationType = "ask_to_ask"
)

type Violation struct {
	Type  ViolationType
	Match string
}

var askToAskPatterns = []*regexp.Regexp{
	// "can I ask a question", "may I ask something", "could anyone help"
	regexp.MustCompile(`(?i)\b(can|may|could)\s+(i|we)\s+ask\b`),
	regexp.MustCompile(`(?i)\b(any(one|body)|someone|somebody)\s+(here\s+)?(who\s+)?(knows?|familiar\s+with|uses?|good\s+(at|with)|can\s+help)\b`),
	regexp.MustCompile(`(?i)\bis\s+there\s+(any(one|body)|someone)\s+(here\s+)?(who|that)\b`),
	// "можно задать вопрос", "можно спросить", "кто-нибудь разбирается"
	regexp.MustCompile(`(?i)можно\s+(задать\s+)?(вопрос|спросить)`),
	regexp.MustCompile(`(?i)(кто|есть\s+кто)[-\s]*(нибудь|то)?\s+(разбирается|знает|шарит|работал|сталкивался|может\s+помочь)`),
	regexp.MustCompile(`(?i)есть\s+(тут|здесь)\s+(кто|специалисты|спецы)`),
}

// maxAskLen: настоящий вопрос с подробностями длиннее.
const maxAskLen = 120

// Check проверяет текст на "вопрос о вопросе": короткую просьбу разрешить
// спросить вместо самого вопроса.
func Check(text string) *Violation {
	text = strings.TrimSpace(text)
	if text == "" || len([]rune(text)) > maxAskLen {
		return nil
	}
	for _, p := range askToAskPatterns {
		if match := p.FindString(text); match != "" {
			return &Violation{Type: ViolationAskToAsk, Match: match}
		}
	}
	return nil
}
