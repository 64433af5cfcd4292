// Package intel holds what the analysis and chat implementations share:
// failure sentinels, model instructions, the report schema and the
// failover wrappers. Implementations live in the gemini and llmintel
// subpackages and satisfy meeting.Analyzer and meeting.Chatter.
package intel

import (
	"errors"
	"fmt"

	"github.com/MrWong99/minutas/internal/meeting"
)

var (
	// ErrAnalysisFailed wraps every analysis failure, including reports that
	// fail schema validation.
	ErrAnalysisFailed = errors.New("intel: analysis failed")

	// ErrChatFailed wraps every chat failure.
	ErrChatFailed = errors.New("intel: chat failed")
)

// DefaultContextBudget is the number of characters of meeting context sent
// with each chat turn.
const DefaultContextBudget = 20000

// NoResponseText replaces an empty model answer.
const NoResponseText = "No response generated."

// AnalysisInstruction is the system instruction of an analysis call.
func AnalysisInstruction(lang meeting.Language) string {
	return fmt.Sprintf("You are a World-Class Strategy Consultant. Analyze the transcript and provide a professional strategic report. Language: %s.", lang.Name())
}

// ChatInstruction is the system instruction of a chat turn. context is
// truncated to budget runes; a budget <= 0 uses [DefaultContextBudget].
func ChatInstruction(context string, lang meeting.Language, budget int) string {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	name := "Inglés"
	if lang == meeting.Spanish {
		name = "Español"
	}
	return fmt.Sprintf("Eres el 'Cerebro Corporativo'. Usa este [CONTEXTO] de la reunión: %s. Responde como un consultor senior. Idioma: %s.",
		Truncate(context, budget), name)
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// DedupURLs drops empty and repeated URLs, keeping first-seen order.
func DedupURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// AnalysisFailed wraps err with [ErrAnalysisFailed] and the provider name.
func AnalysisFailed(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrAnalysisFailed, err)
}

// ChatFailed wraps err with [ErrChatFailed] and the provider name.
func ChatFailed(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrChatFailed, err)
}
