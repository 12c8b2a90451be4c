package review

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/samsaffron/codereview-chat/internal/llm"
)

// Suggestion pairs the code a user sent with the code the reviewer returned.
type Suggestion struct {
	Language string
	Original string
	Modified string
}

// Suggest picks the first code block of the user message and the first
// block of the reply in the same language. When languages are unknown the
// reply's first block is used. ok is false when either side has no code.
func Suggest(userMsg, assistantMsg string) (s Suggestion, ok bool) {
	orig := ExtractCodeBlocks(userMsg)
	mod := ExtractCodeBlocks(assistantMsg)
	if len(orig) == 0 || len(mod) == 0 {
		return Suggestion{}, false
	}

	src := orig[0]
	dst := mod[0]
	if src.Language != "" {
		for _, b := range mod {
			if sameLanguage(src.Language, b.Language) {
				dst = b
				break
			}
		}
	}

	lang := src.Language
	if lang == "" {
		lang = dst.Language
	}
	return Suggestion{Language: lang, Original: src.Code, Modified: dst.Code}, true
}

// Unified renders the suggestion as a unified diff. It is empty when the
// reply did not change the code.
func (s Suggestion) Unified() (string, error) {
	if s.Original == s.Modified {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(s.Original),
		B:        difflib.SplitLines(s.Modified),
		FromFile: "original",
		ToFile:   "suggested",
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("unified diff: %w", err)
	}
	return out, nil
}

// SuggestedDiff diffs the code in userMsg against the reviewer's version in
// assistantMsg.
func SuggestedDiff(userMsg, assistantMsg string) (string, bool, error) {
	s, ok := Suggest(userMsg, assistantMsg)
	if !ok {
		return "", false, nil
	}
	out, err := s.Unified()
	return out, ok, err
}

// LatestSuggestion finds the most recent assistant reply in conv and pairs
// it with the user message it answered.
func LatestSuggestion(conv llm.Conversation) (Suggestion, bool) {
	for i := len(conv) - 1; i > 0; i-- {
		if conv[i].Role != llm.RoleAssistant {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if conv[j].Role == llm.RoleUser {
				if s, ok := Suggest(conv[j].Content, conv[i].Content); ok {
					return s, true
				}
				break
			}
		}
	}
	return Suggestion{}, false
}
