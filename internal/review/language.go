package review

import (
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// lexers.Match walks every registered lexer, so results are cached per name.
var (
	lexerCache   = make(map[string]chroma.Lexer)
	lexerCacheMu sync.RWMutex
)

func matchFilename(filename string) chroma.Lexer {
	lexerCacheMu.RLock()
	l, ok := lexerCache[filename]
	lexerCacheMu.RUnlock()
	if ok {
		return l
	}

	l = lexers.Match(filename)
	lexerCacheMu.Lock()
	lexerCache[filename] = l
	lexerCacheMu.Unlock()
	return l
}

// DetectLanguage names the language of a file for a markdown fence. The
// filename wins; content analysis is the fallback. It returns "" when
// neither identifies a language.
func DetectLanguage(filename, content string) string {
	var l chroma.Lexer
	if filename != "" {
		l = matchFilename(filename)
	}
	if l == nil && strings.TrimSpace(content) != "" {
		l = lexers.Analyse(content)
	}
	if l == nil {
		return ""
	}
	return fenceName(l.Config())
}

func fenceName(cfg *chroma.Config) string {
	if cfg == nil {
		return ""
	}
	if len(cfg.Aliases) > 0 {
		return cfg.Aliases[0]
	}
	return strings.ToLower(cfg.Name)
}

// sameLanguage compares fence names, treating aliases of one lexer as equal.
func sameLanguage(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.EqualFold(a, b) {
		return true
	}
	la, lb := lexers.Get(a), lexers.Get(b)
	return la != nil && lb != nil && la.Config().Name == lb.Config().Name
}
