package preprocess

import (
	"strings"
	"unicode"
)

// Preprocessor normalizes comment text before it is sent for classification.
type Preprocessor struct {
	stopwords map[string]struct{}
}

// New builds a Preprocessor over the given stopwords. A nil list uses the
// built-in English set.
func New(stopwords []string) *Preprocessor {
	if stopwords == nil {
		stopwords = englishStopwords
	}
	stops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return &Preprocessor{stopwords: stops}
}

var defaultPreprocessor = New(nil)

// Preprocess runs the default English preprocessor.
func Preprocess(text string) string {
	return defaultPreprocessor.Process(text)
}

// Process lowercases text, drops every rune that is neither a word character
// nor whitespace, and removes stopwords. The result is space-joined and is a
// fixed point: Process(Process(s)) == Process(s).
func (p *Preprocessor) Process(text string) string {
	if text == "" {
		return ""
	}

	var cleaned strings.Builder
	cleaned.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if isWordRune(r) || unicode.IsSpace(r) {
			cleaned.WriteRune(r)
		}
	}

	words := strings.Fields(cleaned.String())
	kept := words[:0]
	for _, w := range words {
		if _, stop := p.stopwords[w]; stop {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// ProcessAll preprocesses texts in order, one output per input.
func (p *Preprocessor) ProcessAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = p.Process(t)
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_'
}
