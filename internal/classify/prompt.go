package classify

import (
	"strings"

	"github.com/voc-classifier/backend/internal/llm"
	"github.com/voc-classifier/backend/internal/themes"
)

// BuildSystemPrompt lists the allowed themes and the expected reply format.
func BuildSystemPrompt(catalog *themes.Catalog) string {
	var b strings.Builder
	b.WriteString("You are a themes classifier.\n")
	b.WriteString("Classify the following user comments into one of the defined themes.\n")
	b.WriteString("Each line of the user message is one comment. If a comment matches more than one theme, choose only one theme.\n")
	b.WriteString("These are the possible themes:\n")
	for _, name := range catalog.WithFallback() {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	b.WriteString("Also do the sentiment analysis of the comment. ")
	b.WriteString("Find out the financial product linked to the comment if a detail is available.\n")
	b.WriteString("Respond in the following JSON format, with one entry per comment in the same order as the comments:\n")
	b.WriteString(`[ { "comment": "<comment>", "themes": "<primary theme>", "sentiment": "<sentiment>", "product": "<product>" },` + "\n]\n")
	b.WriteString("If no match is found for a comment, try to come up with a high level theme for the comment. ")
	b.WriteString("Put a star mark in that new theme.")
	return b.String()
}

// BuildUserPrompt puts one comment per line. Line breaks inside a comment are
// flattened so the line count matches the batch length.
func BuildUserPrompt(batch []string) string {
	lines := make([]string, len(batch))
	for i, c := range batch {
		lines[i] = strings.Join(strings.Fields(c), " ")
	}
	return strings.Join(lines, "\n")
}

// BuildMessages returns the [system, user] pair for one classification run.
func BuildMessages(catalog *themes.Catalog, batch []string) []llm.Message {
	return []llm.Message{
		llm.SystemMessage(BuildSystemPrompt(catalog)),
		llm.UserMessage(BuildUserPrompt(batch)),
	}
}
