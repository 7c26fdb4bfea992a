package rag

import (
	"fmt"
	"strings"

	"github.com/mfenderov/reg-rag/pkg/models"
)

const systemPromptTemplate = `You are an %[1]s regulatory assistant. Your role is to answer questions
about %[1]s laws, regulations, and workplace safety standards.

RULES:
- ONLY use the provided context to answer questions
- If the context does not contain enough information, say so clearly
- Always cite the source URL for every fact you reference
- Format citations as [Source: URL] at the end of each relevant statement
- Be precise and factual, do not speculate beyond the provided context
- If multiple sources are relevant, cite all of them
- Use the conversation history only to resolve what the user is referring to`

const fallbackTemplate = "No relevant %[1]s regulations were found for your question. " +
	"Please try rephrasing or ask about a specific %[1]s topic."

// documentSeparator joins formatted documents in the prompt context.
const documentSeparator = "\n\n---\n\n"

// SystemPrompt returns the generation instructions for a regulator.
func SystemPrompt(source string) string {
	return fmt.Sprintf(systemPromptTemplate, source)
}

// FallbackAnswer is returned when retrieval finds nothing.
func FallbackAnswer(source string) string {
	return fmt.Sprintf(fallbackTemplate, source)
}

// FormatDocuments renders documents as numbered citation blocks:
//
//	[Document 1] Title: T | Section: S
//	Source: URL
//	body
func FormatDocuments(docs []models.RetrievedDocument) string {
	parts := make([]string, len(docs))
	for i, doc := range docs {
		var b strings.Builder
		fmt.Fprintf(&b, "[Document %d]", i+1)
		if doc.Metadata.PageTitle != "" {
			fmt.Fprintf(&b, " Title: %s", doc.Metadata.PageTitle)
		}
		if doc.Metadata.SectionHeading != "" {
			fmt.Fprintf(&b, " | Section: %s", doc.Metadata.SectionHeading)
		}
		source := doc.Metadata.SourceURL
		if source == "" {
			source = "Unknown source"
		}
		fmt.Fprintf(&b, "\nSource: %s\n%s", source, doc.Content)
		parts[i] = b.String()
	}
	return strings.Join(parts, documentSeparator)
}

// ExtractCitations returns one citation per distinct source URL, in the
// order the URLs first appear. Documents without a URL are ignored.
func ExtractCitations(docs []models.RetrievedDocument) []models.Citation {
	citations := []models.Citation{}
	seen := make(map[string]bool)
	for _, doc := range docs {
		url := doc.Metadata.SourceURL
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		citations = append(citations, models.Citation{
			URL:     url,
			Title:   doc.Metadata.PageTitle,
			Section: doc.Metadata.SectionHeading,
		})
	}
	return citations
}

// NormalizeHistory maps client role names onto "user" and "assistant" and
// drops turns with no content.
func NormalizeHistory(turns []models.HistoryTurn) []models.HistoryTurn {
	out := make([]models.HistoryTurn, 0, len(turns))
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		switch role {
		case "human":
			role = "user"
		case "ai", "bot", "model":
			role = "assistant"
		}
		out = append(out, models.HistoryTurn{Role: role, Content: content})
	}
	return out
}

// FormatHistory renders the last limit turns as a transcript, one line per
// turn prefixed by its role.
func FormatHistory(turns []models.HistoryTurn, limit int) string {
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		lines = append(lines, roleLabel(turn.Role)+": "+turn.Content)
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "":
		return "Unknown"
	default:
		return strings.ToUpper(role[:1]) + role[1:]
	}
}

// BuildPrompt assembles the user prompt. The history block is omitted when
// transcript is empty.
func BuildPrompt(context, transcript, question string) string {
	var b strings.Builder
	if transcript != "" {
		b.WriteString("CONVERSATION HISTORY:\n")
		b.WriteString(transcript)
		b.WriteString("\n\n")
	}
	b.WriteString("CONTEXT:\n")
	b.WriteString(context)
	b.WriteString("\n\nUSER QUESTION: ")
	b.WriteString(question)
	return b.String()
}
