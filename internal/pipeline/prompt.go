package pipeline

import (
	"fmt"
	"strings"

	"campus-assistant/internal/domain"
)

const contextHeader = "Context Documents:\n"

const (
	contextTemplate  = "Title: %s\nUniversity: %s\nContent: %s\n"
	contextSeparator = "\n---\n"
	defaultTitle     = "No Title"
	defaultCampus    = "Unknown University"
)

func scopePrompt() string {
	quoted := make([]string, len(domain.Campuses))
	for i, c := range domain.Campuses {
		quoted[i] = "'" + c + "'"
	}
	return strings.Join([]string{
		"You are an assistant that identifies which UT campuses a query refers to based on the provided context.",
		fmt.Sprintf("The full list of valid campuses is: [%s].", strings.Join(quoted, ",")),
		"Analyze the human query and return ONLY a Python list of all campuses explicitly or implicitly mentioned.",
		fmt.Sprintf("If no specific campus is mentioned, return ['%s'].", domain.AllCampuses),
	}, " ")
}

func answerPrompt() string {
	return strings.Join([]string{
		"You are an assistant specializing in questions about the University of Texas system campuses.",
		"When context is available and relevant, use it as your primary source.",
		"If the context does not include the answer, use your broader knowledge to help, but never contradict the context.",
		"Keep responses concise and student-friendly.",
	}, " ")
}

// scopeTranscript renders the human and system turns the classifier sees.
func scopeTranscript(messages []domain.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleHuman:
			lines = append(lines, "User: "+m.Content)
		case domain.RoleSystem:
			lines = append(lines, "System: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

func renderContext(docs []domain.Retrieved) string {
	blocks := make([]string, len(docs))
	for i, d := range docs {
		blocks[i] = fmt.Sprintf(contextTemplate, d.Title, d.Campus, d.Text)
	}
	return strings.Join(blocks, contextSeparator)
}
