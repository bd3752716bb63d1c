package chat

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// PromptFromMessages flattens a chat history into the single prompt string
// the upstream accepts. Messages without a role count as user messages;
// tool and function messages are skipped.
func PromptFromMessages(messages []openai.ChatCompletionMessage) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		var prefix string
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case openai.ChatMessageRoleSystem:
			prefix = "System: "
		case openai.ChatMessageRoleUser, "":
			prefix = "User: "
		case openai.ChatMessageRoleAssistant:
			prefix = "Assistant: "
		default:
			continue
		}
		parts = append(parts, prefix+messageText(m))
	}
	return strings.Join(parts, "\n\n"), nil
}

func messageText(m openai.ChatCompletionMessage) string {
	if len(m.MultiContent) == 0 {
		return m.Content
	}
	texts := make([]string, 0, len(m.MultiContent))
	for _, p := range m.MultiContent {
		if p.Type == openai.ChatMessagePartTypeText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
