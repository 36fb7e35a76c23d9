package llm

import (
	"github.com/openai/openai-go"
)

func buildMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// SystemText builds a system message.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserText builds a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantText builds an assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}
