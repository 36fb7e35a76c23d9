// Package ioman abstracts user-facing input and output. The engine only
// talks to the Manager interface; the two implementations are a
// full-screen terminal UI and an agent mode that exchanges files with a
// driving process.
package ioman

import "context"

// Manager is the engine's input/output surface. Write never loses text;
// Clear empties the display and any accumulated buffer. Blocking calls
// honour ctx cancellation.
type Manager interface {
	Start(ctx context.Context) error
	Stop() error
	Write(text string) error
	Clear() error
	UserInput(ctx context.Context, prompt, defaultText string) (string, error)
	SelectIndex(ctx context.Context, options []string, description string) (int, error)
}

// choiceKeys returns the selection keys for n options: digits 1-9 for up
// to nine options, lowercase letters from 'a' after that.
func choiceKeys(n int) []string {
	keys := make([]string, n)
	if n <= 9 {
		for i := range keys {
			keys[i] = string(rune('1' + i))
		}
		return keys
	}
	for i := range keys {
		keys[i] = string(rune('a' + i))
	}
	return keys
}
