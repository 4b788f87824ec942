package slashcmd

import "fmt"

// InjectResponsesDialect prepends "[SYSTEM: <directive>]\n\n" inside the
// given input_text string (spec.md §4.3: "responses dialect has no native
// system role slot at that layer").
func InjectResponsesDialect(directive, inputText string) string {
	return fmt.Sprintf("[SYSTEM: %s]\n\n%s", directive, inputText)
}

// ChatCompletionsSystemMessage is the new leading message to prepend for
// the chat-completions dialect (spec.md §4.3: "prepend as a new system
// role message").
type ChatCompletionsSystemMessage struct {
	Role    string
	Content string
}

// InjectChatCompletionsDialect builds the system message to prepend.
func InjectChatCompletionsDialect(directive string) ChatCompletionsSystemMessage {
	return ChatCompletionsSystemMessage{Role: "system", Content: directive}
}
