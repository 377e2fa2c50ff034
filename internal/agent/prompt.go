package agent

import (
	"strings"
)

// DefaultSystem is the engine system prompt used when Options.System is empty.
const DefaultSystem = `You operate a computer through the provided tools. ` +
	`Coordinates are screen pixels from the top-left corner. ` +
	`Some actions may be refused by a security policy; when that happens, do not retry the same action.`

var completionPhrases = []string{
	"task complete",
	"successfully completed",
	"finished the task",
}

// taskPrompt is the first user message of every run.
func taskPrompt(goal string) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(strings.TrimSpace(goal))
	b.WriteString("\n\nInstructions:\n")
	b.WriteString("1. Take a screenshot first to see the current state of the screen.\n")
	b.WriteString("2. Perform one step at a time and verify the result with a screenshot.\n")
	b.WriteString("3. If an action fails, look at the screen again and try a different approach.\n")
	b.WriteString(`4. When the task is done, reply without tool calls and say "task complete".`)
	return b.String()
}

// signalsCompletion reports whether text announces that the task is done.
func signalsCompletion(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range completionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
