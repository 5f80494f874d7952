package bot

import (
	"fmt"
	"strings"
)

// FallbackPhrase is the exact sentence the model is instructed to emit
// when it cannot answer from the account's knowledge. The orchestrator
// matches it verbatim to decide on escalation, so the instruction and
// the comparison must stay in lockstep.
const FallbackPhrase = "I need to check with a colleague"

// MediaReply is sent for inbound messages the bot cannot read.
const MediaReply = "Thanks for your message. I can only read text right now, so a teammate will take a look at this shortly."

func systemPrompt(displayName, knowledge string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the customer support assistant for %s.\n", displayName)
	b.WriteString("Answer only from the business knowledge below. Keep replies short and plain.\n")
	fmt.Fprintf(&b, "If the knowledge does not cover the question, reply with exactly: %s\n", FallbackPhrase)
	b.WriteString("\n--- BUSINESS KNOWLEDGE ---\n")
	b.WriteString(strings.TrimSpace(knowledge))
	b.WriteString("\n--- END KNOWLEDGE ---")
	return b.String()
}
