package agent

import (
	"html"
	"strings"
)

// PromptInput is the message content embedded into a prompt.
type PromptInput struct {
	SenderDisplay string
	SenderAddress string
	Subject       string
	Body          string
}

// BuildPrompt renders the agent prompt. Sender, subject and body are
// escaped so that message content cannot close or forge the surrounding
// tags.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("You received an email. Write the reply body only, as plain text.\n\n")
	b.WriteString("<email>\n")
	b.WriteString("<from>")
	b.WriteString(html.EscapeString(formatSender(in.SenderDisplay, in.SenderAddress)))
	b.WriteString("</from>\n")
	b.WriteString("<subject>")
	b.WriteString(html.EscapeString(in.Subject))
	b.WriteString("</subject>\n")
	b.WriteString("<body>\n")
	b.WriteString(html.EscapeString(in.Body))
	b.WriteString("\n</body>\n")
	b.WriteString("</email>\n")
	return b.String()
}

func formatSender(display, address string) string {
	if display == "" || display == address {
		return address
	}
	return display + " <" + address + ">"
}
