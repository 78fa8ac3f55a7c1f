package gmail

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	gmail "google.golang.org/api/gmail/v1"
)

// MaxBodyLength is the maximum number of characters kept from a message body.
const MaxBodyLength = 10000

// ParsedMessage is the normalized view of a Gmail message used by the bridge.
type ParsedMessage struct {
	ID            string
	ThreadID      string
	SenderDisplay string
	SenderAddress string
	Subject       string
	Body          string

	// RFC822MessageID is the original Message-ID header, used for
	// In-Reply-To and References on the reply.
	RFC822MessageID string

	// References is the original References header.
	References string
}

// ParseMessage extracts headers, sender and a truncated plain-text body from
// a message fetched with format=full. It never fails: missing or malformed
// parts yield empty strings.
func ParseMessage(m *gmail.Message) ParsedMessage {
	if m == nil {
		return ParsedMessage{}
	}

	display, address := ParseSender(HeaderValue(m, "From"))

	var body string
	if m.Payload != nil {
		body = decodeBody(toBodyPart(m.Payload))
	}

	return ParsedMessage{
		ID:              m.Id,
		ThreadID:        m.ThreadId,
		SenderDisplay:   display,
		SenderAddress:   address,
		Subject:         HeaderValue(m, "Subject"),
		Body:            truncate(body, MaxBodyLength),
		RFC822MessageID: HeaderValue(m, "Message-ID"),
		References:      HeaderValue(m, "References"),
	}
}

// HeaderValue returns the first header named name, compared
// case-insensitively, or "".
func HeaderValue(m *gmail.Message, name string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ParseSender splits a From header into display name and address.
// "Alice <alice@example.com>" yields ("Alice", "alice@example.com"). Values
// without angle brackets are returned as the address. The display name falls
// back to the address when the header carries none.
func ParseSender(from string) (display, address string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}

	if addr, err := mail.ParseAddress(from); err == nil {
		display = addr.Name
		address = addr.Address
	} else if lt := strings.LastIndex(from, "<"); lt >= 0 && strings.Contains(from[lt:], ">") {
		gt := lt + strings.Index(from[lt:], ">")
		display = strings.Trim(strings.TrimSpace(from[:lt]), `"`)
		address = strings.TrimSpace(from[lt+1 : gt])
	} else {
		address = from
	}

	if display == "" {
		display = address
	}
	return display, address
}

// bodyPart is a MIME part reduced to what body decoding needs: a leaf
// carrying base64url data, or a branch with children.
type bodyPart struct {
	mimeType string
	data     string
	children []bodyPart
}

func toBodyPart(p *gmail.MessagePart) bodyPart {
	bp := bodyPart{mimeType: strings.ToLower(p.MimeType)}
	if p.Body != nil {
		bp.data = p.Body.Data
	}
	for _, child := range p.Parts {
		if child != nil {
			bp.children = append(bp.children, toBodyPart(child))
		}
	}
	return bp
}

// decodeBody picks the message text from a part tree:
//  1. a part with inline data is decoded directly
//  2. a branch prefers its first text/plain child with data
//  3. then its first text/html child with data, converted to text
//  4. otherwise children are searched in order, first non-empty result wins
func decodeBody(p bodyPart) string {
	if p.data != "" {
		return decodeData(p.data)
	}

	if child, ok := firstChild(p, "text/plain"); ok {
		return decodeData(child.data)
	}
	if child, ok := firstChild(p, "text/html"); ok {
		return htmlToText(decodeData(child.data))
	}

	for _, child := range p.children {
		if text := decodeBody(child); text != "" {
			return text
		}
	}
	return ""
}

func firstChild(p bodyPart, mimeType string) (bodyPart, bool) {
	for _, child := range p.children {
		if child.mimeType == mimeType && child.data != "" {
			return child, true
		}
	}
	return bodyPart{}, false
}

// decodeData decodes Gmail's base64url body data, with or without padding.
func decodeData(data string) string {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

var (
	htmlTag    = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// htmlToText strips tags, decodes &nbsp; and collapses whitespace.
func htmlToText(s string) string {
	s = htmlTag.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// truncate limits s to limit characters.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
