package gmail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Reply is an in-thread answer to a received message.
type Reply struct {
	ThreadID string
	To       string
	Subject  string
	Body     string

	// InReplyTo is the Message-ID of the message being answered, if known.
	InReplyTo string

	// References is the References header of the message being answered.
	References string

	// Date defaults to time.Now.
	Date time.Time
}

// ReplySubject prefixes subject with "Re: " unless it already starts with
// exactly that prefix.
func ReplySubject(subject string) string {
	if strings.HasPrefix(subject, "Re: ") {
		return subject
	}
	return "Re: " + subject
}

// ComposeReply renders r as an RFC 5322 text/plain UTF-8 message.
// The subject is normalized with ReplySubject.
func ComposeReply(r Reply) ([]byte, error) {
	if r.To == "" {
		return nil, fmt.Errorf("reply recipient is required")
	}

	to, err := mail.ParseAddress(r.To)
	if err != nil {
		return nil, fmt.Errorf("invalid reply recipient %q: %w", r.To, err)
	}

	date := r.Date
	if date.IsZero() {
		date = time.Now()
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(ReplySubject(r.Subject))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	if id := trimMsgID(r.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", append(parseMsgIDs(r.References), id))
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, r.Body); err != nil {
		return nil, fmt.Errorf("writing reply body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}

	return buf.Bytes(), nil
}

func trimMsgID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// parseMsgIDs splits a References header into bare message ids.
func parseMsgIDs(refs string) []string {
	var ids []string
	for _, f := range strings.Fields(refs) {
		if id := trimMsgID(f); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
