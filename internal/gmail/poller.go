package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxagent/internal/logging"
)

// DefaultPageSize is the number of unread messages fetched per cycle.
const DefaultPageSize = 10

// MessageService is the subset of Client used by Poller.
type MessageService interface {
	ListMessages(ctx context.Context, query string, maxResults int64) ([]*gmail.Message, error)
	GetMessage(ctx context.Context, messageID string) (*gmail.Message, error)
}

// Poller lists unread messages carrying a label and parses them.
type Poller struct {
	api      MessageService
	label    string
	pageSize int64
	logger   *slog.Logger
}

// NewPoller creates a poller for label. pageSize <= 0 means DefaultPageSize.
func NewPoller(api MessageService, label string, pageSize int64, logger *slog.Logger) *Poller {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		api:      api,
		label:    label,
		pageSize: pageSize,
		logger:   logging.WithComponent(logger, "poller"),
	}
}

// Query returns the search query used by Poll.
func (p *Poller) Query() string {
	return UnreadQuery(p.label)
}

// UnreadQuery builds the Gmail search query for unread messages in label.
// Gmail search expects spaces in label names as hyphens.
func UnreadQuery(label string) string {
	name := strings.Join(strings.Fields(label), "-")
	return fmt.Sprintf("label:%s is:unread", name)
}

// Poll returns the parsed unread messages of the label, newest first as the
// API orders them. A failed fetch of a single message is logged and the
// message skipped; a failed list fails the whole poll.
func (p *Poller) Poll(ctx context.Context) ([]ParsedMessage, error) {
	stubs, err := p.api.ListMessages(ctx, p.Query(), p.pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing unread messages: %w", err)
	}

	messages := make([]ParsedMessage, 0, len(stubs))
	for _, stub := range stubs {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		full, err := p.api.GetMessage(ctx, stub.Id)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to fetch message, skipping",
				logging.MessageID(stub.Id),
				logging.Err(err),
			)
			continue
		}

		messages = append(messages, ParseMessage(full))
	}

	p.logger.DebugContext(ctx, "poll complete",
		"listed", len(stubs),
		"parsed", len(messages),
	)
	return messages, nil
}
