package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/inboxagent/internal/google"
	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
)

// userID addresses the authenticated mailbox.
const userID = "me"

// APIError wraps a failed Gmail API call with the operation that failed.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gmail %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ClientConfig holds the optional collaborators of a Client.
type ClientConfig struct {
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Client wraps the Gmail Users service. Every call goes through a circuit
// breaker and is recorded as a google_api_operations_total sample and a span.
type Client struct {
	svc     *gmail.UsersService
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewClient creates a Gmail client. Pass option.WithHTTPClient with an
// authorized client in production.
func NewClient(ctx context.Context, cfg ClientConfig, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "gmail")

	return &Client{
		svc:     svc.Users,
		cb:      newCircuitBreaker(logger),
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

func newCircuitBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// countsAsSuccess decides whether err should count against the breaker.
// Only server errors, rate limiting and transport failures do. Client
// errors, token refresh failures and cancellations are the caller's problem.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code < 500 && apiErr.Code != 429
	}

	var authErr *google.AuthError
	if errors.As(err, &authErr) {
		return true
	}

	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// BreakerOpen reports whether the circuit breaker currently rejects calls.
func (c *Client) BreakerOpen() bool {
	return c.cb.State() == gobreaker.StateOpen
}

// do runs fn through the circuit breaker with metrics and tracing.
func (c *Client) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, operation)
	defer span.End()

	start := time.Now()
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	duration := time.Since(start)

	if err != nil {
		c.metrics.RecordGoogleAPIOperation(ctx, operation, instrumentation.StatusError, duration)
		instrumentation.SetSpanError(span, err)
		c.logger.DebugContext(ctx, "gmail api call failed",
			logging.Operation(operation),
			"breaker_state", c.cb.State().String(),
			logging.Err(err),
		)
		return &APIError{Op: operation, Err: err}
	}

	c.metrics.RecordGoogleAPIOperation(ctx, operation, instrumentation.StatusSuccess, duration)
	instrumentation.SetSpanSuccess(span)
	return nil
}

// ListLabels returns all labels of the mailbox.
func (c *Client) ListLabels(ctx context.Context) ([]*gmail.Label, error) {
	var labels []*gmail.Label
	err := c.do(ctx, instrumentation.OperationLabelsList, func(ctx context.Context) error {
		res, err := c.svc.Labels.List(userID).Context(ctx).Do()
		if err != nil {
			return err
		}
		labels = res.Labels
		return nil
	})
	return labels, err
}

// CreateLabel creates a user label that is visible in the label list and
// in message lists.
func (c *Client) CreateLabel(ctx context.Context, name string) (*gmail.Label, error) {
	var label *gmail.Label
	err := c.do(ctx, instrumentation.OperationLabelsCreate, func(ctx context.Context) error {
		created, err := c.svc.Labels.Create(userID, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		label = created
		return nil
	})
	return label, err
}

// ListMessages returns up to maxResults message stubs (id and thread id)
// matching query. Only the first page is read.
func (c *Client) ListMessages(ctx context.Context, query string, maxResults int64) ([]*gmail.Message, error) {
	var messages []*gmail.Message
	err := c.do(ctx, instrumentation.OperationMessagesList, func(ctx context.Context) error {
		res, err := c.svc.Messages.List(userID).Q(query).MaxResults(maxResults).Context(ctx).Do()
		if err != nil {
			return err
		}
		messages = res.Messages
		return nil
	})
	return messages, err
}

// GetMessage fetches a message with format=full.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := c.do(ctx, instrumentation.OperationMessagesGet, func(ctx context.Context) error {
		m, err := c.svc.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	return msg, err
}

// MarkRead removes the UNREAD label from a message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, instrumentation.OperationMessagesModify, func(ctx context.Context) error {
		_, err := c.svc.Messages.Modify(userID, messageID, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{"UNREAD"},
		}).Context(ctx).Do()
		return err
	})
}

// SendReply composes r and sends it into r.ThreadID. Returns the id of the
// sent message.
func (c *Client) SendReply(ctx context.Context, r Reply) (string, error) {
	if r.ThreadID == "" {
		return "", fmt.Errorf("threadID is required")
	}

	raw, err := ComposeReply(r)
	if err != nil {
		return "", err
	}

	var sentID string
	err = c.do(ctx, instrumentation.OperationMessagesSend, func(ctx context.Context) error {
		sent, err := c.svc.Messages.Send(userID, &gmail.Message{
			Raw:      base64.URLEncoding.EncodeToString(raw),
			ThreadId: r.ThreadID,
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		sentID = sent.Id
		return nil
	})
	return sentID, err
}
