// Package bridge runs the poll, claim, route, invoke and reply loop.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/inboxagent/internal/agent"
	"github.com/teemow/inboxagent/internal/gmail"
	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/router"
	"github.com/teemow/inboxagent/internal/store"
)

// ErrAlreadyRunning is returned by Start when the loop is already running.
var ErrAlreadyRunning = errors.New("bridge already running")

// LabelEnsurer resolves the watched label.
type LabelEnsurer interface {
	EnsureLabel(ctx context.Context, name string) (string, error)
}

// Poller returns the unread messages of the watched label.
type Poller interface {
	Poll(ctx context.Context) ([]gmail.ParsedMessage, error)
}

// Mailbox mutates the mailbox on behalf of the loop.
type Mailbox interface {
	MarkRead(ctx context.Context, messageID string) error
	SendReply(ctx context.Context, r gmail.Reply) (string, error)
}

// Router maps senders to conversations.
type Router interface {
	Route(ctx context.Context, address string) (router.Conversation, error)
	SaveSession(ctx context.Context, key, handle string) error
}

// Config holds the loop settings.
type Config struct {
	Label        string
	PollInterval time.Duration

	// AgentTimeout bounds every agent invocation.
	AgentTimeout time.Duration
}

// Deps are the collaborators of a Service. Logger, Metrics and Audit are
// optional.
type Deps struct {
	Labels   LabelEnsurer
	Poller   Poller
	Mailbox  Mailbox
	Dedup    *DedupGate
	Router   Router
	Executor agent.Executor

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// Service is the orchestration loop. Cycles run on one goroutine and never
// overlap; messages within a cycle are handled sequentially.
type Service struct {
	cfg      Config
	labels   LabelEnsurer
	poller   Poller
	mailbox  Mailbox
	dedup    *DedupGate
	router   Router
	executor agent.Executor

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger

	// labelID is set by the first successful EnsureLabel.
	labelID string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService validates deps and creates a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Labels == nil:
		return nil, fmt.Errorf("label ensurer is required")
	case deps.Poller == nil:
		return nil, fmt.Errorf("poller is required")
	case deps.Mailbox == nil:
		return nil, fmt.Errorf("mailbox is required")
	case deps.Dedup == nil:
		return nil, fmt.Errorf("dedup gate is required")
	case deps.Router == nil:
		return nil, fmt.Errorf("router is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("agent executor is required")
	}
	if cfg.Label == "" {
		return nil, fmt.Errorf("label is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if cfg.AgentTimeout <= 0 {
		return nil, fmt.Errorf("agent timeout must be positive")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cfg:      cfg,
		labels:   deps.Labels,
		poller:   deps.Poller,
		mailbox:  deps.Mailbox,
		dedup:    deps.Dedup,
		router:   deps.Router,
		executor: deps.Executor,
		logger:   logging.WithComponent(logger, "bridge"),
		metrics:  deps.Metrics,
		audit:    deps.Audit,
	}, nil
}

// Start launches the loop on its own goroutine. The first cycle starts
// immediately. Returns ErrAlreadyRunning if the loop is running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)

	s.logger.Info("bridge started",
		"label", s.cfg.Label,
		"poll_interval", s.cfg.PollInterval.String(),
	)
	return nil
}

// Stop cancels the loop and waits for the current cycle to return.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is running.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done returns a channel closed when the loop exits, or nil if it was
// never started.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		close(done)
		s.logger.Info("bridge stopped")
	}()

	for {
		if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "poll cycle failed", logging.Err(err))
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle performs one poll cycle. Per-message failures are logged and
// do not fail the cycle; only label resolution and listing errors do.
func (s *Service) RunCycle(ctx context.Context) error {
	ctx, span := instrumentation.StartSpan(ctx, "bridge.cycle",
		instrumentation.NewSpanAttributeBuilder().WithOperation("poll").Build()...)
	defer span.End()

	if err := s.ensureLabel(ctx); err != nil {
		s.metrics.RecordPollCycle(ctx, instrumentation.StatusError)
		instrumentation.SetSpanError(span, err)
		return err
	}

	messages, err := s.poller.Poll(ctx)
	if err != nil {
		err = fmt.Errorf("polling mailbox: %w", err)
		s.metrics.RecordPollCycle(ctx, instrumentation.StatusError)
		instrumentation.SetSpanError(span, err)
		return err
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		s.processMessage(ctx, msg)
	}

	s.metrics.RecordPollCycle(ctx, instrumentation.StatusSuccess)
	instrumentation.SetSpanSuccess(span)
	return nil
}

// ensureLabel resolves the label once. Failures are retried next cycle.
func (s *Service) ensureLabel(ctx context.Context) error {
	if s.labelID != "" {
		return nil
	}

	id, err := s.labels.EnsureLabel(ctx, s.cfg.Label)
	if err != nil {
		return fmt.Errorf("ensuring label %q: %w", s.cfg.Label, err)
	}

	s.labelID = id
	s.logger.InfoContext(ctx, "watching label", "label", s.cfg.Label, "label_id", id)
	return nil
}

func (s *Service) processMessage(ctx context.Context, msg gmail.ParsedMessage) {
	ctx, span := instrumentation.StartMessageSpan(ctx, msg.ID, msg.ThreadID)
	defer span.End()

	audit := instrumentation.NewMessageAudit(msg.ID, msg.ThreadID, msg.SenderAddress).WithSpanContext(ctx)
	outcome, err := s.handleMessage(ctx, msg, audit)
	audit.Complete(outcome, err)

	s.audit.LogMessage(audit)
	s.metrics.RecordMessage(ctx, outcome)

	logger := s.logger.With(
		logging.MessageID(msg.ID),
		logging.ThreadID(msg.ThreadID),
		logging.SenderHash(msg.SenderAddress),
	)
	switch {
	case outcome == instrumentation.OutcomeDuplicate:
		logger.DebugContext(ctx, "skipping already processed message")
		instrumentation.SetSpanSuccess(span)
	case err != nil:
		logger.ErrorContext(ctx, "message processing failed", "outcome", outcome, logging.Err(err))
		instrumentation.SetSpanError(span, err)
	default:
		logger.InfoContext(ctx, "message answered", "outcome", outcome)
		instrumentation.SetSpanSuccess(span)
	}
}

// handleMessage runs the per-message pipeline and returns its outcome.
func (s *Service) handleMessage(ctx context.Context, msg gmail.ParsedMessage, audit *instrumentation.MessageAudit) (string, error) {
	ok, err := s.dedup.ShouldProcess(ctx, msg.ID)
	if err != nil {
		return instrumentation.OutcomeClaimFailed, err
	}
	if !ok {
		return instrumentation.OutcomeDuplicate, nil
	}

	if err := s.dedup.Claim(ctx, msg); err != nil {
		if errors.Is(err, store.ErrAlreadyProcessed) {
			return instrumentation.OutcomeDuplicate, nil
		}
		return instrumentation.OutcomeClaimFailed, fmt.Errorf("claiming message: %w", err)
	}

	// The claim is the source of truth from here on; the read flag only
	// keeps the message out of the next listing.
	if err := s.mailbox.MarkRead(ctx, msg.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to mark message read",
			logging.MessageID(msg.ID),
			logging.Err(err),
		)
	}

	conv, err := s.router.Route(ctx, msg.SenderAddress)
	if err != nil {
		return instrumentation.OutcomeRouteFailed, fmt.Errorf("routing sender: %w", err)
	}
	audit.SenderKey = conv.SenderKey

	res, err := s.invokeAgent(ctx, msg, conv, audit)
	if err != nil {
		return instrumentation.OutcomeAgentError, err
	}

	if res.SessionHandle != "" && res.SessionHandle != conv.SessionHandle {
		if err := s.router.SaveSession(ctx, conv.SenderKey, res.SessionHandle); err != nil {
			s.logger.WarnContext(ctx, "failed to save session handle",
				logging.SenderKey(conv.SenderKey),
				logging.Err(err),
			)
		}
	}

	_, err = s.mailbox.SendReply(ctx, gmail.Reply{
		ThreadID:   msg.ThreadID,
		To:         msg.SenderAddress,
		Subject:    gmail.ReplySubject(msg.Subject),
		Body:       res.Output,
		InReplyTo:  msg.RFC822MessageID,
		References: msg.References,
	})
	if err != nil {
		return instrumentation.OutcomeSendFailed, fmt.Errorf("sending reply: %w", err)
	}

	if err := s.dedup.MarkResponded(ctx, msg.ID); err != nil {
		s.logger.WarnContext(ctx, "reply sent but failed to record it",
			logging.MessageID(msg.ID),
			logging.Err(err),
		)
	}

	return instrumentation.OutcomeResponded, nil
}

// invokeAgent runs the executor under the agent deadline. An error status,
// an empty reply and a timeout are all agent errors.
func (s *Service) invokeAgent(ctx context.Context, msg gmail.ParsedMessage, conv router.Conversation, audit *instrumentation.MessageAudit) (agent.Result, error) {
	runID := uuid.NewString()
	audit.RunID = runID

	req := agent.Request{
		ConversationID: conv.SenderKey,
		Workspace:      conv.WorkspaceFolder,
		Prompt: agent.BuildPrompt(agent.PromptInput{
			SenderDisplay: msg.SenderDisplay,
			SenderAddress: msg.SenderAddress,
			Subject:       msg.Subject,
			Body:          msg.Body,
		}),
		SessionHandle: conv.SessionHandle,
		RunID:         runID,
	}

	invokeCtx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.executor.Invoke(invokeCtx, req)
	duration := time.Since(start)

	status := instrumentation.StatusSuccess
	if err != nil || !res.Succeeded() {
		status = instrumentation.StatusError
	}
	s.metrics.RecordAgentInvocation(ctx, status, msg.SenderAddress, duration)

	s.logger.DebugContext(ctx, "agent invocation finished",
		logging.RunID(runID),
		logging.SenderKey(conv.SenderKey),
		logging.Status(status),
		"duration_ms", duration.Milliseconds(),
	)

	switch {
	case err != nil:
		if errors.Is(invokeCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, agent.ErrTimeout) {
			err = fmt.Errorf("%w: %w", agent.ErrTimeout, err)
		}
		return agent.Result{}, fmt.Errorf("invoking agent: %w", err)
	case !res.Succeeded():
		return res, fmt.Errorf("agent reported error: %s", res.Error)
	case strings.TrimSpace(res.Output) == "":
		return res, errors.New("agent returned an empty reply")
	}
	return res, nil
}
