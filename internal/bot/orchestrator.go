// Package bot decides how to respond to an inbound message: stay
// silent, reply automatically, or hand the thread to a human.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/completion"
	"github.com/replydesk/replydesk/internal/conversation"
	"github.com/replydesk/replydesk/internal/message"
	"github.com/replydesk/replydesk/internal/resilience"
)

// Outcome of one orchestration pass.
type Outcome int

const (
	// OutcomeNone means the bot stays out of the conversation.
	OutcomeNone Outcome = iota
	// OutcomeReply means Reply holds the text to send.
	OutcomeReply
	// OutcomeEscalate means the thread must go to a human.
	OutcomeEscalate
)

// Escalation reasons.
const (
	ReasonLowConfidence       = "low_confidence"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonDeliveryFailure     = "delivery_failure"
)

// Decision is the orchestrator's verdict for one inbound message.
type Decision struct {
	Outcome Outcome
	Reply   string
	Reason  string
}

// History reads prior messages for the model context window.
type History interface {
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]message.Message, error)
}

// KnowledgeSource loads the tenant profile the system prompt is built
// from. Reads go through the knowledge cache so a busy conversation
// does not hit the datastore on every inbound message.
type KnowledgeSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (account.Account, error)
}

// Orchestrator builds the model context and classifies the reply.
type Orchestrator struct {
	completions  completion.Client
	history      History
	accounts     KnowledgeSource
	breaker      *resilience.Breaker
	retry        resilience.RetryConfig
	knowledge    *resilience.Cache
	historyLimit int
	deadline     time.Duration
	logger       *slog.Logger
}

// Config tunes the orchestrator.
type Config struct {
	HistoryLimit      int
	ReplyDeadline     time.Duration
	KnowledgeTTL      time.Duration
	Retry             resilience.RetryConfig
	CompletionBreaker *resilience.Breaker
	// Knowledge refreshes the tenant profile from the datastore. When
	// nil the prompt is built from the account passed to Decide.
	Knowledge KnowledgeSource
}

// New creates an orchestrator. The breaker may be nil in tests.
func New(log *slog.Logger, completions completion.Client, history History, cfg Config) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > 10 {
		cfg.HistoryLimit = 10
	}
	if cfg.ReplyDeadline <= 0 {
		cfg.ReplyDeadline = 30 * time.Second
	}
	if cfg.KnowledgeTTL <= 0 {
		cfg.KnowledgeTTL = 5 * time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Orchestrator{
		completions:  completions,
		history:      history,
		accounts:     cfg.Knowledge,
		breaker:      cfg.CompletionBreaker,
		retry:        cfg.Retry,
		knowledge:    resilience.NewCache(cfg.KnowledgeTTL),
		historyLimit: cfg.HistoryLimit,
		deadline:     cfg.ReplyDeadline,
		logger:       log.With(slog.String("service", "bot")),
	}
}

// Decide runs one orchestration pass for an inbound message that has
// already been persisted. Provider failures escalate rather than error
// out: by the time the bot runs, the webhook is long since acked and
// there is nobody upstream to hand an error to.
func (o *Orchestrator) Decide(ctx context.Context, acct account.Account, conv conversation.Conversation, inbound message.Message) Decision {
	if !conv.AutomationEnabled {
		return Decision{Outcome: OutcomeNone}
	}

	if inbound.Kind != message.KindText {
		return Decision{Outcome: OutcomeReply, Reply: MediaReply}
	}

	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	turns, err := o.buildTurns(ctx, conv.ID, inbound)
	if err != nil {
		o.logger.Error("history read failed, escalating",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err),
		)
		return Decision{Outcome: OutcomeEscalate, Reason: ReasonProviderUnavailable}
	}

	system, err := o.knowledgeFor(ctx, acct)
	if err != nil {
		o.logger.Error("knowledge load failed, escalating",
			slog.String("account_id", acct.ID.String()),
			slog.Any("error", err),
		)
		return Decision{Outcome: OutcomeEscalate, Reason: ReasonProviderUnavailable}
	}

	reply, err := o.complete(ctx, completion.Request{System: system, Turns: turns})
	if err != nil {
		o.logger.Error("completion failed, escalating",
			slog.String("conversation_id", conv.ID.String()),
			slog.Any("error", err),
		)
		return Decision{Outcome: OutcomeEscalate, Reason: ReasonProviderUnavailable}
	}

	reply = strings.TrimSpace(reply)
	if reply == "" || reply == FallbackPhrase {
		return Decision{Outcome: OutcomeEscalate, Reason: ReasonLowConfidence}
	}
	return Decision{Outcome: OutcomeReply, Reply: reply}
}

// complete calls the model with the breaker outside the retry loop, so
// an open circuit fails fast instead of burning the retry budget.
func (o *Orchestrator) complete(ctx context.Context, req completion.Request) (string, error) {
	run := func(ctx context.Context) (string, error) {
		return resilience.RetryValue(ctx, o.logger, o.retry, "chat_completion", func(ctx context.Context) (string, error) {
			return o.completions.Complete(ctx, req)
		})
	}
	if o.breaker == nil {
		return run(ctx)
	}
	var reply string
	err := o.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		reply, err = run(ctx)
		return err
	})
	return reply, err
}

func (o *Orchestrator) buildTurns(ctx context.Context, conversationID uuid.UUID, inbound message.Message) ([]completion.Turn, error) {
	history, err := o.history.History(ctx, conversationID, o.historyLimit)
	if err != nil {
		return nil, err
	}

	turns := make([]completion.Turn, 0, len(history)+1)
	sawInbound := false
	for _, m := range history {
		if m.ID == inbound.ID {
			sawInbound = true
		}
		body := m.Body
		if m.Kind != message.KindText {
			body = "[" + string(m.Kind) + " message]"
		}
		if strings.TrimSpace(body) == "" {
			continue
		}
		role := completion.RoleUser
		if m.Direction == message.DirectionOutbound {
			role = completion.RoleAssistant
		}
		turns = append(turns, completion.Turn{Role: role, Content: body})
	}
	// The triggering message may not be in the window yet when history
	// reads race the insert's cache invalidation.
	if !sawInbound {
		turns = append(turns, completion.Turn{Role: completion.RoleUser, Content: inbound.Body})
	}
	return turns, nil
}

func (o *Orchestrator) knowledgeFor(ctx context.Context, acct account.Account) (string, error) {
	if o.accounts == nil {
		return systemPrompt(acct.DisplayName, acct.Knowledge), nil
	}
	key := "knowledge:" + acct.ID.String()
	return resilience.GetOrCompute(ctx, o.knowledge, key, func(ctx context.Context) (string, error) {
		fresh, err := o.accounts.GetByID(ctx, acct.ID)
		if err != nil {
			return "", err
		}
		return systemPrompt(fresh.DisplayName, fresh.Knowledge), nil
	})
}
