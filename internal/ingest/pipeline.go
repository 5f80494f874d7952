// Package ingest runs the post-ack half of webhook processing: a
// bounded worker pool that persists inbound messages, drives the bot,
// and correlates delivery receipts, with strict per-conversation
// ordering.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/bot"
	"github.com/replydesk/replydesk/internal/conversation"
	"github.com/replydesk/replydesk/internal/message"
	"github.com/replydesk/replydesk/internal/outbound"
	"github.com/replydesk/replydesk/internal/platform"
)

// Persister stores inbound messages and applies delivery receipts.
type Persister interface {
	PersistInbound(ctx context.Context, in message.Inbound) (conversation.Conversation, message.Message, bool, error)
	ApplyStatus(ctx context.Context, accountID uuid.UUID, providerMessageID, status string) (message.Message, bool, error)
}

// Decider chooses the bot's move for one persisted inbound message.
type Decider interface {
	Decide(ctx context.Context, acct account.Account, conv conversation.Conversation, inbound message.Message) bot.Decision
}

// ReplySender delivers a bot reply.
type ReplySender interface {
	SendReply(ctx context.Context, acct account.Account, conv conversation.Conversation, body string) error
}

// Escalator hands a conversation to a human. lastInbound is the text
// that triggered the handoff, empty for receipt-driven escalations.
type Escalator interface {
	Escalate(ctx context.Context, acct account.Account, conv conversation.Conversation, reason, lastInbound string) error
}

// ConversationReader loads a conversation for receipt correlation.
type ConversationReader interface {
	Get(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
}

type job struct {
	acct    account.Account
	inbound *platform.InboundMessage
	status  *platform.StatusUpdate
}

// Pipeline fans webhook entries into sharded worker queues. Jobs for
// the same (account, peer) always land on the same shard, which gives
// arrival ordering per conversation; a keyed lock then serializes any
// work that still overlaps.
type Pipeline struct {
	persister     Persister
	decider       Decider
	sender        ReplySender
	escalator     Escalator
	conversations ConversationReader
	locks         *conversation.LockTable

	queues []chan job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// New creates a pipeline with the given shard count and per-shard
// queue capacity.
func New(
	log *slog.Logger,
	persister Persister,
	decider Decider,
	sender ReplySender,
	escalator Escalator,
	conversations ConversationReader,
	workers, queueSize int,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	queues := make([]chan job, workers)
	for i := range queues {
		queues[i] = make(chan job, queueSize)
	}
	return &Pipeline{
		persister:     persister,
		decider:       decider,
		sender:        sender,
		escalator:     escalator,
		conversations: conversations,
		locks:         conversation.NewLockTable(),
		queues:        queues,
		logger:        log.With(slog.String("service", "ingest")),
	}
}

// Start launches one worker per shard. ctx bounds the lifetime of all
// job processing.
func (p *Pipeline) Start(ctx context.Context) {
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.worker(ctx, i, q)
	}
}

// Stop closes the queues and waits for in-flight jobs to drain.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		for _, q := range p.queues {
			close(q)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit fans one acked webhook entry into the worker queues. It never
// blocks: when a shard's queue is full the job is dropped and logged,
// since the provider will redeliver and persistence is idempotent.
func (p *Pipeline) Submit(acct account.Account, entry platform.Entry) {
	for i := range entry.Messages {
		m := entry.Messages[i]
		p.enqueue(p.shard(acct.ID, m.From), job{acct: acct, inbound: &m})
	}
	for i := range entry.Statuses {
		st := entry.Statuses[i]
		p.enqueue(p.shard(acct.ID, st.Recipient), job{acct: acct, status: &st})
	}
}

func (p *Pipeline) shard(accountID uuid.UUID, peer string) int {
	h := fnv.New32a()
	h.Write(accountID[:])
	h.Write([]byte(peer))
	return int(h.Sum32()) % len(p.queues)
}

func (p *Pipeline) enqueue(shard int, j job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	select {
	case p.queues[shard] <- j:
	default:
		p.logger.Warn("ingest queue full, job dropped",
			slog.Int("shard", shard),
			slog.String("account_id", j.acct.ID.String()),
		)
	}
}

func (p *Pipeline) worker(ctx context.Context, shard int, q <-chan job) {
	defer p.wg.Done()
	for j := range q {
		p.run(ctx, shard, j)
	}
}

// run executes one job behind a recover boundary so a panic poisons
// neither the worker nor its shard's ordering.
func (p *Pipeline) run(ctx context.Context, shard int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ingest job panicked",
				slog.Int("shard", shard),
				slog.Any("panic", r),
			)
		}
	}()

	switch {
	case j.inbound != nil:
		p.handleInbound(ctx, j.acct, *j.inbound)
	case j.status != nil:
		p.handleStatus(ctx, j.acct, *j.status)
	}
}

func (p *Pipeline) handleInbound(ctx context.Context, acct account.Account, in platform.InboundMessage) {
	unlock := p.locks.Lock(acct.ID.String() + ":" + in.From)
	defer unlock()

	conv, msg, persisted, err := p.persister.PersistInbound(ctx, message.Inbound{
		AccountID:         acct.ID,
		PeerIdentifier:    in.From,
		ProviderMessageID: in.ProviderMessageID,
		Kind:              kindOf(in),
		Body:              bodyOf(in),
		ReceivedAt:        in.Timestamp,
		AutomationDefault: acct.BotDefaultEnabled,
	})
	if err != nil {
		p.logger.Error("inbound persistence failed",
			slog.String("account_id", acct.ID.String()),
			slog.String("provider_message_id", in.ProviderMessageID),
			slog.Any("error", err),
		)
		return
	}
	if !persisted {
		return
	}

	decision := p.decider.Decide(ctx, acct, conv, msg)
	switch decision.Outcome {
	case bot.OutcomeNone:
		return
	case bot.OutcomeReply:
		if err := p.sender.SendReply(ctx, acct, conv, decision.Reply); err != nil {
			if errors.Is(err, outbound.ErrTemplateNotApproved) {
				return
			}
			p.logger.Error("reply delivery failed, escalating",
				slog.String("conversation_id", conv.ID.String()),
				slog.Any("error", err),
			)
			p.escalate(ctx, acct, conv, bot.ReasonProviderUnavailable, msg.Body)
		}
	case bot.OutcomeEscalate:
		p.escalate(ctx, acct, conv, decision.Reason, msg.Body)
	}
}

func (p *Pipeline) handleStatus(ctx context.Context, acct account.Account, st platform.StatusUpdate) {
	msg, found, err := p.persister.ApplyStatus(ctx, acct.ID, st.ProviderMessageID, st.Status)
	if err != nil {
		p.logger.Error("status correlation failed",
			slog.String("provider_message_id", st.ProviderMessageID),
			slog.Any("error", err),
		)
		return
	}
	if !found {
		return
	}

	// A failed automated reply means the customer got nothing back.
	if st.Status == message.StatusFailed && msg.Direction == message.DirectionOutbound {
		conv, err := p.conversations.Get(ctx, msg.ConversationID)
		if err != nil {
			p.logger.Error("conversation load for failed delivery",
				slog.String("conversation_id", msg.ConversationID.String()),
				slog.Any("error", err),
			)
			return
		}
		p.escalate(ctx, acct, conv, bot.ReasonDeliveryFailure, "")
	}
}

func (p *Pipeline) escalate(ctx context.Context, acct account.Account, conv conversation.Conversation, reason, lastInbound string) {
	if err := p.escalator.Escalate(ctx, acct, conv, reason, lastInbound); err != nil {
		p.logger.Error("escalation failed",
			slog.String("conversation_id", conv.ID.String()),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
	}
}

func kindOf(in platform.InboundMessage) message.Kind {
	if in.Kind == "text" {
		return message.KindText
	}
	return message.KindMedia
}

func bodyOf(in platform.InboundMessage) string {
	if in.Kind == "text" {
		return in.Text
	}
	return fmt.Sprintf("[%s] %s", in.Kind, in.MediaURL)
}
