package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/replydesk/replydesk/internal/account"
	"github.com/replydesk/replydesk/internal/bot"
	"github.com/replydesk/replydesk/internal/conversation"
	"github.com/replydesk/replydesk/internal/message"
	"github.com/replydesk/replydesk/internal/platform"
)

type fakePersister struct {
	mu        sync.Mutex
	seen      map[string]bool
	inFlight  map[string]int
	maxFlight int
	statuses  []string
	failMsg   message.Message
	order     []string
	delay     time.Duration
}

func newFakePersister() *fakePersister {
	return &fakePersister{seen: make(map[string]bool), inFlight: make(map[string]int)}
}

func (f *fakePersister) PersistInbound(ctx context.Context, in message.Inbound) (conversation.Conversation, message.Message, bool, error) {
	key := in.AccountID.String() + ":" + in.PeerIdentifier

	f.mu.Lock()
	f.inFlight[key]++
	if f.inFlight[key] > f.maxFlight {
		f.maxFlight = f.inFlight[key]
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[key]--

	dedupKey := in.AccountID.String() + ":" + in.ProviderMessageID
	persisted := !f.seen[dedupKey]
	f.seen[dedupKey] = true
	if persisted {
		f.order = append(f.order, in.ProviderMessageID)
	}

	conv := conversation.Conversation{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)), AccountID: in.AccountID, PeerIdentifier: in.PeerIdentifier, AutomationEnabled: true}
	msg := message.Message{ID: uuid.New(), ConversationID: conv.ID, AccountID: in.AccountID, Kind: in.Kind, Body: in.Body, Direction: message.DirectionInbound}
	return conv, msg, persisted, nil
}

func (f *fakePersister) ApplyStatus(ctx context.Context, accountID uuid.UUID, providerMessageID, status string) (message.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, providerMessageID+"="+status)
	if f.failMsg.ID != uuid.Nil {
		return f.failMsg, true, nil
	}
	return message.Message{}, false, nil
}

type fakeDecider struct {
	mu       sync.Mutex
	decision bot.Decision
	panics   bool
	calls    int
}

func (f *fakeDecider) Decide(ctx context.Context, acct account.Account, conv conversation.Conversation, inbound message.Message) bot.Decision {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("decider blew up")
	}
	return f.decision
}

type fakeReplySender struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (f *fakeReplySender) SendReply(ctx context.Context, acct account.Account, conv conversation.Conversation, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, body)
	return f.err
}

type fakeEscalator struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeEscalator) Escalate(ctx context.Context, acct account.Account, conv conversation.Conversation, reason, lastInbound string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeConvReader struct {
	conv conversation.Conversation
}

func (f *fakeConvReader) Get(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	return f.conv, nil
}

type fixture struct {
	pipeline  *Pipeline
	persister *fakePersister
	decider   *fakeDecider
	sender    *fakeReplySender
	escalator *fakeEscalator
}

func newPipeline(t *testing.T, workers, queueSize int) *fixture {
	t.Helper()
	f := &fixture{
		persister: newFakePersister(),
		decider:   &fakeDecider{decision: bot.Decision{Outcome: bot.OutcomeNone}},
		sender:    &fakeReplySender{},
		escalator: &fakeEscalator{},
	}
	f.pipeline = New(nil, f.persister, f.decider, f.sender, f.escalator, &fakeConvReader{}, workers, queueSize)
	f.pipeline.Start(context.Background())
	t.Cleanup(f.pipeline.Stop)
	return f
}

func inboundEntry(peer string, ids ...string) platform.Entry {
	entry := platform.Entry{RoutingID: "route-1"}
	for _, id := range ids {
		entry.Messages = append(entry.Messages, platform.InboundMessage{
			ProviderMessageID: id, From: peer, Kind: "text", Text: "hi", Timestamp: time.Now(),
		})
	}
	return entry
}

func TestPipeline_ProcessesInbound(t *testing.T) {
	t.Parallel()
	f := newPipeline(t, 4, 64)
	f.decider.decision = bot.Decision{Outcome: bot.OutcomeReply, Reply: "hello"}
	acct := account.Account{ID: uuid.New(), BotDefaultEnabled: true}

	f.pipeline.Submit(acct, inboundEntry("+1555", "m1"))
	f.pipeline.Stop()

	if len(f.sender.replies) != 1 || f.sender.replies[0] != "hello" {
		t.Fatalf("replies = %v, want [hello]", f.sender.replies)
	}
}

func TestPipeline_DuplicateInboundTriggersNoSecondReply(t *testing.T) {
	t.Parallel()
	f := newPipeline(t, 2, 64)
	f.decider.decision = bot.Decision{Outcome: bot.OutcomeReply, Reply: "hello"}
	acct := account.Account{ID: uuid.New()}

	f.pipeline.Submit(acct, inboundEntry("+1555", "m1"))
	f.pipeline.Submit(acct, inboundEntry("+1555", "m1"))
	f.pipeline.Stop()

	if f.decider.calls != 1 {
		t.Fatalf("bot ran %d times for a redelivered message, want 1", f.decider.calls)
	}
	if len(f.sender.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(f.sender.replies))
	}
}

func TestPipeline_SameConversationSerialized(t *testing.T) {
	t.Parallel()
	f := newPipeline(t, 8, 256)
	f.persister.delay = 2 * time.Millisecond
	acct := account.Account{ID: uuid.New()}

	for i := 0; i < 20; i++ {
		f.pipeline.Submit(acct, inboundEntry("+1555", uuid.NewString()))
	}
	f.pipeline.Stop()

	if f.persister.maxFlight != 1 {
		t.Fatalf("observed %d concurrent jobs for one conversation, want 1", f.persister.maxFlight)
	}
}

func TestPipeline_ArrivalOrderPreservedPerConversation(t *testing.T) {
	t.Parallel()
	f := newPipeline(t, 4, 256)
	acct := account.Account{ID: uuid.New()}

	f.pipeline.Submit(acct, inboundEntry("+1555", "m1", "m2", "m3", "m4", "m5"))
	f.pipeline.Stop()

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	if len(f.persister.order) != len(want) {
		t.Fatalf("processed %d messages, want %d", len(f.persister.order), len(want))
	}
	for i := range want {
		if f.persister.order[i] != want[i] {
			t.Fatalf("order = %v, want %v", f.persister.order, want)
		}
	}
}

func TestPipeline_EscalationDecisionRouted(t *testing.T) {
	t.Parallel()
	f := newPipeline(t, 2, 64)
	f.decider.decision = bot.Decision{Outcome: bot.OutcomeEscalate, Reason: bot.ReasonLowConfidence}
	acct := account.Account{ID: uuid.New()}

	f.pipeline.Submit(acct, inboundEntry("+1555", "m1"))
	f.pipeline.Stop()

	if len(f.escalator.reasons) != 1 || f.escalator.reasons[0] != bot.ReasonLowConfidence {
		t.Fatalf("escalations = %v", f.escalator.reasons)
	}
}

func TestPipeline_FailedDeliveryReceiptEscalates(t *testing.T) {
	t.Parallel()
	f := newPipeline(t, 2, 64)
	acct := account.Account{ID: uuid.New()}
	f.persister.failMsg = message.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		Direction:      message.DirectionOutbound,
	}

	f.pipeline.Submit(acct, platform.Entry{
		RoutingID: "route-1",
		Statuses: []platform.StatusUpdate{
			{ProviderMessageID: "wamid.out.1", Recipient: "+1555", Status: message.StatusFailed, Timestamp: time.Now()},
		},
	})
	f.pipeline.Stop()

	if len(f.escalator.reasons) != 1 || f.escalator.reasons[0] != bot.ReasonDeliveryFailure {
		t.Fatalf("escalations = %v, want [delivery_failure]", f.escalator.reasons)
	}
}

func TestPipeline_NonFailureReceiptDoesNotEscalate(t *testing.T) {
	t.Parallel()
	f := newPipeline(t, 2, 64)
	acct := account.Account{ID: uuid.New()}
	f.persister.failMsg = message.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		Direction:      message.DirectionOutbound,
	}

	f.pipeline.Submit(acct, platform.Entry{
		RoutingID: "route-1",
		Statuses: []platform.StatusUpdate{
			{ProviderMessageID: "wamid.out.1", Recipient: "+1555", Status: message.StatusDelivered, Timestamp: time.Now()},
		},
	})
	f.pipeline.Stop()

	if len(f.escalator.reasons) != 0 {
		t.Fatalf("escalations = %v, want none", f.escalator.reasons)
	}
}

func TestPipeline_PanicDoesNotKillWorker(t *testing.T) {
	t.Parallel()
	f := newPipeline(t, 1, 64)
	f.decider.panics = true
	acct := account.Account{ID: uuid.New()}

	f.pipeline.Submit(acct, inboundEntry("+1555", "m1"))
	f.pipeline.Submit(acct, inboundEntry("+1555", "m2"))
	f.pipeline.Stop()

	if f.decider.calls != 2 {
		t.Fatalf("worker died after a panic: %d calls, want 2", f.decider.calls)
	}
}

func TestPipeline_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	f := &fixture{
		persister: newFakePersister(),
		decider:   &fakeDecider{decision: bot.Decision{Outcome: bot.OutcomeNone}},
		sender:    &fakeReplySender{},
		escalator: &fakeEscalator{},
	}
	// One shard, capacity one, workers not started: the queue cannot drain.
	f.pipeline = New(nil, f.persister, f.decider, f.sender, f.escalator, &fakeConvReader{}, 1, 1)
	acct := account.Account{ID: uuid.New()}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.pipeline.Submit(acct, inboundEntry("+1555", uuid.NewString()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
}
