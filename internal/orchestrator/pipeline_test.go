package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/clock"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/events"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/responder"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/store"
	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

type sendCall struct {
	accountID int64
	chatID    string
	text      string
}

type fakeTransport struct {
	mu       sync.Mutex
	chats    map[int64][]protocol.ChatSummary
	messages map[string][]protocol.InboundMessage // accountID/chatID
	sends    []sendCall
	sendErrs int // remaining Send calls that fail
	listErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		chats:    make(map[int64][]protocol.ChatSummary),
		messages: make(map[string][]protocol.InboundMessage),
	}
}

func (f *fakeTransport) addMessage(accountID int64, chatID string, msg protocol.InboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := guardKey(accountID, chatID)
	if _, ok := f.messages[key]; !ok {
		f.chats[accountID] = append(f.chats[accountID], protocol.ChatSummary{ID: chatID})
	}
	msg.ChatID = chatID
	f.messages[key] = append(f.messages[key], msg)
}

func (f *fakeTransport) ListChats(ctx context.Context, accountID int64) ([]protocol.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.chats[accountID], nil
}

func (f *fakeTransport) ListMessages(ctx context.Context, accountID int64, chatID string) ([]protocol.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.messages[guardKey(accountID, chatID)], nil
}

func (f *fakeTransport) Send(ctx context.Context, accountID int64, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErrs > 0 {
		f.sendErrs--
		return errors.New("gateway unavailable")
	}
	f.sends = append(f.sends, sendCall{accountID, chatID, text})
	return nil
}

func (f *fakeTransport) sentTo(accountID int64, chatID string) []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sendCall
	for _, s := range f.sends {
		if s.accountID == accountID && s.chatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

type fakeResponder struct {
	mu    sync.Mutex
	text  string
	errs  []error // consumed one per call; nil entry means success
	calls int
	gate  chan struct{} // if set, Generate blocks until the gate closes
}

func (f *fakeResponder) Generate(ctx context.Context, req responder.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	gate := f.gate
	text := f.text
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-gate:
		}
	}
	if err != nil {
		return "", err
	}
	if text == "" {
		text = "auto-reply"
	}
	return text, nil
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type pipelineFixture struct {
	pipeline  *Pipeline
	transport *fakeTransport
	responder *fakeResponder
	store     *store.SQLiteStore
	guard     *Guard
	bus       *events.Bus
	eventCh   <-chan events.Event
	clock     *clock.Fake
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })

	f := &pipelineFixture{
		transport: newFakeTransport(),
		responder: &fakeResponder{},
		store:     s,
		guard:     NewGuard(),
		bus:       events.NewBus(nil),
		clock:     clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.eventCh = f.bus.Subscribe(16)
	f.pipeline = NewPipeline(f.transport, f.responder, s, f.guard, f.bus, f.clock, PipelineConfig{}, nil)
	return f
}

func (f *pipelineFixture) run(t *testing.T, ctx context.Context, msg protocol.InboundMessage, cfg protocol.AccountConfig) *protocol.ResponseJob {
	t.Helper()
	if !f.guard.TryAcquire(msg.AccountID, msg.ChatID) {
		t.Fatal("guard already held")
	}
	job := f.pipeline.NewJob(msg)
	f.pipeline.Run(ctx, job, msg, cfg)
	return job
}

func (f *pipelineFixture) nextEvent(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-f.eventCh:
		return e
	default:
		t.Fatal("no event emitted")
		return events.Event{}
	}
}

func inbound(accountID int64, chatID, id, body string) protocol.InboundMessage {
	return protocol.InboundMessage{
		ID:        id,
		ChatID:    chatID,
		AccountID: accountID,
		Body:      body,
	}
}

func TestRunDeliversAfterDelay(t *testing.T) {
	f := newPipelineFixture(t)
	f.responder.text = "¡Hola! ¿En qué puedo ayudarte?"

	start := f.clock.Now()
	msg := inbound(2, "507@c", "m1", "Hola")
	cfg := protocol.AccountConfig{AccountID: 2, ResponderID: "R1", Enabled: true, ResponseDelaySeconds: 3}

	job := f.run(t, context.Background(), msg, cfg)

	if job.Status != protocol.JobDelivered {
		t.Fatalf("status = %q (error %q)", job.Status, job.Error)
	}
	sends := f.transport.sentTo(2, "507@c")
	if len(sends) != 1 || sends[0].text != "¡Hola! ¿En qué puedo ayudarte?" {
		t.Errorf("sends = %+v", sends)
	}
	if elapsed := f.clock.Elapsed(start); elapsed < 3*time.Second {
		t.Errorf("delivered after %v, want >= 3s delay", elapsed)
	}

	key, _ := f.store.LastProcessedKey(2, "507@c")
	if key != msg.Key() {
		t.Errorf("marker = %q, want %q", key, msg.Key())
	}
	if f.guard.Held(2, "507@c") {
		t.Error("guard not released")
	}
	if e := f.nextEvent(t); e.Type != events.JobDelivered {
		t.Errorf("event = %q", e.Type)
	}
}

func TestRunRetriesResponderThenDelivers(t *testing.T) {
	f := newPipelineFixture(t)
	f.responder.errs = []error{errors.New("timeout"), errors.New("timeout"), nil}
	f.responder.text = "third time lucky"

	job := f.run(t, context.Background(), inbound(1, "c1", "m1", "hi"),
		protocol.AccountConfig{AccountID: 1, Enabled: true})

	if job.Status != protocol.JobDelivered {
		t.Fatalf("status = %q (error %q)", job.Status, job.Error)
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d", job.Attempts)
	}
	sends := f.transport.sentTo(1, "c1")
	if len(sends) != 1 || sends[0].text != "third time lucky" {
		t.Errorf("sends = %+v", sends)
	}
}

func TestRunReusesTextWhenSendRetries(t *testing.T) {
	f := newPipelineFixture(t)
	f.responder.text = "stable reply"
	f.transport.sendErrs = 2

	job := f.run(t, context.Background(), inbound(1, "c1", "m1", "hi"),
		protocol.AccountConfig{AccountID: 1, Enabled: true})

	if job.Status != protocol.JobDelivered {
		t.Fatalf("status = %q (error %q)", job.Status, job.Error)
	}
	// Send failed twice, but the reply was generated exactly once.
	if got := f.responder.callCount(); got != 1 {
		t.Errorf("generate calls = %d, want 1", got)
	}
	sends := f.transport.sentTo(1, "c1")
	if len(sends) != 1 || sends[0].text != "stable reply" {
		t.Errorf("sends = %+v", sends)
	}
}

func TestRunFailsAfterExhaustion(t *testing.T) {
	f := newPipelineFixture(t)
	f.responder.errs = []error{errors.New("down"), errors.New("down"), errors.New("down")}

	job := f.run(t, context.Background(), inbound(1, "c1", "m1", "hi"),
		protocol.AccountConfig{AccountID: 1, Enabled: true})

	if job.Status != protocol.JobFailed {
		t.Fatalf("status = %q", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d", job.Attempts)
	}
	if len(f.transport.sentTo(1, "c1")) != 0 {
		t.Error("nothing should be sent on failure")
	}
	if f.guard.Held(1, "c1") {
		t.Error("guard not released")
	}
	if e := f.nextEvent(t); e.Type != events.JobFailed || e.Error == "" {
		t.Errorf("event = %+v", e)
	}

	// The failure is archived, never silently dropped.
	archived, _ := f.store.ListArchivedJobs(1, 10)
	if len(archived) != 1 || archived[0].Status != protocol.JobFailed {
		t.Errorf("archived = %+v", archived)
	}
}

func TestRunSendsFallbackAfterExhaustion(t *testing.T) {
	f := newPipelineFixture(t)
	f.responder.errs = []error{errors.New("down"), errors.New("down"), errors.New("down")}

	f.run(t, context.Background(), inbound(1, "c1", "m1", "hi"),
		protocol.AccountConfig{
			AccountID:       1,
			Enabled:         true,
			FallbackMessage: "Un agente te atenderá en breve.",
		})

	sends := f.transport.sentTo(1, "c1")
	if len(sends) != 1 || sends[0].text != "Un agente te atenderá en breve." {
		t.Errorf("sends = %+v", sends)
	}
}

func TestRunAbandonsOnCancelledContext(t *testing.T) {
	f := newPipelineFixture(t)
	f.responder.text = "too late"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := f.run(t, ctx, inbound(42, "c1", "m1", "hi"),
		protocol.AccountConfig{AccountID: 42, Enabled: true, ResponseDelaySeconds: 3})

	if job.Status != protocol.JobFailed {
		t.Fatalf("status = %q", job.Status)
	}
	if len(f.transport.sentTo(42, "c1")) != 0 {
		t.Error("no send may complete after disablement")
	}
	if f.guard.Held(42, "c1") {
		t.Error("guard not released")
	}
	if e := f.nextEvent(t); e.Type != events.JobAbandoned {
		t.Errorf("event = %q", e.Type)
	}

	// The marker must not advance for an undelivered reply.
	key, _ := f.store.LastProcessedKey(42, "c1")
	if key != "" {
		t.Errorf("marker = %q, want empty", key)
	}
}
