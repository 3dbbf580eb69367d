package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	ctfrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/data/repos/testutil"
	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/events"
	"github.com/procurelabs/vendorgate-backend/internal/rules"
	ctfservices "github.com/procurelabs/vendorgate-backend/internal/services/ctf"
)

// fakeConsumer feeds a fixed queue of messages with group semantics: a read
// moves a message to the pending list, an ack removes it, and only Claim
// hands a pending message out again once it has sat longer than minIdle.
type fakeConsumer struct {
	mu      sync.Mutex
	queue   map[string][]events.StreamMessage
	pending map[string]map[string]pendingEntry
	acked   map[string][]string
	deleted map[string][]string
	groups  []string
}

type pendingEntry struct {
	msg         events.StreamMessage
	deliveredAt time.Time
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		queue:   make(map[string][]events.StreamMessage),
		pending: make(map[string]map[string]pendingEntry),
		acked:   make(map[string][]string),
		deleted: make(map[string][]string),
	}
}

func (f *fakeConsumer) push(stream, id string, ev *events.Event) {
	values, err := events.EncodeWire(ev)
	if err != nil {
		panic(err)
	}
	f.pushRaw(stream, id, values)
}

func (f *fakeConsumer) pushRaw(stream, id string, values map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[stream] = append(f.queue[stream], events.StreamMessage{Stream: stream, ID: id, Values: values})
}

func (f *fakeConsumer) EnsureGroup(_ context.Context, stream, group string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, stream+"/"+group)
	return nil
}

func (f *fakeConsumer) ReadGroup(ctx context.Context, _, _ string, streams []string, count int64, _ time.Duration) ([]events.StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.StreamMessage
	for _, s := range streams {
		for len(f.queue[s]) > 0 && int64(len(out)) < count {
			msg := f.queue[s][0]
			f.queue[s] = f.queue[s][1:]
			if f.pending[s] == nil {
				f.pending[s] = make(map[string]pendingEntry)
			}
			f.pending[s][msg.ID] = pendingEntry{msg: msg, deliveredAt: time.Now()}
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeConsumer) Claim(ctx context.Context, stream, _, _ string, minIdle time.Duration, count int64) ([]events.StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-minIdle)
	var out []events.StreamMessage
	for id, entry := range f.pending[stream] {
		if int64(len(out)) >= count {
			break
		}
		if entry.deliveredAt.After(cutoff) {
			continue
		}
		entry.deliveredAt = time.Now()
		f.pending[stream][id] = entry
		out = append(out, entry.msg)
	}
	return out, nil
}

func (f *fakeConsumer) AckAndDelete(_ context.Context, stream, group string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.pending[stream], id)
	}
	f.acked[stream] = append(f.acked[stream], ids...)
	f.deleted[stream] = append(f.deleted[stream], ids...)
	return nil
}

func (f *fakeConsumer) ackedIDs(stream string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked[stream]...)
}

func (f *fakeConsumer) drained(stream string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue[stream]) == 0 && len(f.pending[stream]) == 0
}

func newTestProcessor(t *testing.T, consumer events.Consumer) (*Processor, ctfrepos.EventRepo) {
	t.Helper()
	return newTestProcessorWith(t, consumer, func(r ctfrepos.EventRepo) ctfrepos.EventRepo { return r })
}

func newTestProcessorWith(t *testing.T, consumer events.Consumer, wrap func(ctfrepos.EventRepo) ctfrepos.EventRepo) (*Processor, ctfrepos.EventRepo) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	registry := rules.NewRegistry()
	if err := rules.RegisterBuiltins(registry); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	defs := ctfrepos.NewDefinitionRepo(db, log)
	eventRepo := wrap(ctfrepos.NewEventRepo(db, log))
	challenges := ctfservices.NewChallengeService(db, log, defs, ctfrepos.NewProgressRepo(db, log), registry, nil)
	badges := ctfservices.NewBadgeService(db, log, defs, ctfrepos.NewBadgeRepo(db, log), registry, ctfrepos.NewAggregateStore(db, log), nil)

	cfg := DefaultConfig()
	cfg.Block = 10 * time.Millisecond
	cfg.Backoff = 10 * time.Millisecond
	cfg.MinIdle = 20 * time.Millisecond
	return New(log, consumer, eventRepo, challenges, badges, cfg), eventRepo
}

func runUntilDrained(t *testing.T, p *Processor, fake *fakeConsumer, streams ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		all := true
		for _, s := range streams {
			if !fake.drained(s) {
				all = false
			}
		}
		if all {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Give in-flight handlers a beat to ack before stopping.
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestProcessorPersistsAndAcks(t *testing.T) {
	fake := newFakeConsumer()
	p, eventRepo := newTestProcessor(t, fake)
	ns := "user_proc_persist"

	ev := &events.Event{
		Category:  events.CategoryBusiness,
		Type:      "vendor.created",
		Namespace: ns,
		UserID:    "proc_persist",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"event_id": "proc-persist-1", "vendor_name": "Initech"},
	}
	fake.push(events.StreamBusinessEvents, "100-0", ev)

	runUntilDrained(t, p, fake, events.StreamBusinessEvents)

	rows, err := eventRepo.ListRecent(context.Background(), nil, ns, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(rows) != 1 || rows[0].ExternalID != "proc-persist-1" {
		t.Fatalf("persisted rows = %+v", rows)
	}
	if rows[0].EventType != "vendor.created" {
		t.Fatalf("event_type = %q", rows[0].EventType)
	}
	if got := fake.ackedIDs(events.StreamBusinessEvents); len(got) != 1 || got[0] != "100-0" {
		t.Fatalf("acked = %v, want [100-0]", got)
	}
}

func TestProcessorRedeliveryIsIdempotent(t *testing.T) {
	fake := newFakeConsumer()
	p, eventRepo := newTestProcessor(t, fake)
	ns := "user_proc_redeliver"

	ev := &events.Event{
		Category:  events.CategoryBusiness,
		Type:      "invoice.submitted",
		Namespace: ns,
		UserID:    "proc_redeliver",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"event_id": "proc-redeliver-1", "amount": 120.0},
	}
	// The same logical event delivered three times, as after a crash
	// between insert and ack.
	fake.push(events.StreamBusinessEvents, "200-0", ev)
	fake.push(events.StreamBusinessEvents, "200-1", ev)
	fake.push(events.StreamBusinessEvents, "200-2", ev)

	runUntilDrained(t, p, fake, events.StreamBusinessEvents)

	rows, err := eventRepo.ListRecent(context.Background(), nil, ns, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("row count = %d, want 1 after redelivery", len(rows))
	}
	if got := fake.ackedIDs(events.StreamBusinessEvents); len(got) != 3 {
		t.Fatalf("all three deliveries must be acked, got %v", got)
	}
}

func TestProcessorDropsUndecodableEntries(t *testing.T) {
	fake := newFakeConsumer()
	p, eventRepo := newTestProcessor(t, fake)
	ns := "user_proc_poison"

	// No type field: DecodeWire rejects it. It must be acked away, and the
	// entry behind it must still be processed.
	fake.pushRaw(events.StreamAgentEvents, "300-0", map[string]string{"category": "agent"})
	fake.push(events.StreamAgentEvents, "300-1", &events.Event{
		Category:  events.CategoryAgent,
		Type:      "agent.response",
		Namespace: ns,
		UserID:    "proc_poison",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"event_id": "proc-poison-1"},
	})

	runUntilDrained(t, p, fake, events.StreamAgentEvents)

	if got := fake.ackedIDs(events.StreamAgentEvents); len(got) != 2 {
		t.Fatalf("poison entry must be acked away, got %v", got)
	}
	rows, err := eventRepo.ListRecent(context.Background(), nil, ns, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(rows) != 1 || rows[0].ExternalID != "proc-poison-1" {
		t.Fatalf("entry behind poison not processed: %+v", rows)
	}
}

// flakyEventRepo fails the first n inserts, as a store during a transient
// outage would.
type flakyEventRepo struct {
	inner ctfrepos.EventRepo

	mu       sync.Mutex
	failures int
}

func (r *flakyEventRepo) InsertDedup(ctx context.Context, tx *gorm.DB, ev *types.Event) (bool, error) {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return false, errors.New("store unavailable")
	}
	r.mu.Unlock()
	return r.inner.InsertDedup(ctx, tx, ev)
}

func (r *flakyEventRepo) ListRecent(ctx context.Context, tx *gorm.DB, namespace string, limit int) ([]*types.Event, error) {
	return r.inner.ListRecent(ctx, tx, namespace, limit)
}

func (r *flakyEventRepo) ListByTypeSince(ctx context.Context, tx *gorm.DB, namespace, eventType string, since time.Time) ([]*types.Event, error) {
	return r.inner.ListByTypeSince(ctx, tx, namespace, eventType, since)
}

func TestProcessorReclaimsMessageAfterTransientFailure(t *testing.T) {
	fake := newFakeConsumer()
	p, eventRepo := newTestProcessorWith(t, fake, func(r ctfrepos.EventRepo) ctfrepos.EventRepo {
		return &flakyEventRepo{inner: r, failures: 1}
	})
	ns := "user_proc_retry"

	ev := &events.Event{
		Category:  events.CategoryBusiness,
		Type:      "vendor.created",
		Namespace: ns,
		UserID:    "proc_retry",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"event_id": "proc-retry-1"},
	}
	fake.push(events.StreamBusinessEvents, "900-0", ev)

	// First delivery fails at the insert and stays pending; the claim pass
	// must hand it back once it goes stale, and the retry must land.
	runUntilDrained(t, p, fake, events.StreamBusinessEvents)

	rows, err := eventRepo.ListRecent(context.Background(), nil, ns, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(rows) != 1 || rows[0].ExternalID != "proc-retry-1" {
		t.Fatalf("event not persisted after retry: %+v", rows)
	}
	got := fake.ackedIDs(events.StreamBusinessEvents)
	if len(got) == 0 || got[len(got)-1] != "900-0" {
		t.Fatalf("retried message must end acked, got %v", got)
	}
}

func TestProcessorSeedsGroupsOnEveryStream(t *testing.T) {
	fake := newFakeConsumer()
	p, _ := newTestProcessor(t, fake)

	runUntilDrained(t, p, fake, events.StreamAgentEvents, events.StreamBusinessEvents)

	if len(fake.groups) != 2 {
		t.Fatalf("groups = %v, want one per stream", fake.groups)
	}
}
