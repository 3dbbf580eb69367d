package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	ctfrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/ctf"
	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/events"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	ctfservices "github.com/procurelabs/vendorgate-backend/internal/services/ctf"
)

type Config struct {
	Group     string
	Consumer  string
	Streams   []string
	Lookback  time.Duration
	BatchSize int64
	Block     time.Duration
	// Backoff is the pause after a transport error before the next read.
	Backoff time.Duration
	// MinIdle is the staleness window: a message left unacked this long is
	// claimed back for a retry, whichever consumer first received it.
	MinIdle time.Duration
}

func DefaultConfig() Config {
	return Config{
		Group:     "ctf_processor",
		Consumer:  "ctf_processor_1",
		Streams:   []string{events.StreamAgentEvents, events.StreamBusinessEvents},
		Lookback:  10 * time.Minute,
		BatchSize: 64,
		Block:     5 * time.Second,
		Backoff:   2 * time.Second,
		MinIdle:   time.Minute,
	}
}

// Processor drains the event streams through a consumer group, persists a
// deduplicated copy of each event and feeds it to the challenge and badge
// services. A message is acknowledged and deleted only after the handlers
// return, so a crash mid-batch redelivers instead of dropping.
type Processor struct {
	log        *logger.Logger
	consumer   events.Consumer
	eventRepo  ctfrepos.EventRepo
	challenges ctfservices.ChallengeService
	badges     ctfservices.BadgeService
	cfg        Config
}

func New(baseLog *logger.Logger, consumer events.Consumer, eventRepo ctfrepos.EventRepo, challenges ctfservices.ChallengeService, badges ctfservices.BadgeService, cfg Config) *Processor {
	return &Processor{
		log:        baseLog.With("service", "EventProcessor"),
		consumer:   consumer,
		eventRepo:  eventRepo,
		challenges: challenges,
		badges:     badges,
		cfg:        cfg,
	}
}

// Run blocks until ctx is cancelled. Each stream gets its own read loop so
// a quiet stream never starves a busy one.
func (p *Processor) Run(ctx context.Context) error {
	start := time.Now().Add(-p.cfg.Lookback)
	for _, stream := range p.cfg.Streams {
		if err := p.consumer.EnsureGroup(ctx, stream, p.cfg.Group, start); err != nil {
			return err
		}
	}
	p.log.Info("processor started", "group", p.cfg.Group, "streams", p.cfg.Streams, "lookback", p.cfg.Lookback.String())

	g, ctx := errgroup.WithContext(ctx)
	for _, stream := range p.cfg.Streams {
		stream := stream
		g.Go(func() error { return p.readLoop(ctx, stream) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) readLoop(ctx context.Context, stream string) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Unacked messages past the staleness window are handed back for a
		// retry. Covers this consumer's own failed attempts and messages
		// stranded by a crashed sibling in the group.
		claimed, err := p.consumer.Claim(ctx, stream, p.cfg.Group, p.cfg.Consumer, p.cfg.MinIdle, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("stale claim failed", "stream", stream, "error", err)
		}
		if len(claimed) > 0 {
			p.log.Warn("retrying stale pending messages", "stream", stream, "count", len(claimed))
			for _, msg := range claimed {
				p.handleMessage(ctx, msg)
			}
		}

		msgs, err := p.consumer.ReadGroup(ctx, p.cfg.Group, p.cfg.Consumer, []string{stream}, p.cfg.BatchSize, p.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("stream read failed", "stream", stream, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.Backoff):
			}
			continue
		}
		for _, msg := range msgs {
			p.handleMessage(ctx, msg)
		}
	}
}

func (p *Processor) handleMessage(ctx context.Context, msg events.StreamMessage) {
	ev, err := events.DecodeWire(msg.Values)
	if err != nil {
		// Undecodable entries would otherwise be redelivered forever.
		// Dropping them is deliberate data loss, so it is logged loudly.
		p.log.Error("dropping undecodable stream entry", "stream", msg.Stream, "message_id", msg.ID, "error", err)
		p.ack(ctx, msg)
		return
	}

	if _, err := p.eventRepo.InsertDedup(ctx, nil, toRow(ev)); err != nil {
		p.log.Error("event persist failed, leaving message pending", "stream", msg.Stream, "message_id", msg.ID, "error", err)
		return
	}

	// Handlers run even for deduplicated rows: a crash after insert but
	// before ack must still finish the evaluation on redelivery. Both
	// services are idempotent, so replays cannot double-complete or
	// double-award.
	if err := p.challenges.HandleEvent(ctx, ev); err != nil {
		p.log.Error("challenge evaluation failed, leaving message pending", "stream", msg.Stream, "message_id", msg.ID, "error", err)
		return
	}
	if err := p.badges.HandleEvent(ctx, ev); err != nil {
		p.log.Error("badge evaluation failed, leaving message pending", "stream", msg.Stream, "message_id", msg.ID, "error", err)
		return
	}

	p.ack(ctx, msg)
}

func (p *Processor) ack(ctx context.Context, msg events.StreamMessage) {
	if err := p.consumer.AckAndDelete(ctx, msg.Stream, p.cfg.Group, msg.ID); err != nil {
		p.log.Error("ack failed, message will be redelivered", "stream", msg.Stream, "message_id", msg.ID, "error", err)
	}
}

// toRow denormalizes the payload fields the read paths filter on.
func toRow(ev *events.Event) *types.Event {
	row := &types.Event{
		ID:         uuid.New(),
		ExternalID: ev.ExternalID(),
		Namespace:  ev.Namespace,
		UserID:     ev.UserID,
		SessionID:  ev.SessionID,
		WorkflowID: ev.WorkflowID,
		Category:   ev.Category,
		EventType:  ev.Type,
		Subtype:    ev.Subtype,
		Summary:    ev.Summary,
		OccurredAt: ev.Timestamp.UTC(),
	}
	if s, ok := ev.Payload["severity"].(string); ok {
		row.Severity = s
	}
	if s, ok := ev.Payload["agent_name"].(string); ok {
		row.AgentName = s
	}
	if s, ok := ev.Payload["tool_name"].(string); ok {
		row.ToolName = s
	}
	switch d := ev.Payload["duration_ms"].(type) {
	case float64:
		row.DurationMS = int64(d)
	case int64:
		row.DurationMS = d
	case int:
		row.DurationMS = int64(d)
	}
	if len(ev.Payload) > 0 {
		if raw, err := json.Marshal(ev.Payload); err == nil {
			row.Payload = datatypes.JSON(raw)
		}
	}
	return row
}
