// Package broadcast implements the Broadcaster component (§4.5 of
// SPEC_FULL.md): fan-out of typed progress/agent/warning/completion events.
// Delivery is best-effort and per-session FIFO; a disconnected listener's
// missed events are recoverable, bounded by the most recent N, via a
// trimmed Redis list — the same bounding idiom the teacher uses for its
// status stream (internal/worker/task_runner.go's statusStreamMaxLen).
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/basegraph-labs/trdforge/internal/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// recentBacklog bounds the per-session reconnect queue (§4.5: "queued,
// bounded by most-recent-N per session, and delivered on reconnect").
const recentBacklog = 200

// Broadcaster fans typed events out to subscribers of a session.
type Broadcaster struct {
	client *redis.Client
	logger *slog.Logger
}

// New constructs a Broadcaster backed by Redis Pub/Sub plus a trimmed list
// for reconnect delivery.
func New(client *redis.Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, logger: logger}
}

func channelName(sessionID string) string {
	return "trdforge:events:" + sessionID
}

func recentKey(sessionID string) string {
	return "trdforge:events:recent:" + sessionID
}

// Publish emits ev to any attached listeners for its session and appends it
// to the bounded recent-events list. The engine never blocks on listener
// acknowledgement: Publish errors are logged, not returned, because a
// broadcast failure must never fail the workflow (§4.5 ownership note:
// "dropping a listener never blocks the engine").
func (b *Broadcaster) Publish(ctx context.Context, ev session.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.WarnContext(ctx, "broadcast: encode failed", "error", err)
		return
	}

	if err := b.client.Publish(ctx, channelName(ev.SessionID), payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "broadcast: publish failed", "session_id", ev.SessionID, "error", err)
	}

	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, recentKey(ev.SessionID), payload)
	pipe.LTrim(ctx, recentKey(ev.SessionID), 0, recentBacklog-1)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.WarnContext(ctx, "broadcast: recent-backlog write failed", "session_id", ev.SessionID, "error", err)
	}
}

// Subscribe returns a channel of events for sessionID and an unsubscribe
// function. A listener that disappears is removed silently: when the
// context is cancelled or the subscription is closed, Subscribe's channel is
// simply closed, with no error surfaced to the engine. Events that a slow
// reader has no buffer room for are dropped.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan session.Event, func()) {
	sub := b.client.Subscribe(ctx, channelName(sessionID))
	out := make(chan session.Event, 32)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev session.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.WarnContext(ctx, "broadcast: decode failed", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					// Slow listener: drop rather than block the engine.
				}
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

// Recent returns the most recently published events for sessionID, oldest
// first, for delivery to a reconnecting listener.
func (b *Broadcaster) Recent(ctx context.Context, sessionID string) ([]session.Event, error) {
	raw, err := b.client.LRange(ctx, recentKey(sessionID), 0, recentBacklog-1).Result()
	if err != nil {
		return nil, fmt.Errorf("broadcast: recent: %w", err)
	}

	out := make([]session.Event, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var ev session.Event
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
