package events

import (
	"context"
	"encoding/json"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"

	"docdex/internal/logging"
)

// Relay bridges the in-process bus to other processes over a Redis
// pub/sub channel, using the wire schema. Publishing is fire-and-forget:
// a broken Redis connection is logged and never disturbs the engine.
type Relay struct {
	rdb     *redis.Client
	channel string
	logger  log.Logger
	unsubs  []func()
}

// NewRelay connects to Redis using a URL like redis://host:6379/0.
func NewRelay(redisURL, channel string) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Relay{
		rdb:     redis.NewClient(opts),
		channel: channel,
		logger:  logging.Component("events.relay"),
	}, nil
}

// Attach subscribes the relay to every event type on the bus.
func (r *Relay) Attach(ctx context.Context, bus *Bus) {
	for _, t := range []Type{TypeJobStatusChange, TypeJobProgress, TypeJobListChange, TypeLibraryChange} {
		t := t
		unsub := bus.On(t, func(payload any) {
			r.publish(ctx, t, payload)
		})
		r.unsubs = append(r.unsubs, unsub)
	}
}

func (r *Relay) publish(ctx context.Context, t Type, payload any) {
	ev, err := EncodeWire(t, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", string(t)).Msg("Wire encode failed")
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", string(t)).Msg("Wire marshal failed")
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.logger.Warn().Err(err).Str("channel", r.channel).Msg("Event publish to redis failed")
	}
}

// Listen mirrors events from the Redis channel onto the given bus. A
// second process uses this to observe job state without touching the
// engine's store. Blocks until ctx is done.
func (r *Relay) Listen(ctx context.Context, bus *Bus) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev WireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn().Err(err).Msg("Dropping malformed relay event")
				continue
			}
			bus.Emit(ev.Type, ev)
		}
	}
}

// Close detaches from the bus and closes the Redis client.
func (r *Relay) Close() error {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	return r.rdb.Close()
}
