package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"autoforwardx/internal/constants"
	"autoforwardx/internal/models"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const relayBuffer = 1024

type envelope struct {
	Origin string       `json:"origin"`
	Event  models.Event `json:"event"`
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg models.RedisConfig) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// RedisRelay mirrors local events to a Redis channel and replays events
// published by other instances to local subscribers.
type RedisRelay struct {
	client     *goredis.Client
	channel    string
	instanceID string
	local      *Broadcaster
	out        chan models.Event
	logger     *logrus.Logger
}

// NewRedisRelay wires a relay to the local broadcaster. Call Run to start it.
func NewRedisRelay(client *goredis.Client, channel string, local *Broadcaster, logger *logrus.Logger) *RedisRelay {
	if channel == "" {
		channel = constants.DefaultRedisEventChannel
	}
	return &RedisRelay{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		local:      local,
		out:        make(chan models.Event, relayBuffer),
		logger:     logger,
	}
}

// Forward queues an event for Redis; it drops instead of blocking when Redis is slow.
func (r *RedisRelay) Forward(event models.Event) {
	select {
	case r.out <- event:
	default:
		r.logger.WithField(constants.LogFieldEventType, event.Type).Warn("Event relay buffer full, dropping event")
	}
}

// Run publishes queued events and replays remote ones until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	incoming := pubsub.Channel()

	r.logger.WithFields(logrus.Fields{
		"channel":  r.channel,
		"instance": r.instanceID,
	}).Info("Event relay started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-r.out:
			payload, err := encodeEnvelope(r.instanceID, event)
			if err != nil {
				r.logger.WithError(err).Warn("Failed to encode relayed event")
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.logger.WithError(err).Warn("Failed to publish event to Redis")
			}

		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			env, err := decodeEnvelope(msg.Payload)
			if err != nil {
				r.logger.WithError(err).Warn("Discarding malformed relayed event")
				continue
			}
			if env.Origin == r.instanceID {
				continue
			}
			r.local.PublishLocal(env.Event)
		}
	}
}

func encodeEnvelope(origin string, event models.Event) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Event: event})
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, err
	}
	if env.Event.UserID == "" {
		return envelope{}, fmt.Errorf("relayed event has no user id")
	}
	return env, nil
}
