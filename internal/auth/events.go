package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// AuthEventsChannel is the Redis pub/sub channel auth state changes go to.
const AuthEventsChannel = "auth_events"

// Auth event types.
const (
	EventRegistered = "registered"
	EventSignedIn   = "signed_in"
	EventSignedOut  = "signed_out"
)

// Event is one change of a user's authentication state.
type Event struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// IEventPublisher announces auth state changes.
type IEventPublisher interface {
	Publish(ctx context.Context, eventType, userID string) error
}

// RedisEvents publishes and subscribes to auth events over Redis pub/sub.
type RedisEvents struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewRedisEvents creates the auth event bus.
func NewRedisEvents(rdb *redis.Client, logger *logrus.Logger) *RedisEvents {
	return &RedisEvents{rdb: rdb, logger: logger}
}

// Publish sends one event. Nobody listening is not an error.
func (e *RedisEvents) Publish(ctx context.Context, eventType, userID string) error {
	payload, err := json.Marshal(Event{Type: eventType, UserID: userID, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal auth event: %w", err)
	}
	if err := e.rdb.Publish(ctx, AuthEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish auth event %s: %w", eventType, err)
	}
	return nil
}

// Subscribe streams auth events until ctx is done, then closes the channel.
// Malformed messages are logged and dropped.
func (e *RedisEvents) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := e.rdb.Subscribe(ctx, AuthEventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", AuthEventsChannel, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					e.logger.WithError(err).Warn("Dropping malformed auth event")
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// LogEvents writes each event to logger until events is closed.
func LogEvents(events <-chan Event, logger *logrus.Logger) {
	for evt := range events {
		logger.WithFields(logrus.Fields{
			"event":   evt.Type,
			"user_id": evt.UserID,
			"at":      evt.At,
		}).Info("Auth event")
	}
}
