package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/halcyon-social/halcyon"
	"github.com/halcyon-social/halcyon/internal/domain"
)

// FirehoseChannel carries every notification event; per-recipient channels
// carry only creates addressed to that recipient.
const FirehoseChannel = "notifications"

// SignalService is the boundary to the notification subsystem: intents and
// retractions are published on redis pub/sub, nothing is persisted here.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func recipientChannel(recipient string) string {
	return FirehoseChannel + ":" + recipient
}

func (s *SignalService) Notify(ctx context.Context, intents []domain.NotificationIntent) error {
	for _, intent := range intents {
		body, err := json.Marshal(intent)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification intent")
		}

		event := halcyon.Event{
			Type:      halcyon.EventNotificationCreate,
			Recipient: intent.Recipient,
			Body:      body,
			Timestamp: time.Now().UTC(),
		}

		if err := s.publish(ctx, FirehoseChannel, event); err != nil {
			return err
		}
		if err := s.publish(ctx, recipientChannel(intent.Recipient), event); err != nil {
			return err
		}
	}
	return nil
}

func (s *SignalService) Retract(ctx context.Context, uris []string) error {
	for _, uri := range uris {
		body, err := json.Marshal(map[string]string{"recordURI": uri})
		if err != nil {
			return errors.Wrap(err, "failed to marshal retraction")
		}

		event := halcyon.Event{
			Type:      halcyon.EventNotificationRetract,
			Body:      body,
			Timestamp: time.Now().UTC(),
		}

		if err := s.publish(ctx, FirehoseChannel, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *SignalService) publish(ctx context.Context, channel string, event halcyon.Event) error {
	jsonstr, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	err = s.rdb.Publish(ctx, channel, jsonstr).Err()
	if err != nil {
		return errors.Wrap(err, "failed to publish event")
	}

	return nil
}

// Realtime forwards notification events for the recipients requested on input
// to output until the context ends. Neither channel is ever closed: the
// context is the only exit signal, so a delivery racing the caller's return
// cannot send on a closed channel.
func (s *SignalService) Realtime(ctx context.Context, input chan []string, output chan halcyon.Event) {
	pubsub := s.rdb.Subscribe(ctx)
	defer pubsub.Close()

	messages := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case recipients := <-input:
			channels := make([]string, 0, len(recipients))
			for _, recipient := range recipients {
				channels = append(channels, recipientChannel(recipient))
			}
			if err := pubsub.Subscribe(ctx, channels...); err != nil {
				slog.ErrorContext(
					ctx, "failed to subscribe",
					slog.String("error", err.Error()),
					slog.String("module", "signal"),
				)
			}

		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event halcyon.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.ErrorContext(
					ctx, "failed to decode event",
					slog.String("error", err.Error()),
					slog.String("module", "signal"),
				)
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
