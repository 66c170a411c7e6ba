package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"audiocast/internal/infrastructure/realtime"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const changesChannel = "audiocast:changes"

// Event announces that the documents behind some topics changed
type Event struct {
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Topics     []realtime.Topic `json:"topics"`
}

// EventBus carries change notifications between instances over Redis
// pub/sub and feeds them into the local real-time feed.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	feed       *realtime.Feed

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewEventBus creates a new event bus
func NewEventBus(
	client *redis.Client,
	instanceID string,
	feed *realtime.Feed,
	logger *zap.SugaredLogger,
) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		feed:       feed,
	}
}

func (eb *EventBus) Feed() *realtime.Feed {
	return eb.feed
}

// Publish notifies local subscribers immediately and broadcasts the change
// to other instances. Broadcast failures are logged; local delivery still
// happens.
func (eb *EventBus) Publish(ctx context.Context, topics ...realtime.Topic) {
	for _, topic := range topics {
		eb.feed.Notify(topic)
	}

	data, err := json.Marshal(&Event{
		InstanceID: eb.instanceID,
		Timestamp:  time.Now(),
		Topics:     topics,
	})
	if err != nil {
		eb.logger.Warnw("failed to marshal change event", "error", err)
		return
	}

	if err := eb.client.Publish(ctx, changesChannel, data).Err(); err != nil {
		eb.logger.Warnw("failed to publish change event",
			"topics", topics,
			"error", err,
		)
		return
	}

	eb.logger.Debugw("published change event", "topics", topics)
}

// Start subscribes to the change channel and forwards remote events to the
// feed until ctx is done or Close is called.
func (eb *EventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	pubsub := eb.client.Subscribe(ctx, changesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to change events: %w", err)
	}

	eb.pubsub = pubsub
	eb.done = make(chan struct{})
	go eb.forward(ctx, pubsub.Channel(), eb.done)
	return nil
}

func (eb *EventBus) forward(ctx context.Context, ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal change event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Local subscribers were notified at publish time
			if event.InstanceID == eb.instanceID {
				continue
			}

			for _, topic := range event.Topics {
				eb.feed.Notify(topic)
			}
		}
	}
}

// Close stops forwarding and releases the subscription
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	pubsub, done := eb.pubsub, eb.done
	eb.pubsub = nil
	eb.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
