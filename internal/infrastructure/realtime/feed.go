package realtime

import (
	"context"
	"sync"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
)

// Topic names a stream of change notifications.
type Topic string

const AllSessionsTopic Topic = "sessions"

func SessionTopic(id domain.SessionID) Topic {
	return Topic("session:" + string(id))
}

func PermissionsTopic(subscriberID domain.UserID) Topic {
	return Topic("permissions:" + string(subscriberID))
}

// Feed fans change notifications out to snapshot subscribers. Each
// subscriber gets its own goroutine; notifications that arrive while a
// delivery is running coalesce into one follow-up delivery, so callers
// always re-read the full state rather than consume individual changes.
type Feed struct {
	mu   sync.Mutex
	subs map[Topic]map[*subscriber]struct{}
}

type subscriber struct {
	kick   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

func NewFeed() *Feed {
	return &Feed{
		subs: make(map[Topic]map[*subscriber]struct{}),
	}
}

// Subscribe calls deliver once right away and again after every Notify on
// topic, until the returned function is called or ctx is done.
func (f *Feed) Subscribe(ctx context.Context, topic Topic, deliver func(ctx context.Context)) ports.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		kick:   make(chan struct{}, 1),
		cancel: cancel,
	}
	sub.kick <- struct{}{}

	f.mu.Lock()
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[*subscriber]struct{})
	}
	f.subs[topic][sub] = struct{}{}
	f.mu.Unlock()

	go f.run(ctx, sub, deliver)

	unsubscribe := func() {
		sub.once.Do(func() {
			cancel()
			f.remove(topic, sub)
		})
	}

	// Release the registration when the parent context ends as well.
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return unsubscribe
}

func (f *Feed) run(ctx context.Context, sub *subscriber, deliver func(ctx context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.kick:
			if ctx.Err() != nil {
				return
			}
			deliver(ctx)
		}
	}
}

// Notify schedules a delivery for every subscriber of topic.
func (f *Feed) Notify(topic Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs[topic] {
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (f *Feed) Subscribers(topic Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic])
}

func (f *Feed) remove(topic Topic, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.subs[topic], sub)
	if len(f.subs[topic]) == 0 {
		delete(f.subs, topic)
	}
}
