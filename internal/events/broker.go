// Package events fans device change notifications out to connected operators.
// With a Redis client the broker relays through one pub/sub channel per
// family, so every server instance sees every change; without one it
// delivers in-process only.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/metrics"
	"github.com/sentinelr/devicesync/internal/model"
	redisclient "github.com/sentinelr/devicesync/internal/redis"
)

const subscriberBuffer = 64

// Publisher is what services use to announce a change.
type Publisher interface {
	Publish(ctx context.Context, event model.ChangeEvent) error
}

type Subscription struct {
	FamilyID string
	Events   chan model.ChangeEvent
	Done     chan struct{}
}

type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Subscription]bool // familyID -> set of subscriptions
	relays  map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Subscription]bool),
		relays:  make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// NewLocalBroker delivers events in-process only.
func NewLocalBroker() *Broker {
	return NewBroker(nil)
}

func (b *Broker) Subscribe(familyID string) *Subscription {
	sub := &Subscription{
		FamilyID: familyID,
		Events:   make(chan model.ChangeEvent, subscriberBuffer),
		Done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[familyID] == nil {
		b.clients[familyID] = make(map[*Subscription]bool)
		if b.redis != nil {
			relayCtx, stop := context.WithCancel(b.ctx)
			b.relays[familyID] = stop
			go b.relay(relayCtx, familyID)
		}
	}
	b.clients[familyID][sub] = true
	count := len(b.clients[familyID])
	b.mu.Unlock()

	log.Info().
		Str("familyId", familyID).
		Int("clientCount", count).
		Msg("event subscriber added")

	return sub
}

func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[sub.FamilyID]
	if !ok || !clients[sub] {
		return
	}
	delete(clients, sub)
	close(sub.Done)

	if len(clients) == 0 {
		delete(b.clients, sub.FamilyID)
		if stop, ok := b.relays[sub.FamilyID]; ok {
			stop()
			delete(b.relays, sub.FamilyID)
		}
	}

	log.Info().
		Str("familyId", sub.FamilyID).
		Int("clientCount", len(clients)).
		Msg("event subscriber removed")
}

func (b *Broker) Publish(ctx context.Context, event model.ChangeEvent) error {
	if event.At.IsZero() {
		event.At = b.now()
	}
	metrics.EventsPublished.WithLabelValues(string(event.Table)).Inc()

	if b.redis == nil {
		b.broadcast(event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.FamilyChannel(event.FamilyID), data).Err()
}

func (b *Broker) relay(ctx context.Context, familyID string) {
	channel := redisclient.FamilyChannel(familyID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("familyId", familyID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event model.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal change event")
				continue
			}

			b.broadcast(event)
		}
	}
}

func (b *Broker) broadcast(event model.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.clients[event.FamilyID] {
		select {
		case sub.Events <- event:
		default:
			log.Warn().
				Str("familyId", event.FamilyID).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for sub := range clients {
			close(sub.Done)
		}
	}
	b.clients = make(map[string]map[*Subscription]bool)
	b.relays = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(familyID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[familyID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
