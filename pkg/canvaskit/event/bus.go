package event

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// Handler receives delivered events.
type Handler func(ctx context.Context, evt Event)

// Publisher is the sending side of a bus.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Bus provides pub/sub event distribution with fan-out.
type Bus interface {
	Publisher

	// Subscribe delivers events of the given types, or all events when
	// types is empty, to handler.
	Subscribe(handler Handler, types ...string) Subscription

	// Close stops delivery to every subscription.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe()
}

// BusConfig configures bus behavior.
type BusConfig struct {
	// BufferSize is the channel buffer per subscription. Default: 256.
	BufferSize int

	// OnDrop is called when a subscriber's buffer is full.
	OnDrop func(evt Event, subscriberID string)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{BufferSize: 256}

// LocalBus is an in-memory Bus.
type LocalBus struct {
	config BusConfig

	mu   sync.RWMutex
	subs map[string]*subscription

	nextID atomic.Int64
	closed atomic.Bool
}

// NewBus creates a new local event bus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	return &LocalBus{config: config, subs: make(map[string]*subscription)}
}

type subscription struct {
	id      string
	types   map[string]bool
	handler Handler
	events  chan Event
	done    chan struct{}
	once    sync.Once
	bus     *LocalBus
}

func (s *subscription) matches(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// Publish hands evt to every matching subscription without blocking.
func (b *LocalBus) Publish(_ context.Context, evt Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(evt.Type) {
			continue
		}
		select {
		case sub.events <- evt:
		default:
			if b.config.OnDrop != nil {
				b.config.OnDrop(evt, sub.id)
			}
		}
	}
	return nil
}

// Subscribe registers handler. A closed bus returns an inert subscription.
func (b *LocalBus) Subscribe(handler Handler, types ...string) Subscription {
	sub := &subscription{
		id:      strconv.FormatInt(b.nextID.Add(1), 10),
		types:   make(map[string]bool, len(types)),
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	if b.closed.Load() {
		sub.stop()
		return sub
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.process()
	return sub
}

// Close shuts down the bus. Events still buffered are discarded.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		sub.stop()
		delete(b.subs, id)
	}
	return nil
}

func (s *subscription) process() {
	for {
		select {
		case evt := <-s.events:
			s.handler(context.Background(), evt)
		case <-s.done:
			return
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribe removes the subscription.
func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Event) error { return nil }
