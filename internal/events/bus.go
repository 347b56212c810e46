// Package events provides an in-process CloudEvents-shaped pub/sub bus the
// journal fans its events out through, plus an optional Pub/Sub-backed
// sink for cross-process fan-out when a mesh node runs as multiple
// processes.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// CloudEvent is the CloudEvents 1.0 envelope used across the mesh.
type CloudEvent struct {
	SpecVersion string         `json:"specversion"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	ID          string         `json:"id"`
	Time        time.Time      `json:"time"`
	Subject     string         `json:"subject,omitempty"`
	Data        map[string]any `json:"data"`
}

func NewCloudEvent(eventType, source, subject string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          fmt.Sprintf("ce-%d", time.Now().UnixNano()),
		Time:        time.Now(),
		Subject:     subject,
		Data:        data,
	}
}

func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// Sink receives published events, e.g. the optional Pub/Sub backing.
type Sink interface {
	Publish(event *CloudEvent)
}

// EventBus is an in-process pub/sub bus. Subscribers receive CloudEvents
// on a buffered channel; a full channel drops the event rather than
// blocking the publisher — per spec.md I3, a listener must never abort
// an emit.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent
	allSubs     []chan *CloudEvent
	sinks       []Sink
	logger      *log.Logger
	bufferSize  int
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan *CloudEvent),
		logger:      log.New(log.Writer(), "[events] ", log.LstdFlags),
		bufferSize:  256,
	}
}

// AddSink registers an additional delivery sink (e.g. Pub/Sub) that
// receives every published event alongside in-process subscribers.
func (eb *EventBus) AddSink(sink Sink) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.sinks = append(eb.sinks, sink)
}

// Subscribe returns a channel receiving events of the given types. Pass no
// types to receive everything.
func (eb *EventBus) Subscribe(eventTypes ...string) chan *CloudEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *CloudEvent, eb.bufferSize)
	if len(eventTypes) == 0 {
		eb.allSubs = append(eb.allSubs, ch)
		return ch
	}
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}
	return ch
}

func (eb *EventBus) Unsubscribe(ch chan *CloudEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for t, subs := range eb.subscribers {
		eb.subscribers[t] = removeChan(subs, ch)
	}
	eb.allSubs = removeChan(eb.allSubs, ch)
	close(ch)
}

func removeChan(subs []chan *CloudEvent, target chan *CloudEvent) []chan *CloudEvent {
	filtered := make([]chan *CloudEvent, 0, len(subs))
	for _, s := range subs {
		if s != target {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Publish fans an event out to matching subscribers and registered sinks.
// Recovers from a panicking sink so one broken listener can't corrupt
// the emitting component's state.
func (eb *EventBus) Publish(event *CloudEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			eb.logger.Printf("recovered from panicking subscriber: %v", r)
		}
	}()

	for _, ch := range eb.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			eb.logger.Printf("subscriber channel full, dropping %s", event.Type)
		}
	}
	for _, ch := range eb.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
	for _, sink := range eb.sinks {
		sink.Publish(event)
	}
}

// Emit is a convenience method that builds and publishes a CloudEvent.
func (eb *EventBus) Emit(eventType, source, subject string, data map[string]any) {
	eb.Publish(NewCloudEvent(eventType, source, subject, data))
}

func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	count := len(eb.allSubs)
	for _, subs := range eb.subscribers {
		count += len(subs)
	}
	return count
}
