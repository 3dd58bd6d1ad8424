// Package pubsub fans out change notifications to in-process subscribers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// PublishedEvent is sent after a provider is bound.
	PublishedEvent EventType = "published"
	// RemovedEvent is sent after some or all bindings of a provider are dropped.
	RemovedEvent EventType = "removed"
	// RestoredEvent is sent after the whole map is reloaded.
	RestoredEvent EventType = "restored"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}
