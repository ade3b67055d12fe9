package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventContractInstantiated EventType = "contract.instantiated"
	EventSettingsUpdated      EventType = "settings.updated"
	EventBalancesMoved        EventType = "balances.moved"

	EventAgentRegistered   EventType = "agent.registered"
	EventAgentUpdated      EventType = "agent.updated"
	EventAgentCheckedIn    EventType = "agent.checked_in"
	EventAgentUnregistered EventType = "agent.unregistered"
	EventAgentWithdrawn    EventType = "agent.withdrawn"
	EventAgentSkipped      EventType = "agent.skipped"

	EventTaskAdded   EventType = "task.added"
	EventTaskRemoved EventType = "task.removed"

	EventNominationOpened EventType = "nomination.opened"
	EventNominationClosed EventType = "nomination.closed"

	EventInstructionsExecuted EventType = "instructions.executed"
	EventLedgerDrift          EventType = "ledger.drift"
)

// Attribute is a key/value pair attached to a command response.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is the envelope published on the event bus.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Caller    string          `json:"caller,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
