package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventServerCreated         EventType = "server.created"
	EventServerInstalled       EventType = "server.installed"
	EventServerInstallFailed   EventType = "server.install_failed"
	EventServerSuspended       EventType = "server.suspended"
	EventServerUnsuspended     EventType = "server.unsuspended"
	EventServerArchived        EventType = "server.archived"
	EventServerStatusReset     EventType = "server.status_reset"
	EventBackupCompleted       EventType = "backup.completed"
	EventBackupFailed          EventType = "backup.failed"
	EventRestoreCompleted      EventType = "restore.completed"
	EventRestoreFailed         EventType = "restore.failed"
	EventTransferStarted       EventType = "transfer.started"
	EventTransferFailed        EventType = "transfer.failed"
	EventTransferCompleted     EventType = "transfer.completed"
	EventNodeCreated           EventType = "node.created"
	EventNodeOnline            EventType = "node.online"
	EventNodeOffline           EventType = "node.offline"
	EventProvisionJobAbandoned EventType = "provision.abandoned"
)

// Event is something that happened to a server, backup, transfer or node
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	ServerUUID string            `json:"server_uuid,omitempty"`
	NodeID     string            `json:"node_id,omitempty"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh ID
func NewEvent(eventType EventType, serverUUID, message string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ServerUUID: serverUUID,
		Message:    message,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Publishing on a nil
// broker is a no-op.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
