package session

import (
	"context"

	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/pubsub"
)

// Event types emitted on the Bus. These names are the wire contract of the
// /api/events stream.
const (
	EventStatusUpdate       pubsub.EventType = "status_update"
	EventLog                pubsub.EventType = "log"
	EventError              pubsub.EventType = "error"
	EventGenerationStart    pubsub.EventType = "generation_start"
	EventGenerationComplete pubsub.EventType = "generation_complete"
	EventRepoCreating       pubsub.EventType = "repo_creating"
	EventRepoCreated        pubsub.EventType = "repo_created"
	EventRepoError          pubsub.EventType = "repo_error"
	EventSessionComplete    pubsub.EventType = "session_complete"
)

// Event is the envelope delivered to observers.
type Event = pubsub.Event[any]

// MessagePayload carries log and error events.
type MessagePayload struct {
	Message string `json:"message"`
}

type GenerationStartPayload struct {
	Iteration int    `json:"iteration"`
	Total     int    `json:"total"`
	RepoName  string `json:"repoName"`
}

type GenerationCompletePayload struct {
	Iteration    int    `json:"iteration"`
	Technique    string `json:"technique"`
	Reasoning    string `json:"reasoning"`
	ProjectTheme string `json:"projectTheme"`
	ReadmeLength int    `json:"readmeLength"`
}

type RepoCreatingPayload struct {
	Iteration int    `json:"iteration"`
	RepoName  string `json:"repoName"`
}

type RepoCreatedPayload struct {
	Iteration int    `json:"iteration"`
	RepoName  string `json:"repoName"`
	RepoURL   string `json:"repoUrl"`
	Technique string `json:"technique"`
}

type RepoErrorPayload struct {
	Iteration int    `json:"iteration"`
	RepoName  string `json:"repoName"`
	Error     string `json:"error"`
}

// RepoSummary is one entry of the session_complete payload.
type RepoSummary struct {
	Name      string       `json:"name"`
	URL       *string      `json:"url"`
	Technique string       `json:"technique"`
	Status    RecordStatus `json:"status"`
}

type SessionCompletePayload struct {
	TotalCreated int           `json:"totalCreated"`
	TotalErrors  int           `json:"totalErrors"`
	Repos        []RepoSummary `json:"repos"`
}

// Bus fans session events out to observers. Delivery is best effort: late
// subscribers see nothing earlier and a full subscriber misses events.
type Bus struct {
	broker *pubsub.Broker[any]
}

// NewBus creates a Bus with the default per-subscriber buffer.
func NewBus() *Bus {
	return NewBusWithBuffer(256)
}

// NewBusWithBuffer creates a Bus with a custom per-subscriber buffer.
func NewBusWithBuffer(size int) *Bus {
	broker := pubsub.NewBrokerWithBuffer[any](size)
	broker.OnDrop(func(eventType pubsub.EventType) {
		log.Debug(log.CatHTTP, "dropped event for slow subscriber", "type", eventType)
	})
	return &Bus{broker: broker}
}

// Publish delivers payload to every current subscriber.
func (b *Bus) Publish(eventType pubsub.EventType, payload any) {
	b.broker.Publish(eventType, payload)
}

// Subscribe returns a channel of events closed when ctx ends or the bus closes.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	return b.broker.Subscribe(ctx)
}

// Status emits status_update with status merged into details.
func (b *Bus) Status(status Status, details map[string]any) {
	payload := make(map[string]any, len(details)+1)
	for k, v := range details {
		payload[k] = v
	}
	payload["status"] = status
	b.Publish(EventStatusUpdate, payload)
}

// Log emits a log event.
func (b *Bus) Log(message string) {
	log.Debug(log.CatSession, message)
	b.Publish(EventLog, MessagePayload{Message: message})
}

// Error emits an error event.
func (b *Bus) Error(message string) {
	log.Error(log.CatSession, message)
	b.Publish(EventError, MessagePayload{Message: message})
}

// SubscriberCount returns the number of connected observers.
func (b *Bus) SubscriberCount() int {
	return b.broker.SubscriberCount()
}

// Dropped returns how many deliveries were skipped.
func (b *Bus) Dropped() int64 {
	return b.broker.Dropped()
}

// Close disconnects every observer.
func (b *Bus) Close() {
	b.broker.Close()
}
