// Package notify delivers control-plane notifications: discovery events,
// liveness transitions, best-effort derivation failures.
//
// Notifiers are strictly fire and forget. Delivery problems are logged and
// swallowed, they must never surface into the transaction of the operation
// that emitted the notification.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/rackforge/metald/core/logger"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

// Notification categories.
const (
	CategoryDiscover = "discover"
	CategoryError    = "error"
)

// Notifier receives control-plane notifications.
type Notifier interface {
	Notify(category, message string, nodeID *uuid.UUID)
}

// Store persists notifications through its own short-lived sessions, kept
// apart from the request's unit of work so a rolled-back request still
// leaves no orphan notifications behind.
type Store struct {
	DB storage.Store
}

// Notify implements Notifier.
func (s *Store) Notify(category, message string, nodeID *uuid.UUID) {
	rlog := logger.Default()
	session, err := s.DB.Begin(context.Background())
	if err != nil {
		rlog.WithError(err).Error("notification dropped: cannot open session")
		return
	}
	defer session.Invalidate()
	err = session.AddNotification(&model.Notification{
		Category:  category,
		Message:   message,
		NodeID:    nodeID,
		CreatedAt: time.Now().UTC(),
	})
	if err == nil {
		err = session.Commit()
	}
	if err != nil {
		session.Rollback()
		rlog.WithError(err).Error("notification dropped: cannot persist")
	}
}

// Kafka publishes notifications as JSON events to a topic.
type Kafka struct {
	Writer *kafka.Writer
}

// NewKafka returns a Kafka notifier for the given brokers and topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		Writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

type kafkaEvent struct {
	Category  string     `json:"category"`
	Message   string     `json:"message"`
	NodeID    *uuid.UUID `json:"node_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Notify implements Notifier.
func (k *Kafka) Notify(category, message string, nodeID *uuid.UUID) {
	value, err := json.Marshal(kafkaEvent{
		Category:  category,
		Message:   message,
		NodeID:    nodeID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Default().WithError(err).Error("notification dropped: cannot marshal")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(category), Value: value}); err != nil {
		logger.Default().WithError(err).Error("notification dropped: cannot publish")
	}
}

// Close flushes the underlying writer.
func (k *Kafka) Close() error {
	return k.Writer.Close()
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(category, message string, nodeID *uuid.UUID) {
	for _, n := range m {
		n.Notify(category, message, nodeID)
	}
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu      sync.Mutex
	entries []RecordedNotification
}

// RecordedNotification is one captured notification.
type RecordedNotification struct {
	Category string
	Message  string
	NodeID   *uuid.UUID
}

// Notify implements Notifier.
func (r *Recorder) Notify(category, message string, nodeID *uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, RecordedNotification{Category: category, Message: message, NodeID: nodeID})
}

// All returns the captured notifications in order.
func (r *Recorder) All() []RecordedNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]RecordedNotification, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Count returns how many notifications of the given category were captured.
func (r *Recorder) Count(category string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.entries {
		if e.Category == category {
			count++
		}
	}
	return count
}

// Reset drops all captured notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
