// Package events announces stored records on NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"emails-sync/internal/logging"
	"emails-sync/internal/models"
)

// DefaultSubject is used when no subject is configured
const DefaultSubject = "emails.stored"

// Sink is the record sink being decorated
type Sink interface {
	Insert(ctx context.Context, rec models.EmailRecord) error
}

// MessagePublisher sends one payload; Publisher implements it
type MessagePublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
}

// RecordStored is the event payload. It carries no body.
type RecordStored struct {
	ID         string    `json:"id"`
	MessageKey string    `json:"messageKey"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"receivedAt"`
	StoredAt   time.Time `json:"storedAt"`
}

// PublishingSink stores through next and then publishes a RecordStored event.
// The record is already durable when publishing runs, so a publish failure is
// logged and never reported as a failed insert.
type PublishingSink struct {
	next    Sink
	pub     MessagePublisher
	subject string
}

func NewPublishingSink(next Sink, pub MessagePublisher, subject string) *PublishingSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &PublishingSink{next: next, pub: pub, subject: subject}
}

func (s *PublishingSink) Insert(ctx context.Context, rec models.EmailRecord) error {
	if err := s.next.Insert(ctx, rec); err != nil {
		return err
	}

	payload, err := json.Marshal(RecordStored{
		ID:         rec.ID,
		MessageKey: rec.MessageKey,
		Sender:     rec.Sender,
		Subject:    rec.Subject,
		Source:     rec.Source,
		ReceivedAt: rec.ReceivedAt,
		StoredAt:   rec.CreatedAt,
	})
	if err != nil {
		logging.Log.WithError(err).Warnf("Could not encode event for record %s", rec.MessageKey)
		return nil
	}

	if err := s.pub.Publish(ctx, s.subject, payload, rec.Source+":"+rec.MessageKey); err != nil {
		logging.Log.WithError(err).WithField("key", rec.MessageKey).Warn("Record stored but event not published")
	}

	return nil
}
