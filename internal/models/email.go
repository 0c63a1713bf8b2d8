package models

import "time"

// Provenance tags for the transport that produced a record
const (
	SourceIMAP = "imap"
	SourcePOP3 = "pop3"
)

// StatusNew is the processing status every record is persisted with
const StatusNew = "new"

// MessageRef identifies a message inside an open mailbox session
type MessageRef struct {
	UID         uint32
	Key         string
	ArrivedAt   time.Time
	Sender      string
	Subject     string
	UIDValidity uint32
}

// RawMessage is a fetched message as the source hands it over
type RawMessage struct {
	MessageRef
	Source string
	Raw    []byte
}

// EmailRecord represents a normalized email ready to be persisted
type EmailRecord struct {
	ID         string    `db:"id" json:"id"`
	MessageKey string    `db:"message_key" json:"messageKey"`
	Sender     string    `db:"sender" json:"sender"`
	Subject    string    `db:"subject" json:"subject"`
	Body       string    `db:"body" json:"body"`
	Source     string    `db:"source" json:"source"`
	Status     string    `db:"status" json:"status"`
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
