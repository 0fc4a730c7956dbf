// Package events carries registry changes between the backend that owns
// issuers and credentials and this service. Events are JSON on Kafka:
// the backend publishes key registrations, revocations and stored records;
// the issuance service publishes issued credentials.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	TopicRegistry = "registry.events"
	TopicIssued   = "credentials.issued"
)

// Event types.
const (
	TypeKeyRegistered     = "issuer.key_registered"
	TypeCredentialRevoked = "credential.revoked"
	TypeRecordStored      = "credential.recorded"
	TypeCredentialIssued  = "credential.issued"
)

// Header keys set on every Kafka record.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// Envelope is the common shape of every event. Data holds the type-specific
// body and is decoded once the type is known.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// KeyRegistered announces a new key version for an issuer. Registering a
// key retires the issuer's previous active key.
type KeyRegistered struct {
	Issuer       string `json:"issuer"`
	KeyID        string `json:"key_id"`
	PublicKeyPEM string `json:"public_key_pem"`
}

// CredentialRevoked marks a credential as revoked. Fingerprint is either
// bare hex (hash version 1) or the tagged "fpN:<hex>" form.
type CredentialRevoked struct {
	Fingerprint string `json:"fingerprint"`
	Issuer      string `json:"issuer,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// RecordStored carries the record behind a fingerprint so compact payloads
// can be verified.
type RecordStored struct {
	Fingerprint string          `json:"fingerprint"`
	Record      json.RawMessage `json:"record"`
}

// CredentialIssued reports an issued credential. It never carries record
// content.
type CredentialIssued struct {
	Issuer      string `json:"issuer"`
	Fingerprint string `json:"fingerprint"`
	KeyID       string `json:"key_id"`
	Algorithm   string `json:"algorithm"`
	Signature   string `json:"signature"`
	Mode        string `json:"mode"`
}

// NewEnvelope wraps data in an envelope with a fresh event id.
func NewEnvelope(eventType string, at time.Time, data any) (Envelope, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		Data:       body,
	}, nil
}
