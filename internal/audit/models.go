package audit

import "time"

// Event records one credential lifecycle action. It carries identifiers and
// outcomes only; record content and key material never appear here.
type Event struct {
	Timestamp   time.Time
	Action      string
	Issuer      string
	Fingerprint string
	KeyID       string
	Reason      string
}

type AuditEvent string

const (
	EventCredentialIssued    AuditEvent = "credential_issued"
	EventCredentialVerified  AuditEvent = "credential_verified"
	EventCredentialRejected  AuditEvent = "credential_rejected"
	EventCredentialRevoked   AuditEvent = "credential_revoked"
	EventIssuerKeyRegistered AuditEvent = "issuer_key_registered"
)
