package issuance

import (
	"context"
	"errors"

	"sumbandila/internal/credential/models"
)

// RecordWriter stores the record behind a fingerprint so compact payloads
// can be verified later.
type RecordWriter interface {
	PutRecord(ctx context.Context, fp models.Fingerprint, record models.Record) error
}

// RecordSink persists issued records directly into a registry store. It is
// used by single-process deployments and the CLI; services publish to Kafka
// instead.
type RecordSink struct {
	writer RecordWriter
}

func NewRecordSink(writer RecordWriter) *RecordSink {
	return &RecordSink{writer: writer}
}

func (s *RecordSink) Publish(ctx context.Context, cred *IssuedCredential) error {
	return s.writer.PutRecord(ctx, cred.Fingerprint, cred.Record)
}

// MultiSink publishes to every sink in order and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, cred *IssuedCredential) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(ctx, cred); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
