package verifier

import (
	"context"
	"errors"
	"time"

	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/payload"
	"sumbandila/internal/platform/tracer"
	"sumbandila/pkg/platform/sentinel"
)

// VerifyPayload verifies an encoded credential as scanned from a QR code or
// typed in from a certificate. A non-nil claimed record is always the record
// verified; when a full payload also embeds a record, both must hash to the
// signed fingerprint. Without claimed, the record comes from the payload in
// full mode, otherwise from the configured RecordSource. The recomputed
// fingerprint must match the one the issuer signed before the signature is
// checked.
func (v *Verifier) VerifyPayload(ctx context.Context, encoded string, claimed models.Record) models.Verdict {
	ctx, span := v.tracer.Start(ctx, tracer.SpanVerifyPayload)
	verdict := v.verifyPayload(ctx, encoded, claimed, span)
	span.SetAttributes(tracer.String(tracer.AttrReason, verdict.Reason.String()))
	span.End(verdict.Err())
	return verdict
}

func (v *Verifier) verifyPayload(ctx context.Context, encoded string, claimed models.Record, span tracer.Span) models.Verdict {
	start := time.Now()
	reject := func(fp models.Fingerprint, reason models.Reason, detail string) models.Verdict {
		verdict := models.Verdict{Reason: reason, Detail: detail, Fingerprint: fp, CheckedAt: v.now()}
		v.observe(ctx, verdict, time.Since(start))
		return verdict
	}

	p, err := payload.Decode(encoded)
	if err != nil {
		return reject(models.Fingerprint{}, models.ReasonMalformedPayload, err.Error())
	}

	var record models.Record
	switch {
	case claimed != nil:
		if p.Record != nil {
			if verdict, ok := matchesSigned(p.Record, p.Fingerprint, reject); !ok {
				return verdict
			}
		}
		record = claimed
	case p.Record != nil:
		record = p.Record
	case v.records != nil:
		record, err = callWithTimeout(ctx, v.timeout, span, func(ctx context.Context) (models.Record, error) {
			return v.findRecord(ctx, p.Fingerprint)
		})
		switch {
		case errors.Is(err, sentinel.ErrNotFound), err == nil && record == nil:
			return reject(p.Fingerprint, models.ReasonSignatureMismatch, "credential not found")
		case err != nil:
			return reject(p.Fingerprint, models.ReasonRegistryUnavailable, "record lookup failed")
		}
	default:
		return reject(p.Fingerprint, models.ReasonSignatureMismatch, "credential not found")
	}

	if verdict, ok := matchesSigned(record, p.Fingerprint, reject); !ok {
		return verdict
	}

	return v.Verify(ctx, Request{
		Record:      record,
		Signature:   p.Signature,
		Issuer:      p.Issuer,
		HashVersion: p.Fingerprint.Version,
	})
}

// matchesSigned reports whether record hashes to signed, returning the
// rejection verdict when it does not.
func matchesSigned(record models.Record, signed models.Fingerprint, reject func(models.Fingerprint, models.Reason, string) models.Verdict) (models.Verdict, bool) {
	recomputed, _, err := fingerprint.Of(signed.Version, record)
	if err != nil {
		return reject(signed, models.ReasonFromError(err, models.ReasonInvalidRecord), err.Error()), false
	}
	if !fingerprint.Equal(recomputed, signed) {
		return reject(recomputed, models.ReasonSignatureMismatch, "record does not match signed fingerprint"), false
	}
	return models.Verdict{}, true
}

func (v *Verifier) findRecord(ctx context.Context, fp models.Fingerprint) (models.Record, error) {
	ctx, span := v.tracer.Start(ctx, tracer.SpanFindRecord, tracer.String(tracer.AttrFingerprint, tracer.ShortFingerprint(fp.Hex)))
	start := time.Now()
	record, err := v.records.FindRecord(ctx, fp)
	v.metrics.ObserveRegistryCall("find_record", err != nil && !errors.Is(err, sentinel.ErrNotFound), time.Since(start).Seconds())
	span.End(err)
	return record, err
}
