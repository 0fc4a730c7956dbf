// Package payload encodes signed credentials into the compact text form that
// is printed on certificates or embedded in QR codes, and decodes it back.
//
// Frame layout (before the multibase text encoding):
//
//	magic 'S' | format version | flags | hash version | algorithm id |
//	uvarint-prefixed fields: digest, issuer, key id, signature [, record]
//
// Flags: bit 0 marks a full payload that carries the canonical record,
// bit 1 marks that record as zstd compressed. The text form is base58btc
// multibase; Decode accepts any multibase encoding.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"

	"sumbandila/internal/credential/canonical"
	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/models"
	dErrors "sumbandila/pkg/domain-errors"
)

const (
	// MaxEncodedLen is the longest text payload accepted, sized to fit a
	// version 40 QR code in byte mode.
	MaxEncodedLen = 2048
	// MaxRecordLen bounds the canonical record carried by a full payload
	// after decompression.
	MaxRecordLen = 4096

	frameMagic   byte = 'S'
	frameVersion byte = 1

	flagFull byte = 1 << 0
	flagZstd byte = 1 << 1

	maxFieldLen = MaxEncodedLen
)

// Mode selects what a payload carries.
type Mode uint8

const (
	// ModeCompact carries the fingerprint and signature only; the verifier
	// fetches the record by fingerprint.
	ModeCompact Mode = iota
	// ModeFull also carries the canonical record.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "compact"
}

// ParseMode accepts "compact" or "full"; empty means compact.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "compact":
		return ModeCompact, nil
	case "full":
		return ModeFull, nil
	default:
		return 0, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported payload mode %q", value))
	}
}

// Payload is the decoded content of an encoded credential.
type Payload struct {
	Mode        Mode
	Issuer      models.IssuerID
	Fingerprint models.Fingerprint
	Signature   models.Signature
	// Record is set only for ModeFull.
	Record models.Record
}

var algorithmIDs = map[models.SignatureAlgorithm]byte{
	models.AlgorithmRS256: 1,
	models.AlgorithmES256: 2,
	models.AlgorithmEdDSA: 3,
}

func algorithmFromID(id byte) (models.SignatureAlgorithm, bool) {
	for alg, v := range algorithmIDs {
		if v == id {
			return alg, true
		}
	}
	return "", false
}

// Encode serializes p into its text form.
func Encode(p Payload) (string, error) {
	if p.Issuer.IsNil() {
		return "", invalidInput("issuer is required")
	}
	if !p.Fingerprint.Version.IsValid() {
		return "", invalidInput("unsupported hash version")
	}
	digest, err := p.Fingerprint.Bytes()
	if err != nil || len(digest) != p.Fingerprint.Version.DigestSize() {
		return "", invalidInput("fingerprint is not a valid digest")
	}
	algID, ok := algorithmIDs[p.Signature.Algorithm]
	if !ok {
		return "", invalidInput("unsupported signature algorithm")
	}
	sig, err := base64.StdEncoding.DecodeString(p.Signature.Value)
	if err != nil || len(sig) == 0 {
		return "", invalidInput("signature is not valid base64")
	}

	var flags byte
	var record []byte
	if p.Mode == ModeFull {
		fp, form, err := fingerprint.Of(p.Fingerprint.Version, p.Record)
		if err != nil {
			return "", err
		}
		if !fingerprint.Equal(fp, p.Fingerprint) {
			return "", invalidInput("record does not match fingerprint")
		}
		if len(form) > MaxRecordLen {
			return "", invalidInput("record is too large for a full payload")
		}
		flags |= flagFull
		record = form
		if compressed := compress(form); len(compressed) < len(form) {
			flags |= flagZstd
			record = compressed
		}
	}

	buf := make([]byte, 0, 128+len(record))
	buf = append(buf, frameMagic, frameVersion, flags, byte(p.Fingerprint.Version), algID)
	buf = appendField(buf, digest)
	buf = appendField(buf, []byte(p.Issuer))
	buf = appendField(buf, []byte(p.Signature.KeyID))
	buf = appendField(buf, sig)
	if flags&flagFull != 0 {
		buf = appendField(buf, record)
	}

	encoded, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		return "", fmt.Errorf("multibase encode: %w", err)
	}
	if len(encoded) > MaxEncodedLen {
		return "", invalidInput(fmt.Sprintf("encoded payload exceeds %d characters", MaxEncodedLen))
	}
	return encoded, nil
}

// Decode parses a text payload. Every structural check runs here, before any
// cryptographic work, and failures are reported as malformed payloads.
func Decode(s string) (*Payload, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, malformed("payload is empty")
	}
	if len(s) > MaxEncodedLen {
		return nil, malformed("payload is too long")
	}
	_, frame, err := multibase.Decode(s)
	if err != nil {
		return nil, malformed("payload is not valid multibase")
	}

	r := &reader{buf: frame}
	header, ok := r.take(5)
	if !ok {
		return nil, malformed("payload header is truncated")
	}
	if header[0] != frameMagic {
		return nil, malformed("payload has wrong magic byte")
	}
	if header[1] != frameVersion {
		return nil, malformed("unsupported payload format version")
	}
	flags := header[2]
	if flags&^(flagFull|flagZstd) != 0 || (flags&flagZstd != 0 && flags&flagFull == 0) {
		return nil, malformed("payload has unknown flags")
	}
	version := models.HashVersion(header[3])
	if !version.IsValid() {
		return nil, malformed("unsupported hash version")
	}
	alg, ok := algorithmFromID(header[4])
	if !ok {
		return nil, malformed("unsupported signature algorithm")
	}

	digest, err := r.field()
	if err != nil {
		return nil, err
	}
	fp, err := models.FingerprintFromDigest(version, digest)
	if err != nil {
		return nil, malformed("digest length does not match hash version")
	}
	issuerRaw, err := r.field()
	if err != nil {
		return nil, err
	}
	issuer, err := models.ParseIssuerID(string(issuerRaw))
	if err != nil {
		return nil, malformed("payload issuer is invalid")
	}
	keyIDRaw, err := r.field()
	if err != nil {
		return nil, err
	}
	keyID, err := models.ParseKeyID(string(keyIDRaw))
	if err != nil {
		return nil, malformed("payload key id is invalid")
	}
	sig, err := r.field()
	if err != nil {
		return nil, err
	}
	if len(sig) == 0 {
		return nil, malformed("payload signature is empty")
	}

	p := &Payload{
		Mode:        ModeCompact,
		Issuer:      issuer,
		Fingerprint: fp,
		Signature: models.Signature{
			Algorithm: alg,
			KeyID:     keyID,
			Value:     base64.StdEncoding.EncodeToString(sig),
		},
	}

	if flags&flagFull != 0 {
		raw, err := r.field()
		if err != nil {
			return nil, err
		}
		if flags&flagZstd != 0 {
			if raw, err = decompress(raw); err != nil {
				return nil, malformed("payload record failed to decompress")
			}
		}
		if len(raw) > MaxRecordLen {
			return nil, malformed("payload record is too large")
		}
		record, err := canonical.Parse(raw)
		if err != nil {
			return nil, malformed("payload record is not canonical")
		}
		p.Mode = ModeFull
		p.Record = record
	}

	if r.remaining() != 0 {
		return nil, malformed("trailing bytes after payload")
	}
	return p, nil
}

func appendField(dst, field []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(field)))
	return append(dst, field...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) take(n int) ([]byte, bool) {
	if n < 0 || n > r.remaining() {
		return nil, false
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, true
}

func (r *reader) field() ([]byte, error) {
	n, size := binary.Uvarint(r.buf[r.pos:])
	if size <= 0 {
		return nil, malformed("payload field length is invalid")
	}
	r.pos += size
	if n > maxFieldLen {
		return nil, malformed("payload field is too long")
	}
	out, ok := r.take(int(n))
	if !ok {
		return nil, malformed("payload field is truncated")
	}
	return bytes.Clone(out), nil
}

func invalidInput(msg string) error {
	return dErrors.New(dErrors.CodeInvalidInput, msg)
}

func malformed(msg string) error {
	return dErrors.New(dErrors.CodeMalformedPayload, msg)
}
