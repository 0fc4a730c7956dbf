package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sumbandila/internal/credential/canonical"
	"sumbandila/internal/credential/fingerprint"
	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/registry/models"
	"sumbandila/pkg/platform/sentinel"
)

// Postgres persists the registry in PostgreSQL. Read paths serve the
// verifier; RegisterKey, Revoke and PutRecord are driven by the sync worker.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgres constructs a PostgreSQL-backed registry.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

func (s *Postgres) RegisterKey(ctx context.Context, issuer credential.IssuerID, pub *signing.PublicKey) error {
	if issuer.IsNil() || pub == nil || pub.KeyID() == "" {
		return sentinel.ErrInvalidInput
	}
	entry, err := models.NewIssuerKey(issuer, pub, s.now())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin register key", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT public_key_pem FROM issuer_keys WHERE issuer = $1 AND key_id = $2
	`, issuer.String(), entry.KeyID.String()).Scan(&existing)
	switch {
	case err == nil:
		if existing == string(entry.PublicKeyPEM) {
			return nil
		}
		return sentinel.ErrInvalidInput
	case !errors.Is(err, sql.ErrNoRows):
		return unavailable("find issuer key", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE issuer_keys SET retired_at = $2 WHERE issuer = $1 AND retired_at IS NULL
	`, issuer.String(), entry.RegisteredAt); err != nil {
		return unavailable("retire issuer key", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO issuer_keys (issuer, key_id, algorithm, public_key_pem, registered_at)
		VALUES ($1, $2, $3, $4, $5)
	`, issuer.String(), entry.KeyID.String(), string(entry.Algorithm), string(entry.PublicKeyPEM), entry.RegisteredAt); err != nil {
		return unavailable("insert issuer key", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit register key", err)
	}
	return nil
}

func (s *Postgres) ResolvePublicKey(ctx context.Context, issuer credential.IssuerID, keyID credential.KeyID) (*signing.PublicKey, error) {
	query := `
		SELECT issuer, key_id, algorithm, public_key_pem, registered_at, retired_at
		FROM issuer_keys
		WHERE issuer = $1 AND key_id = $2
	`
	args := []any{issuer.String(), keyID.String()}
	if keyID == "" {
		query = `
			SELECT issuer, key_id, algorithm, public_key_pem, registered_at, retired_at
			FROM issuer_keys
			WHERE issuer = $1 AND retired_at IS NULL
		`
		args = args[:1]
	}
	key, err := scanIssuerKey(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, unavailable("resolve issuer key", err)
	}
	return key.PublicKey()
}

// ListKeys returns an issuer's key history, oldest first.
func (s *Postgres) ListKeys(ctx context.Context, issuer credential.IssuerID) ([]models.IssuerKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issuer, key_id, algorithm, public_key_pem, registered_at, retired_at
		FROM issuer_keys
		WHERE issuer = $1
		ORDER BY registered_at, key_id
	`, issuer.String())
	if err != nil {
		return nil, unavailable("list issuer keys", err)
	}
	defer rows.Close()

	var keys []models.IssuerKey
	for rows.Next() {
		key, err := scanIssuerKey(rows)
		if err != nil {
			return nil, unavailable("scan issuer key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate issuer keys", err)
	}
	if len(keys) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return keys, nil
}

// Revoke records a revocation. Revoking twice keeps the first revocation.
func (s *Postgres) Revoke(ctx context.Context, rev models.Revocation) error {
	if rev.Fingerprint.IsZero() {
		return sentinel.ErrInvalidInput
	}
	if rev.RevokedAt.IsZero() {
		rev.RevokedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_credentials (fingerprint, issuer, reason, revoked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO NOTHING
	`, rev.Fingerprint.Tagged(), rev.Issuer.String(), rev.Reason, rev.RevokedAt)
	if err != nil {
		return unavailable("revoke credential", err)
	}
	return nil
}

func (s *Postgres) IsRevoked(ctx context.Context, fp credential.Fingerprint) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM revoked_credentials WHERE fingerprint = $1)
	`, fp.Tagged()).Scan(&revoked)
	if err != nil {
		return false, unavailable("check revocation", err)
	}
	return revoked, nil
}

// PutRecord stores the canonical form of record under fp.
func (s *Postgres) PutRecord(ctx context.Context, fp credential.Fingerprint, record credential.Record) error {
	if fp.IsZero() || record == nil {
		return sentinel.ErrInvalidInput
	}
	form, err := canonical.Canonicalize(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credential_records (fingerprint, canonical_form, stored_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO NOTHING
	`, fp.Tagged(), []byte(form), s.now())
	if err != nil {
		return unavailable("store credential record", err)
	}
	return nil
}

// FindRecord loads the record behind fp. A stored row whose content no
// longer hashes to fp is reported as unavailable rather than returned.
func (s *Postgres) FindRecord(ctx context.Context, fp credential.Fingerprint) (credential.Record, error) {
	var form []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT canonical_form FROM credential_records WHERE fingerprint = $1
	`, fp.Tagged()).Scan(&form)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, unavailable("find credential record", err)
	}
	got, err := fingerprint.Compute(fp.Version, form)
	if err != nil || !fingerprint.Equal(got, fp) {
		return nil, unavailable("find credential record", errors.New("stored record does not match fingerprint"))
	}
	record, err := canonical.Parse(form)
	if err != nil {
		return nil, unavailable("parse credential record", err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssuerKey(row rowScanner) (models.IssuerKey, error) {
	var (
		key       models.IssuerKey
		issuer    string
		keyID     string
		algorithm string
		pemText   string
		retiredAt sql.NullTime
	)
	if err := row.Scan(&issuer, &keyID, &algorithm, &pemText, &key.RegisteredAt, &retiredAt); err != nil {
		return models.IssuerKey{}, err
	}
	key.Issuer = credential.IssuerID(issuer)
	key.KeyID = credential.KeyID(keyID)
	key.Algorithm = credential.SignatureAlgorithm(algorithm)
	key.PublicKeyPEM = []byte(pemText)
	if retiredAt.Valid {
		t := retiredAt.Time
		key.RetiredAt = &t
	}
	return key, nil
}
