package store

import (
	"context"
	"database/sql"
	"fmt"
)

// APIKeyStore persists tenant API keys for Control API authentication.
type APIKeyStore struct {
	db *sql.DB
}

// APIKeys returns the API key sub-store.
func (s *Store) APIKeys() *APIKeyStore { return &APIKeyStore{db: s.db} }

// APIKeyRecord is a persisted tenant API key.
type APIKeyRecord struct {
	Fingerprint string
	Hash        string
	TenantID    string
	Label       string
}

// Create persists a newly minted API key.
func (s *APIKeyStore) Create(ctx context.Context, fingerprint, hash, tenantID, label string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_api_keys (key_fingerprint, key_hash, tenant_id, label)
		VALUES ($1, $2, $3, $4)`,
		fingerprint, hash, tenantID, label,
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

// GetByFingerprint looks up a non-revoked API key by its lookup
// fingerprint; ErrNotFound covers both "never existed" and "revoked" so
// callers can't distinguish the two from timing or error shape.
func (s *APIKeyStore) GetByFingerprint(ctx context.Context, fingerprint string) (*APIKeyRecord, error) {
	var rec APIKeyRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT key_fingerprint, key_hash, tenant_id, label
		FROM tenant_api_keys WHERE key_fingerprint = $1 AND revoked_at IS NULL`,
		fingerprint,
	).Scan(&rec.Fingerprint, &rec.Hash, &rec.TenantID, &rec.Label)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return &rec, nil
}

// Revoke disables an API key so GetByFingerprint no longer returns it.
func (s *APIKeyStore) Revoke(ctx context.Context, fingerprint string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenant_api_keys SET revoked_at = NOW()
		WHERE key_fingerprint = $1 AND revoked_at IS NULL`,
		fingerprint,
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking revoke result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
