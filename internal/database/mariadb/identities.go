package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

// Embeddings are stored as a JSON list [e1, e2, ...] in a MEDIUMBLOB.

const identityColumns = `identity_id, display_name, external_ref, normalized_name, embedding_json, model, dim,
		       registered_at, updated_at`

// GetIdentity retrieves an identity by id, returns nil if not found
func (s *Store) GetIdentity(ctx context.Context, identityID string) (*database.StoredIdentity, error) {
	row := s.pool.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE identity_id = ?`, identityID)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

// ListIdentities returns all registered faces in registration order
func (s *Store) ListIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE dim > 0
		ORDER BY registered_at, identity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()
	return scanIdentities(rows)
}

// FindIdentitiesByName matches on the normalized display name
func (s *Store) FindIdentitiesByName(ctx context.Context, name string) ([]database.StoredIdentity, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE normalized_name = ?
		ORDER BY registered_at, identity_id
	`, facematch.NormalizePersonName(name))
	if err != nil {
		return nil, fmt.Errorf("query identities by name: %w", err)
	}
	defer rows.Close()
	return scanIdentities(rows)
}

// CountIdentities returns the number of registered faces
func (s *Store) CountIdentities(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// RegistryVersion returns the count and latest updated_at of the listed identities
func (s *Store) RegistryVersion(ctx context.Context) (database.RegistryVersion, error) {
	var version database.RegistryVersion
	var lastChange sql.NullTime
	err := s.pool.db.QueryRowContext(ctx, "SELECT COUNT(*), MAX(updated_at) FROM identities WHERE dim > 0").
		Scan(&version.Count, &lastChange)
	if err != nil {
		return database.RegistryVersion{}, fmt.Errorf("registry version: %w", err)
	}
	if lastChange.Valid {
		version.LastChange = lastChange.Time
	}
	return version, nil
}

// SaveIdentity inserts an identity or replaces its embedding, keeping registered_at
func (s *Store) SaveIdentity(ctx context.Context, identity database.StoredIdentity) error {
	data, err := json.Marshal(identity.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	if identity.NormalizedName == "" {
		identity.NormalizedName = facematch.NormalizePersonName(identity.DisplayName)
	}
	now := time.Now().UTC()
	registeredAt := identity.RegisteredAt.UTC()
	if identity.RegisteredAt.IsZero() {
		registeredAt = now
	}

	query := `
		INSERT INTO identities (identity_id, display_name, external_ref, normalized_name, embedding_json, model, dim,
		                        registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			display_name = VALUES(display_name),
			external_ref = VALUES(external_ref),
			normalized_name = VALUES(normalized_name),
			embedding_json = VALUES(embedding_json),
			model = VALUES(model),
			dim = VALUES(dim),
			updated_at = VALUES(updated_at)
	`
	_, err = s.pool.db.ExecContext(ctx, query,
		identity.IdentityID,
		identity.DisplayName,
		identity.ExternalRef,
		identity.NormalizedName,
		data,
		identity.Model,
		len(identity.Embedding),
		registeredAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// DeleteIdentity removes the registered face of an identity
func (s *Store) DeleteIdentity(ctx context.Context, identityID string) error {
	result, err := s.pool.db.ExecContext(ctx, "DELETE FROM identities WHERE identity_id = ?", identityID)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %s: %w", identityID, database.ErrNotFound)
	}
	return nil
}

func scanIdentity(row rowScanner) (*database.StoredIdentity, error) {
	var identity database.StoredIdentity
	var data []byte
	err := row.Scan(
		&identity.IdentityID,
		&identity.DisplayName,
		&identity.ExternalRef,
		&identity.NormalizedName,
		&data,
		&identity.Model,
		&identity.Dim,
		&identity.RegisteredAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &identity.Embedding); err != nil {
		return nil, fmt.Errorf("unmarshal embedding of %s: %w", identity.IdentityID, err)
	}
	return &identity, nil
}

func scanIdentities(rows *sql.Rows) ([]database.StoredIdentity, error) {
	var identities []database.StoredIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}
