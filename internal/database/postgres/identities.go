package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

const identityColumns = `identity_id, display_name, external_ref, normalized_name, embedding, model, dim,
		       registered_at, updated_at`

// IdentityRepository provides PostgreSQL-backed storage of registered faces.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// GetIdentity retrieves an identity by id, returns nil if not found.
func (r *IdentityRepository) GetIdentity(ctx context.Context, identityID string) (*database.StoredIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE identity_id = $1`

	identity, err := scanIdentity(r.pool.QueryRow(ctx, query, identityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

// ListIdentities returns all registered faces in registration order.
func (r *IdentityRepository) ListIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE dim > 0
		ORDER BY registered_at, identity_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// FindIdentitiesByName matches on the normalized display name.
// Rows written before normalized_name existed are matched with unaccent.
func (r *IdentityRepository) FindIdentitiesByName(ctx context.Context, name string) ([]database.StoredIdentity, error) {
	normalizedInput := facematch.NormalizePersonName(name)

	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE normalized_name = $1
		   OR (normalized_name = '' AND LOWER(REPLACE(unaccent(display_name), '-', ' ')) = $1)
		ORDER BY registered_at, identity_id
	`

	rows, err := r.pool.Query(ctx, query, normalizedInput)
	if err != nil {
		return nil, fmt.Errorf("query identities by name: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// CountIdentities returns the number of registered faces.
func (r *IdentityRepository) CountIdentities(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// RegistryVersion returns the count and latest updated_at of the listed identities.
func (r *IdentityRepository) RegistryVersion(ctx context.Context) (database.RegistryVersion, error) {
	var version database.RegistryVersion
	var lastChange sql.NullTime
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), MAX(updated_at) FROM identities WHERE dim > 0").
		Scan(&version.Count, &lastChange)
	if err != nil {
		return database.RegistryVersion{}, fmt.Errorf("registry version: %w", err)
	}
	if lastChange.Valid {
		version.LastChange = lastChange.Time
	}
	return version, nil
}

// SaveIdentity inserts an identity or replaces its embedding. The first
// registered_at is kept on conflict.
func (r *IdentityRepository) SaveIdentity(ctx context.Context, identity database.StoredIdentity) error {
	if identity.NormalizedName == "" {
		identity.NormalizedName = facematch.NormalizePersonName(identity.DisplayName)
	}
	vec := pgvector.NewVector(identity.Embedding)

	query := `
		INSERT INTO identities (identity_id, display_name, external_ref, normalized_name, embedding, model, dim,
		                        registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), NOW())
		ON CONFLICT (identity_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			external_ref = EXCLUDED.external_ref,
			normalized_name = EXCLUDED.normalized_name,
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			dim = EXCLUDED.dim,
			updated_at = NOW()
	`

	var registeredAt sql.NullTime
	if !identity.RegisteredAt.IsZero() {
		registeredAt = sql.NullTime{Time: identity.RegisteredAt, Valid: true}
	}

	_, err := r.pool.Exec(ctx, query,
		identity.IdentityID,
		identity.DisplayName,
		identity.ExternalRef,
		identity.NormalizedName,
		vec,
		identity.Model,
		len(identity.Embedding),
		registeredAt,
	)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// DeleteIdentity removes the registered face of an identity.
func (r *IdentityRepository) DeleteIdentity(ctx context.Context, identityID string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE identity_id = $1", identityID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*database.StoredIdentity, error) {
	var identity database.StoredIdentity
	var vec pgvector.Vector
	err := row.Scan(
		&identity.IdentityID,
		&identity.DisplayName,
		&identity.ExternalRef,
		&identity.NormalizedName,
		&vec,
		&identity.Model,
		&identity.Dim,
		&identity.RegisteredAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	identity.Embedding = vec.Slice()
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
