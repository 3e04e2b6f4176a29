// Package grants implements the entitlement authority: a store of
// (principal, resource) grants and the HTTP surface the gateway's
// authorization pipeline queries.
package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrGrantNotFound is returned when a grant does not exist
var ErrGrantNotFound = errors.New("grant not found")

// Grant entitles a principal to a resource
type Grant struct {
	PrincipalID string    `json:"principal_id" db:"principal_id" yaml:"principal"`
	ResourceID  string    `json:"resource_id" db:"resource_id" yaml:"resource"`
	GrantedAt   time.Time `json:"granted_at" db:"granted_at" yaml:"-"`
}

// Store persists grants
type Store interface {
	HasGrant(ctx context.Context, principalID, resourceID string) (bool, error)
	Grant(ctx context.Context, principalID, resourceID string) error
	Revoke(ctx context.Context, principalID, resourceID string) error
	ListByPrincipal(ctx context.Context, principalID string) ([]Grant, error)
}

// SQLStore is the database-backed grant store
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a grant store on an existing database handle
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// HasGrant reports whether the principal is entitled to the resource
func (s *SQLStore) HasGrant(ctx context.Context, principalID, resourceID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM grants WHERE principal_id = $1 AND resource_id = $2",
		principalID, resourceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return count > 0, nil
}

// Grant entitles a principal to a resource. Granting twice is a no-op.
func (s *SQLStore) Grant(ctx context.Context, principalID, resourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (principal_id, resource_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id, resource_id) DO NOTHING`,
		principalID, resourceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record grant: %w", err)
	}
	return nil
}

// Revoke removes a grant
func (s *SQLStore) Revoke(ctx context.Context, principalID, resourceID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM grants WHERE principal_id = $1 AND resource_id = $2",
		principalID, resourceID)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// ListByPrincipal returns all of a principal's grants
func (s *SQLStore) ListByPrincipal(ctx context.Context, principalID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT principal_id, resource_id, granted_at FROM grants WHERE principal_id = $1 ORDER BY granted_at",
		principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.PrincipalID, &g.ResourceID, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// seedFile is the YAML shape for bootstrap grants
type seedFile struct {
	Grants []Grant `yaml:"grants"`
}

// SeedFromFile loads bootstrap grants from a YAML file. Existing
// grants are left untouched.
func SeedFromFile(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, g := range seed.Grants {
		if g.PrincipalID == "" || g.ResourceID == "" {
			return 0, fmt.Errorf("seed grant %d is missing principal or resource", i)
		}
		if err := store.Grant(ctx, g.PrincipalID, g.ResourceID); err != nil {
			return 0, err
		}
	}
	return len(seed.Grants), nil
}
