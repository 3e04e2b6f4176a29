package grants

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStoreTest(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db), mock
}

func TestHasGrant(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM grants").
		WithArgs("install-3", "markdown-tools").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	granted, err := store.HasGrant(context.Background(), "install-3", "markdown-tools")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestHasGrant_Absent(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM grants").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	granted, err := store.HasGrant(context.Background(), "install-3", "other")
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestGrant(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectExec("INSERT INTO grants").
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, store.Grant(context.Background(), "install-3", "markdown-tools"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevoke_NotFound(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectExec("DELETE FROM grants").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Revoke(context.Background(), "install-3", "never-granted")
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestListByPrincipal(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectQuery("SELECT principal_id, resource_id, granted_at FROM grants").
		WithArgs("install-3").
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "resource_id", "granted_at"}).
			AddRow("install-3", "markdown-tools", time.Now()).
			AddRow("install-3", "theme-pack", time.Now()))

	grants, err := store.ListByPrincipal(context.Background(), "install-3")
	require.NoError(t, err)
	assert.Len(t, grants, 2)
	assert.Equal(t, "markdown-tools", grants[0].ResourceID)
}

type memoryStore struct {
	grants map[string]bool
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{grants: map[string]bool{}}
}

func (m *memoryStore) key(p, r string) string { return p + "/" + r }

func (m *memoryStore) HasGrant(ctx context.Context, p, r string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.grants[m.key(p, r)], nil
}

func (m *memoryStore) Grant(ctx context.Context, p, r string) error {
	if m.err != nil {
		return m.err
	}
	m.grants[m.key(p, r)] = true
	return nil
}

func (m *memoryStore) Revoke(ctx context.Context, p, r string) error {
	if !m.grants[m.key(p, r)] {
		return ErrGrantNotFound
	}
	delete(m.grants, m.key(p, r))
	return nil
}

func (m *memoryStore) ListByPrincipal(ctx context.Context, p string) ([]Grant, error) {
	return nil, nil
}

func TestSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	seed := `grants:
  - principal: install-3
    resource: markdown-tools
  - principal: install-7
    resource: theme-pack
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0644))

	store := newMemoryStore()
	n, err := SeedFromFile(context.Background(), store, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	granted, err := store.HasGrant(context.Background(), "install-3", "markdown-tools")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestSeedFromFile_InvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grants:\n  - principal: only-principal\n"), 0644))

	_, err := SeedFromFile(context.Background(), newMemoryStore(), path)
	assert.Error(t, err)
}

func TestSeedFromFile_MissingFile(t *testing.T) {
	_, err := SeedFromFile(context.Background(), newMemoryStore(), "/nonexistent/grants.yaml")
	assert.Error(t, err)
}
