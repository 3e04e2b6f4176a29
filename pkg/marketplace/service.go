// Package marketplace implements the plugin catalog: listing,
// publishing, downloads, reviews, and per-plugin statistics.
package marketplace

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPluginNotFound is returned when a plugin ID has no catalog entry
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrVersionNotFound is returned when a plugin has no such version
	ErrVersionNotFound = errors.New("plugin version not found")
	// ErrNotOwner is returned when a publisher submits to a plugin
	// owned by someone else
	ErrNotOwner = errors.New("plugin is owned by another publisher")
	// ErrVersionExists is returned when a version is republished
	ErrVersionExists = errors.New("plugin version already exists")
	// ErrInvalidRating is returned for ratings outside 1..5
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// ArchiveStore persists plugin archives and returns their download URL
type ArchiveStore interface {
	Store(ctx context.Context, key string, data []byte) (string, error)
}

// Service provides marketplace operations
type Service struct {
	db       *sql.DB
	archives ArchiveStore
}

// NewService creates a new marketplace service
func NewService(db *sql.DB, archives ArchiveStore) *Service {
	return &Service{db: db, archives: archives}
}

// ListPlugins lists enabled plugins with optional filters
func (s *Service) ListPlugins(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	query := `
		SELECT
			p.id, p.name, p.description, p.publisher_id, p.license, p.homepage,
			p.repository, p.category, p.enabled, p.created_at, p.updated_at,
			p.verified_at, p.download_count,
			COALESCE((SELECT version FROM plugin_versions WHERE plugin_id = p.id ORDER BY created_at DESC LIMIT 1), '') as latest_version,
			COALESCE(AVG(r.rating), 0) as avg_rating,
			COUNT(DISTINCT r.id) as review_count
		FROM plugins p
		LEFT JOIN plugin_reviews r ON p.id = r.plugin_id
		WHERE p.enabled = TRUE
	`

	args := []interface{}{}
	argCount := 1

	if req.Category != "" {
		query += fmt.Sprintf(" AND p.category = $%d", argCount)
		args = append(args, req.Category)
		argCount++
	}

	if req.Search != "" {
		query += fmt.Sprintf(" AND (p.name LIKE $%d OR p.description LIKE $%d)", argCount, argCount+1)
		pattern := "%" + req.Search + "%"
		args = append(args, pattern, pattern)
		argCount += 2
	}

	query += " GROUP BY p.id"

	sortBy := "p.created_at"
	switch req.SortBy {
	case "downloads":
		sortBy = "p.download_count"
	case "rating":
		sortBy = "avg_rating"
	}
	sortOrder := "DESC"
	if req.SortOrder == "asc" {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 100 {
		req.Limit = 100
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plugins: %w", err)
	}
	defer rows.Close()

	var plugins []Plugin
	for rows.Next() {
		var p Plugin
		err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.PublisherID, &p.License, &p.Homepage,
			&p.Repository, &p.Category, &p.Enabled, &p.CreatedAt, &p.UpdatedAt,
			&p.VerifiedAt, &p.DownloadCount,
			&p.LatestVersion, &p.AvgRating, &p.ReviewCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin: %w", err)
		}
		plugins = append(plugins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plugins: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM plugins WHERE enabled = TRUE"
	countArgs := []interface{}{}
	if req.Category != "" {
		countQuery += " AND category = $1"
		countArgs = append(countArgs, req.Category)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count plugins: %w", err)
	}

	return &ListResponse{
		Plugins: plugins,
		Total:   total,
		Limit:   req.Limit,
		Offset:  req.Offset,
	}, nil
}

// GetPlugin fetches a single plugin with its aggregates
func (s *Service) GetPlugin(ctx context.Context, id string) (*Plugin, error) {
	query := `
		SELECT
			p.id, p.name, p.description, p.publisher_id, p.license, p.homepage,
			p.repository, p.category, p.enabled, p.created_at, p.updated_at,
			p.verified_at, p.download_count,
			COALESCE((SELECT version FROM plugin_versions WHERE plugin_id = p.id ORDER BY created_at DESC LIMIT 1), '') as latest_version,
			COALESCE(AVG(r.rating), 0) as avg_rating,
			COUNT(DISTINCT r.id) as review_count
		FROM plugins p
		LEFT JOIN plugin_reviews r ON p.id = r.plugin_id
		WHERE p.id = $1
		GROUP BY p.id
	`

	var p Plugin
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.PublisherID, &p.License, &p.Homepage,
		&p.Repository, &p.Category, &p.Enabled, &p.CreatedAt, &p.UpdatedAt,
		&p.VerifiedAt, &p.DownloadCount,
		&p.LatestVersion, &p.AvgRating, &p.ReviewCount,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPluginNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plugin: %w", err)
	}
	return &p, nil
}

// ListVersions returns a plugin's published versions, newest first
func (s *Service) ListVersions(ctx context.Context, pluginID string) ([]PluginVersion, error) {
	if _, err := s.GetPlugin(ctx, pluginID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, plugin_id, version, api_version, archive_key, download_url,
			checksum, size_bytes, downloads, created_at
		FROM plugin_versions
		WHERE plugin_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, pluginID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []PluginVersion
	for rows.Next() {
		var v PluginVersion
		if err := rows.Scan(&v.ID, &v.PluginID, &v.Version, &v.APIVersion, &v.ArchiveKey,
			&v.DownloadURL, &v.Checksum, &v.SizeBytes, &v.Downloads, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetVersion fetches one published version
func (s *Service) GetVersion(ctx context.Context, pluginID, version string) (*PluginVersion, error) {
	query := `
		SELECT id, plugin_id, version, api_version, archive_key, download_url,
			checksum, size_bytes, downloads, created_at
		FROM plugin_versions
		WHERE plugin_id = $1 AND version = $2
	`
	var v PluginVersion
	err := s.db.QueryRowContext(ctx, query, pluginID, version).Scan(
		&v.ID, &v.PluginID, &v.Version, &v.APIVersion, &v.ArchiveKey,
		&v.DownloadURL, &v.Checksum, &v.SizeBytes, &v.Downloads, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return &v, nil
}

// SubmitVersion publishes a plugin version on behalf of a publisher.
// The first submission for a plugin ID claims it; later submissions
// must come from the same publisher.
func (s *Service) SubmitVersion(ctx context.Context, publisherID string, req *SubmitRequest) (*PluginVersion, error) {
	if req.ID == "" || req.Name == "" || req.Version == "" {
		return nil, errors.New("id, name and version are required")
	}
	if len(req.ArchiveData) == 0 {
		return nil, errors.New("archive data is required")
	}

	var ownerID string
	err := s.db.QueryRowContext(ctx, "SELECT publisher_id FROM plugins WHERE id = $1", req.ID).Scan(&ownerID)
	switch {
	case err == sql.ErrNoRows:
		// new plugin, claimed below
	case err != nil:
		return nil, fmt.Errorf("failed to look up plugin: %w", err)
	case ownerID != publisherID:
		return nil, ErrNotOwner
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM plugin_versions WHERE plugin_id = $1 AND version = $2",
		req.ID, req.Version).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check version: %w", err)
	}
	if exists > 0 {
		return nil, ErrVersionExists
	}

	sum := sha256.Sum256(req.ArchiveData)
	checksum := hex.EncodeToString(sum[:])
	archiveKey := fmt.Sprintf("%s/%s.tar.gz", req.ID, req.Version)

	downloadURL, err := s.archives.Store(ctx, archiveKey, req.ArchiveData)
	if err != nil {
		return nil, fmt.Errorf("failed to store archive: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if ownerID == "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plugins (id, name, description, publisher_id, license, homepage,
				repository, category, enabled, created_at, updated_at, download_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $9, 0)`,
			req.ID, req.Name, req.Description, publisherID, req.License,
			req.Homepage, req.Repository, req.Category, now)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE plugins SET name = $2, description = $3, license = $4, homepage = $5,
				repository = $6, category = $7, updated_at = $8
			WHERE id = $1`,
			req.ID, req.Name, req.Description, req.License, req.Homepage,
			req.Repository, req.Category, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert plugin: %w", err)
	}

	var versionID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO plugin_versions (plugin_id, version, api_version, archive_key,
			download_url, checksum, size_bytes, downloads, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		RETURNING id`,
		req.ID, req.Version, req.APIVersion, archiveKey, downloadURL,
		checksum, int64(len(req.ArchiveData)), now).Scan(&versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit submission: %w", err)
	}

	return &PluginVersion{
		ID:          versionID,
		PluginID:    req.ID,
		Version:     req.Version,
		APIVersion:  req.APIVersion,
		ArchiveKey:  archiveKey,
		DownloadURL: downloadURL,
		Checksum:    checksum,
		SizeBytes:   int64(len(req.ArchiveData)),
		CreatedAt:   now,
	}, nil
}

// RecordDownload bumps download counters and logs the event for the
// daily rollup. Returns the version's download URL.
func (s *Service) RecordDownload(ctx context.Context, pluginID, version string) (string, error) {
	v, err := s.GetVersion(ctx, pluginID, version)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE plugins SET download_count = download_count + 1 WHERE id = $1", pluginID); err != nil {
		return "", fmt.Errorf("failed to bump plugin downloads: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE plugin_versions SET downloads = downloads + 1 WHERE id = $1", v.ID); err != nil {
		return "", fmt.Errorf("failed to bump version downloads: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO plugin_downloads (plugin_id, version, downloaded_at) VALUES ($1, $2, $3)",
		pluginID, version, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to log download: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit download: %w", err)
	}
	return v.DownloadURL, nil
}

// UpsertReview creates or replaces the user's review of a plugin
func (s *Service) UpsertReview(ctx context.Context, pluginID, userID string, req *ReviewRequest) (*PluginReview, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, ErrInvalidRating
	}
	if _, err := s.GetPlugin(ctx, pluginID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO plugin_reviews (plugin_id, user_id, rating, review, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (plugin_id, user_id)
		DO UPDATE SET rating = $3, review = $4, updated_at = $5
		RETURNING id`,
		pluginID, userID, req.Rating, req.Review, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert review: %w", err)
	}

	return &PluginReview{
		ID:        id,
		PluginID:  pluginID,
		UserID:    userID,
		Rating:    req.Rating,
		Review:    req.Review,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ListReviews returns a plugin's reviews, newest first
func (s *Service) ListReviews(ctx context.Context, pluginID string, limit, offset int) ([]PluginReview, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, plugin_id, user_id, rating, review, created_at, updated_at
		FROM plugin_reviews
		WHERE plugin_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, pluginID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []PluginReview
	for rows.Next() {
		var r PluginReview
		if err := rows.Scan(&r.ID, &r.PluginID, &r.UserID, &r.Rating, &r.Review,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// GetStats returns aggregate and daily statistics for a plugin
func (s *Service) GetStats(ctx context.Context, pluginID string, days int) (*Stats, error) {
	p, err := s.GetPlugin(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if days <= 0 || days > 90 {
		days = 30
	}

	stats := &Stats{
		PluginID:       pluginID,
		TotalDownloads: p.DownloadCount,
		AvgRating:      p.AvgRating,
		ReviewCount:    p.ReviewCount,
	}

	query := `
		SELECT plugin_id, date, downloads, avg_rating, review_count
		FROM plugin_stats_daily
		WHERE plugin_id = $1 AND date >= $2
		ORDER BY date ASC
	`
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, query, pluginID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d StatsDaily
		if err := rows.Scan(&d.PluginID, &d.Date, &d.Downloads, &d.AvgRating, &d.ReviewCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		stats.DailyStats = append(stats.DailyStats, d)
	}
	return stats, rows.Err()
}
