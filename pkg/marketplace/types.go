package marketplace

import (
	"time"
)

// Plugin represents a plugin in the marketplace catalog
type Plugin struct {
	ID            string     `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	PublisherID   string     `json:"publisher_id" db:"publisher_id"`
	License       string     `json:"license" db:"license"`
	Homepage      string     `json:"homepage" db:"homepage"`
	Repository    string     `json:"repository" db:"repository"`
	Category      string     `json:"category" db:"category"`
	Enabled       bool       `json:"enabled" db:"enabled"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	DownloadCount int64      `json:"download_count" db:"download_count"`
	LatestVersion string     `json:"latest_version,omitempty"`
	AvgRating     float64    `json:"avg_rating,omitempty"`
	ReviewCount   int64      `json:"review_count,omitempty"`
}

// PluginVersion represents a specific published version of a plugin
type PluginVersion struct {
	ID          int64     `json:"id" db:"id"`
	PluginID    string    `json:"plugin_id" db:"plugin_id"`
	Version     string    `json:"version" db:"version"`
	APIVersion  string    `json:"api_version" db:"api_version"`
	ArchiveKey  string    `json:"archive_key" db:"archive_key"`
	DownloadURL string    `json:"download_url" db:"download_url"`
	Checksum    string    `json:"checksum" db:"checksum"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	Downloads   int64     `json:"downloads" db:"downloads"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// PluginReview represents a user review and rating
type PluginReview struct {
	ID        int64     `json:"id" db:"id"`
	PluginID  string    `json:"plugin_id" db:"plugin_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Rating    int       `json:"rating" db:"rating"`
	Review    string    `json:"review" db:"review"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ListRequest filters and pages the plugin catalog
type ListRequest struct {
	Category  string `json:"category"`
	Search    string `json:"search"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	SortBy    string `json:"sort_by"`    // downloads, rating, created_at
	SortOrder string `json:"sort_order"` // asc, desc
}

// ListResponse is a page of the plugin catalog
type ListResponse struct {
	Plugins []Plugin `json:"plugins"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// SubmitRequest publishes a new plugin version. The first submission
// for an ID creates the catalog entry.
type SubmitRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	License     string `json:"license"`
	Homepage    string `json:"homepage"`
	Repository  string `json:"repository"`
	Category    string `json:"category"`
	Version     string `json:"version"`
	APIVersion  string `json:"api_version"`
	ArchiveData []byte `json:"archive_data"`
}

// ReviewRequest submits or replaces the caller's review of a plugin
type ReviewRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

// Stats aggregates a plugin's usage figures
type Stats struct {
	PluginID       string       `json:"plugin_id"`
	TotalDownloads int64        `json:"total_downloads"`
	AvgRating      float64      `json:"avg_rating"`
	ReviewCount    int64        `json:"review_count"`
	DailyStats     []StatsDaily `json:"daily_stats,omitempty"`
}

// StatsDaily is one day of rolled-up plugin statistics
type StatsDaily struct {
	PluginID    string    `json:"plugin_id" db:"plugin_id"`
	Date        time.Time `json:"date" db:"date"`
	Downloads   int64     `json:"downloads" db:"downloads"`
	AvgRating   float64   `json:"avg_rating" db:"avg_rating"`
	ReviewCount int64     `json:"review_count" db:"review_count"`
}
