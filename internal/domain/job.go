package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

var outputFormats = map[string]bool{
	"":     true,
	"png":  true,
	"jpeg": true,
	"jpg":  true,
	"bmp":  true,
	"tiff": true,
	"tif":  true,
	"webp": true,
}

type CreateJobRequest struct {
	SourceType string `json:"source_type"`
	WebhookURL string `json:"webhook_url,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Recipe     Recipe `json:"recipe"`
	Format     string `json:"format,omitempty"`
	Quality    int    `json:"quality,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Recipe     Recipe
	Format     string
	Quality    int
	ObjectKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the request shape and resolves the recipe, so a malformed
// preset is rejected before a job exists.
func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if !outputFormats[strings.ToLower(strings.TrimSpace(r.Format))] {
		return fmt.Errorf("unsupported format: %s", r.Format)
	}
	if r.Quality < 0 || r.Quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100, got %d", r.Quality)
	}
	if _, err := r.Recipe.Algorithms(); err != nil {
		return fmt.Errorf("recipe: %w", err)
	}
	return nil
}
