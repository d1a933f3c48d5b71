package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// SaveArtifact stores the blob, its content type, and its digest. Two puts
// to the same id overwrite.
func (r *Repository) SaveArtifact(ctx context.Context, artifact domain.Artifact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (artifact_id, content_type, data, sha256, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (artifact_id) DO UPDATE SET
			content_type = excluded.content_type,
			data         = excluded.data,
			sha256       = excluded.sha256,
			created_at   = excluded.created_at`,
		string(artifact.ID), artifact.ContentType, artifact.Data,
		artifact.SHA256, artifact.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert artifact %s: %w", artifact.ID, err)
	}
	return nil
}

// GetArtifact returns the raw stored record. Checksum verification is the
// service layer's job; this layer only reports what is on disk.
func (r *Repository) GetArtifact(ctx context.Context, id domain.ArtifactID) (domain.Artifact, error) {
	artifact := domain.Artifact{ID: id}
	err := r.db.QueryRowContext(ctx, `
		SELECT content_type, data, sha256, created_at
		FROM artifacts WHERE artifact_id = ?`, string(id)).
		Scan(&artifact.ContentType, &artifact.Data, &artifact.SHA256, &artifact.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Artifact{}, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return artifact, nil
}
