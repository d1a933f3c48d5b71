package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// ArtifactRepository is the minimal persistence interface needed by Artifacts.
type ArtifactRepository interface {
	SaveArtifact(ctx context.Context, artifact domain.Artifact) error
	GetArtifact(ctx context.Context, id domain.ArtifactID) (domain.Artifact, error)
	ListEvents(ctx context.Context, traceID domain.TraceID) ([]domain.TraceEvent, error)
	GetReport(ctx context.Context, traceID domain.TraceID) (domain.Report, error)
}

// Artifacts is the binary blob store: size/type validation on write, SHA-256
// integrity verification on every read, and trace-derived access checks.
type Artifacts struct {
	logger *slog.Logger
	repo   ArtifactRepository
}

func NewArtifacts(logger *slog.Logger, repo ArtifactRepository) *Artifacts {
	return &Artifacts{logger: logger, repo: repo}
}

// Put validates and stores a blob under a caller-supplied id. Two puts to the
// same id overwrite. The digest is computed once here and persisted beside
// the payload.
func (a *Artifacts) Put(ctx context.Context, id domain.ArtifactID, contentType string, data []byte) error {
	if id == "" {
		return fmt.Errorf("%w: artifact id is required", domain.ErrValidation)
	}
	if len(data) > domain.MaxArtifactBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrArtifactTooLarge, len(data), domain.MaxArtifactBytes)
	}
	if !domain.AllowedContentType(contentType) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidContentType, contentType)
	}

	artifact := domain.Artifact{
		ID:          id,
		ContentType: contentType,
		Data:        data,
		SHA256:      domain.Digest(data),
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.repo.SaveArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	a.logger.Info("artifact stored", "artifact_id", id, "bytes", len(data), "content_type", contentType)
	return nil
}

// Get returns the blob after re-verifying its stored checksum against a
// fresh digest. A mismatch means silent storage corruption and is a hard
// error; corrupted bytes are never handed back.
func (a *Artifacts) Get(ctx context.Context, id domain.ArtifactID) (domain.Artifact, error) {
	artifact, err := a.repo.GetArtifact(ctx, id)
	if err != nil {
		return domain.Artifact{}, err
	}
	if domain.Digest(artifact.Data) != artifact.SHA256 {
		a.logger.Error("artifact checksum mismatch", "artifact_id", id)
		return domain.Artifact{}, fmt.Errorf("%w: artifact %s checksum mismatch", domain.ErrStorageCorrupted, id)
	}
	return artifact, nil
}

// GetScoped is Get with trace-derived authorization: the artifact key must be
// referenced by the trace's event payloads or its verdict evidence links.
// There is no separate ACL; reachability from trace content is the grant.
func (a *Artifacts) GetScoped(ctx context.Context, traceID domain.TraceID, id domain.ArtifactID) (domain.Artifact, error) {
	referenced, err := a.referencedByTrace(ctx, traceID, id)
	if err != nil {
		return domain.Artifact{}, err
	}
	if !referenced {
		return domain.Artifact{}, fmt.Errorf("%w: artifact %s not referenced by trace %s", domain.ErrForbidden, id, traceID)
	}
	return a.Get(ctx, id)
}

func (a *Artifacts) referencedByTrace(ctx context.Context, traceID domain.TraceID, id domain.ArtifactID) (bool, error) {
	events, err := a.repo.ListEvents(ctx, traceID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("list events: %w", err)
	}
	key := string(id)
	for i := range events {
		for _, ref := range events[i].ArtifactKeys() {
			if ref == key {
				return true, nil
			}
		}
	}

	report, err := a.repo.GetReport(ctx, traceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get report: %w", err)
	}
	if report.Verdict == nil {
		return false, nil
	}
	for _, link := range verdictEvidence(report.Verdict) {
		if link.ArtifactKey == key {
			return true, nil
		}
	}
	return false, nil
}

func verdictEvidence(v *domain.VerdictPack) []domain.EvidenceLink {
	links := make([]domain.EvidenceLink, 0, len(v.EvidenceLinks))
	links = append(links, v.EvidenceLinks...)
	for i := range v.ContributingFactors {
		links = append(links, v.ContributingFactors[i].EvidenceLinks...)
	}
	for i := range v.FixSuggestions {
		links = append(links, v.FixSuggestions[i].EvidenceLinks...)
	}
	return links
}
