package domain

import "errors"

// Error taxonomy for the forensics pipeline. Adapters wrap these with %w so
// callers can branch on errors.Is regardless of which layer failed.
var (
	// ErrValidation marks malformed input rejected before storage.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited marks an ingest request denied by admission control.
	ErrRateLimited = errors.New("rate limited")

	// ErrTraceFrozen marks a live append against a replayed trace.
	ErrTraceFrozen = errors.New("trace is frozen")

	// ErrStorageCorrupted marks a checksum mismatch or unparseable stored state.
	// Corruption is surfaced, never silently returned as data.
	ErrStorageCorrupted = errors.New("storage corrupted")

	// ErrNotFound marks a missing trace, artifact, or report.
	ErrNotFound = errors.New("not found")

	// ErrForbidden marks an artifact read outside its trace's reference scope.
	ErrForbidden = errors.New("forbidden")

	// ErrAnalyzer marks a failed or shape-invalid analyzer response.
	ErrAnalyzer = errors.New("analyzer failed")

	// ErrDispatchUnavailable marks an unreachable job queue. Ingestion treats
	// this as "accepted but unscheduled", never as a hard failure.
	ErrDispatchUnavailable = errors.New("dispatch unavailable")

	// ErrArtifactTooLarge marks an artifact put above the size ceiling.
	ErrArtifactTooLarge = errors.New("artifact too large")

	// ErrInvalidContentType marks an artifact put outside the allow-list.
	ErrInvalidContentType = errors.New("invalid content type")
)
