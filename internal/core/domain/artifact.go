package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// MaxArtifactBytes is the hard ceiling for one stored artifact.
const MaxArtifactBytes = 5 * 1024 * 1024

type ArtifactID string

// Artifact is a binary blob referenced from event payloads and verdict
// evidence. Addressed by caller-supplied id, not by hash; the digest exists
// to detect silent storage corruption at read time.
type Artifact struct {
	ID          ArtifactID `json:"id"`
	ContentType string     `json:"content_type"`
	Data        []byte     `json:"-"`
	SHA256      string     `json:"sha256"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Digest computes the hex SHA-256 of the artifact bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var allowedContentPrefixes = []string{"image/", "audio/", "video/", "text/"}

var allowedContentTypes = map[string]bool{
	"application/json":         true,
	"application/pdf":          true,
	"application/octet-stream": true,
}

// AllowedContentType reports whether ct is on the artifact allow-list.
// Parameters after a semicolon (charset etc.) are ignored.
func AllowedContentType(ct string) bool {
	base := strings.TrimSpace(strings.ToLower(ct))
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if allowedContentTypes[base] {
		return true
	}
	for _, prefix := range allowedContentPrefixes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}
