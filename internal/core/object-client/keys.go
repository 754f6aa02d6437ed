package objectclient

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/markdave123-py/ragready/internal/apperr"
)

// Artifact file names under a job's processed prefix.
const (
	ExtractedArtifact  = "extracted.json"
	NormalizedArtifact = "normalized.json"
	QualityArtifact    = "quality_report.json"
	ChunksArtifact     = "chunks.jsonl"
	ManifestArtifact   = "document.json"
)

// RawKey is where an upload lands: raw/{tenant}/{dataset}/{file}/{filename}.
type RawKey struct {
	TenantID  string
	DatasetID string
	FileID    string
	Filename  string
}

func (k RawKey) String() string {
	return fmt.Sprintf("raw/%s/%s/%s/%s", k.TenantID, k.DatasetID, k.FileID, k.Filename)
}

// ParseRawKey reads an object key as delivered in S3 event notifications,
// where the key is URL-encoded and spaces arrive as '+'.
func ParseRawKey(key string) (RawKey, error) {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return RawKey{}, apperr.Invalid("parse raw key", fmt.Sprintf("undecodable key %q", key))
	}
	parts := strings.SplitN(decoded, "/", 5)
	if len(parts) != 5 || parts[0] != "raw" {
		return RawKey{}, apperr.Invalid("parse raw key", fmt.Sprintf("key %q is not raw/{tenant}/{dataset}/{file}/{filename}", decoded))
	}
	for _, p := range parts[1:] {
		if p == "" {
			return RawKey{}, apperr.Invalid("parse raw key", fmt.Sprintf("key %q has an empty segment", decoded))
		}
	}
	return RawKey{TenantID: parts[1], DatasetID: parts[2], FileID: parts[3], Filename: parts[4]}, nil
}

// ProcessedPrefix scopes every artifact of one job.
func ProcessedPrefix(tenantID, datasetID, fileID, jobID string) string {
	return fmt.Sprintf("processed/%s/%s/%s/%s/", tenantID, datasetID, fileID, jobID)
}

func ProcessedKey(tenantID, datasetID, fileID, jobID, name string) string {
	return ProcessedPrefix(tenantID, datasetID, fileID, jobID) + name
}
