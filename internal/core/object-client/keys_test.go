package objectclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/apperr"
)

func TestParseRawKeyDecodesEventKeys(t *testing.T) {
	k, err := ParseRawKey("raw/tenant-1/ds-9/file-3/Site+Safety%20Plan%28v2%29.pdf")

	require.NoError(t, err)
	assert.Equal(t, RawKey{TenantID: "tenant-1", DatasetID: "ds-9", FileID: "file-3", Filename: "Site Safety Plan(v2).pdf"}, k)
}

func TestParseRawKeyKeepsNestedFilename(t *testing.T) {
	k, err := ParseRawKey("raw/t/d/f/folder/drawing.pdf")

	require.NoError(t, err)
	assert.Equal(t, "folder/drawing.pdf", k.Filename)
}

func TestParseRawKeyRejectsOtherKeys(t *testing.T) {
	for _, key := range []string{"processed/t/d/f/x.json", "raw/t/d/f", "raw/t//f/x.pdf", "raw/%zz"} {
		_, err := ParseRawKey(key)
		assert.True(t, apperr.Is(err, apperr.KindInvalid), key)
	}
}

func TestRawKeyRoundTrip(t *testing.T) {
	k := RawKey{TenantID: "t", DatasetID: "d", FileID: "f", Filename: "spec.pdf"}

	back, err := ParseRawKey(k.String())

	require.NoError(t, err)
	assert.Equal(t, k, back)
}

func TestProcessedKey(t *testing.T) {
	assert.Equal(t, "processed/t/d/f/j/chunks.jsonl", ProcessedKey("t", "d", "f", "j", ChunksArtifact))
}
