package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/apperr"
)

func TestCheckDimsRejectsWrongLength(t *testing.T) {
	ok := [][]float32{make([]float32, 768), make([]float32, 768)}
	assert.NoError(t, checkDims("embed", "text-embedding-004", ok, 768))

	long := [][]float32{make([]float32, 768), make([]float32, 3072)}
	err := checkDims("embed", "gemini-embedding-001", long, 768)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfig))
	assert.Contains(t, err.Error(), "returned 3072 dims, EMBED_DIM is 768")

	short := [][]float32{make([]float32, 512)}
	assert.True(t, apperr.Is(checkDims("embed", "m", short, 768), apperr.KindConfig))
}

func TestCheckDimsSkipsWhenUnset(t *testing.T) {
	assert.NoError(t, checkDims("embed", "m", [][]float32{{1, 2, 3}}, 0))
}
