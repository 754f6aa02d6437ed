package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"tenant_id", "t1", "api_key", "abc", "DB_PASSWORD", "pw", "dangling"})

	assert.Equal(t, []interface{}{"tenant_id", "t1", "api_key", "[REDACTED]", "DB_PASSWORD", "[REDACTED]", "dangling"}, out)
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	l := Nop().With("stage", "Chunk")
	assert.NotPanics(t, func() {
		l.Info("stage finished", "duration_ms", 12)
		l.Debug("noise")
	})
}
