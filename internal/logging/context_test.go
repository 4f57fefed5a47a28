package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background(), "req-42.a_b")
	assert.Equal(t, "req-42.a_b", id)
	assert.Equal(t, id, GetCorrelationID(ctx))

	for _, bad := range []string{"", "has space", "new\nline", strings.Repeat("x", 129)} {
		ctx, id := EnsureCorrelationID(context.Background(), bad)
		assert.NotEqual(t, bad, id)
		assert.Len(t, id, 36, "generated uuid")
		assert.Equal(t, id, GetCorrelationID(ctx))
	}

	parent := WithCorrelationID(context.Background(), "outer")
	_, id = EnsureCorrelationID(parent, "")
	assert.Equal(t, "outer", id, "existing id kept when header is absent")
}

func TestGetCorrelationIDEmpty(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))
	assert.NotEqual(t, GenerateCorrelationID(), GenerateCorrelationID())
}
