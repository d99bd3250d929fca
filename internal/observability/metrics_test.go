package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	ctx := context.Background()
	for _, metrics := range []*Metrics{m, Noop()} {
		assert.NotPanics(t, func() {
			metrics.EnsemblesGenerated(ctx, "cycles", 3, 6)
			metrics.RunsSubmitted(ctx, "cycles", 2)
			metrics.RunCompleted(ctx, "cycles", "SUCCESS")
		})
	}
}
