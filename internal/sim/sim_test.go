package sim

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Converges(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 42, 1337} {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Seed = seed
			cfg.Replicas = 4
			cfg.Rounds = 6

			report, err := Run(context.Background(), cfg)
			require.NoError(t, err)
			assert.Equal(t, 4, report.Replicas)
			assert.Positive(t, report.Ops)
			assert.Contains(t, report.Value, "text:body")
		})
	}
}

func TestRun_SameSeedSameDocument(t *testing.T) {
	cfg := DefaultConfig()
	a, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	b, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Value, b.Value)
	assert.Equal(t, a.Ops, b.Ops)
}

func TestRun_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Replicas = 1
	_, err := Run(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
