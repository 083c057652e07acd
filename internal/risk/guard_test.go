package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/model"
	"papertrader/internal/store/memory"
)

type failingPositions struct{ model.PositionStore }

func (failingPositions) GetOpenPosition(context.Context, string) (*model.Position, error) {
	return nil, errors.New("db locked")
}

func TestGuard_CanOpen(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	g := NewGuard(st)

	ok, err := g.CanOpen(ctx, "ETHUSDC")
	require.NoError(t, err)
	assert.True(t, ok, "flat symbol may open")

	_, err = st.UpsertPosition(ctx, "ETHUSDC", model.ActionBuy, 0.5, 2000)
	require.NoError(t, err)

	ok, err = g.CanOpen(ctx, "ETHUSDC")
	require.NoError(t, err)
	assert.False(t, ok, "open position blocks a second entry")

	ok, err = g.CanOpen(ctx, "BTCUSDC")
	require.NoError(t, err)
	assert.True(t, ok, "positions are per symbol")

	_, err = st.ClosePosition(ctx, "ETHUSDC")
	require.NoError(t, err)
	ok, err = g.CanOpen(ctx, "ETHUSDC")
	require.NoError(t, err)
	assert.True(t, ok, "closed position frees the symbol")
}

func TestGuard_StoreError(t *testing.T) {
	ok, err := NewGuard(failingPositions{}).CanOpen(context.Background(), "ETHUSDC")
	assert.Error(t, err)
	assert.False(t, ok)
}
