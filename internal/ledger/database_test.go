package ledger

import (
	"context"
	"testing"

	"github.com/ksred/klear-brokerage/internal/testutil"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	return NewDatabase(testutil.OpenDB(t, &Asset{}))
}

func TestSaveAssetsCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	p, err := db.LoadPortfolio(ctx, "c-1")
	require.NoError(t, err)
	cash := p.GetOrCreate(types.InstrumentTRY)
	*cash, err = Deposit(*cash, d("100"))
	require.NoError(t, err)

	require.NoError(t, db.SaveAssets(ctx, cash))
	assert.True(t, cash.Persisted())
	assert.Equal(t, int64(1), cash.Version)

	*cash, err = Reserve(*cash, d("30"))
	require.NoError(t, err)
	require.NoError(t, db.SaveAssets(ctx, cash))
	assert.Equal(t, int64(2), cash.Version)

	reloaded, err := db.LoadPortfolio(ctx, "c-1")
	require.NoError(t, err)
	stored, err := reloaded.Require(types.InstrumentTRY)
	require.NoError(t, err)
	assertAmounts(t, *stored, "100", "70")
	assert.Equal(t, int64(2), stored.Version)
}

func TestSaveAssetsRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	p, err := db.LoadPortfolio(ctx, "c-1")
	require.NoError(t, err)
	cash := p.GetOrCreate(types.InstrumentTRY)
	*cash, _ = Deposit(*cash, d("100"))
	require.NoError(t, db.SaveAssets(ctx, cash))

	first, err := db.LoadPortfolio(ctx, "c-1")
	require.NoError(t, err)
	second, err := db.LoadPortfolio(ctx, "c-1")
	require.NoError(t, err)

	a, _ := first.Find(types.InstrumentTRY)
	*a, _ = Reserve(*a, d("80"))
	require.NoError(t, db.SaveAssets(ctx, a))

	b, _ := second.Find(types.InstrumentTRY)
	*b, _ = Reserve(*b, d("80"))
	err = db.SaveAssets(ctx, b)
	assert.ErrorIs(t, err, types.ErrConflict)

	final, err := db.LoadPortfolio(ctx, "c-1")
	require.NoError(t, err)
	stored, _ := final.Find(types.InstrumentTRY)
	assertAmounts(t, *stored, "100", "20")
}

func TestSaveAssetsRejectsDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	first := NewPortfolio("c-1", nil).GetOrCreate(types.InstrumentUSD)
	second := NewPortfolio("c-1", nil).GetOrCreate(types.InstrumentUSD)

	require.NoError(t, db.SaveAssets(ctx, first))
	assert.ErrorIs(t, db.SaveAssets(ctx, second), types.ErrConflict)
}

func TestSaveAssetsChecksInvariant(t *testing.T) {
	db := newTestDatabase(t)
	broken := asset("1", "2")
	assert.ErrorIs(t, db.SaveAssets(context.Background(), &broken), ErrInvariantViolation)
}

func TestListAssets(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	p := NewPortfolio("c-1", nil)
	var assets []*Asset
	for _, instrument := range []types.Instrument{types.InstrumentTRY, types.InstrumentUSD, types.InstrumentEUR} {
		assets = append(assets, p.GetOrCreate(instrument))
	}
	require.NoError(t, db.SaveAssets(ctx, assets...))
	require.NoError(t, db.SaveAssets(ctx, NewPortfolio("c-2", nil).GetOrCreate(types.InstrumentTRY)))

	page, err := db.ListAssets(ctx, AssetFilter{CustomerID: "c-1", PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Assets, 2)
	assert.Equal(t, types.InstrumentEUR, page.Assets[0].Instrument)

	page, err = db.ListAssets(ctx, AssetFilter{CustomerID: "c-1", Instrument: types.InstrumentUSD})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, types.DefaultPageSize, page.PageSize)
}
