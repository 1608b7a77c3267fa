package trading

import (
	"testing"

	"github.com/ksred/klear-brokerage/internal/ledger"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holding(instrument types.Instrument, size, usable string) *ledger.Asset {
	return &ledger.Asset{CustomerID: "alice", Instrument: instrument, Size: d(size), UsableSize: d(usable)}
}

func TestApplyRoundTrips(t *testing.T) {
	for _, side := range []types.Side{types.SideBuy, types.SideSell} {
		for _, final := range []action{actionCancel, actionMatch} {
			t.Run(string(side)+"/"+string(final), func(t *testing.T) {
				order := &Order{Side: side, Instrument: types.InstrumentEUR, Size: d("3"), Price: d("90")}
				cash := holding(types.InstrumentTRY, "100", "100")
				eur := holding(types.InstrumentEUR, "5", "5")

				require.NoError(t, apply(actionCreate, order, cash, eur))
				require.NoError(t, apply(final, order, cash, eur))

				assert.NoError(t, ledger.CheckInvariant(*cash))
				assert.NoError(t, ledger.CheckInvariant(*eur))
				assert.True(t, cash.Size.Equal(cash.UsableSize))
				assert.True(t, eur.Size.Equal(eur.UsableSize))

				switch {
				case final == actionCancel:
					assert.Equal(t, "100", cash.Size.String())
					assert.Equal(t, "5", eur.Size.String())
				case side == types.SideBuy:
					assert.Equal(t, "10", cash.Size.String())
					assert.Equal(t, "8", eur.Size.String())
				default:
					assert.Equal(t, "190", cash.Size.String())
					assert.Equal(t, "2", eur.Size.String())
				}
			})
		}
	}
}

func TestApplyLeavesBothAssetsOnFailure(t *testing.T) {
	order := &Order{Side: types.SideSell, Instrument: types.InstrumentGBP, Size: d("4"), Price: d("120")}
	cash := holding(types.InstrumentTRY, "10", "10")
	gbp := holding(types.InstrumentGBP, "1", "1")

	err := apply(actionCreate, order, cash, gbp)
	require.ErrorIs(t, err, types.ErrAssetNotEnough)
	assert.Contains(t, err.Error(), "GBP")

	assert.Equal(t, "10", cash.Size.String())
	assert.Equal(t, "1", gbp.Size.String())
	assert.Equal(t, "1", gbp.UsableSize.String())
}

func TestApplyUnknownSide(t *testing.T) {
	order := &Order{Side: "HOLD", Size: d("1"), Price: d("1")}
	err := apply(actionCreate, order, holding(types.InstrumentTRY, "1", "1"), holding(types.InstrumentUSD, "1", "1"))
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}
