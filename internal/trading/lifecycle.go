package trading

import (
	"errors"

	"github.com/ksred/klear-brokerage/internal/ledger"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/shopspring/decimal"
)

type action string

const (
	actionCreate action = "create"
	actionCancel action = "cancel"
	actionMatch  action = "match"
)

type movement func(ledger.Asset, decimal.Decimal) (ledger.Asset, error)

// legs name, per side, the movement applied to the cash asset (by price) and
// to the traded instrument asset (by size).
type legs struct {
	cash       movement
	instrument movement
}

// Every order touches exactly the cash asset and its instrument asset. Cancel
// undoes create; match finalizes it.
var transitions = map[action]map[types.Side]legs{
	actionCreate: {
		types.SideBuy:  {cash: ledger.Reserve, instrument: ledger.Credit},
		types.SideSell: {cash: ledger.Credit, instrument: ledger.Reserve},
	},
	actionCancel: {
		types.SideBuy:  {cash: ledger.Release, instrument: ledger.SettleDebit},
		types.SideSell: {cash: ledger.SettleDebit, instrument: ledger.Release},
	},
	actionMatch: {
		types.SideBuy:  {cash: ledger.SettleDebit, instrument: ledger.Release},
		types.SideSell: {cash: ledger.Release, instrument: ledger.SettleDebit},
	},
}

// apply moves both assets for the given action. Either both assets are
// updated or neither is. A reservation that does not fit the usable size is
// reported as AssetNotEnough naming the short asset.
func apply(a action, o *Order, cash, instrument *ledger.Asset) error {
	l, ok := transitions[a][o.Side]
	if !ok {
		return types.InvalidRequest("unsupported order side %q", o.Side)
	}

	nextCash, err := l.cash(*cash, o.Price)
	if err != nil {
		return classify(err, cash.Instrument)
	}
	nextInstrument, err := l.instrument(*instrument, o.Size)
	if err != nil {
		return classify(err, instrument.Instrument)
	}

	*cash = nextCash
	*instrument = nextInstrument
	return nil
}

func classify(err error, instrument types.Instrument) error {
	if errors.Is(err, ledger.ErrInsufficientUsable) {
		return types.AssetNotEnough(instrument)
	}
	return err
}
