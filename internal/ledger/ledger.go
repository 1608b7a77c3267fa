package ledger

import (
	"errors"
	"fmt"

	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount  = errors.New("amount must be greater than zero")
	ErrInsufficientUsable = errors.New("usable size is lower than the requested amount")
	ErrInvariantViolation = errors.New("asset invariant violated")
)

// CheckInvariant verifies 0 <= usableSize <= size
func CheckInvariant(a Asset) error {
	if a.UsableSize.IsNegative() {
		return fmt.Errorf("%w: %s usable size %s is negative", ErrInvariantViolation, a.Instrument, a.UsableSize)
	}
	if a.UsableSize.GreaterThan(a.Size) {
		return fmt.Errorf("%w: %s usable size %s exceeds size %s", ErrInvariantViolation, a.Instrument, a.UsableSize, a.Size)
	}
	return nil
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrNonPositiveAmount, amount)
	}
	return nil
}

// apply runs the movement on a copy of the asset and only returns the copy
// when the invariant still holds, so a rejected movement leaves the caller's
// asset untouched.
func apply(a Asset, amount decimal.Decimal, move func(*Asset)) (Asset, error) {
	if err := requirePositive(amount); err != nil {
		return a, err
	}
	next := a
	move(&next)
	if err := CheckInvariant(next); err != nil {
		return a, err
	}
	return next, nil
}

// Deposit adds amount to both size and usable size
func Deposit(a Asset, amount decimal.Decimal) (Asset, error) {
	return apply(a, amount, func(n *Asset) {
		n.Size = n.Size.Add(amount)
		n.UsableSize = n.UsableSize.Add(amount)
	})
}

// Withdraw removes amount from both size and usable size. It fails with
// ErrInsufficientUsable when less than amount is free.
func Withdraw(a Asset, amount decimal.Decimal) (Asset, error) {
	if err := requirePositive(amount); err != nil {
		return a, err
	}
	if a.UsableSize.LessThan(amount) {
		return a, ErrInsufficientUsable
	}
	return apply(a, amount, func(n *Asset) {
		n.Size = n.Size.Sub(amount)
		n.UsableSize = n.UsableSize.Sub(amount)
	})
}

// Reserve earmarks amount against a pending order. Size is unchanged.
func Reserve(a Asset, amount decimal.Decimal) (Asset, error) {
	if err := requirePositive(amount); err != nil {
		return a, err
	}
	if a.UsableSize.LessThan(amount) {
		return a, ErrInsufficientUsable
	}
	return apply(a, amount, func(n *Asset) {
		n.UsableSize = n.UsableSize.Sub(amount)
	})
}

// Credit adds the quantity a pending order is expected to deliver. The
// credited amount is owned but not usable until the order is matched.
func Credit(a Asset, amount decimal.Decimal) (Asset, error) {
	return apply(a, amount, func(n *Asset) {
		n.Size = n.Size.Add(amount)
	})
}

// Release returns a reserved or credited amount to usable size
func Release(a Asset, amount decimal.Decimal) (Asset, error) {
	return apply(a, amount, func(n *Asset) {
		n.UsableSize = n.UsableSize.Add(amount)
	})
}

// SettleDebit removes a previously reserved or credited amount from size
func SettleDebit(a Asset, amount decimal.Decimal) (Asset, error) {
	return apply(a, amount, func(n *Asset) {
		n.Size = n.Size.Sub(amount)
	})
}

// Portfolio is the snapshot of one customer's assets a unit of work reads
// once, mutates in memory and hands back to SaveAssets.
type Portfolio struct {
	CustomerID string
	assets     map[types.Instrument]*Asset
}

func NewPortfolio(customerID string, assets []Asset) *Portfolio {
	p := &Portfolio{
		CustomerID: customerID,
		assets:     make(map[types.Instrument]*Asset, len(assets)),
	}
	for i := range assets {
		a := assets[i]
		p.assets[a.Instrument] = &a
	}
	return p
}

// Find returns the asset for instrument if the customer has one
func (p *Portfolio) Find(instrument types.Instrument) (*Asset, bool) {
	a, ok := p.assets[instrument]
	return a, ok
}

// GetOrCreate returns the asset for instrument, materializing a zero-valued
// record in the snapshot if none exists. Nothing is written until the
// snapshot is saved.
func (p *Portfolio) GetOrCreate(instrument types.Instrument) *Asset {
	if a, ok := p.assets[instrument]; ok {
		return a
	}
	a := &Asset{
		CustomerID: p.CustomerID,
		Instrument: instrument,
		Size:       decimal.Zero,
		UsableSize: decimal.Zero,
	}
	p.assets[instrument] = a
	return a
}

// Require returns the asset for instrument or an AssetNotFound error. Used on
// cancel and match, where a missing record means the stored state is corrupt.
func (p *Portfolio) Require(instrument types.Instrument) (*Asset, error) {
	a, ok := p.assets[instrument]
	if !ok {
		return nil, types.AssetNotFound(p.CustomerID, instrument)
	}
	return a, nil
}
