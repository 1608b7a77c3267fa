package types

// Instrument identifies an asset a customer can hold. TRY is the settlement
// currency; every other instrument is tradable against it.
type Instrument string

const (
	InstrumentTRY Instrument = "TRY"
	InstrumentUSD Instrument = "USD"
	InstrumentEUR Instrument = "EUR"
	InstrumentGBP Instrument = "GBP"
	InstrumentXAU Instrument = "XAU"
)

// SettlementInstrument is the asset every order is priced and settled in
const SettlementInstrument = InstrumentTRY

var instruments = map[Instrument]struct{}{
	InstrumentTRY: {},
	InstrumentUSD: {},
	InstrumentEUR: {},
	InstrumentGBP: {},
	InstrumentXAU: {},
}

func (i Instrument) Valid() bool {
	_, ok := instruments[i]
	return ok
}

// Tradable reports whether orders may be placed on the instrument
func (i Instrument) Tradable() bool {
	return i.Valid() && i != SettlementInstrument
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusMatched  OrderStatus = "MATCHED"
)

func (s OrderStatus) Valid() bool {
	return s == OrderStatusPending || s == OrderStatusCanceled || s == OrderStatusMatched
}

type Direction string

const (
	DirectionDeposit  Direction = "DEPOSIT"
	DirectionWithdraw Direction = "WITHDRAW"
)

func (d Direction) Valid() bool {
	return d == DirectionDeposit || d == DirectionWithdraw
}

// TransactionStatus is the outcome of a cash movement. CANCELED means the
// movement was rejected and had no effect on the balance.
type TransactionStatus string

const (
	TransactionApproved TransactionStatus = "APPROVED"
	TransactionCanceled TransactionStatus = "CANCELED"
)

func (s TransactionStatus) Valid() bool {
	return s == TransactionApproved || s == TransactionCanceled
}

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}
