package backtest

import (
	"services/backtest-service/internal/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Ledger is the append-only trade record of one run. It also keeps the
// account: free cash plus the entry notional of the open position.
type Ledger struct {
	initial    decimal.Decimal
	cash       decimal.Decimal
	open       decimal.Decimal
	cumulative decimal.Decimal
	trades     []model.Trade
}

// NewLedger creates an empty ledger funded with initial
func NewLedger(initial decimal.Decimal) *Ledger {
	return &Ledger{
		initial:    initial,
		cash:       initial,
		open:       decimal.Zero,
		cumulative: decimal.Zero,
	}
}

// Balance returns the running account balance
func (l *Ledger) Balance() decimal.Decimal {
	return l.cash.Add(l.open)
}

// Buy records an entry. cost is the total cash spent, notional plus fee.
func (l *Ledger) Buy(ts int64, price, volume, notional, cost decimal.Decimal) model.Trade {
	l.cash = l.cash.Sub(cost)
	l.open = notional
	return l.append(model.Trade{
		Timestamp: ts,
		Type:      model.SideBuy,
		Price:     price,
		Volume:    volume,
	})
}

// Sell records an exit. net is the proceeds after fee and profit the
// realized result against the entry cost.
func (l *Ledger) Sell(ts int64, price, volume, net, profit decimal.Decimal, profitRate float64) model.Trade {
	l.cash = l.cash.Add(net)
	l.open = decimal.Zero
	l.cumulative = l.cumulative.Add(profit)
	return l.append(model.Trade{
		Timestamp:  ts,
		Type:       model.SideSell,
		Price:      price,
		Volume:     volume,
		Profit:     &profit,
		ProfitRate: &profitRate,
	})
}

func (l *Ledger) append(t model.Trade) model.Trade {
	t.Balance = l.Balance()
	t.Cash = l.cash
	t.CumulativeProfit = l.cumulative
	if !l.initial.IsZero() {
		t.CumulativeProfitRate = l.cumulative.Div(l.initial).Mul(hundred).InexactFloat64()
	}
	l.trades = append(l.trades, t)
	return t
}

// Len returns the number of recorded trades
func (l *Ledger) Len() int {
	return len(l.trades)
}

// Trades returns a copy of the recorded trades
func (l *Ledger) Trades() []model.Trade {
	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}
