package broker

import (
	"context"
	"fmt"
	"strings"
)

const unavailableNote = "Broker account data is unavailable; assume a flat book and size conservatively."

// PortfolioContext renders the account state the portfolio manager
// reasons over: free cash per currency and whether the symbol is
// already held. A nil reader or a broker failure degrades to a
// conservative placeholder so a run never blocks on the broker.
func PortfolioContext(ctx context.Context, r Reader, symbol string) string {
	if r == nil {
		return unavailableNote
	}

	accounts, err := r.Accounts(ctx)
	if err != nil {
		return unavailableNote
	}
	positions, err := r.Positions(ctx, nil)
	if err != nil {
		return unavailableNote
	}

	var b strings.Builder
	b.WriteString("## Account\n")
	for _, a := range accounts {
		fmt.Fprintf(&b, "- %s: cash %s, net assets %s\n", a.Currency, a.TotalCash.StringFixed(2), a.NetAssets.StringFixed(2))
	}
	if len(accounts) == 0 {
		b.WriteString("- no funded accounts\n")
	}

	b.WriteString("\n## Positions\n")
	held := false
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s (%s): %s @ %s %s\n", p.Symbol, p.Name, p.Quantity.String(), p.CostPrice.StringFixed(2), p.Currency)
		if strings.EqualFold(baseSymbol(p.Symbol), baseSymbol(symbol)) {
			held = true
		}
	}
	if len(positions) == 0 {
		b.WriteString("- none\n")
	}

	if held {
		fmt.Fprintf(&b, "\n%s is already held; a BUY adds to the position and a SELL reduces it.\n", symbol)
	} else {
		fmt.Fprintf(&b, "\nNo existing position in %s; a SELL decision means staying out.\n", symbol)
	}
	return b.String()
}

// baseSymbol strips the exchange suffix Longport appends ("AAPL.US").
func baseSymbol(s string) string {
	if idx := strings.IndexByte(s, '.'); idx > 0 {
		return s[:idx]
	}
	return s
}
