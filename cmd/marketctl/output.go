package main

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/foresight/market-engine/internal/engine"
	"github.com/foresight/market-engine/internal/model"
)

func printMarkets(out io.Writer, prices engine.PriceModel, markets []model.Market) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Org", "Statement", "P(one)", "Q one", "Q two", "b", "Status")
	for i := range markets {
		m := &markets[i]
		price := "-"
		if p, err := prices.PriceOf(m); err == nil {
			price = p.StringFixed(4)
		}
		table.Append(m.ID, m.Org, truncate(m.Statement, 40), price,
			m.QOne.StringFixed(2), m.QTwo.StringFixed(2), m.Liquidity.String(), status(m))
	}
	return table.Render()
}

func printPortfolio(out io.Writer, pf *model.Portfolio) error {
	fmt.Fprintf(out, "user %s  balance %s  total value %s\n",
		pf.UserID, pf.Balance.StringFixed(4), pf.TotalValue.StringFixed(4))
	if len(pf.Positions) == 0 {
		fmt.Fprintln(out, "no open positions")
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.Header("Market", "Statement", "Shares one", "Shares two", "P(one)", "Value")
	for _, p := range pf.Positions {
		table.Append(p.MarketID, truncate(p.Statement, 40), p.SharesOne.StringFixed(4),
			p.SharesTwo.StringFixed(4), p.Price.StringFixed(4), p.CurrentValue.StringFixed(4))
	}
	return table.Render()
}

func printTrades(out io.Writer, trades []model.Trade) error {
	table := tablewriter.NewWriter(out)
	table.Header("Time", "User", "Side", "Contract", "Qty", "Fill", "Cost", "P(one) after")
	for _, t := range trades {
		table.Append(t.CreatedAt.Format(time.RFC3339), t.UserID, string(t.Direction), string(t.Contract),
			t.Quantity.StringFixed(4), t.Price.StringFixed(4), t.Cost.StringFixed(4), t.MarketPrice.StringFixed(4))
	}
	return table.Render()
}

func printHistory(out io.Writer, samples []model.PriceSample) error {
	table := tablewriter.NewWriter(out)
	table.Header("Time", "P(one)")
	for _, s := range samples {
		table.Append(s.Timestamp.Format(time.RFC3339), s.Value.StringFixed(4))
	}
	return table.Render()
}

func printSettlement(out io.Writer, entries []model.SettlementEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "nothing to settle")
		return nil
	}
	total := decimal.Zero
	table := tablewriter.NewWriter(out)
	table.Header("Market", "User", "Earned")
	for _, e := range entries {
		total = total.Add(e.Earned)
		table.Append(e.MarketID, e.UserID, e.Earned.StringFixed(4))
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(out, "paid %s to %d holders\n", total.StringFixed(4), len(entries))
	return nil
}

func status(m *model.Market) string {
	switch {
	case m.Resolved:
		return "resolved " + string(m.Outcome)
	case m.HasOutcome():
		return "settling " + string(m.Outcome)
	default:
		return "open"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
