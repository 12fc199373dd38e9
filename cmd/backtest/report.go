package main

import (
	"fmt"
	"io"
	"strconv"

	"services/backtest-service/internal/model"

	"github.com/olekukonko/tablewriter"
)

type reportHeader struct {
	Market   string
	Strategy model.StrategyType
	Unit     model.CandleUnit
	Candles  int
}

// renderReport prints the summary, monthly returns and suggestions of result
func renderReport(w io.Writer, header reportHeader, result *model.BacktestResult) {
	fmt.Fprintf(w, "%s %s on %d %s candles\n", header.Strategy, header.Market, header.Candles, header.Unit)
	if result.Aborted {
		fmt.Fprintln(w, "(aborted, partial result)")
	}
	fmt.Fprintln(w)

	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.SetAlignment(tablewriter.ALIGN_RIGHT)
	summary.AppendBulk([][]string{
		{"Initial balance", result.InitialBalance.StringFixed(2)},
		{"Final balance", result.FinalBalance.StringFixed(2)},
		{"Total profit", result.TotalProfit.StringFixed(2)},
		{"Profit rate", percent(result.ProfitRate)},
		{"Round trips", strconv.Itoa(result.TotalTrades)},
		{"Wins / losses", fmt.Sprintf("%d / %d", result.WinCount, result.LossCount)},
		{"Win rate", percent(result.WinRate)},
		{"Profit factor", number(result.ProfitFactor)},
		{"Expectancy", number(result.Expectancy)},
		{"Max drawdown", percent(result.MaxDrawdown)},
		{"Recovery factor", number(result.RecoveryFactor)},
		{"Sharpe ratio", number(result.SharpeRatio)},
		{"Avg holding (min)", number(result.AverageHoldingPeriod)},
		{"Longest win / loss streak", fmt.Sprintf("%d / %d",
			result.TradePatterns.ConsecutiveWins, result.TradePatterns.ConsecutiveLosses)},
	})
	summary.Render()

	if len(result.MonthlyReturns) > 0 {
		fmt.Fprintln(w)
		monthly := tablewriter.NewWriter(w)
		monthly.SetHeader([]string{"Month", "Trades", "Profit", "Return"})
		monthly.SetAlignment(tablewriter.ALIGN_RIGHT)
		for _, m := range result.MonthlyReturns {
			monthly.Append([]string{m.Month, strconv.Itoa(m.Trades), number(m.Profit), percent(m.ProfitRate)})
		}
		monthly.Render()
	}

	if len(result.Suggestions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Suggestions:")
		for _, s := range result.Suggestions {
			fmt.Fprintf(w, "  [%s] %s (impact %.2f)\n", s.Type, s.Description, s.Impact)
		}
	}
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func percent(v float64) string {
	return number(v) + "%"
}
