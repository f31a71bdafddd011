package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"walkfwd/internal/backtest"
	"walkfwd/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("4")).
			Padding(0, 1)
	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	colHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func signStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return gainStyle
	case v < 0:
		return lossStyle
	default:
		return lipgloss.NewStyle()
	}
}

// WriteSummary renders the metrics of one run inside a bordered box.
func WriteSummary(w io.Writer, title string, m domain.Metrics) error {
	rows := [][2]string{
		{"Initial capital", FormatMoney(m.InitialCapital)},
		{"Final value", FormatMoney(m.FinalValue)},
		{"Net profit", signStyle(m.NetProfit).Render(FormatMoney(m.NetProfit))},
		{"Total return", signStyle(m.TotalReturnPct).Render(FormatPct(m.TotalReturnPct))},
		{"Max drawdown", signStyle(m.MaxDrawdownPct).Render(FormatPct(m.MaxDrawdownPct))},
		{"Sharpe ratio", FormatFloat(m.SharpeRatio, 2)},
		{"Trades", fmt.Sprintf("%d (%d closed)", m.TotalTrades, m.ClosedTrades)},
		{"Win rate", FormatFloat(m.WinRatePct, 1) + "%"},
		{"Avg win / loss", FormatMoney(m.AvgWin) + " / " + FormatMoney(m.AvgLoss)},
		{"Profit factor", FormatFloat(m.ProfitFactor, 2)},
		{"Exposure", FormatFloat(m.ExposurePct, 1) + "%"},
		{"Ignored signals", fmt.Sprintf("%d", m.IgnoredSignals)},
	}

	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-16s", r[0])))
		b.WriteString(r[1])
	}

	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		boxStyle.Render(b.String()),
	))
	return err
}

// WriteTrades renders the trade log, one line per trade.
func WriteTrades(w io.Writer, trades []domain.Trade) error {
	header := fmt.Sprintf("%-10s  %-10s  %-4s  %10s  %8s  %14s  %7s  %14s  %8s",
		"signal", "executed", "side", "price", "shares", "value", "%b", "profit", "profit%")
	if _, err := fmt.Fprintln(w, colHeaderStyle.Render(header)); err != nil {
		return err
	}
	if len(trades) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("no trades"))
		return err
	}

	for _, t := range trades {
		f := t.Details()
		line := fmt.Sprintf("%-10s  %-10s  %-4s  %10s  %8s  %14s  %7s",
			f.SignalDate.Format(time.DateOnly),
			f.ExecutionDate.Format(time.DateOnly),
			strings.ToUpper(string(t.Side())),
			FormatMoney(f.Price),
			FormatInt(f.Shares),
			FormatMoney(f.Value),
			FormatFloat(f.PercentB, 3),
		)
		if s, ok := t.(domain.SellTrade); ok {
			st := signStyle(s.Profit)
			line += "  " + st.Render(fmt.Sprintf("%14s", FormatMoney(s.Profit))) +
				"  " + st.Render(fmt.Sprintf("%8s", FormatPct(s.ProfitPct)))
			if s.Forced {
				line += dimStyle.Render("  (liquidated)")
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// WriteSweep renders one line per grid point, marking the best total return.
func WriteSweep(w io.Writer, results []backtest.SweepResult) error {
	header := fmt.Sprintf("%6s  %6s  %6s  %6s  %6s  %6s  %10s  %10s  %7s  %7s",
		"window", "k", "lo", "hi", "buy", "sell", "return", "drawdown", "sharpe", "trades")
	if _, err := fmt.Fprintln(w, colHeaderStyle.Render(header)); err != nil {
		return err
	}

	best, _ := backtest.Best(results)
	for _, r := range results {
		p, m := r.Params, r.Metrics
		line := fmt.Sprintf("%6d  %6.2f  %6.2f  %6.2f  %6.2f  %6.2f  ",
			p.Window, p.NumStd, p.Oversold, p.Overbought, p.BuyThreshold, p.SellThreshold) +
			signStyle(m.TotalReturnPct).Render(fmt.Sprintf("%10s", FormatPct(m.TotalReturnPct))) +
			fmt.Sprintf("  %10s  %7s  %7d", FormatPct(m.MaxDrawdownPct), FormatFloat(m.SharpeRatio, 2), m.TotalTrades)
		if r.Result == best.Result {
			line += gainStyle.Render("  *")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
