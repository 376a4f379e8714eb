package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/afadxb/bot4.1/internal/orchestrator"
	"github.com/afadxb/bot4.1/pkg/types"
)

// ConsoleReporter renders cycle reports as tables.
type ConsoleReporter struct {
	out     io.Writer
	maxRows int
}

// NewConsoleReporter writes to out, or stdout when out is nil. maxRows
// limits the signal table; 0 shows all.
func NewConsoleReporter(out io.Writer, maxRows int) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{out: out, maxRows: maxRows}
}

// PrintCycle renders the summary, ranked signals, orders and risk events of
// one cycle.
func (r *ConsoleReporter) PrintCycle(report orchestrator.CycleReport) {
	mode := "LIVE"
	if report.DryRun {
		mode = "DRY RUN"
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(fmt.Sprintf("CYCLE %s", report.ID))
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Session", report.Session},
		{"Mode", mode},
		{"Status", report.Status},
		{"State", report.State},
		{"Duration", report.End.Sub(report.Start).String()},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Signals", len(report.Signals)},
		{"Entries", report.Approved},
		{"Exits", len(report.Exits)},
		{"Rejected", report.Rejected},
		{"Skipped", len(report.Skipped)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Realized P&L", fmt.Sprintf("%.2f", report.Equity.RealizedPnL)},
		{"Unrealized P&L", fmt.Sprintf("%.2f", report.Equity.UnrealizedPnL)},
		{"Drawdown", fmt.Sprintf("%.2f%%", report.Equity.DrawdownPct())},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()

	r.printSignals(report.Signals)
	r.printOrders(report.Orders, report.Exits)
	r.printEvents(report.Events)
	fmt.Fprintln(r.out)
}

func (r *ConsoleReporter) printSignals(signals []types.Signal) {
	if len(signals) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("RANKED SIGNALS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Symbol", "Base", "AI", "Final", "Last", "Passed", "Reasons"})
	for i, sig := range signals {
		if r.maxRows > 0 && i >= r.maxRows {
			t.AppendFooter(table.Row{"", fmt.Sprintf("+%d more", len(signals)-r.maxRows)})
			break
		}
		t.AppendRow(table.Row{
			sig.Rank,
			sig.Symbol,
			fmt.Sprintf("%.3f", sig.BaseScore),
			fmt.Sprintf("%+.3f", sig.AIAdjScore),
			fmt.Sprintf("%.3f", sig.FinalScore),
			fmt.Sprintf("%.2f", sig.Features.Last),
			strings.Join(sig.PassedRules(), ","),
			sig.ReasonsText(),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 8, WidthMax: 60},
	})
	t.Render()
}

func (r *ConsoleReporter) printOrders(entries, exits []types.OrderIntent) {
	if len(entries) == 0 && len(exits) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("ORDERS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Side", "Symbol", "Qty", "Price", "Stop", "Target", "Reason"})
	for _, o := range append(append([]types.OrderIntent{}, entries...), exits...) {
		t.AppendRow(table.Row{
			string(o.Side),
			o.Symbol,
			fmt.Sprintf("%.0f", o.Qty),
			fmt.Sprintf("%.2f", o.Entry),
			fmt.Sprintf("%.2f", o.Stop),
			fmt.Sprintf("%.2f", o.Target),
			o.Reason,
		})
	}
	t.Render()
}

func (r *ConsoleReporter) printEvents(events []types.RiskEvent) {
	if len(events) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("RISK EVENTS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Type", "Symbol", "Value"})
	for _, ev := range events {
		t.AppendRow(table.Row{ev.TS.Format("15:04:05"), ev.Type, ev.Symbol, fmt.Sprintf("%.4f", ev.Value)})
	}
	t.Render()
}
