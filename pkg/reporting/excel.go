package reporting

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/afadxb/bot4.1/pkg/types"
)

// Sheet names
const (
	SignalsSheet  = "Signals"
	RiskSheet     = "Risk Today"
	ExposureSheet = "Exposure"
	EquitySheet   = "Daily Equity"
	TradesSheet   = "Trades"
)

// WriteXLSX writes one sheet per view to path.
func WriteXLSX(s Snapshot, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	// Replace default sheet and create the rest
	fx.SetSheetName(fx.GetSheetName(0), SignalsSheet)
	for _, name := range []string{RiskSheet, ExposureSheet, EquitySheet, TradesSheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return err
		}
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}

	writers := []func(*excelize.File, Snapshot, ExcelStyles) error{
		writeSignalsSheet,
		writeRiskSheet,
		writeExposureSheet,
		writeEquitySheet,
		writeTradesSheet,
	}
	for _, w := range writers {
		if err := w(fx, s, styles); err != nil {
			return err
		}
	}
	return fx.SaveAs(path)
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Header style - Dark slate background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    4, // #,##0.00
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10, // 0.00%
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.RedPercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Font:      &excelize.Font{Color: "C00000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.GreenPercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Font:      &excelize.Font{Color: "008000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.ScoreStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    2, // 0.00
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left"},
		Border:    border,
	})
	return styles, err
}

// writeHeader writes bold headers on row 1, sets widths and freezes the row.
func writeHeader(fx *excelize.File, sheet string, headers []string, widths []float64, styles ExcelStyles) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle); err != nil {
			return err
		}
		if i < len(widths) {
			col, _ := excelize.ColumnNumberToName(i + 1)
			if err := fx.SetColWidth(sheet, col, col, widths[i]); err != nil {
				return err
			}
		}
	}
	return fx.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// writeRow writes values on row with one style per column.
func writeRow(fx *excelize.File, sheet string, row int, values []interface{}, colStyles []int) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		if i < len(colStyles) && colStyles[i] != 0 {
			if err := fx.SetCellStyle(sheet, cell, cell, colStyles[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSignalsSheet(fx *excelize.File, s Snapshot, st ExcelStyles) error {
	headers := []string{"Rank", "Symbol", "Run Time", "Base", "AI Adj", "Final", "Last", "VWAP", "ATR", "Vol Spike", "Rules Passed", "Reasons", "Cycle"}
	widths := []float64{6, 10, 20, 8, 8, 8, 10, 10, 8, 10, 40, 60, 38}
	if err := writeHeader(fx, SignalsSheet, headers, widths, st); err != nil {
		return err
	}
	colStyles := []int{st.BaseStyle, st.BaseStyle, st.BaseStyle, st.ScoreStyle, st.ScoreStyle, st.ScoreStyle,
		st.CurrencyStyle, st.CurrencyStyle, st.CurrencyStyle, st.ScoreStyle, st.BaseStyle, st.BaseStyle, st.BaseStyle}
	for i, sig := range s.Signals {
		if err := writeRow(fx, SignalsSheet, i+2, []interface{}{
			sig.Rank,
			sig.Symbol,
			sig.RunTS.Format("2006-01-02 15:04:05"),
			sig.BaseScore,
			sig.AIAdjScore,
			sig.FinalScore,
			sig.Features.Last,
			sig.Features.VWAP,
			sig.Features.ATR,
			sig.Features.VolSpike,
			strings.Join(sig.PassedRules(), ", "),
			sig.ReasonsText(),
			sig.CycleID,
		}, colStyles); err != nil {
			return err
		}
	}
	return nil
}

func writeRiskSheet(fx *excelize.File, s Snapshot, st ExcelStyles) error {
	headers := []string{"Time", "Session", "Type", "Symbol", "Value", "Meta"}
	widths := []float64{20, 12, 20, 10, 14, 80}
	if err := writeHeader(fx, RiskSheet, headers, widths, st); err != nil {
		return err
	}
	colStyles := []int{st.BaseStyle, st.BaseStyle, st.BaseStyle, st.BaseStyle, st.CurrencyStyle, st.BaseStyle}
	for i, ev := range s.RiskEvents {
		if err := writeRow(fx, RiskSheet, i+2, []interface{}{
			ev.TS.Format("2006-01-02 15:04:05"),
			ev.Session,
			ev.Type,
			ev.Symbol,
			ev.Value,
			ev.MetaJSON(),
		}, colStyles); err != nil {
			return err
		}
	}
	return nil
}

func writeExposureSheet(fx *excelize.File, s Snapshot, st ExcelStyles) error {
	if err := writeHeader(fx, ExposureSheet, []string{"Session", "Symbol", "Exposure"}, []float64{12, 10, 16}, st); err != nil {
		return err
	}
	colStyles := []int{st.BaseStyle, st.BaseStyle, st.CurrencyStyle}
	for i, e := range s.Exposure {
		if err := writeRow(fx, ExposureSheet, i+2, []interface{}{e.Session, e.Symbol, e.Exposure}, colStyles); err != nil {
			return err
		}
	}
	return nil
}

func writeEquitySheet(fx *excelize.File, s Snapshot, st ExcelStyles) error {
	headers := []string{"Time", "Session", "Starting Equity", "Realized P&L", "Unrealized P&L", "Drawdown", "Halt"}
	widths := []float64{20, 12, 16, 14, 14, 10, 8}
	if err := writeHeader(fx, EquitySheet, headers, widths, st); err != nil {
		return err
	}
	for i, e := range s.Equity {
		ddStyle := st.GreenPercentStyle
		if e.DrawdownPct < 0 {
			ddStyle = st.RedPercentStyle
		}
		colStyles := []int{st.BaseStyle, st.BaseStyle, st.CurrencyStyle, st.CurrencyStyle, st.CurrencyStyle, ddStyle, st.BaseStyle}
		if err := writeRow(fx, EquitySheet, i+2, []interface{}{
			e.TS.Format("2006-01-02 15:04:05"),
			e.Session,
			e.StartingEquity,
			e.RealizedPnL,
			e.UnrealizedPnL,
			e.DrawdownPct / 100,
			e.HaltFlag,
		}, colStyles); err != nil {
			return err
		}
	}
	return nil
}

func writeTradesSheet(fx *excelize.File, s Snapshot, st ExcelStyles) error {
	headers := []string{"Time", "Symbol", "Side", "Qty", "Price", "Stop", "Scale Out", "Target", "Trail", "Status", "Order ID", "Dry Run"}
	widths := []float64{20, 10, 8, 8, 10, 10, 10, 10, 8, 10, 38, 8}
	if err := writeHeader(fx, TradesSheet, headers, widths, st); err != nil {
		return err
	}
	colStyles := []int{st.BaseStyle, st.BaseStyle, st.BaseStyle, st.BaseStyle, st.CurrencyStyle, st.CurrencyStyle,
		st.CurrencyStyle, st.CurrencyStyle, st.BaseStyle, st.BaseStyle, st.BaseStyle, st.BaseStyle}
	for i, tr := range s.Trades {
		if err := writeRow(fx, TradesSheet, i+2, tradeValues(tr), colStyles); err != nil {
			return err
		}
	}
	return nil
}

func tradeValues(tr types.TradeRecord) []interface{} {
	return []interface{}{
		tr.TS.Format("2006-01-02 15:04:05"),
		tr.Symbol,
		string(tr.Side),
		tr.Qty,
		tr.EntryPrice,
		tr.StopPrice,
		tr.ScaleOutPrice,
		tr.TargetPrice,
		string(tr.TrailMode),
		tr.Status,
		tr.OrderID,
		tr.DryRun,
	}
}
